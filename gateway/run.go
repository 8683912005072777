// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/opsalert"
	"axonflow/gate/gateway/ratelimit"
	"axonflow/gate/gateway/trial"
	"axonflow/gate/gateway/webhook"
	"axonflow/gate/shared/clock"
)

// Run starts the AxonFlow Gate service.
func Run() {
	log.Println("Starting AxonFlow Gate...")

	config, err := LoadConfig(os.Getenv("GATE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db := mustOpenDatabase()
	defer db.Close()

	redisClient := mustOpenRedis()
	defer redisClient.Close()

	alerter := buildAlerter()

	// Stores and schema
	repo := ledger.NewPostgresRepository(db)
	if err := ledger.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure ledger schema: %v", err)
	}
	trialStore := trial.NewPostgresStore(db)
	if err := trialStore.EnsureSchema(); err != nil {
		log.Fatalf("Failed to ensure trial schema: %v", err)
	}
	parkingStore := webhook.NewPostgresReconciliationStore(db)
	if err := parkingStore.EnsureSchema(); err != nil {
		log.Fatalf("Failed to ensure reconciliation schema: %v", err)
	}

	// Services
	limits, err := config.RateLimits()
	if err != nil {
		log.Fatalf("Invalid rate limit configuration: %v", err)
	}
	costs, err := config.Costs()
	if err != nil {
		log.Fatalf("Invalid cost configuration: %v", err)
	}

	clk := clock.RealClock{}
	limiter := ratelimit.NewLimiter(redisClient, limits, clk, nil)
	trials := trial.NewTrackerWithOptions(trialStore, config.TrialQuota, clk, nil)
	ledgerSvc := ledger.NewServiceWithOptions(repo, clk, clock.UUIDGenerator{}, alerter, nil)

	executor := NewHTTPExecutor(mustGetEnv("AGENT_EXECUTOR_ENDPOINT"), config.ExecutorTimeout)
	gate := NewGate(limiter, trials, ledgerSvc, executor, costs, nil)

	identity := NewIdentityResolver([]byte(mustGetEnv("JWT_SECRET")), ledgerSvc)
	webhookSecret := []byte(mustGetEnv("PAYMENT_WEBHOOK_SECRET"))

	// Background reconciliation sweep
	reconciler := NewReconciler(ledgerSvc, alerter, clk, nil, config.ReconcileInterval, config.StaleAfter)
	reconciler.Start()
	defer reconciler.Stop()

	// Router
	r := mux.NewRouter()
	NewHandler(gate, identity, limiter, ledgerSvc).RegisterRoutes(r)
	ledger.NewHandler(ledgerSvc).RegisterRoutes(r)
	webhook.NewProcessorWithOptions(webhookSecret, ledgerSvc, parkingStore, alerter, clk, nil).RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := getEnv("PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.ExecutorTimeout + 30*time.Second,
	}

	// Graceful shutdown: stop accepting requests, let in-flight
	// executions finalize their reservations.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AxonFlow Gate listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down AxonFlow Gate...")
	ctx, cancel := context.WithTimeout(context.Background(), config.ExecutorTimeout+10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	log.Println("AxonFlow Gate stopped")
}

func mustOpenDatabase() *sql.DB {
	dbURL := mustGetEnv("DATABASE_URL")
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return db
}

func mustOpenRedis() *redis.Client {
	redisURL := getEnv("REDIS_URL", "redis://localhost:6379")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Redis down does not block startup: the limiter fails open.
		log.Printf("Warning: Redis unavailable at startup, rate limiting degraded: %v", err)
	}
	return client
}

func buildAlerter() opsalert.Alerter {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		log.Println("KAFKA_BROKERS not set, operator alerts go to structured logs only")
		return opsalert.NewStructuredAlerter()
	}
	topic := getEnv("KAFKA_ALERT_TOPIC", "gate.ops.alerts")
	alerter, err := opsalert.NewKafkaAlerter(strings.Split(brokers, ","), topic, nil)
	if err != nil {
		log.Fatalf("Failed to connect Kafka alerter: %v", err)
	}
	return alerter
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s environment variable is required", key)
	}
	return value
}
