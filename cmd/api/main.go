package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/storewave/flash-sale-service/api"
	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/config"
	"github.com/storewave/flash-sale-service/gate"
	"github.com/storewave/flash-sale-service/queue"
	"github.com/storewave/flash-sale-service/rehydrate"
	"github.com/storewave/flash-sale-service/store"
	"github.com/storewave/flash-sale-service/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Initialize OpenTelemetry
	tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := telemetry.InitMetrics(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down meter: %v", err)
		}
	}()

	// Initialize database
	dbPool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbPool.Close()

	if err := store.InitializeSchema(ctx, dbPool); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize the reservation cache and queues. Clients live for the
	// whole process and are injected everywhere.
	rdb := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer rdb.Close()
	inventory := cache.NewInventory(rdb)

	deadLetters := queue.New(rdb, cfg.DeadLetterQueue, queue.Options{VisibilityTimeout: cfg.VisibilityTimeout})
	orderQueue := queue.New(rdb, cfg.OrderQueue, queue.Options{
		MaxAttempts:       cfg.MaxDeliveryAttempts,
		RetryDelay:        cfg.RetryDelay,
		DeadLetter:        deadLetters,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})

	// Initialize dependencies
	productRepo := store.NewProductRepository(dbPool)
	orderRepo := store.NewOrderRepository(dbPool)
	userRepo := store.NewUserRepository(dbPool)

	reservationGate := gate.NewGate(inventory, orderRepo, orderQueue, cfg.CacheTimeout)
	rehydrator := rehydrate.NewRehydrator(productRepo, inventory)
	auth := api.NewAuth(cfg.JWTSecret, userRepo)

	tracer := tp.Tracer(cfg.ServiceName)
	handler := api.NewHandler(reservationGate, productRepo, orderRepo, inventory, rehydrator, tracer)

	r := api.NewRouter(handler, auth)

	log.Printf("🚀 Flash Sale API listening on port %s", cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
