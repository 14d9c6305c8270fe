package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/storewave/flash-sale-service/cache"
	"github.com/storewave/flash-sale-service/config"
	"github.com/storewave/flash-sale-service/payment"
	"github.com/storewave/flash-sale-service/queue"
	"github.com/storewave/flash-sale-service/store"
	"github.com/storewave/flash-sale-service/telemetry"
	"github.com/storewave/flash-sale-service/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := telemetry.InitTracer(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := telemetry.InitMetrics(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
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

	// Initialize the reservation cache and queues
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
	verifications := queue.New(rdb, cfg.VerificationQueue, queue.Options{VisibilityTimeout: cfg.VisibilityTimeout})

	orderRepo := store.NewOrderRepository(dbPool)

	var authorizer payment.Authorizer
	if cfg.PaymentAuthorizerURL != "" {
		authorizer = payment.NewHTTPAuthorizer(cfg.PaymentAuthorizerURL, cfg.PaymentTimeout)
		log.Printf("Using payment authorizer at %s", cfg.PaymentAuthorizerURL)
	} else {
		authorizer = payment.NewSimulator(cfg.PaymentSuccessRate)
		log.Printf("Using simulated payment authorizer (success rate %.2f)", cfg.PaymentSuccessRate)
	}

	settler := worker.NewSettler(orderRepo, inventory, authorizer, verifications, cfg.VerificationDelay)
	verifier := worker.NewVerifier(orderRepo)
	dlqHandler := worker.NewDeadLetterHandler(inventory)

	log.Printf("🚀 Settlement worker starting | queue=%s | concurrency=%d", cfg.OrderQueue, cfg.WorkerConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settler.Run(ctx, orderQueue)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		verifier.Run(ctx, verifications)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		dlqHandler.Run(ctx, deadLetters)
	}()

	<-ctx.Done()
	log.Println("Shutting down workers...")
	wg.Wait()
}
