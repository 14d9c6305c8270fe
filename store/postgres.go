package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect cria o pool de conexões com o banco e espera ele ficar pronto.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Println("✅ Connected to database with connection pool")
			return pool, nil
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// InitializeSchema aplica o DDL idempotente do serviço.
func InitializeSchema(ctx context.Context, db *pgxpool.Pool) error {
	log.Println("Checking database schema...")

	schema := `
	-- 1. USERS
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		user_name VARCHAR(255) UNIQUE NOT NULL,
		password TEXT NOT NULL,
		name VARCHAR(255),
		created_at TIMESTAMP DEFAULT NOW()
	);

	-- 2. PRODUCTS
	CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		is_flash_sale BOOLEAN NOT NULL DEFAULT FALSE,
		allocated_stock INT NOT NULL DEFAULT 0,
		available_stock INT NOT NULL DEFAULT 0,
		attributes JSONB,
		created_at TIMESTAMP DEFAULT NOW(),
		CHECK (available_stock >= 0),
		CHECK (available_stock <= allocated_stock)
	);

	-- 3. ORDERS
	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL REFERENCES users(id),
		product_id INT NOT NULL REFERENCES products(id),
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		message_id VARCHAR(64),
		created_at TIMESTAMP DEFAULT NOW()
	);
	ALTER TABLE orders ADD COLUMN IF NOT EXISTS message_id VARCHAR(64);

	-- INDEXES
	CREATE INDEX IF NOT EXISTS idx_orders_product_status ON orders(product_id, status);
	-- A queue message settles at most one order, however often it is
	-- redelivered. Sync checkouts carry no message and stay out of the
	-- partial index.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_message_id ON orders(message_id) WHERE message_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_products_flash ON products(is_flash_sale);
	`

	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	log.Println("Database schema initialized successfully.")
	return nil
}
