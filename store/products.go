package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storewave/flash-sale-service/model"
)

// FlashProductStat é a visão durável de um produto flash usada pela
// reidratação: estoque alocado e quantos pedidos CONFIRMED já existem.
type FlashProductStat struct {
	ProductID       int64
	Name            string
	AllocatedStock  int
	ConfirmedOrders int
}

// ProductRepository define a interface para operações de catálogo.
type ProductRepository interface {
	// CreateProduct insere um produto e preenche ID e CreatedAt.
	CreateProduct(ctx context.Context, product *model.Product) error

	// GetProduct busca um produto pelo ID.
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)

	// ListProducts retorna o catálogo completo.
	ListProducts(ctx context.Context) ([]model.Product, error)

	// FlashProductStats retorna, para cada produto flash, o estoque
	// alocado e a contagem de pedidos CONFIRMED.
	FlashProductStats(ctx context.Context) ([]FlashProductStat, error)

	// SetAvailableStock sobrescreve o estoque durável de um produto.
	SetAvailableStock(ctx context.Context, productID int64, stock int) error
}

// PostgresProductRepository implementa ProductRepository usando PostgreSQL.
type PostgresProductRepository struct {
	db *pgxpool.Pool
}

// NewProductRepository cria uma nova instância de PostgresProductRepository.
func NewProductRepository(db *pgxpool.Pool) ProductRepository {
	return &PostgresProductRepository{
		db: db,
	}
}

func (r *PostgresProductRepository) CreateProduct(ctx context.Context, product *model.Product) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO products (name, type, is_flash_sale, allocated_stock, available_stock, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, product.Name, product.Type, product.IsFlashSale, product.AllocatedStock,
		product.AvailableStock, product.Attributes,
	).Scan(&product.ID, &product.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *PostgresProductRepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	var product model.Product
	err := r.db.QueryRow(ctx, `
		SELECT id, name, type, is_flash_sale, allocated_stock, available_stock,
		       COALESCE(attributes, '{}'::jsonb), created_at
		FROM products WHERE id = $1
	`, productID).Scan(
		&product.ID, &product.Name, &product.Type, &product.IsFlashSale,
		&product.AllocatedStock, &product.AvailableStock, &product.Attributes, &product.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *PostgresProductRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, type, is_flash_sale, allocated_stock, available_stock,
		       COALESCE(attributes, '{}'::jsonb), created_at
		FROM products ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var product model.Product
		if err := rows.Scan(
			&product.ID, &product.Name, &product.Type, &product.IsFlashSale,
			&product.AllocatedStock, &product.AvailableStock, &product.Attributes, &product.CreatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (r *PostgresProductRepository) FlashProductStats(ctx context.Context) ([]FlashProductStat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name, p.allocated_stock, COUNT(o.id)
		FROM products p
		LEFT JOIN orders o ON o.product_id = p.id AND o.status = 'CONFIRMED'
		WHERE p.is_flash_sale
		GROUP BY p.id, p.name, p.allocated_stock
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []FlashProductStat
	for rows.Next() {
		var stat FlashProductStat
		if err := rows.Scan(&stat.ProductID, &stat.Name, &stat.AllocatedStock, &stat.ConfirmedOrders); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func (r *PostgresProductRepository) SetAvailableStock(ctx context.Context, productID int64, stock int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE products SET available_stock = $1 WHERE id = $2
	`, stock, productID)
	return err
}
