package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storewave/flash-sale-service/model"
)

// ErrOutOfStock indica que o decremento condicional não afetou nenhuma
// linha: o estoque durável já chegou a zero.
var ErrOutOfStock = errors.New("out of stock")

// OrderRepository define a interface para operações de pedidos.
type OrderRepository interface {
	// CreateOrder insere um pedido já resolvido (CONFIRMED ou FAILED).
	// messageID deduplica entregas repetidas da mesma mensagem: uma
	// reentrega devolve o pedido já gravado em vez de inserir outro.
	CreateOrder(ctx context.Context, userID, productID int64, status model.OrderStatus, messageID string) (int64, error)

	// CheckoutNormal executa o caminho síncrono de produtos não-flash:
	// decremento condicional do estoque e inserção do pedido CONFIRMED
	// na mesma transação. Retorna ErrOutOfStock sem nenhuma mutação
	// quando o decremento não afeta linhas.
	CheckoutNormal(ctx context.Context, userID, productID int64) (int64, error)

	// ConfirmOrder liquida um claim flash: insere o pedido CONFIRMED e
	// decrementa available_stock na mesma transação. Uma reentrega com o
	// mesmo messageID devolve o pedido existente sem decrementar de novo.
	ConfirmOrder(ctx context.Context, userID, productID int64, messageID string) (int64, error)

	// HasConfirmedOrder verifica se existe pedido CONFIRMED para o par
	// usuário/produto (usado pela auditoria de verificação).
	HasConfirmedOrder(ctx context.Context, userID, productID int64) (bool, error)

	// CountByStatus agrega pedidos por status para o dashboard.
	CountByStatus(ctx context.Context) (map[model.OrderStatus]int, error)

	// GetOrder busca um pedido pelo ID.
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
}

// PostgresOrderRepository implementa OrderRepository usando PostgreSQL.
type PostgresOrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de PostgresOrderRepository.
func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PostgresOrderRepository{
		db: db,
	}
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, userID, productID int64, status model.OrderStatus, messageID string) (int64, error) {
	var orderID int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO orders (user_id, product_id, status, message_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (message_id) WHERE message_id IS NOT NULL DO NOTHING
		RETURNING id
	`, userID, productID, status, messageID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		// A previous delivery of this message already wrote the order.
		err = r.db.QueryRow(ctx, `
			SELECT id FROM orders WHERE message_id = $1
		`, messageID).Scan(&orderID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	return orderID, nil
}

func (r *PostgresOrderRepository) CheckoutNormal(ctx context.Context, userID, productID int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin checkout transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Atomic stock deduction; the WHERE guard keeps the stock from
	// ever going below zero.
	tag, err := tx.Exec(ctx, `
		UPDATE products SET available_stock = available_stock - 1
		WHERE id = $1 AND available_stock > 0
	`, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to deduct stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrOutOfStock
	}

	var orderID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, product_id, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, productID, model.OrderStatusConfirmed).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit checkout: %w", err)
	}
	return orderID, nil
}

func (r *PostgresOrderRepository) ConfirmOrder(ctx context.Context, userID, productID int64, messageID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, product_id, status, message_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (message_id) WHERE message_id IS NOT NULL DO NOTHING
		RETURNING id
	`, userID, productID, model.OrderStatusConfirmed, messageID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Redelivery of an already-settled claim: the stock decrement
		// committed with the original insert, so only the id is fetched.
		err = tx.QueryRow(ctx, `
			SELECT id FROM orders WHERE message_id = $1
		`, messageID).Scan(&orderID)
		if err != nil {
			return 0, fmt.Errorf("failed to load settled order: %w", err)
		}
		return orderID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	// The unit was already claimed in the cache; here we mirror the
	// decrement on the durable counter, floored at zero.
	var prevStock int
	err = tx.QueryRow(ctx, `
		SELECT available_stock FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&prevStock)
	if err != nil {
		return 0, fmt.Errorf("failed to lock product stock: %w", err)
	}
	if prevStock == 0 {
		// The floor below is about to engage: the durable ledger and the
		// reservation cache have drifted apart for this product.
		log.Printf("⚠️ [ORDERS] Durable stock already zero on settlement | ProductID=%d | OrderID=%d", productID, orderID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET available_stock = GREATEST(available_stock - 1, 0)
		WHERE id = $1
	`, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement available stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return orderID, nil
}

func (r *PostgresOrderRepository) HasConfirmedOrder(ctx context.Context, userID, productID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE user_id = $1 AND product_id = $2 AND status = 'CONFIRMED'
		)
	`, userID, productID).Scan(&exists)
	return exists, err
}

func (r *PostgresOrderRepository) CountByStatus(ctx context.Context) (map[model.OrderStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(id) FROM orders GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.OrderStatus]int)
	for rows.Next() {
		var status model.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, product_id, status, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.ProductID, &order.Status, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
