package model

import (
	"errors"
	"time"
)

// OrderStatus representa os possíveis status de um pedido.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Order is the durable record of a settled (or settling) claim.
type Order struct {
	ID        int64       `json:"id" db:"id"`
	UserID    int64       `json:"user_id" db:"user_id"`
	ProductID int64       `json:"product_id" db:"product_id"`
	Status    OrderStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// NewOrder cria uma nova instância de Order.
func NewOrder(userID, productID int64) *Order {
	return &Order{
		UserID:    userID,
		ProductID: productID,
		Status:    OrderStatusPending,
		CreatedAt: time.Now(),
	}
}

// Confirm moves a pending order to CONFIRMED. The transition is one-way.
func (o *Order) Confirm() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be confirmed")
	}

	o.Status = OrderStatusConfirmed
	return nil
}

// Fail moves a pending order to FAILED. The transition is one-way.
func (o *Order) Fail() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be marked as failed")
	}

	o.Status = OrderStatusFailed
	return nil
}
