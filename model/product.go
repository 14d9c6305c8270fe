package model

import "time"

// Product representa um produto do catálogo.
//
// AllocatedStock is the total quantity committed to the sale;
// AvailableStock is the durable remainder. For flash-sale products the
// live counter lives in the reservation cache, not here.
type Product struct {
	ID             int64          `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Type           string         `json:"type" db:"type"`
	IsFlashSale    bool           `json:"is_flash_sale" db:"is_flash_sale"`
	AllocatedStock int            `json:"allocated_stock" db:"allocated_stock"`
	AvailableStock int            `json:"available_stock" db:"available_stock"`
	Attributes     map[string]any `json:"attributes,omitempty" db:"attributes"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// User representa um usuário registrado. Password armazena o hash scrypt
// no formato "salt:hash".
type User struct {
	ID        int64     `json:"id" db:"id"`
	UserName  string    `json:"user_name" db:"user_name"`
	Password  string    `json:"-" db:"password"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
