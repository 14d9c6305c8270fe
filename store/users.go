package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storewave/flash-sale-service/model"
)

// UserRepository define a interface para operações de usuários.
type UserRepository interface {
	// CreateUser insere um usuário e preenche ID e CreatedAt.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUserByUserName busca um usuário pelo nome de login.
	GetUserByUserName(ctx context.Context, userName string) (*model.User, error)
}

// PostgresUserRepository implementa UserRepository usando PostgreSQL.
type PostgresUserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository cria uma nova instância de PostgresUserRepository.
func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &PostgresUserRepository{
		db: db,
	}
}

func (r *PostgresUserRepository) CreateUser(ctx context.Context, user *model.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (user_name, password, name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, user.UserName, user.Password, user.Name).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetUserByUserName(ctx context.Context, userName string) (*model.User, error) {
	var user model.User
	err := r.db.QueryRow(ctx, `
		SELECT id, user_name, password, name, created_at
		FROM users WHERE user_name = $1
	`, userName).Scan(&user.ID, &user.UserName, &user.Password, &user.Name, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
