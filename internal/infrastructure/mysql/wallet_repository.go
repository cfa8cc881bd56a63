package mysql

import (
	"context"
	"database/sql"
	"errors"

	"quicksell/internal/domain"
)

type MySQLWalletRepository struct {
	db *sql.DB
}

func NewMySQLWalletRepository(db *sql.DB) *MySQLWalletRepository {
	return &MySQLWalletRepository{db: db}
}

func (r *MySQLWalletRepository) AvailableBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}
