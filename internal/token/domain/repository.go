package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindBalance returns nil, nil when no row exists.
	FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*TokenBalance, error)
	// EnsureBalance inserts the default-grant row if missing and returns the
	// stored row. Safe under concurrent first reads; created reports whether
	// this call inserted the row.
	EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, email string, defaultGrant int64) (balance *TokenBalance, created bool, err error)
	// ApplyDebit raises used_tokens by amount, conditional on the available
	// balance covering it. Returns ErrBalanceConflict when the condition
	// fails, closing the race between check and commit.
	ApplyDebit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64) (*TokenBalance, error)
	// ApplyCredit raises total_tokens by amount.
	ApplyCredit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64) (*TokenBalance, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *TokenTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]TokenTransaction, error)
}
