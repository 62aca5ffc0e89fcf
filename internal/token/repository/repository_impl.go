package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	pkgdb "github.com/sabihub/tokenledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tokendomain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*tokendomain.TokenBalance, error) {
	var balance tokendomain.TokenBalance
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, email, total_tokens, used_tokens, created_at, updated_at
		 FROM token_balances WHERE user_id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if balance.UserID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, email string, defaultGrant int64) (*tokendomain.TokenBalance, bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`INSERT INTO token_balances (user_id, email, total_tokens, used_tokens, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		userID,
		email,
		defaultGrant,
		now,
		now,
	)
	created := result.Error == nil && result.RowsAffected > 0
	if result.Error != nil && !pkgdb.IsDuplicateKeyErr(result.Error) {
		return nil, false, result.Error
	}

	// A duplicate key means another request initialized the row first; the
	// re-fetch returns whichever insert won.
	balance, err := r.FindBalance(ctx, db, userID)
	if err != nil {
		return nil, false, err
	}
	if balance == nil {
		return nil, false, tokendomain.ErrBalanceNotFound
	}
	return balance, created, nil
}

// ApplyDebit is the single write that enforces the non-negative invariant.
// The relative update only commits when the stored available balance still
// covers the amount, so two racing debits cannot both drain the same tokens.
func (r *repo) ApplyDebit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64) (*tokendomain.TokenBalance, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE token_balances
		 SET used_tokens = used_tokens + ?, updated_at = ?
		 WHERE user_id = ? AND total_tokens - used_tokens >= ?`,
		amount,
		time.Now().UTC(),
		userID,
		amount,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		existing, err := r.FindBalance(ctx, db, userID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, tokendomain.ErrBalanceNotFound
		}
		return nil, tokendomain.ErrBalanceConflict
	}

	balance, err := r.FindBalance(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, tokendomain.ErrBalanceNotFound
	}
	return balance, nil
}

func (r *repo) ApplyCredit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64) (*tokendomain.TokenBalance, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE token_balances
		 SET total_tokens = total_tokens + ?, updated_at = ?
		 WHERE user_id = ?`,
		amount,
		time.Now().UTC(),
		userID,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, tokendomain.ErrBalanceNotFound
	}

	balance, err := r.FindBalance(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, tokendomain.ErrBalanceNotFound
	}
	return balance, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *tokendomain.TokenTransaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]tokendomain.TokenTransaction, error) {
	var transactions []tokendomain.TokenTransaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
