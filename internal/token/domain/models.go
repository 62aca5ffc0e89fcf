// Package domain contains persistence models for token balances and the
// append-only transaction trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies balance-affecting operations.
type TransactionType string

const (
	TransactionTypeConsume  TransactionType = "consume"
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeReset    TransactionType = "reset"
)

// TokenBalance tracks cumulative grants and consumption per user.
// Available tokens are always derived as TotalTokens - UsedTokens.
type TokenBalance struct {
	UserID      snowflake.ID `gorm:"primaryKey" json:"user_id"`
	Email       string       `gorm:"type:text" json:"email"`
	TotalTokens int64        `gorm:"not null" json:"total_tokens"`
	UsedTokens  int64        `gorm:"not null" json:"used_tokens"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TokenBalance) TableName() string { return "token_balances" }

// AvailableTokens returns the spendable remainder.
func (b TokenBalance) AvailableTokens() int64 {
	return b.TotalTokens - b.UsedTokens
}

// TokenTransaction is an immutable audit entry. Amount is negative for
// consumption and positive for purchase/refund/reset grants.
type TokenTransaction struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Email           string            `gorm:"type:text" json:"email"`
	TransactionType TransactionType   `gorm:"type:text;not null" json:"transaction_type"`
	Amount          int64             `gorm:"not null" json:"amount"`
	FeatureUsed     string            `gorm:"type:text" json:"feature_used,omitempty"`
	Description     string            `gorm:"type:text" json:"description,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;index;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (TokenTransaction) TableName() string { return "token_transactions" }

// ValidTransactionType reports whether t is a known transaction type.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionTypeConsume, TransactionTypePurchase, TransactionTypeRefund, TransactionTypeReset:
		return true
	default:
		return false
	}
}
