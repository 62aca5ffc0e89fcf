package domain

import (
	"context"
	"errors"
	"fmt"
)

type AuthorizeRequest struct {
	Amount  int64  `json:"amount"`
	Feature string `json:"feature"`
}

// Authorization is the outcome of a pre-debit balance check. An insufficient
// balance is a business outcome, not an error, so it is reported here rather
// than through the error return.
type Authorization struct {
	Authorized bool  `json:"authorized"`
	Required   int64 `json:"required"`
	Available  int64 `json:"available"`
}

type ConsumeRequest struct {
	// Amount is optional; when zero the configured cost of Feature applies.
	Amount      int64          `json:"amount"`
	Feature     string         `json:"feature"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// ConsumeResponse reports the committed balance and audit entry. When the
// debit committed but the audit write failed, AuditPending is true and
// Transaction is nil; the balance change is real and is not rolled back.
type ConsumeResponse struct {
	Balance      TokenBalance      `json:"balance"`
	Transaction  *TokenTransaction `json:"transaction,omitempty"`
	AuditPending bool              `json:"audit_pending,omitempty"`
}

type CreditRequest struct {
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
}

type ListTransactionsRequest struct {
	Limit int `json:"limit"`
}

type Service interface {
	// GetBalance returns the caller's balance, creating it with the default
	// grant on first access.
	GetBalance(ctx context.Context) (*TokenBalance, error)
	// Authorize checks whether the caller can afford a debit. It never
	// mutates state and is advisory only; Consume re-checks at the store.
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	// Consume debits the balance and appends the audit entry.
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error)
	// Credit grants tokens (purchase, refund, or reset to the default allowance).
	Credit(ctx context.Context, req CreditRequest) (*ConsumeResponse, error)
	// ListTransactions returns the caller's history, newest first.
	ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]TokenTransaction, error)
}

var (
	ErrNotAuthenticated       = errors.New("not_authenticated")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidFeature         = errors.New("invalid_feature")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInsufficientTokens     = errors.New("insufficient_tokens")
	ErrBalanceConflict        = errors.New("balance_conflict")
	ErrBalanceNotFound        = errors.New("balance_not_found")
)

// InsufficientTokensError carries the amounts behind ErrInsufficientTokens
// so callers can render required/available to the user.
type InsufficientTokensError struct {
	Required  int64
	Available int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient_tokens: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientTokensError) Unwrap() error { return ErrInsufficientTokens }
