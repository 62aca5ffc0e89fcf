package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/sabihub/tokenledger/internal/config"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"github.com/sabihub/tokenledger/internal/token/repository"
	"github.com/sabihub/tokenledger/internal/userctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestGetBalanceInitializesDefaultGrant(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	balance, err := svc.GetBalance(ctx)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.TotalTokens != 50 || balance.UsedTokens != 0 {
		t.Fatalf("expected default grant 50/0, got %d/%d", balance.TotalTokens, balance.UsedTokens)
	}
	if balance.AvailableTokens() != 50 {
		t.Fatalf("expected 50 available, got %d", balance.AvailableTokens())
	}

	again, err := svc.GetBalance(ctx)
	if err != nil {
		t.Fatalf("get balance again: %v", err)
	}
	if *again != *balance {
		t.Fatalf("expected idempotent balance read, got %+v vs %+v", again, balance)
	}

	if count := countBalances(t, db); count != 1 {
		t.Fatalf("expected 1 balance row, got %d", count)
	}
}

func TestGetBalanceRequiresIdentity(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupTokenService(t, node, nil)

	if _, err := svc.GetBalance(context.Background()); !errors.Is(err, tokendomain.ErrNotAuthenticated) {
		t.Fatalf("expected not_authenticated, got %v", err)
	}
}

func TestAuthorizeBoundary(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	// Exact-balance consumption is allowed.
	auth, err := svc.Authorize(ctx, tokendomain.AuthorizeRequest{Amount: 50, Feature: "document-generation"})
	if err != nil {
		t.Fatalf("authorize exact: %v", err)
	}
	if !auth.Authorized || auth.Required != 50 || auth.Available != 50 {
		t.Fatalf("expected exact-balance authorization, got %+v", auth)
	}

	auth, err = svc.Authorize(ctx, tokendomain.AuthorizeRequest{Amount: 51, Feature: "document-generation"})
	if err != nil {
		t.Fatalf("authorize over: %v", err)
	}
	if auth.Authorized {
		t.Fatalf("expected rejection above available balance, got %+v", auth)
	}
	if auth.Required != 51 || auth.Available != 50 {
		t.Fatalf("expected required/available 51/50, got %+v", auth)
	}
}

func TestConsumeAppendsTransaction(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	resp, err := svc.Consume(ctx, tokendomain.ConsumeRequest{
		Amount:  10,
		Feature: "document-generation",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if resp.Balance.TotalTokens != 50 || resp.Balance.UsedTokens != 10 {
		t.Fatalf("expected 50/10 after consume, got %d/%d", resp.Balance.TotalTokens, resp.Balance.UsedTokens)
	}
	if resp.Balance.AvailableTokens() != 40 {
		t.Fatalf("expected 40 available, got %d", resp.Balance.AvailableTokens())
	}
	if resp.AuditPending {
		t.Fatalf("unexpected audit gap")
	}
	if resp.Transaction == nil {
		t.Fatalf("expected transaction in response")
	}
	if resp.Transaction.TransactionType != tokendomain.TransactionTypeConsume {
		t.Fatalf("expected consume transaction, got %s", resp.Transaction.TransactionType)
	}
	if resp.Transaction.Amount != -10 {
		t.Fatalf("expected amount -10, got %d", resp.Transaction.Amount)
	}
	if resp.Transaction.FeatureUsed != "document-generation" {
		t.Fatalf("expected feature snapshot, got %q", resp.Transaction.FeatureUsed)
	}

	if count := countTransactions(t, db); count != 1 {
		t.Fatalf("expected exactly 1 transaction, got %d", count)
	}
}

func TestConsumeInsufficientLeavesStateUntouched(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	if _, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 45, Feature: "business-plan"}); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	_, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 10, Feature: "document-generation"})
	var insufficient *tokendomain.InsufficientTokensError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient tokens error, got %v", err)
	}
	if insufficient.Required != 10 || insufficient.Available != 5 {
		t.Fatalf("expected required/available 10/5, got %+v", insufficient)
	}
	if !errors.Is(err, tokendomain.ErrInsufficientTokens) {
		t.Fatalf("expected error to unwrap to sentinel")
	}

	balance, err := svc.GetBalance(ctx)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.UsedTokens != 45 {
		t.Fatalf("expected balance unchanged at 45 used, got %d", balance.UsedTokens)
	}
	if count := countTransactions(t, db); count != 1 {
		t.Fatalf("expected no transaction for rejected consume, got %d", count)
	}
}

func TestConsumeDefaultsAmountFromPricing(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	resp, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Feature: "document-generation"})
	if err != nil {
		t.Fatalf("consume with configured cost: %v", err)
	}
	if resp.Transaction.Amount != -10 {
		t.Fatalf("expected configured cost 10, got %d", resp.Transaction.Amount)
	}

	if _, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Feature: "unknown-feature"}); !errors.Is(err, tokendomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid_amount for unpriced feature, got %v", err)
	}
}

func TestConsumeConcurrentFullBalance(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	if _, err := svc.GetBalance(ctx); err != nil {
		t.Fatalf("init balance: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 50, Feature: "document-generation"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, tokendomain.ErrBalanceConflict) && !errors.Is(err, tokendomain.ErrInsufficientTokens) {
			t.Fatalf("unexpected concurrent consume error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winning consume, got %d", successes)
	}

	balance := fetchBalance(t, db, node)
	if balance.AvailableTokens() != 0 {
		t.Fatalf("expected zero available after full drain, got %d", balance.AvailableTokens())
	}
	if balance.AvailableTokens() < 0 {
		t.Fatalf("available balance went negative: %d", balance.AvailableTokens())
	}
	if count := countTransactions(t, db); count != 1 {
		t.Fatalf("expected one transaction after concurrent drain, got %d", count)
	}
}

func TestCreditPurchase(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	resp, err := svc.Credit(ctx, tokendomain.CreditRequest{
		Type:        tokendomain.TransactionTypePurchase,
		Amount:      100,
		Description: "starter pack",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if resp.Balance.TotalTokens != 150 {
		t.Fatalf("expected 150 total after purchase, got %d", resp.Balance.TotalTokens)
	}
	if resp.Transaction == nil || resp.Transaction.Amount != 100 {
		t.Fatalf("expected +100 purchase transaction, got %+v", resp.Transaction)
	}

	if count := countTransactions(t, db); count != 1 {
		t.Fatalf("expected 1 transaction, got %d", count)
	}
}

func TestCreditRejectsConsumeType(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	_, err := svc.Credit(ctx, tokendomain.CreditRequest{Type: tokendomain.TransactionTypeConsume, Amount: 10})
	if !errors.Is(err, tokendomain.ErrInvalidTransactionType) {
		t.Fatalf("expected invalid_transaction_type, got %v", err)
	}
}

func TestCreditResetTopsUpToGrant(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	if _, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 30, Feature: "marketing-content"}); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	resp, err := svc.Credit(ctx, tokendomain.CreditRequest{Type: tokendomain.TransactionTypeReset})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if resp.Balance.AvailableTokens() != 50 {
		t.Fatalf("expected available restored to 50, got %d", resp.Balance.AvailableTokens())
	}
	if resp.Transaction == nil || resp.Transaction.Amount != 30 {
		t.Fatalf("expected +30 reset transaction, got %+v", resp.Transaction)
	}

	// Reset at full allowance is a no-op without an audit entry.
	before := countTransactions(t, db)
	resp, err = svc.Credit(ctx, tokendomain.CreditRequest{Type: tokendomain.TransactionTypeReset})
	if err != nil {
		t.Fatalf("reset at full allowance: %v", err)
	}
	if resp.Transaction != nil {
		t.Fatalf("expected no transaction for no-op reset")
	}
	if after := countTransactions(t, db); after != before {
		t.Fatalf("expected transaction count unchanged, got %d vs %d", after, before)
	}
}

func TestTransactionReconciliation(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	if _, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 10, Feature: "document-generation"}); err != nil {
		t.Fatalf("consume 10: %v", err)
	}
	if _, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 5, Feature: "marketing-content"}); err != nil {
		t.Fatalf("consume 5: %v", err)
	}
	if _, err := svc.Credit(ctx, tokendomain.CreditRequest{Type: tokendomain.TransactionTypePurchase, Amount: 20}); err != nil {
		t.Fatalf("purchase 20: %v", err)
	}

	balance := fetchBalance(t, db, node)
	if got := balance.AvailableTokens(); got != balance.TotalTokens-balance.UsedTokens {
		t.Fatalf("derived balance invariant broken: %d", got)
	}

	var sum int64
	if err := db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM token_transactions`).Scan(&sum).Error; err != nil {
		t.Fatalf("sum transactions: %v", err)
	}
	// Net effect on available since the default grant.
	netChange := balance.AvailableTokens() - 50
	if sum != netChange {
		t.Fatalf("transaction sum %d does not reconcile with net change %d", sum, netChange)
	}
}

func TestConsumeSurfacesAuditGap(t *testing.T) {
	node := mustNode(t)
	failing := &failingTransactionRepo{Repository: repository.Provide()}
	svc, db := setupTokenService(t, node, failing)
	ctx := testIdentity(node)

	resp, err := svc.Consume(ctx, tokendomain.ConsumeRequest{Amount: 10, Feature: "document-generation"})
	if err != nil {
		t.Fatalf("consume with failing recorder: %v", err)
	}
	if !resp.AuditPending {
		t.Fatalf("expected audit_pending after failed record write")
	}
	if resp.Transaction != nil {
		t.Fatalf("expected no transaction in response after failed record write")
	}

	// Debit is committed, audit row is missing.
	balance := fetchBalance(t, db, node)
	if balance.UsedTokens != 10 {
		t.Fatalf("expected committed debit of 10, got %d", balance.UsedTokens)
	}
	if count := countTransactions(t, db); count != 0 {
		t.Fatalf("expected no audit rows, got %d", count)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	node := mustNode(t)
	svc, db := setupTokenService(t, node, nil)
	ctx := testIdentity(node)

	if _, err := svc.GetBalance(ctx); err != nil {
		t.Fatalf("init balance: %v", err)
	}

	identity, _ := userctx.IdentityFromContext(ctx)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		tx := &tokendomain.TokenTransaction{
			ID:              node.Generate(),
			UserID:          identity.UserID,
			TransactionType: tokendomain.TransactionTypeConsume,
			Amount:          -int64(i + 1),
			FeatureUsed:     "document-generation",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := repository.Provide().InsertTransaction(ctx, db, tx); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	transactions, err := svc.ListTransactions(ctx, tokendomain.ListTransactionsRequest{Limit: 2})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected limit applied, got %d rows", len(transactions))
	}
	if transactions[0].Amount != -3 || transactions[1].Amount != -2 {
		t.Fatalf("expected newest-first ordering, got %d then %d", transactions[0].Amount, transactions[1].Amount)
	}

	all, err := svc.ListTransactions(ctx, tokendomain.ListTransactionsRequest{})
	if err != nil {
		t.Fatalf("list with default limit: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows under default limit, got %d", len(all))
	}
}

// -- helpers --

type failingTransactionRepo struct {
	tokendomain.Repository
}

func (r *failingTransactionRepo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *tokendomain.TokenTransaction) error {
	return errors.New("recorder unavailable")
}

func setupTokenService(t *testing.T, node *snowflake.Node, repo tokendomain.Repository) (tokendomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	prepareTokenSchema(t, db)

	if repo == nil {
		repo = repository.Provide()
	}

	service := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repo,
		Pricing: config.StaticPricingConfigHolder(config.DefaultPricingConfig()),
	})

	return service, db
}

func prepareTokenSchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS token_balances (
			user_id INTEGER PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			total_tokens INTEGER NOT NULL DEFAULT 0,
			used_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS token_transactions (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			transaction_type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			feature_used TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

// testIdentity returns a context carrying a fixed caller identity derived
// from the node, so concurrent tests never share rows.
func testIdentity(node *snowflake.Node) context.Context {
	return userctx.WithIdentity(context.Background(), userctx.Identity{
		UserID: snowflake.ID(node.Generate().Int64()),
		Email:  "founder@example.ng",
	})
}

func fetchBalance(t *testing.T, db *gorm.DB, node *snowflake.Node) tokendomain.TokenBalance {
	t.Helper()
	var balance tokendomain.TokenBalance
	if err := db.Raw(`SELECT user_id, email, total_tokens, used_tokens, created_at, updated_at FROM token_balances LIMIT 1`).Scan(&balance).Error; err != nil {
		t.Fatalf("fetch balance: %v", err)
	}
	return balance
}

func countBalances(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM token_balances`).Scan(&count).Error; err != nil {
		t.Fatalf("count balances: %v", err)
	}
	return count
}

func countTransactions(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM token_transactions`).Scan(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
