package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sabihub/tokenledger/internal/cache"
	"github.com/sabihub/tokenledger/internal/config"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"github.com/sabihub/tokenledger/internal/userctx"
	"github.com/sabihub/tokenledger/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    tokendomain.Repository
	Pricing *config.PricingConfigHolder
	Cache   cache.BalanceCache `optional:"true"`
	Metrics *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    tokendomain.Repository
	pricing *config.PricingConfigHolder
	cache   cache.BalanceCache
	metrics *telemetry.Metrics
}

func NewService(p Params) tokendomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("token.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		pricing: p.Pricing,
		cache:   p.Cache,
		metrics: p.Metrics,
	}
}

func (s *Service) GetBalance(ctx context.Context) (*tokendomain.TokenBalance, error) {
	identity, ok := userctx.IdentityFromContext(ctx)
	if !ok {
		return nil, tokendomain.ErrNotAuthenticated
	}

	if s.cache != nil {
		if balance, hit := s.cache.Get(ctx, identity.UserID); hit {
			return balance, nil
		}
	}

	balance, err := s.loadOrInitBalance(ctx, identity)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, identity.UserID, balance)
	}
	return balance, nil
}

func (s *Service) Authorize(ctx context.Context, req tokendomain.AuthorizeRequest) (tokendomain.Authorization, error) {
	if _, ok := userctx.IdentityFromContext(ctx); !ok {
		return tokendomain.Authorization{}, tokendomain.ErrNotAuthenticated
	}

	amount, err := s.resolveAmount(req.Amount, req.Feature)
	if err != nil {
		return tokendomain.Authorization{}, err
	}

	balance, err := s.GetBalance(ctx)
	if err != nil {
		return tokendomain.Authorization{}, err
	}

	available := balance.AvailableTokens()
	return tokendomain.Authorization{
		Authorized: available >= amount,
		Required:   amount,
		Available:  available,
	}, nil
}

func (s *Service) Consume(ctx context.Context, req tokendomain.ConsumeRequest) (*tokendomain.ConsumeResponse, error) {
	identity, ok := userctx.IdentityFromContext(ctx)
	if !ok {
		return nil, tokendomain.ErrNotAuthenticated
	}

	feature := strings.TrimSpace(req.Feature)
	amount, err := s.resolveAmount(req.Amount, feature)
	if err != nil {
		return nil, err
	}

	// Lazy init so first-time users consume against the default grant.
	balance, err := s.loadOrInitBalance(ctx, identity)
	if err != nil {
		return nil, err
	}

	if available := balance.AvailableTokens(); available < amount {
		s.metrics.RecordInsufficient(feature)
		return nil, &tokendomain.InsufficientTokensError{Required: amount, Available: available}
	}

	// The conditional update re-checks the stored balance; a stale read
	// above cannot push available below zero.
	updated, err := s.repo.ApplyDebit(ctx, s.db, identity.UserID, amount)
	if err != nil {
		if errors.Is(err, tokendomain.ErrBalanceConflict) {
			s.metrics.RecordBalanceConflict(feature)
		}
		return nil, err
	}

	s.invalidateBalance(ctx, identity.UserID, updated)
	s.metrics.RecordConsume(feature, amount)

	resp := &tokendomain.ConsumeResponse{Balance: *updated}

	transaction := &tokendomain.TokenTransaction{
		ID:              s.genID.Generate(),
		UserID:          identity.UserID,
		Email:           identity.Email,
		TransactionType: tokendomain.TransactionTypeConsume,
		Amount:          -amount,
		FeatureUsed:     feature,
		Description:     strings.TrimSpace(req.Description),
		CreatedAt:       time.Now().UTC(),
	}
	if req.Metadata != nil {
		transaction.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.InsertTransaction(ctx, s.db, transaction); err != nil {
		// The debit is committed; losing the audit row is an operational
		// gap to reconcile out-of-band, not a rollback.
		s.log.Error("token transaction record failed after committed debit",
			zap.String("user_id", identity.UserID.String()),
			zap.String("feature", feature),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		s.metrics.RecordAuditGap(string(tokendomain.TransactionTypeConsume))
		resp.AuditPending = true
		return resp, nil
	}

	resp.Transaction = transaction
	return resp, nil
}

func (s *Service) Credit(ctx context.Context, req tokendomain.CreditRequest) (*tokendomain.ConsumeResponse, error) {
	identity, ok := userctx.IdentityFromContext(ctx)
	if !ok {
		return nil, tokendomain.ErrNotAuthenticated
	}

	if !tokendomain.ValidTransactionType(req.Type) || req.Type == tokendomain.TransactionTypeConsume {
		return nil, tokendomain.ErrInvalidTransactionType
	}

	balance, err := s.loadOrInitBalance(ctx, identity)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if req.Type == tokendomain.TransactionTypeReset {
		// Reset tops the allowance back up to the configured grant.
		amount = s.pricing.Get().DefaultGrant - balance.AvailableTokens()
		if amount <= 0 {
			return &tokendomain.ConsumeResponse{Balance: *balance}, nil
		}
	}
	if amount <= 0 {
		return nil, tokendomain.ErrInvalidAmount
	}

	updated, err := s.repo.ApplyCredit(ctx, s.db, identity.UserID, amount)
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, identity.UserID, updated)
	s.metrics.RecordGrant(string(req.Type), amount)

	resp := &tokendomain.ConsumeResponse{Balance: *updated}

	transaction := &tokendomain.TokenTransaction{
		ID:              s.genID.Generate(),
		UserID:          identity.UserID,
		Email:           identity.Email,
		TransactionType: req.Type,
		Amount:          amount,
		Description:     strings.TrimSpace(req.Description),
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.repo.InsertTransaction(ctx, s.db, transaction); err != nil {
		s.log.Error("token transaction record failed after committed credit",
			zap.String("user_id", identity.UserID.String()),
			zap.String("type", string(req.Type)),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		s.metrics.RecordAuditGap(string(req.Type))
		resp.AuditPending = true
		return resp, nil
	}

	resp.Transaction = transaction
	return resp, nil
}

func (s *Service) ListTransactions(ctx context.Context, req tokendomain.ListTransactionsRequest) ([]tokendomain.TokenTransaction, error) {
	identity, ok := userctx.IdentityFromContext(ctx)
	if !ok {
		return nil, tokendomain.ErrNotAuthenticated
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	return s.repo.ListTransactions(ctx, s.db, identity.UserID, limit)
}

func (s *Service) loadOrInitBalance(ctx context.Context, identity userctx.Identity) (*tokendomain.TokenBalance, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, identity.UserID)
	if err != nil {
		return nil, err
	}
	if balance != nil {
		return balance, nil
	}

	grant := s.pricing.Get().DefaultGrant
	balance, created, err := s.repo.EnsureBalance(ctx, s.db, identity.UserID, identity.Email, grant)
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.RecordBalanceCreated()
		s.log.Info("token balance initialized",
			zap.String("user_id", identity.UserID.String()),
			zap.Int64("grant", grant),
		)
	}
	return balance, nil
}

func (s *Service) resolveAmount(amount int64, feature string) (int64, error) {
	if strings.TrimSpace(feature) == "" {
		return 0, tokendomain.ErrInvalidFeature
	}
	if amount == 0 {
		amount = s.pricing.Get().CostFor(feature)
	}
	if amount <= 0 {
		return 0, tokendomain.ErrInvalidAmount
	}
	return amount, nil
}

func (s *Service) invalidateBalance(ctx context.Context, userID snowflake.ID, fresh *tokendomain.TokenBalance) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, userID)
	if fresh != nil {
		s.cache.Set(ctx, userID, fresh)
	}
}
