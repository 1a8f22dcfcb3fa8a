package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

// SubscriptionServiceOptions groups dependencies for SubscriptionService.
type SubscriptionServiceOptions struct {
	Repo core.SubscriptionRepository // Required

	// MaxPerUser caps active subscriptions per user. Zero uses the default.
	MaxPerUser int
	// MaxSymbols caps distinct tracked symbols system-wide. Zero uses the default.
	MaxSymbols int

	Logger *slog.Logger
}

// SubscriptionService enforces the capacity caps on subscription writes.
// The orchestrator re-checks the system cap at read time.
type SubscriptionService struct {
	repo       core.SubscriptionRepository
	maxPerUser int
	maxSymbols int
	logger     *slog.Logger
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(opts SubscriptionServiceOptions) (*SubscriptionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SubscriptionRepository is required")
	}
	maxPerUser := opts.MaxPerUser
	if maxPerUser < 1 {
		maxPerUser = model.MaxSubscriptionsPerUser
	}
	maxSymbols := opts.MaxSymbols
	if maxSymbols < 1 {
		maxSymbols = model.MaxTrackedSymbols
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "subscription_service")
	}

	return &SubscriptionService{
		repo:       opts.Repo,
		maxPerUser: maxPerUser,
		maxSymbols: maxSymbols,
		logger:     logger,
	}, nil
}

// Subscribe adds an active subscription after checking both capacity
// caps. Returns *model.CapacityExceededError when a cap is hit and
// data.ErrSubscriptionExists on a duplicate.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, symbol string) (*model.Subscription, error) {
	symbol = model.NormalizeSymbol(symbol)
	if err := model.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	userCount, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions for user: %w", err)
	}
	if userCount >= s.maxPerUser {
		return nil, &model.CapacityExceededError{Scope: "user", Current: userCount, Limit: s.maxPerUser}
	}

	symbolCount, err := s.repo.CountDistinctSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tracked symbols: %w", err)
	}
	if symbolCount >= s.maxSymbols && !s.symbolTracked(ctx, symbol) {
		return nil, &model.CapacityExceededError{Scope: "system", Current: symbolCount, Limit: s.maxSymbols}
	}

	sub, err := s.repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: userID, Symbol: symbol})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "subscription created", "user_id", userID, "symbol", symbol)
	}
	return sub, nil
}

// symbolTracked reports whether the symbol already counts against the
// system cap. An error here falls back to treating it as untracked,
// which is the stricter outcome.
func (s *SubscriptionService) symbolTracked(ctx context.Context, symbol string) bool {
	subscribers, err := s.repo.SubscribersFor(ctx, symbol)
	if err != nil {
		return false
	}
	return len(subscribers) > 0
}

// Unsubscribe deactivates the (user, symbol) subscription. Returns
// false when no active subscription existed.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, userID, symbol string) (bool, error) {
	symbol = model.NormalizeSymbol(symbol)
	removed, err := s.repo.Deactivate(ctx, userID, symbol)
	if err != nil {
		return false, fmt.Errorf("deactivate subscription: %w", err)
	}
	if removed && s.logger != nil {
		s.logger.InfoContext(ctx, "subscription deactivated", "user_id", userID, "symbol", symbol)
	}
	return removed, nil
}

// List returns the user's active subscriptions.
func (s *SubscriptionService) List(ctx context.Context, userID string) ([]*model.Subscription, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
