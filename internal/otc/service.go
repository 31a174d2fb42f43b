package otc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"care-portal/internal/logger"
)

type Service struct {
	store       Store
	provider    Provider
	now         func() time.Time
	maxAttempts int
	ttl         time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService returns a Service. A nil provider is allowed; Start and Verify
// then fail with ErrProviderNotConfigured.
func NewService(store Store, provider Provider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		provider:    provider,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		ttl:         DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Configured() bool {
	return s.provider != nil
}

type StartResult struct {
	Method    Method
	MethodID  string
	UserID    string
	RequestID string
	ExpiresAt time.Time
}

// Start replaces the session's challenge with a fresh one and dispatches a
// code to dest.
func (s *Service) Start(ctx context.Context, sessionID string, m Method, dest string) (*StartResult, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	dest, err := NormalizeDestination(m, dest)
	if err != nil {
		return nil, err
	}

	// The old challenge goes first so a failed dispatch cannot leave a
	// verifiable stale one behind.
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("otc: clear challenge: %w", err)
	}

	d, err := s.provider.Send(ctx, m, dest)
	if err != nil {
		logger.Error("otc dispatch failed", map[string]any{
			"session": logger.SessionRef(sessionID),
			"method":  string(m),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	requestID := d.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	c := Challenge{
		MethodID:      d.MethodID,
		Method:        m,
		Destination:   dest,
		MaxAttempts:   s.maxAttempts,
		ExpiresAt:     expiresAt.Unix(),
		StytchUserID:  d.UserID,
		LastRequestID: requestID,
	}
	if err := s.store.Put(ctx, sessionID, c, s.ttl); err != nil {
		return nil, fmt.Errorf("otc: store challenge: %w", err)
	}

	logger.Info("otc challenge started", map[string]any{
		"session":    logger.SessionRef(sessionID),
		"method":     string(m),
		"request_id": requestID,
	})

	return &StartResult{
		Method:    m,
		MethodID:  d.MethodID,
		UserID:    d.UserID,
		RequestID: requestID,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks code against the session's challenge. On success the
// challenge is deleted and the provider's user id is returned.
func (s *Service) Verify(ctx context.Context, sessionID, code string) (*Authentication, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}

	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("otc: load challenge: %w", err)
	}
	if c == nil {
		return nil, ErrNoActiveChallenge
	}
	if c.Expired(s.now()) {
		_ = s.store.Delete(ctx, sessionID)
		return nil, ErrNoActiveChallenge
	}
	if c.Exhausted() {
		return nil, ErrTooManyAttempts
	}

	a, err := s.provider.Authenticate(ctx, c.MethodID, code)
	if errors.Is(err, ErrCodeRejected) {
		attempts, err := s.store.IncrementAttempts(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		remaining := c.MaxAttempts - attempts
		if remaining < 0 {
			return nil, ErrTooManyAttempts
		}
		logger.Info("otc code rejected", map[string]any{
			"session":   logger.SessionRef(sessionID),
			"remaining": remaining,
		})
		return nil, &IncorrectCodeError{RemainingAttempts: remaining}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	if err := s.store.Delete(ctx, sessionID); err != nil {
		logger.Warn("failed to delete verified challenge", map[string]any{
			"session": logger.SessionRef(sessionID),
			"error":   err.Error(),
		})
	}
	if a.UserID == "" {
		a.UserID = c.StytchUserID
	}
	return a, nil
}
