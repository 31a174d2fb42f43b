// Package devcode is a local one-time-code provider for development. Codes
// are written to the log instead of being delivered. It must never be used
// in production.
package devcode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"care-portal/internal/logger"
	"care-portal/internal/otc"
)

const (
	codeLength = 6

	// DefaultTTL matches the challenge lifetime of the OTC service.
	DefaultTTL = 10 * time.Minute
)

type pending struct {
	hash      []byte
	userID    string
	expiresAt time.Time
}

type Provider struct {
	mu      sync.Mutex
	pending map[string]pending
	sink    func(destination, code string)
	now     func() time.Time
	ttl     time.Duration
}

type Option func(*Provider)

// WithCodeSink replaces the default log sink. Tests use it to read codes.
func WithCodeSink(sink func(destination, code string)) Option {
	return func(p *Provider) { p.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithTTL sets how long a sent code stays usable.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		pending: make(map[string]pending),
		now:     time.Now,
		ttl:     DefaultTTL,
		sink: func(destination, code string) {
			logger.Warn("development one-time code", map[string]any{
				"destination": destination,
				"code":        code,
			})
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Send(_ context.Context, method otc.Method, destination string) (*otc.Dispatch, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	methodID := string(method) + "-" + uuid.NewString()
	userID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("devcode:"+destination)).String()

	now := p.now()

	p.mu.Lock()
	p.prune(now)
	p.pending[methodID] = pending{hash: hash, userID: userID, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()

	p.sink(destination, code)

	return &otc.Dispatch{MethodID: methodID, UserID: userID, RequestID: uuid.NewString()}, nil
}

func (p *Provider) Authenticate(_ context.Context, methodID, code string) (*otc.Authentication, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.pending[methodID]
	if !ok {
		return nil, otc.ErrCodeRejected
	}
	if !p.now().Before(entry.expiresAt) {
		delete(p.pending, methodID)
		return nil, otc.ErrCodeRejected
	}
	if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(code)); err != nil {
		return nil, otc.ErrCodeRejected
	}
	delete(p.pending, methodID)

	return &otc.Authentication{UserID: entry.userID, RequestID: uuid.NewString()}, nil
}

// prune drops expired codes. Callers hold p.mu.
func (p *Provider) prune(now time.Time) {
	for id, entry := range p.pending {
		if !now.Before(entry.expiresAt) {
			delete(p.pending, id)
		}
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}
