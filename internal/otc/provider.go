package otc

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Dispatch describes a code sent by a provider.
type Dispatch struct {
	MethodID  string // provider handle for the outstanding code
	UserID    string // provider account id, when the provider keeps one
	RequestID string
}

// Authentication is a provider's confirmation of a correct code.
type Authentication struct {
	UserID    string
	RequestID string
}

// Provider sends codes and checks them. Codes are compared by the provider,
// never locally. Authenticate returns ErrCodeRejected for a wrong or stale
// code and any other error for a provider malfunction.
type Provider interface {
	Send(ctx context.Context, method Method, destination string) (*Dispatch, error)
	Authenticate(ctx context.Context, methodID, code string) (*Authentication, error)
}

// LazyProvider builds its Provider on first use. Concurrent first calls
// share one construction; a failed construction is retried on the next
// call instead of being cached.
type LazyProvider struct {
	build func(ctx context.Context) (Provider, error)

	group singleflight.Group
	mu    sync.RWMutex
	p     Provider
}

func NewLazyProvider(build func(ctx context.Context) (Provider, error)) *LazyProvider {
	return &LazyProvider{build: build}
}

func (l *LazyProvider) get(ctx context.Context) (Provider, error) {
	l.mu.RLock()
	p := l.p
	l.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	v, err, _ := l.group.Do("provider", func() (any, error) {
		l.mu.RLock()
		existing := l.p
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		built, err := l.build(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.p = built
		l.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

func (l *LazyProvider) Send(ctx context.Context, method Method, destination string) (*Dispatch, error) {
	p, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, method, destination)
}

func (l *LazyProvider) Authenticate(ctx context.Context, methodID, code string) (*Authentication, error) {
	p, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Authenticate(ctx, methodID, code)
}
