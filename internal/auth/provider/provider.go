package provider

import (
	"context"
	"errors"

	"care-portal/internal/auth"
)

var (
	ErrUnknownProvider    = errors.New("provider: unknown identity provider")
	ErrVerificationFailed = errors.New("provider: token verification failed")
)

// IdentityVerifier checks a credential issued by a trusted platform and
// returns who it belongs to. Implementations return identity facts only and
// must not touch sessions or tokens of their own.
type IdentityVerifier interface {
	// Name returns the provider identifier used by the registry.
	Name() string

	// VerifyToken validates raw and returns a normalized identity. A token
	// that is malformed, expired, or not meant for this portal yields
	// ErrVerificationFailed.
	VerifyToken(ctx context.Context, raw string) (*auth.Identity, error)
}
