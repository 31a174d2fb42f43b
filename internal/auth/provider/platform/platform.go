// Package platform verifies ID tokens from the partner platform used by the
// b2b exchange.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	"care-portal/internal/auth"
	"care-portal/internal/auth/provider"
	"care-portal/internal/logger"
)

const DefaultName = "platform"

// Verifier checks ID tokens against an issuer's published keys. The issuer
// is discovered on first use rather than at startup, so a slow IdP does not
// keep the portal from booting.
type Verifier struct {
	name     string
	issuer   string
	clientID string

	group    singleflight.Group
	mu       sync.RWMutex
	verifier *oidc.IDTokenVerifier
}

func New(name, issuer, clientID string) (*Verifier, error) {
	if issuer == "" || clientID == "" {
		return nil, errors.New("oidc verifier config missing required fields")
	}
	if name == "" {
		name = DefaultName
	}
	return &Verifier{name: name, issuer: issuer, clientID: clientID}, nil
}

// NewWithKeySet builds a Verifier with fixed keys and no discovery.
func NewWithKeySet(name, issuer, clientID string, keySet oidc.KeySet) *Verifier {
	if name == "" {
		name = DefaultName
	}
	return &Verifier{
		name:     name,
		issuer:   issuer,
		clientID: clientID,
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

func (v *Verifier) Name() string {
	return v.name
}

func (v *Verifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.RLock()
	iv := v.verifier
	v.mu.RUnlock()
	if iv != nil {
		return iv, nil
	}

	res, err, _ := v.group.Do("discover", func() (any, error) {
		p, err := oidc.NewProvider(ctx, v.issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to init oidc provider: %w", err)
		}
		iv := p.Verifier(&oidc.Config{ClientID: v.clientID})
		v.mu.Lock()
		v.verifier = iv
		v.mu.Unlock()
		return iv, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*oidc.IDTokenVerifier), nil
}

func (v *Verifier) VerifyToken(ctx context.Context, raw string) (*auth.Identity, error) {
	iv, err := v.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := iv.Verify(ctx, raw)
	if err != nil {
		logger.Warn("platform id_token verification failed", map[string]any{
			"provider": v.name,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", provider.ErrVerificationFailed, err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrVerificationFailed, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", provider.ErrVerificationFailed)
	}

	return &auth.Identity{
		Provider:       v.name,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
	}, nil
}
