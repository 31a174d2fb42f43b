// Package ladder moves sessions up the authentication ladder and re-mints
// their access tokens.
//
// The authentication state is read only from a verified token whose subject
// is the session in question and is written only into newly signed tokens.
// Nothing here persists it, so mutating the session store can never raise a
// session's privileges.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"care-portal/internal/auth"
	"care-portal/internal/logger"
	"care-portal/internal/session"
	"care-portal/internal/token"
)

var (
	ErrNoSession        = errors.New("ladder: no session")
	ErrSessionNotFound  = errors.New("ladder: session not found")
	ErrSessionExpired   = errors.New("ladder: session expired")
	ErrStoreFailure     = errors.New("ladder: session store failure")
	ErrIdentityConflict = errors.New("ladder: identity conflict")
)

// Minted is a freshly signed access token.
type Minted struct {
	Token     string
	ExpiresAt time.Time
	Claims    token.AccessClaims
}

type Ladder struct {
	store session.Store
	codec *token.Codec
}

func New(store session.Store, codec *token.Codec) *Ladder {
	return &Ladder{store: store, codec: codec}
}

// LoadSession fetches a live session. Records whose exp has passed are
// deleted on sight, since TTL backends may lag.
func (l *Ladder) LoadSession(ctx context.Context, sessionID string) (*session.Record, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	rec, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}
	if rec.Expired(l.codec.Now()) {
		if err := l.store.Delete(ctx, sessionID); err != nil {
			logger.Warn("failed to delete expired session", map[string]any{
				"session": logger.SessionRef(sessionID),
				"error":   err.Error(),
			})
		}
		return nil, ErrSessionExpired
	}
	return rec, nil
}

// PriorState decodes the authentication state carried by priorToken. Only a
// token that verifies and belongs to sessionID counts; anything else yields
// unauthenticated rather than an error.
func (l *Ladder) PriorState(sessionID, priorToken string) (auth.State, *token.AccessClaims) {
	if priorToken == "" {
		return auth.Unauthenticated, nil
	}
	claims, err := l.codec.VerifyAccessToken(priorToken)
	if err != nil || claims.SessionID() != sessionID {
		return auth.Unauthenticated, nil
	}
	return claims.AuthenticationState, claims
}

// Mint signs a token for rec at the given state.
func (l *Ladder) Mint(sessionID string, rec *session.Record, state auth.State) (*Minted, error) {
	return l.sign(sessionID, claimsFor(rec, state), nil)
}

// Renew re-mints the session's token without changing its authentication
// state. The prior token's claims are carried forward with a fresh exp.
func (l *Ladder) Renew(ctx context.Context, sessionID, priorToken string) (*Minted, *session.Record, error) {
	rec, err := l.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	_, prior := l.PriorState(sessionID, priorToken)
	if prior == nil {
		m, err := l.Mint(sessionID, rec, auth.Unauthenticated)
		return m, rec, err
	}

	claims, err := AttachExternalIDToToken(*prior, rec.NaviStytchUserID)
	if err != nil {
		// The token and the session disagree about who this is; start over
		// from the session alone.
		logger.Warn("prior token identity differs from session", map[string]any{
			"session": logger.SessionRef(sessionID),
		})
		m, err := l.Mint(sessionID, rec, auth.Unauthenticated)
		return m, rec, err
	}
	now := l.codec.Now()
	claims = RenewExpiration(claims, l.codec.TTL(), now)
	m, err := l.sign(sessionID, claims, &token.Overrides{ExpiresAt: claims.ExpiresAt.Time})
	return m, rec, err
}

// PromoteVerified moves the session to at least verified after a successful
// one-time-code check, binding externalID to the session when given.
func (l *Ladder) PromoteVerified(ctx context.Context, sessionID, priorToken, externalID string) (*Minted, error) {
	return l.promote(ctx, sessionID, priorToken, externalID, auth.Verified)
}

// PromoteAuthenticated moves the session to authenticated after a
// successful external identity exchange.
func (l *Ladder) PromoteAuthenticated(ctx context.Context, sessionID, priorToken, externalID string) (*Minted, error) {
	return l.promote(ctx, sessionID, priorToken, externalID, auth.Authenticated)
}

func (l *Ladder) promote(ctx context.Context, sessionID, priorToken, externalID string, target auth.State) (*Minted, error) {
	rec, err := l.LoadSession(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, err
	}

	if externalID != "" && rec.NaviStytchUserID != externalID {
		updated, err := AttachExternalIDToSession(*rec, externalID)
		if err != nil {
			return nil, err
		}
		if err := l.store.Set(ctx, sessionID, updated, updated.TTL(l.codec.Now())); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		rec = &updated
	}

	prior, _ := l.PriorState(sessionID, priorToken)
	state := auth.Max(prior, target)

	logger.Info("session promoted", map[string]any{
		"session": logger.SessionRef(sessionID),
		"from":    string(prior),
		"to":      string(state),
	})

	return l.Mint(sessionID, rec, state)
}

// ExtendSession pushes the session's exp to at least now+ttl.
func (l *Ladder) ExtendSession(ctx context.Context, sessionID string, ttl time.Duration) (*session.Record, error) {
	rec, err := l.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := l.codec.Now()
	if exp := now.Add(ttl).Unix(); exp > rec.Exp {
		rec.Exp = exp
	}
	if err := l.store.Set(ctx, sessionID, *rec, rec.TTL(now)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return rec, nil
}

// Logout deletes the session. The caller drops the cookies.
func (l *Ladder) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := l.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (l *Ladder) sign(sessionID string, claims token.AccessClaims, o *token.Overrides) (*Minted, error) {
	signed, exp, err := l.codec.CreateAccessToken(sessionID, claims, o)
	if err != nil {
		return nil, err
	}
	claims.Subject = sessionID
	return &Minted{Token: signed, ExpiresAt: exp, Claims: claims}, nil
}

func claimsFor(rec *session.Record, state auth.State) token.AccessClaims {
	return token.AccessClaims{
		OrgID:               rec.OrgID,
		TenantID:            rec.TenantID,
		Environment:         string(rec.Environment),
		AuthenticationState: state,
		NaviStytchUserID:    rec.NaviStytchUserID,
		StakeholderID:       rec.StakeholderID,
	}
}
