package ladder

import (
	"fmt"
	"time"

	"care-portal/internal/session"
	"care-portal/internal/token"

	"github.com/golang-jwt/jwt/v5"
)

// AttachExternalIDToSession records a durable external account id on a
// session. Attaching the id already present is a no-op; attaching a
// different one is ErrIdentityConflict and rec is returned unchanged.
func AttachExternalIDToSession(rec session.Record, externalID string) (session.Record, error) {
	if externalID == "" || rec.NaviStytchUserID == externalID {
		return rec, nil
	}
	if rec.NaviStytchUserID != "" {
		return rec, fmt.Errorf("%w: session already bound to another account", ErrIdentityConflict)
	}
	rec.NaviStytchUserID = externalID
	return rec, nil
}

// AttachExternalIDToToken is the claims-side mirror of
// AttachExternalIDToSession, applied before re-signing.
func AttachExternalIDToToken(claims token.AccessClaims, externalID string) (token.AccessClaims, error) {
	if externalID == "" || claims.NaviStytchUserID == externalID {
		return claims, nil
	}
	if claims.NaviStytchUserID != "" {
		return claims, fmt.Errorf("%w: token already bound to another account", ErrIdentityConflict)
	}
	claims.NaviStytchUserID = externalID
	return claims, nil
}

// RenewExpiration sets exp = now + ttl and leaves every other claim,
// authentication state included, as it was.
func RenewExpiration(claims token.AccessClaims, ttl time.Duration, now time.Time) token.AccessClaims {
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return claims
}
