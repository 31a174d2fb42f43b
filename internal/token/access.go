package token

import (
	"errors"
	"time"

	"care-portal/internal/auth"
	"care-portal/internal/keys"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers bad signatures, unknown kids, malformed tokens
	// and undecodable envelopes. Callers must not distinguish them further.
	ErrInvalidToken = errors.New("token: invalid")
	ErrExpiredToken = errors.New("token: expired")
)

// DefaultAccessTTL is the lifetime of an access token.
const DefaultAccessTTL = 15 * time.Minute

// AccessClaims is the claim set of the portal access token. sub is the
// session id.
type AccessClaims struct {
	jwt.RegisteredClaims
	OrgID               string     `json:"org_id"`
	TenantID            string     `json:"tenant_id"`
	Environment         string     `json:"environment"`
	AuthenticationState auth.State `json:"authentication_state"`
	NaviStytchUserID    string     `json:"navi_stytch_user_id,omitempty"`
	StakeholderID       string     `json:"stakeholder_id,omitempty"`
}

func (c *AccessClaims) SessionID() string { return c.Subject }

// Overrides adjusts a single mint. Zero values keep the codec defaults.
type Overrides struct {
	ExpiresAt time.Time
	TTL       time.Duration
	KID       string
}

// Codec mints and verifies access tokens and seals opaque envelopes.
type Codec struct {
	keys *keys.Provider
	ttl  time.Duration
}

func NewCodec(k *keys.Provider, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &Codec{keys: k, ttl: ttl}
}

func (c *Codec) Now() time.Time { return c.keys.Now() }

func (c *Codec) TTL() time.Duration { return c.ttl }

// CreateAccessToken signs claims for sessionID with iat=now and exp=now+ttl
// unless overridden. It returns the token and its expiry.
func (c *Codec) CreateAccessToken(sessionID string, claims AccessClaims, o *Overrides) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, errors.New("token: session id required")
	}
	if claims.AuthenticationState == "" {
		claims.AuthenticationState = auth.Unauthenticated
	}
	if !claims.AuthenticationState.Valid() {
		return "", time.Time{}, errors.New("token: unknown authentication state")
	}

	now := c.Now().Truncate(time.Second)
	exp := now.Add(c.ttl)
	kid := ""
	if o != nil {
		if o.TTL > 0 {
			exp = now.Add(o.TTL)
		}
		if !o.ExpiresAt.IsZero() {
			exp = o.ExpiresAt
		}
		kid = o.KID
	}

	claims.Subject = sessionID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)

	var (
		signed string
		err    error
	)
	if kid != "" {
		signed, err = c.keys.SignWithKID(&claims, kid)
	} else {
		signed, err = c.keys.Sign(&claims)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccessToken returns the verified claims or ErrInvalidToken /
// ErrExpiredToken.
func (c *Codec) VerifyAccessToken(tok string) (*AccessClaims, error) {
	if tok == "" {
		return nil, ErrInvalidToken
	}
	var claims AccessClaims
	if err := c.keys.Verify(tok, &claims); err != nil {
		if errors.Is(err, keys.ErrExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.AuthenticationState.Valid() {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
