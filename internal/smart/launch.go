// Package smart runs the SMART App Launch flow: discovery, an authorization
// redirect with PKCE, and the code exchange on callback.
//
// Everything the callback needs is sealed into the OAuth state parameter,
// so no server-side storage is involved. A nonce inside the sealed state
// must also match a short-lived browser cookie, which binds the callback
// to the browser that started the launch.
package smart

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"care-portal/internal/token"
)

var (
	ErrNotConfigured = errors.New("smart: launch not configured")
	ErrInvalidIssuer = errors.New("smart: invalid issuer")
	ErrDiscovery     = errors.New("smart: discovery failed")
	ErrInvalidState  = errors.New("smart: invalid state")
	ErrStateExpired  = errors.New("smart: state expired")
	ErrExchange      = errors.New("smart: code exchange failed")
)

// StateTTL bounds the time between launch and callback.
const StateTTL = 10 * time.Minute

// PreAuthState is carried, sealed, through the authorization server.
type PreAuthState struct {
	Issuer                string   `json:"iss"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	CodeVerifier          string   `json:"code_verifier"`
	Nonce                 string   `json:"nonce"`
	Scopes                []string `json:"scopes"`
	Launch                string   `json:"launch,omitempty"`
	Exp                   int64    `json:"exp"`
}

// Launch is a started authorization: where to send the browser and the
// nonce to pin in its cookie.
type Launch struct {
	AuthURL string
	Nonce   string
}

// LaunchContext is what the EHR granted.
type LaunchContext struct {
	Issuer    string `json:"iss"`
	Patient   string `json:"patient,omitempty"`
	Encounter string `json:"encounter,omitempty"`
	FHIRUser  string `json:"fhirUser,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type Launcher struct {
	codec       *token.Codec
	discoverer  *Discoverer
	clientID    string
	redirectURL string
	scopes      []string
}

func NewLauncher(codec *token.Codec, d *Discoverer, clientID, redirectURL string, scopes []string) *Launcher {
	return &Launcher{
		codec:       codec,
		discoverer:  d,
		clientID:    clientID,
		redirectURL: redirectURL,
		scopes:      scopes,
	}
}

func (l *Launcher) Configured() bool {
	return l != nil && l.clientID != "" && l.redirectURL != ""
}

func (l *Launcher) oauthConfig(st *PreAuthState) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    l.clientID,
		RedirectURL: l.redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   st.AuthorizationEndpoint,
			TokenURL:  st.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: st.Scopes,
	}
}

// Begin discovers iss and builds the authorization redirect.
func (l *Launcher) Begin(ctx context.Context, iss, launch string) (*Launch, error) {
	if !l.Configured() {
		return nil, ErrNotConfigured
	}

	cfg, err := l.discoverer.Discover(ctx, iss)
	if err != nil {
		return nil, err
	}
	normalized, err := l.discoverer.normalizeIssuer(iss)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	st := &PreAuthState{
		Issuer:                normalized,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		CodeVerifier:          verifier,
		Nonce:                 nonce,
		Scopes:                l.scopes,
		Launch:                launch,
		Exp:                   l.codec.Now().Add(StateTTL).Unix(),
	}
	sealed, err := l.codec.Seal(token.PurposeSmartPreAuth, st)
	if err != nil {
		return nil, err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("aud", normalized),
	}
	if launch != "" {
		opts = append(opts, oauth2.SetAuthURLParam("launch", launch))
	}

	return &Launch{
		AuthURL: l.oauthConfig(st).AuthCodeURL(sealed, opts...),
		Nonce:   nonce,
	}, nil
}

// OpenState unseals and checks a state parameter against the browser's
// nonce cookie.
func (l *Launcher) OpenState(sealed, cookieNonce string) (*PreAuthState, error) {
	var st PreAuthState
	if err := l.codec.Open(token.PurposeSmartPreAuth, sealed, &st); err != nil {
		return nil, ErrInvalidState
	}
	if token.Expired(st.Exp, l.codec.Now()) {
		return nil, ErrStateExpired
	}
	if cookieNonce == "" || subtle.ConstantTimeCompare([]byte(st.Nonce), []byte(cookieNonce)) != 1 {
		return nil, ErrInvalidState
	}
	return &st, nil
}

// Complete exchanges code using the verifier sealed in state. iss is the
// optional issuer identification parameter of the callback; when present
// it must name the issuer the launch started with.
func (l *Launcher) Complete(ctx context.Context, sealed, cookieNonce, code, iss string) (*LaunchContext, error) {
	if !l.Configured() {
		return nil, ErrNotConfigured
	}
	st, err := l.OpenState(sealed, cookieNonce)
	if err != nil {
		return nil, err
	}
	if iss != "" {
		normalized, err := l.discoverer.normalizeIssuer(iss)
		if err != nil || normalized != st.Issuer {
			return nil, ErrInvalidState
		}
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrExchange)
	}

	tok, err := l.oauthConfig(st).Exchange(ctx, code, oauth2.VerifierOption(st.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	lc := &LaunchContext{
		Issuer:    st.Issuer,
		Patient:   extraString(tok, "patient"),
		Encounter: extraString(tok, "encounter"),
		Scope:     extraString(tok, "scope"),
	}
	if !tok.Expiry.IsZero() {
		lc.ExpiresAt = tok.Expiry.Unix()
	}
	if raw := extraString(tok, "id_token"); raw != "" {
		lc.FHIRUser = fhirUser(raw)
	}
	return lc, nil
}

func extraString(tok *oauth2.Token, key string) string {
	s, _ := tok.Extra(key).(string)
	return s
}

// fhirUser reads the fhirUser claim of an id_token received directly from
// the token endpoint over TLS, where the TLS server identity stands in for
// the signature check.
func fhirUser(raw string) string {
	var claims struct {
		jwt.RegisteredClaims
		FHIRUser string `json:"fhirUser"`
	}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return ""
	}
	return claims.FHIRUser
}
