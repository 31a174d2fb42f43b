// Package keys holds the portal's key material: HMAC signing keys indexed by
// kid and the symmetric key used for opaque envelopes.
//
// Several signing keys can be loaded at once so that tokens minted under a
// retiring kid keep verifying while new tokens are minted under the active
// one. Verification always selects the key named by the token header.
package keys

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrMalformed        = errors.New("keys: malformed token")
	ErrInvalidSignature = errors.New("keys: invalid signature")
	ErrExpired          = errors.New("keys: token expired")
	ErrUnknownKID       = errors.New("keys: unknown kid")
	ErrDecryptionFailed = errors.New("keys: decryption failed")
	ErrNoKeyMaterial    = errors.New("keys: key material missing")
)

const (
	minSecretLen = 32
	envelopeInfo = "care-portal envelope v1"
	hashInfo     = "care-portal session-id v1"
)

// Provider signs and verifies compact JWTs and seals/opens AEAD payloads.
type Provider struct {
	activeKID string
	secrets   map[string][]byte
	aead      cipher.AEAD
	hashKey   []byte
	now       func() time.Time
}

type Option func(*Provider)

// WithClock overrides the clock used for exp/iat validation.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New builds a Provider. secrets maps kid to HMAC secret; activeKID selects
// the signing key. encryptionKey is stretched with HKDF-SHA256 into the
// envelope key.
func New(secrets map[string][]byte, activeKID string, encryptionKey []byte, opts ...Option) (*Provider, error) {
	if len(secrets) == 0 || len(encryptionKey) == 0 {
		return nil, ErrNoKeyMaterial
	}
	if _, ok := secrets[activeKID]; !ok {
		return nil, fmt.Errorf("%w: active kid %q not loaded", ErrUnknownKID, activeKID)
	}
	copied := make(map[string][]byte, len(secrets))
	for kid, s := range secrets {
		if len(s) < minSecretLen {
			return nil, fmt.Errorf("keys: secret for kid %q shorter than %d bytes", kid, minSecretLen)
		}
		copied[kid] = append([]byte(nil), s...)
	}

	derived, err := derive(encryptionKey, envelopeInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	hashKey, err := derive(encryptionKey, hashInfo, 32)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("keys: init aead: %w", err)
	}

	p := &Provider{
		activeKID: activeKID,
		secrets:   copied,
		aead:      aead,
		hashKey:   hashKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func derive(secret []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("keys: derive %s: %w", info, err)
	}
	return out, nil
}

func (p *Provider) ActiveKID() string { return p.activeKID }

// Now is the provider's clock, shared with the token codec.
func (p *Provider) Now() time.Time { return p.now() }

// Sign signs claims with the active key, stamping its kid in the header.
func (p *Provider) Sign(claims jwt.Claims) (string, error) {
	return p.SignWithKID(claims, p.activeKID)
}

// SignWithKID signs with a specific loaded key.
func (p *Provider) SignWithKID(claims jwt.Claims, kid string) (string, error) {
	secret, ok := p.secrets[kid]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = kid
	return t.SignedString(secret)
}

// Verify checks signature and exp, then decodes into claims. An exp equal to
// the current second is already expired.
func (p *Provider) Verify(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, p.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

func (p *Provider) keyfunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	secret, ok := p.secrets[kid]
	if !ok {
		return nil, ErrUnknownKID
	}
	return secret, nil
}

// Encrypt seals plaintext as nonce||ciphertext. A fresh random nonce is drawn
// per call. aad binds the ciphertext to a context (e.g. an envelope purpose).
func (p *Provider) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens nonce||ciphertext. Any tampering, truncation, foreign key or
// mismatched aad yields ErrDecryptionFailed.
func (p *Provider) Decrypt(data, aad []byte) ([]byte, error) {
	ns := p.aead.NonceSize()
	if len(data) < ns+p.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := p.aead.Open(nil, data[:ns], data[ns:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// HashKey returns a 32-byte key for keyed hashing of identifiers, derived
// from the encryption key so it survives signing-key rotation.
func (p *Provider) HashKey() []byte {
	return append([]byte(nil), p.hashKey...)
}
