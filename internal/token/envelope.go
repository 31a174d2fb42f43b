package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Purpose tags an opaque envelope. The purpose is bound into the AEAD as
// associated data, so an envelope sealed for one purpose never opens as
// another.
type Purpose string

const (
	PurposeOpaque       Purpose = "opaque"
	PurposeSmartPreAuth Purpose = "smart_preauth"
	PurposeEmbed        Purpose = "embed"
)

type envelope struct {
	Purpose Purpose         `json:"p"`
	Data    json.RawMessage `json:"d"`
}

// Seal serializes v to JSON and encrypts it. Wire format is
// base64url(nonce || ciphertext).
func (c *Codec) Seal(purpose Purpose, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(envelope{Purpose: purpose, Data: data})
	if err != nil {
		return "", err
	}
	sealed, err := c.keys.Encrypt(plain, []byte(purpose))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope sealed for purpose into out. Any failure is
// ErrInvalidToken and out is left untouched.
func (c *Codec) Open(purpose Purpose, s string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ErrInvalidToken
	}
	plain, err := c.keys.Decrypt(raw, []byte(purpose))
	if err != nil {
		return ErrInvalidToken
	}
	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil || env.Purpose != purpose {
		return ErrInvalidToken
	}
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return errors.New("token: open needs a non-nil pointer")
	}
	fresh := reflect.New(dst.Elem().Type())
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(fresh.Interface()); err != nil {
		return ErrInvalidToken
	}
	dst.Elem().Set(fresh.Elem())
	return nil
}

// EncryptOpaquePayload seals an arbitrary JSON-serializable value.
func (c *Codec) EncryptOpaquePayload(v any) (string, error) {
	return c.Seal(PurposeOpaque, v)
}

// DecryptOpaquePayload opens a payload sealed by EncryptOpaquePayload.
func (c *Codec) DecryptOpaquePayload(s string, out any) error {
	return c.Open(PurposeOpaque, s, out)
}

// EmbedToken is the sealed payload a partner page passes to the embed route.
type EmbedToken struct {
	SessionID string `json:"session_id"`
	OrgID     string `json:"org_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Exp       int64  `json:"exp"`
}

// SealEmbedToken seals t for the embed route.
func (c *Codec) SealEmbedToken(t EmbedToken) (string, error) {
	if t.SessionID == "" {
		return "", errors.New("token: embed token needs a session id")
	}
	return c.Seal(PurposeEmbed, t)
}

// OpenEmbedToken opens and validates an embed token.
func (c *Codec) OpenEmbedToken(s string) (*EmbedToken, error) {
	var t EmbedToken
	if err := c.Open(PurposeEmbed, s, &t); err != nil {
		return nil, err
	}
	if t.SessionID == "" {
		return nil, ErrInvalidToken
	}
	if Expired(t.Exp, c.Now()) {
		return nil, ErrExpiredToken
	}
	return &t, nil
}

// Expired reports whether a Unix-seconds expiry has passed. exp == now is
// already expired.
func Expired(exp int64, now time.Time) bool {
	return exp <= now.Unix()
}
