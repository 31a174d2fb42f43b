package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// DeriveID returns a deterministic id for a creation payload: the keyed
// BLAKE3 hash of its JSON form. Posting the same payload twice yields the
// same session; without the server key the id cannot be recomputed.
func DeriveID(key []byte, rec Record) (string, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return "", fmt.Errorf("session: keyed hash: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}
	_, _ = h.Write(payload)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
