package otc

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNoActiveChallenge     = errors.New("otc: no active challenge")
	ErrTooManyAttempts       = errors.New("otc: too many attempts")
	ErrIncorrectCode         = errors.New("otc: incorrect code")
	ErrInvalidDestination    = errors.New("otc: invalid destination")
	ErrProviderNotConfigured = errors.New("otc: provider not configured")
	ErrProviderFailure       = errors.New("otc: provider failure")
	ErrCodeRejected          = errors.New("otc: code rejected by provider")
)

const (
	DefaultMaxAttempts = 5
	DefaultTTL         = 10 * time.Minute
)

// Method is the delivery channel of a one-time code.
type Method string

const (
	MethodSMS   Method = "sms"
	MethodEmail Method = "email"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// NormalizeDestination validates dest for m and returns its canonical form.
func NormalizeDestination(m Method, dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	switch m {
	case MethodEmail:
		addr, err := mail.ParseAddress(dest)
		if err != nil || addr.Address != dest {
			return "", fmt.Errorf("%w: email", ErrInvalidDestination)
		}
		return strings.ToLower(dest), nil
	case MethodSMS:
		if !e164.MatchString(dest) {
			return "", fmt.Errorf("%w: phone number must be E.164", ErrInvalidDestination)
		}
		return dest, nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalidDestination, m)
	}
}

// Challenge is the single outstanding one-time code of a session.
type Challenge struct {
	MethodID      string `json:"methodId"`
	Method        Method `json:"method"`
	Destination   string `json:"destination"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"maxAttempts"`
	ExpiresAt     int64  `json:"expiresAt"`
	StytchUserID  string `json:"stytchUserId,omitempty"`
	LastRequestID string `json:"lastRequestId,omitempty"`
}

func (c *Challenge) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.Unix()
}

func (c *Challenge) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// IncorrectCodeError reports a rejected code and how many tries remain. It
// deliberately says nothing about why the code was wrong.
type IncorrectCodeError struct {
	RemainingAttempts int
}

func (e *IncorrectCodeError) Error() string {
	return fmt.Sprintf("otc: incorrect code (%d attempts remaining)", e.RemainingAttempts)
}

func (e *IncorrectCodeError) Unwrap() error { return ErrIncorrectCode }
