package auth

import "fmt"

// State is a session's position on the authentication ladder. It lives only
// in signed tokens and is never persisted with the session record.
type State string

const (
	Unauthenticated State = "unauthenticated"
	Verified        State = "verified"
	Authenticated   State = "authenticated"
)

func (s State) rank() int {
	switch s {
	case Unauthenticated:
		return 0
	case Verified:
		return 1
	case Authenticated:
		return 2
	default:
		return -1
	}
}

func (s State) Valid() bool { return s.rank() >= 0 }

// AtLeast reports whether s is at or above min on the ladder.
func (s State) AtLeast(min State) bool {
	return s.Valid() && s.rank() >= min.rank()
}

// Max returns the higher of two states, so an upgrade can never lower a
// session that already climbed further.
func Max(a, b State) State {
	if !a.Valid() {
		return b
	}
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ParseState accepts the wire value of a state; empty means unauthenticated.
func ParseState(v string) (State, error) {
	if v == "" {
		return Unauthenticated, nil
	}
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("auth: unknown authentication state %q", v)
	}
	return s, nil
}
