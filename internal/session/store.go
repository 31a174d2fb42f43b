package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRecord = errors.New("session: invalid record")

// Environment is the deployment tier a session belongs to.
type Environment string

const (
	EnvLocal        Environment = "local"
	EnvTest         Environment = "test"
	EnvDevelopment  Environment = "development"
	EnvStaging      Environment = "staging"
	EnvSandbox      Environment = "sandbox"
	EnvProductionEU Environment = "production-eu"
	EnvProductionUS Environment = "production-us"
	EnvProductionUK Environment = "production-uk"
	EnvProductionCA Environment = "production-ca"
)

func (e Environment) Valid() bool {
	switch e {
	case EnvLocal, EnvTest, EnvDevelopment, EnvStaging, EnvSandbox,
		EnvProductionEU, EnvProductionUS, EnvProductionUK, EnvProductionCA:
		return true
	}
	return false
}

// State is the care-flow preparation state of a session. It is unrelated to
// the authentication state, which is never stored.
type State string

const (
	StateCreated   State = "created"
	StatePreparing State = "preparing"
	StateActive    State = "active"
	StateError     State = "error"
)

func (s State) Valid() bool {
	switch s {
	case "", StateCreated, StatePreparing, StateActive, StateError:
		return true
	}
	return false
}

// Record is the durable session. It intentionally stores only identity
// context and lifecycle, not authentication state.
type Record struct {
	PatientID            string      `json:"patientId"`
	StakeholderID        string      `json:"stakeholderId,omitempty"`
	OrgID                string      `json:"orgId"`
	TenantID             string      `json:"tenantId"`
	Environment          Environment `json:"environment"`
	Exp                  int64       `json:"exp"` // absolute expiry, Unix seconds
	State                State       `json:"state,omitempty"`
	CareflowID           string      `json:"careflowId,omitempty"`
	CareflowDefinitionID string      `json:"careflowDefinitionId,omitempty"`
	NaviStytchUserID     string      `json:"naviStytchUserId,omitempty"`
}

// Validate checks a record before it is created. now bounds exp.
func (r Record) Validate(now time.Time) error {
	switch {
	case r.PatientID == "":
		return fmt.Errorf("%w: patientId required", ErrInvalidRecord)
	case r.OrgID == "":
		return fmt.Errorf("%w: orgId required", ErrInvalidRecord)
	case r.TenantID == "":
		return fmt.Errorf("%w: tenantId required", ErrInvalidRecord)
	case !r.Environment.Valid():
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidRecord, r.Environment)
	case !r.State.Valid():
		return fmt.Errorf("%w: unknown state %q", ErrInvalidRecord, r.State)
	case r.Exp <= now.Unix():
		return fmt.Errorf("%w: exp must be in the future", ErrInvalidRecord)
	}
	return nil
}

// Expired reports whether exp has passed; exp == now counts as expired.
func (r Record) Expired(now time.Time) bool {
	return r.Exp <= now.Unix()
}

// TTL is the remaining lifetime of the record.
func (r Record) TTL(now time.Time) time.Duration {
	return time.Unix(r.Exp, 0).Sub(now)
}

// Store maps session id to record. Implementations may be remote; callers
// rely only on read-your-writes for the same id. A positive ttl makes the
// record unreadable after it elapses. Get returns (nil, nil) when absent.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Set(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
