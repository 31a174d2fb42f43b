package ladder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"care-portal/internal/auth"
	"care-portal/internal/keys"
	"care-portal/internal/session"
	"care-portal/internal/token"
)

type testEnv struct {
	now    time.Time
	store  *session.MemoryStore
	codec  *token.Codec
	ladder *Ladder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return env.now }
	k, err := keys.New(map[string][]byte{"k1": []byte(strings.Repeat("s", 32))}, "k1",
		[]byte(strings.Repeat("e", 32)), keys.WithClock(clock))
	if err != nil {
		t.Fatalf("keys.New: %v", err)
	}
	env.store = session.NewMemoryStoreWithClock(clock)
	env.codec = token.NewCodec(k, 0)
	env.ladder = New(env.store, env.codec)
	return env
}

func (e *testEnv) seed(t *testing.T, id string, rec session.Record) {
	t.Helper()
	if rec.Exp == 0 {
		rec.Exp = e.now.Add(time.Hour).Unix()
	}
	if err := e.store.Set(context.Background(), id, rec, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func baseRecord() session.Record {
	return session.Record{PatientID: "p1", OrgID: "o1", TenantID: "t1", Environment: session.EnvTest}
}

func TestLoadSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ladder.LoadSession(ctx, ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty id: got %v", err)
	}
	if _, err := env.ladder.LoadSession(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing: got %v", err)
	}

	rec := baseRecord()
	rec.Exp = env.now.Unix()
	env.seed(t, "stale", rec)
	if _, err := env.ladder.LoadSession(ctx, "stale"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("exp == now: got %v", err)
	}
	if env.store.Len() != 0 {
		t.Error("expired record was not deleted")
	}
}

func TestRenew_PreservesState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "s1", baseRecord())

	m, err := env.ladder.PromoteVerified(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("PromoteVerified: %v", err)
	}
	if m.Claims.AuthenticationState != auth.Verified {
		t.Fatalf("state after promote: %q", m.Claims.AuthenticationState)
	}

	env.now = env.now.Add(10 * time.Minute)
	renewed, _, err := env.ladder.Renew(ctx, "s1", m.Token)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	claims, err := env.codec.VerifyAccessToken(renewed.Token)
	if err != nil {
		t.Fatalf("verify renewed: %v", err)
	}
	if claims.AuthenticationState != auth.Verified {
		t.Errorf("renew reset state to %q", claims.AuthenticationState)
	}
	if want := env.now.Add(token.DefaultAccessTTL).Unix(); claims.ExpiresAt.Unix() != want {
		t.Errorf("renewed exp: got %d, want %d", claims.ExpiresAt.Unix(), want)
	}
}

func TestRenew_IgnoresForeignOrInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "s1", baseRecord())
	env.seed(t, "s2", baseRecord())

	other, err := env.ladder.PromoteAuthenticated(ctx, "s2", "", "")
	if err != nil {
		t.Fatalf("PromoteAuthenticated: %v", err)
	}

	for name, prior := range map[string]string{"foreign": other.Token, "garbage": "x.y.z", "none": ""} {
		m, _, err := env.ladder.Renew(ctx, "s1", prior)
		if err != nil {
			t.Fatalf("%s: Renew: %v", name, err)
		}
		if m.Claims.AuthenticationState != auth.Unauthenticated {
			t.Errorf("%s: state %q carried over", name, m.Claims.AuthenticationState)
		}
	}

	env.now = env.now.Add(16 * time.Minute)
	expiredPrior := other.Token
	m, _, err := env.ladder.Renew(ctx, "s2", expiredPrior)
	if err != nil {
		t.Fatalf("Renew with expired prior: %v", err)
	}
	if m.Claims.AuthenticationState != auth.Unauthenticated {
		t.Errorf("expired prior token kept state %q", m.Claims.AuthenticationState)
	}
}

func TestPromote_Monotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "s1", baseRecord())

	authd, err := env.ladder.PromoteAuthenticated(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("PromoteAuthenticated: %v", err)
	}
	m, err := env.ladder.PromoteVerified(ctx, "s1", authd.Token, "")
	if err != nil {
		t.Fatalf("PromoteVerified: %v", err)
	}
	if m.Claims.AuthenticationState != auth.Authenticated {
		t.Errorf("verified upgrade lowered authenticated to %q", m.Claims.AuthenticationState)
	}
}

func TestPromote_MissingSessionIsExpired(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.ladder.PromoteVerified(context.Background(), "ghost", "", ""); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("missing session: got %v", err)
	}
	if env.store.Len() != 0 {
		t.Error("promotion created a session")
	}
}

func TestPromote_AttachesExternalID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "s1", baseRecord())

	m, err := env.ladder.PromoteVerified(ctx, "s1", "", "user-x")
	if err != nil {
		t.Fatalf("PromoteVerified: %v", err)
	}
	if m.Claims.NaviStytchUserID != "user-x" {
		t.Errorf("token claim: %q", m.Claims.NaviStytchUserID)
	}
	rec, _ := env.store.Get(ctx, "s1")
	if rec.NaviStytchUserID != "user-x" {
		t.Errorf("session record: %q", rec.NaviStytchUserID)
	}

	if _, err := env.ladder.PromoteVerified(ctx, "s1", m.Token, "user-x"); err != nil {
		t.Errorf("same id again: %v", err)
	}
	if _, err := env.ladder.PromoteVerified(ctx, "s1", m.Token, "user-y"); !errors.Is(err, ErrIdentityConflict) {
		t.Errorf("different id: got %v", err)
	}
	rec, _ = env.store.Get(ctx, "s1")
	if rec.NaviStytchUserID != "user-x" {
		t.Errorf("conflicting attach overwrote id: %q", rec.NaviStytchUserID)
	}
}

func TestExtendSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := baseRecord()
	rec.Exp = env.now.Add(5 * time.Minute).Unix()
	env.seed(t, "s1", rec)

	got, err := env.ladder.ExtendSession(ctx, "s1", time.Hour)
	if err != nil {
		t.Fatalf("ExtendSession: %v", err)
	}
	if want := env.now.Add(time.Hour).Unix(); got.Exp != want {
		t.Errorf("exp: got %d, want %d", got.Exp, want)
	}

	// never shortens
	got, _ = env.ladder.ExtendSession(ctx, "s1", time.Minute)
	if want := env.now.Add(time.Hour).Unix(); got.Exp != want {
		t.Errorf("exp shortened: got %d, want %d", got.Exp, want)
	}
}

func TestBinding(t *testing.T) {
	rec := baseRecord()
	a, err := AttachExternalIDToSession(rec, "x")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	b, err := AttachExternalIDToSession(a, "x")
	if err != nil || a != b {
		t.Fatalf("idempotent attach: %+v %v", b, err)
	}
	c, err := AttachExternalIDToSession(b, "y")
	if !errors.Is(err, ErrIdentityConflict) || c.NaviStytchUserID != "x" {
		t.Fatalf("conflict: %+v %v", c, err)
	}

	claims := token.AccessClaims{AuthenticationState: auth.Verified}
	claims, err = AttachExternalIDToToken(claims, "x")
	if err != nil || claims.NaviStytchUserID != "x" {
		t.Fatalf("token attach: %+v %v", claims, err)
	}
	if _, err := AttachExternalIDToToken(claims, "y"); !errors.Is(err, ErrIdentityConflict) {
		t.Errorf("token conflict: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	renewed := RenewExpiration(claims, time.Minute, now)
	if renewed.ExpiresAt.Unix() != now.Unix()+60 || renewed.AuthenticationState != auth.Verified || renewed.NaviStytchUserID != "x" {
		t.Errorf("RenewExpiration: %+v", renewed)
	}
}
