package smart

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"care-portal/internal/keys"
	"care-portal/internal/token"
)

type ehr struct {
	srv       *httptest.Server
	fetches   atomic.Int32
	mu        sync.Mutex
	challenge string
}

func newEHR(t *testing.T) *ehr {
	t.Helper()
	e := &ehr{}
	mux := http.NewServeMux()

	mux.HandleFunc(wellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		e.fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"authorization_endpoint":           e.srv.URL + "/authorize",
			"token_endpoint":                   e.srv.URL + "/token",
			"code_challenge_methods_supported": []string{"S256"},
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		e.mu.Lock()
		want := e.challenge
		e.mu.Unlock()
		if r.PostForm.Get("code") != "good-code" || base64.RawURLEncoding.EncodeToString(sum[:]) != want {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		idToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":      "practitioner-1",
			"fhirUser": "Practitioner/1",
		}).SignedString([]byte("ehr-secret"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "launch patient/*.read",
			"patient":      "Patient/42",
			"encounter":    "Encounter/7",
			"id_token":     idToken,
		})
	})

	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

type testEnv struct {
	now      time.Time
	codec    *token.Codec
	launcher *Launcher
	ehr      *ehr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Now(), ehr: newEHR(t)}
	k, err := keys.New(map[string][]byte{"k1": []byte(strings.Repeat("s", 32))}, "k1",
		[]byte(strings.Repeat("e", 32)), keys.WithClock(func() time.Time { return env.now }))
	if err != nil {
		t.Fatalf("keys.New: %v", err)
	}
	env.codec = token.NewCodec(k, 0)
	env.launcher = NewLauncher(env.codec, NewDiscoverer(WithInsecureIssuers()),
		"portal", "https://portal.example/smart/callback", []string{"launch", "openid", "fhirUser"})
	return env
}

// begin starts a launch and records the PKCE challenge the EHR should see.
func (e *testEnv) begin(t *testing.T) (*Launch, string) {
	t.Helper()
	l, err := e.launcher.Begin(context.Background(), e.ehr.srv.URL, "launch-1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, err := url.Parse(l.AuthURL)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	q := u.Query()
	e.ehr.mu.Lock()
	e.ehr.challenge = q.Get("code_challenge")
	e.ehr.mu.Unlock()
	return l, q.Get("state")
}

func TestBegin_AuthURL(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.begin(t)

	u, _ := url.Parse(l.AuthURL)
	q := u.Query()
	if !strings.HasSuffix(u.Path, "/authorize") {
		t.Errorf("path: %s", u.Path)
	}
	checks := map[string]string{
		"client_id":             "portal",
		"redirect_uri":          "https://portal.example/smart/callback",
		"code_challenge_method": "S256",
		"aud":                   env.ehr.srv.URL,
		"launch":                "launch-1",
		"response_type":         "code",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if l.Nonce == "" || q.Get("state") == "" {
		t.Error("missing nonce or state")
	}
	if strings.Contains(q.Get("state"), l.Nonce) {
		t.Error("state leaks the nonce in clear")
	}
}

func TestComplete(t *testing.T) {
	env := newTestEnv(t)
	l, state := env.begin(t)

	lc, err := env.launcher.Complete(context.Background(), state, l.Nonce, "good-code", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if lc.Patient != "Patient/42" || lc.Encounter != "Encounter/7" || lc.FHIRUser != "Practitioner/1" {
		t.Errorf("launch context: %+v", lc)
	}
	if lc.Issuer != env.ehr.srv.URL || lc.ExpiresAt == 0 {
		t.Errorf("issuer/expiry: %+v", lc)
	}
}

func TestComplete_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	l, state := env.begin(t)

	if _, err := env.launcher.Complete(ctx, state, "other-nonce", "good-code", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("wrong nonce: got %v", err)
	}
	if _, err := env.launcher.Complete(ctx, state, "", "good-code", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("missing cookie: got %v", err)
	}
	flip := byte('A')
	if state[10] == 'A' {
		flip = 'B'
	}
	tampered := state[:10] + string(flip) + state[11:]
	if _, err := env.launcher.Complete(ctx, tampered, l.Nonce, "good-code", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("tampered: got %v", err)
	}
	if _, err := env.launcher.Complete(ctx, state, l.Nonce, "good-code", "https://evil.example"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("foreign iss: got %v", err)
	}
	if _, err := env.launcher.Complete(ctx, state, l.Nonce, "bad-code", ""); !errors.Is(err, ErrExchange) {
		t.Errorf("bad code: got %v", err)
	}

	env.now = env.now.Add(StateTTL)
	if _, err := env.launcher.Complete(ctx, state, l.Nonce, "good-code", ""); !errors.Is(err, ErrStateExpired) {
		t.Errorf("expired: got %v", err)
	}
}

func TestComplete_StateFromOtherPurpose(t *testing.T) {
	env := newTestEnv(t)
	sealed, err := env.codec.EncryptOpaquePayload(PreAuthState{Nonce: "n", Exp: env.now.Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := env.launcher.OpenState(sealed, "n"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("opaque envelope accepted as pre-auth state: %v", err)
	}
}

func TestDiscover_SingleFlightAndCache(t *testing.T) {
	e := newEHR(t)
	d := NewDiscoverer(WithInsecureIssuers())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Discover(ctx, e.srv.URL+"/"); err != nil {
				t.Errorf("Discover: %v", err)
			}
		}()
	}
	wg.Wait()

	cfg, err := d.Discover(ctx, e.srv.URL)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if cfg.TokenEndpoint != e.srv.URL+"/token" {
		t.Errorf("token endpoint: %s", cfg.TokenEndpoint)
	}
	if n := e.fetches.Load(); n != 1 {
		t.Errorf("fetches: got %d, want 1", n)
	}
}

func TestDiscover_Issuers(t *testing.T) {
	d := NewDiscoverer()
	ctx := context.Background()
	for _, iss := range []string{"", "ftp://ehr.example", "http://ehr.example", "https://ehr.example?x=1", "not a url"} {
		if _, err := d.Discover(ctx, iss); !errors.Is(err, ErrInvalidIssuer) {
			t.Errorf("%q: got %v", iss, err)
		}
	}
}

func TestDiscover_CallerCancellation(t *testing.T) {
	e := newEHR(t)
	d := NewDiscoverer(WithInsecureIssuers())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Discover(ctx, e.srv.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: got %v", err)
	}
}

func TestBegin_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	l := NewLauncher(env.codec, NewDiscoverer(), "", "", nil)
	if _, err := l.Begin(context.Background(), "https://ehr.example", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v", err)
	}
}
