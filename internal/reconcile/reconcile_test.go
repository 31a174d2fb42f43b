package reconcile

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"care-portal/internal/auth"
	"care-portal/internal/keys"
	"care-portal/internal/session"
	"care-portal/internal/token"
)

func newCodec(t *testing.T) *token.Codec {
	t.Helper()
	k, err := keys.New(map[string][]byte{"k1": []byte(strings.Repeat("s", 32))}, "k1",
		[]byte(strings.Repeat("e", 32)))
	if err != nil {
		t.Fatalf("keys.New: %v", err)
	}
	return token.NewCodec(k, 0)
}

func mint(t *testing.T, c *token.Codec, sid string) string {
	t.Helper()
	tok, _, err := c.CreateAccessToken(sid, token.AccessClaims{AuthenticationState: auth.Verified}, nil)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	return tok
}

func request(cookies map[string]string, bearer string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for name, value := range cookies {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	return r
}

func TestDetectMismatch(t *testing.T) {
	c := newCodec(t)

	cases := []struct {
		name    string
		cookies map[string]string
		want    bool
	}{
		{"no cookies", nil, false},
		{"same session cookie", map[string]string{session.CookieName: "A"}, false},
		{"other session cookie", map[string]string{session.CookieName: "B"}, true},
		{"jwt for url session", map[string]string{session.JWTCookieName: mint(t, c, "A")}, false},
		{"jwt for other session", map[string]string{session.JWTCookieName: mint(t, c, "B")}, true},
		{"unverifiable jwt", map[string]string{session.JWTCookieName: "garbage"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMismatch(request(tc.cookies, ""), "A", c); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveSessionID_Precedence(t *testing.T) {
	c := newCodec(t)
	bearer := mint(t, c, "from-bearer")
	jwtCookie := mint(t, c, "from-jwt")

	all := request(map[string]string{
		session.JWTCookieName: jwtCookie,
		session.CookieName:    "from-cookie",
	}, bearer)
	if res := ResolveSessionID(all, c); res.SessionID != "from-bearer" || res.Source != SourceBearer || res.PriorToken != bearer {
		t.Errorf("bearer first: %+v", res)
	}

	noBearer := request(map[string]string{
		session.JWTCookieName: jwtCookie,
		session.CookieName:    "from-cookie",
	}, "")
	if res := ResolveSessionID(noBearer, c); res.SessionID != "from-jwt" || res.Source != SourceJWTCookie {
		t.Errorf("jwt cookie second: %+v", res)
	}

	badTokens := request(map[string]string{
		session.JWTCookieName: "garbage",
		session.CookieName:    "from-cookie",
	}, "also-garbage")
	if res := ResolveSessionID(badTokens, c); res.SessionID != "from-cookie" || res.Source != SourceSessionCookie {
		t.Errorf("session cookie last: %+v", res)
	}

	if res := ResolveSessionID(request(nil, ""), c); res.SessionID != "" || res.Source != SourceNone {
		t.Errorf("nothing: %+v", res)
	}
}

func TestResolve_URLWins(t *testing.T) {
	c := newCodec(t)
	own := mint(t, c, "A")
	foreign := mint(t, c, "B")

	r := request(map[string]string{session.JWTCookieName: foreign, session.CookieName: "B"}, "")
	res := Resolve(r, "A", c)
	if res.SessionID != "A" || res.Source != SourceURL {
		t.Errorf("url id: %+v", res)
	}
	if res.PriorToken != "" {
		t.Error("token of another session used as prior token")
	}

	r = request(map[string]string{session.JWTCookieName: foreign}, own)
	if res := Resolve(r, "A", c); res.PriorToken != own {
		t.Errorf("prior token: got %q", res.PriorToken)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
		"Bearer  abc ": "abc",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Errorf("%q: got %q, want %q", header, got, want)
		}
	}
}

func TestStrategy_Notice(t *testing.T) {
	c := newCodec(t)
	r := request(map[string]string{session.CookieName: "B"}, "")

	embed := Embed.Reconcile(r, "A", c)
	if !embed.Switched || embed.Notice == nil || embed.SessionID != "A" {
		t.Errorf("embed: %+v", embed)
	}

	direct := Direct.Reconcile(r, "A", c)
	if !direct.Switched || direct.Notice != nil {
		t.Errorf("direct: %+v", direct)
	}

	if Embed.SwitchNotice(false) != nil {
		t.Error("notice without a switch")
	}
}

func TestApplyCookies(t *testing.T) {
	w := httptest.NewRecorder()
	ApplyCookies(w, "A", "tok", session.CookiePolicy(true))

	got := map[string]*http.Cookie{}
	for _, ck := range w.Result().Cookies() {
		got[ck.Name] = ck
	}
	sid, jwt := got[session.CookieName], got[session.JWTCookieName]
	if sid == nil || jwt == nil {
		t.Fatalf("cookies: %v", got)
	}
	if sid.Value != "A" || jwt.Value != "tok" {
		t.Errorf("values: %q %q", sid.Value, jwt.Value)
	}
	if sid.MaxAge != int((30 * 24 * time.Hour).Seconds()) || jwt.MaxAge != 900 {
		t.Errorf("max age: %d %d", sid.MaxAge, jwt.MaxAge)
	}
	for _, ck := range []*http.Cookie{sid, jwt} {
		if !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteNoneMode {
			t.Errorf("%s flags: %+v", ck.Name, ck)
		}
	}
}
