// Package reconcile decides which session a request belongs to when the URL,
// an Authorization header and the portal cookies may disagree.
//
// A session id carried in the URL is authoritative. Cookies that point
// elsewhere are reported as a mismatch and then overwritten by the caller
// through ApplyCookies once the URL session has been re-minted.
package reconcile

import (
	"net/http"
	"strings"

	"care-portal/internal/logger"
	"care-portal/internal/session"
	"care-portal/internal/token"
)

// Verifier checks an access token. *token.Codec satisfies it.
type Verifier interface {
	VerifyAccessToken(tok string) (*token.AccessClaims, error)
}

// Source says where a resolved session id came from.
type Source string

const (
	SourceNone          Source = ""
	SourceURL           Source = "url"
	SourceBearer        Source = "bearer"
	SourceJWTCookie     Source = "jwt_cookie"
	SourceSessionCookie Source = "session_cookie"
)

// Resolution is a session id together with the access token, if any, that
// already belongs to it.
type Resolution struct {
	SessionID  string
	Source     Source
	PriorToken string
}

// BearerToken returns the token of an "Authorization: Bearer" header or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// DetectMismatch reports whether the request's cookies name a session other
// than urlSessionID. A JWT cookie that fails verification is ignored.
func DetectMismatch(r *http.Request, urlSessionID string, v Verifier) bool {
	if urlSessionID == "" {
		return false
	}
	if sid := session.ReadCookie(r, session.CookieName); sid != "" && sid != urlSessionID {
		return true
	}
	if tok := session.ReadCookie(r, session.JWTCookieName); tok != "" {
		claims, err := v.VerifyAccessToken(tok)
		if err == nil && claims.SessionID() != urlSessionID {
			return true
		}
	}
	return false
}

// ResolveSessionID picks the session for a request that carries no URL id.
// Precedence is bearer token, then JWT cookie, then session cookie. Tokens
// that fail verification are skipped.
func ResolveSessionID(r *http.Request, v Verifier) Resolution {
	if tok := BearerToken(r); tok != "" {
		if claims, err := v.VerifyAccessToken(tok); err == nil {
			return Resolution{SessionID: claims.SessionID(), Source: SourceBearer, PriorToken: tok}
		}
	}
	jwtCookie := session.ReadCookie(r, session.JWTCookieName)
	if jwtCookie != "" {
		if claims, err := v.VerifyAccessToken(jwtCookie); err == nil {
			return Resolution{SessionID: claims.SessionID(), Source: SourceJWTCookie, PriorToken: jwtCookie}
		}
	}
	if sid := session.ReadCookie(r, session.CookieName); sid != "" {
		return Resolution{SessionID: sid, Source: SourceSessionCookie, PriorToken: jwtCookie}
	}
	return Resolution{}
}

// Resolve is ResolveSessionID with an optional URL id taking precedence.
// When the URL id wins, only a token whose subject is that id is kept as the
// prior token.
func Resolve(r *http.Request, urlSessionID string, v Verifier) Resolution {
	if urlSessionID == "" {
		return ResolveSessionID(r, v)
	}
	return Resolution{
		SessionID:  urlSessionID,
		Source:     SourceURL,
		PriorToken: priorTokenFor(r, urlSessionID, v),
	}
}

func priorTokenFor(r *http.Request, sessionID string, v Verifier) string {
	for _, tok := range []string{BearerToken(r), session.ReadCookie(r, session.JWTCookieName)} {
		if tok == "" {
			continue
		}
		if claims, err := v.VerifyAccessToken(tok); err == nil && claims.SessionID() == sessionID {
			return tok
		}
	}
	return ""
}

// ApplyCookies issues both portal cookies for sessionID.
func ApplyCookies(w http.ResponseWriter, sessionID, jwt string, opts session.CookieOptions) {
	session.SetCookie(w, sessionID, opts)
	session.SetJWTCookie(w, jwt, opts)
}

// Notice is shown to an embedding page after the session was switched.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Strategy is an access pattern. Both strategies share mismatch detection
// and differ only in whether a switch is surfaced to the client.
type Strategy struct {
	name          string
	surfaceNotice bool
}

var (
	// Embed is a third-party iframe, where cookies are unreliable and the
	// parent page should learn that the session changed.
	Embed = Strategy{name: "embed", surfaceNotice: true}
	// Direct is first-party navigation; there is no parent page to inform.
	Direct = Strategy{name: "direct"}
)

func (s Strategy) Name() string { return s.name }

// SwitchNotice returns the notice for a detected mismatch, or nil.
func (s Strategy) SwitchNotice(switched bool) *Notice {
	if !switched || !s.surfaceNotice {
		return nil
	}
	return &Notice{
		Code:    "session_switched",
		Message: "A different session was active in this browser. The session from the link is now in use.",
	}
}

// Outcome is the result of reconciling a request against a URL session id.
type Outcome struct {
	Resolution
	Switched bool
	Notice   *Notice
}

// Reconcile resolves the session for r with urlSessionID authoritative and
// reports any cookie mismatch.
func (s Strategy) Reconcile(r *http.Request, urlSessionID string, v Verifier) Outcome {
	res := Resolve(r, urlSessionID, v)
	switched := DetectMismatch(r, urlSessionID, v)
	if switched {
		logger.Info("session cookie mismatch, using url session", map[string]any{
			"session":  logger.SessionRef(urlSessionID),
			"strategy": s.name,
		})
	}
	return Outcome{Resolution: res, Switched: switched, Notice: s.SwitchNotice(switched)}
}
