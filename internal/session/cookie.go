package session

import (
	"net/http"
	"time"
)

const (
	CookieName    = "awell.sid"
	JWTCookieName = "awell.jwt"

	CookieMaxAge    = 30 * 24 * time.Hour
	JWTCookieMaxAge = 15 * time.Minute
)

// CookieOptions defines how portal cookies are issued.
type CookieOptions struct {
	Path     string
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// CookiePolicy returns the options for the deployment. Production cookies
// must survive third-party iframe contexts (Secure; SameSite=None);
// development relaxes to Lax over plain HTTP.
func CookiePolicy(production bool) CookieOptions {
	if production {
		return CookieOptions{Path: "/", Secure: true, SameSite: http.SameSiteNoneMode}
	}
	return CookieOptions{Path: "/", Secure: false, SameSite: http.SameSiteLaxMode}
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == http.SameSiteNoneMode {
		// browsers drop SameSite=None cookies that are not Secure
		o.Secure = true
	}
	return o
}

// SetCookie issues the long-lived session id cookie.
func SetCookie(w http.ResponseWriter, sessionID string, opts CookieOptions) {
	set(w, CookieName, sessionID, CookieMaxAge, opts)
}

// SetJWTCookie issues the short-lived access token cookie.
func SetJWTCookie(w http.ResponseWriter, jwt string, opts CookieOptions) {
	set(w, JWTCookieName, jwt, JWTCookieMaxAge, opts)
}

// ClearCookie removes the session id cookie.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	set(w, CookieName, "", -1, opts)
}

// ClearJWTCookie removes the access token cookie.
func ClearJWTCookie(w http.ResponseWriter, opts CookieOptions) {
	set(w, JWTCookieName, "", -1, opts)
}

// ReadCookie returns the named cookie's value or "".
func ReadCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func set(w http.ResponseWriter, name, value string, maxAge time.Duration, opts CookieOptions) {
	opts = opts.normalize()

	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge.Seconds())
		c.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, c)
}
