package handler

import (
	"net/http"

	"care-portal/internal/smart"

	"github.com/gin-gonic/gin"
)

const stateCookieName = "__smart_state"

// setStateCookie pins the launch nonce to the browser. It must survive the
// top-level redirect back from the EHR, so it is Lax rather than None.
func (h *Handler) setStateCookie(c *gin.Context, nonce string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    nonce,
		Path:     "/smart",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(smart.StateTTL.Seconds()),
	})
}

func (h *Handler) clearStateCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/smart",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func stateNonce(c *gin.Context) string {
	cookie, err := c.Request.Cookie(stateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
