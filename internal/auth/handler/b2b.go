package handler

import (
	"net/http"

	"care-portal/internal/logger"
	"care-portal/internal/session"

	"github.com/gin-gonic/gin"
)

type b2bExchangeRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

// b2bExchange upgrades the session to authenticated when a trusted
// platform vouches for the user.
func (h *Handler) b2bExchange(c *gin.Context) {
	if h.verifiers.Empty() {
		writeError(c, errNotConfigured)
		return
	}

	res := h.resolve(c)
	ctx := c.Request.Context()

	if _, err := h.ladder.LoadSession(ctx, res.SessionID); err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	var req b2bExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		writeError(c, errInvalidPayload)
		return
	}

	v, err := h.verifiers.Get(req.Provider)
	if err != nil {
		writeError(c, err)
		return
	}

	identity, err := v.VerifyToken(ctx, req.Token)
	if err != nil {
		writeError(c, err)
		return
	}

	// The platform's subject is not the OTC provider's user id, so nothing
	// is bound to the session here.
	m, err := h.ladder.PromoteAuthenticated(ctx, res.SessionID, res.PriorToken, "")
	if err != nil {
		writeError(c, err)
		return
	}

	logger.Info("b2b exchange succeeded", map[string]any{
		"session":  logger.SessionRef(res.SessionID),
		"provider": identity.Provider,
	})

	session.SetJWTCookie(c.Writer, m.Token, h.cookies)
	c.JSON(http.StatusOK, gin.H{"success": true, "jwt": m.Token})
}
