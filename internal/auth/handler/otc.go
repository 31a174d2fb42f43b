package handler

import (
	"fmt"
	"net/http"

	"care-portal/internal/otc"
	"care-portal/internal/session"

	"github.com/gin-gonic/gin"
)

type otcStartRequest struct {
	Method      string `json:"method"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

type otcVerifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) otcStart(c *gin.Context) {
	res := h.resolve(c)
	ctx := c.Request.Context()

	if _, err := h.ladder.LoadSession(ctx, res.SessionID); err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	var req otcStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}

	var dest string
	switch otc.Method(req.Method) {
	case otc.MethodEmail:
		dest = req.Email
	case otc.MethodSMS:
		dest = req.PhoneNumber
	default:
		writeError(c, fmt.Errorf("%w: unknown method %q", errInvalidPayload, req.Method))
		return
	}
	if dest == "" {
		writeError(c, fmt.Errorf("%w: destination required", errInvalidPayload))
		return
	}

	if h.otc == nil || !h.otc.Configured() {
		writeError(c, otc.ErrProviderNotConfigured)
		return
	}

	started, err := h.otc.Start(ctx, res.SessionID, otc.Method(req.Method), dest)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"method":    started.Method,
		"expiresAt": started.ExpiresAt.Unix(),
	})
}

// otcVerify checks the code and, on success, moves the session to at least
// verified and re-issues the JWT cookie.
func (h *Handler) otcVerify(c *gin.Context) {
	res := h.resolve(c)
	ctx := c.Request.Context()

	if _, err := h.ladder.LoadSession(ctx, res.SessionID); err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	var req otcVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, errInvalidPayload)
		return
	}

	if h.otc == nil || !h.otc.Configured() {
		writeError(c, otc.ErrProviderNotConfigured)
		return
	}

	a, err := h.otc.Verify(ctx, res.SessionID, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	m, err := h.ladder.PromoteVerified(ctx, res.SessionID, res.PriorToken, a.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	session.SetJWTCookie(c.Writer, m.Token, h.cookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
