package handler

import (
	"net/http"

	"care-portal/internal/logger"

	"github.com/gin-gonic/gin"
)

func (h *Handler) smartLaunch(c *gin.Context) {
	if !h.smart.Configured() {
		writeError(c, errNotConfigured)
		return
	}

	iss := c.Query("iss")
	if iss == "" {
		writeError(c, errInvalidPayload)
		return
	}

	launch, err := h.smart.Begin(c.Request.Context(), iss, c.Query("launch"))
	if err != nil {
		writeError(c, err)
		return
	}

	h.setStateCookie(c, launch.Nonce)
	c.Redirect(http.StatusFound, launch.AuthURL)
}

func (h *Handler) smartCallback(c *gin.Context) {
	if !h.smart.Configured() {
		writeError(c, errNotConfigured)
		return
	}

	nonce := stateNonce(c)
	// The nonce is single use whatever the outcome.
	h.clearStateCookie(c)

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("smart callback returned error", map[string]any{
			"error": errParam,
			"desc":  c.Query("error_description"),
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_denied"})
		return
	}

	lc, err := h.smart.Complete(c.Request.Context(), c.Query("state"), nonce, c.Query("code"), c.Query("iss"))
	if err != nil {
		writeError(c, err)
		return
	}

	logger.Info("smart launch completed", map[string]any{
		"iss":         lc.Issuer,
		"has_patient": lc.Patient != "",
	})

	c.JSON(http.StatusOK, lc)
}
