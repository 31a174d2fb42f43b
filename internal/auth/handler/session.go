package handler

import (
	"fmt"
	"net/http"
	"time"

	"care-portal/internal/auth"
	"care-portal/internal/auth/ladder"
	"care-portal/internal/logger"
	"care-portal/internal/middleware"
	"care-portal/internal/reconcile"
	"care-portal/internal/session"
	"care-portal/internal/token"

	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	PatientID            string `json:"patientId"`
	StakeholderID        string `json:"stakeholderId"`
	OrgID                string `json:"orgId"`
	TenantID             string `json:"tenantId"`
	Environment          string `json:"environment"`
	Exp                  int64  `json:"exp"`
	State                string `json:"state"`
	CareflowID           string `json:"careflowId"`
	CareflowDefinitionID string `json:"careflowDefinitionId"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}

	rec := session.Record{
		PatientID:            req.PatientID,
		StakeholderID:        req.StakeholderID,
		OrgID:                req.OrgID,
		TenantID:             req.TenantID,
		Environment:          session.Environment(req.Environment),
		Exp:                  req.Exp,
		State:                session.State(req.State),
		CareflowID:           req.CareflowID,
		CareflowDefinitionID: req.CareflowDefinitionID,
	}
	now := h.codec.Now()
	if err := rec.Validate(now); err != nil {
		writeError(c, err)
		return
	}

	sessionID, err := session.DeriveID(h.hashKey, rec)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()

	// A repeated payload names the same session. The live record may already
	// carry a durable identity or a later exp, so it is left as it is.
	existing, err := h.store.Get(ctx, sessionID)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", ladder.ErrStoreFailure, err))
		return
	}
	if existing != nil && !existing.Expired(now) {
		logger.Debug("session already exists", map[string]any{
			"session": logger.SessionRef(sessionID),
		})
		c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
		return
	}

	if err := h.store.Set(ctx, sessionID, rec, rec.TTL(now)); err != nil {
		writeError(c, fmt.Errorf("create session: %w", err))
		return
	}

	logger.Info("session created", map[string]any{
		"session":     logger.SessionRef(sessionID),
		"org_id":      rec.OrgID,
		"tenant_id":   rec.TenantID,
		"environment": string(rec.Environment),
	})

	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
}

// sessionDetails treats a session_id query parameter as authoritative and
// re-issues both cookies for it, replacing whatever session the browser
// held before.
func (h *Handler) sessionDetails(c *gin.Context) {
	strategy := reconcile.Direct
	if c.Query("context") == reconcile.Embed.Name() {
		strategy = reconcile.Embed
	}

	outcome := strategy.Reconcile(c.Request, c.Query("session_id"), h.codec)

	m, rec, err := h.ladder.Renew(c.Request.Context(), outcome.SessionID, outcome.PriorToken)
	if err != nil {
		writeError(c, err)
		return
	}

	reconcile.ApplyCookies(c.Writer, outcome.SessionID, m.Token, h.cookies)

	resp := gin.H{
		"sessionId": outcome.SessionID,
		"session":   rec,
	}
	if outcome.Notice != nil {
		resp["notice"] = outcome.Notice
	}
	c.JSON(http.StatusOK, resp)
}

// sessionJWT mints a fresh token for the caller's session, keeping the
// authentication state of the token it already holds.
func (h *Handler) sessionJWT(c *gin.Context) {
	res := reconcile.ResolveSessionID(c.Request, h.codec)

	m, rec, err := h.ladder.Renew(c.Request.Context(), res.SessionID, res.PriorToken)
	if err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	reconcile.ApplyCookies(c.Writer, res.SessionID, m.Token, h.cookies)

	c.JSON(http.StatusOK, gin.H{
		"jwt":         m.Token,
		"expiresAt":   m.ExpiresAt.Unix(),
		"environment": rec.Environment,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	res := h.resolve(c)
	ctx := c.Request.Context()

	rec, err := h.ladder.ExtendSession(ctx, res.SessionID, h.extendTTL)
	if err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	m, _, err := h.ladder.Renew(ctx, res.SessionID, res.PriorToken)
	if err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	reconcile.ApplyCookies(c.Writer, res.SessionID, m.Token, h.cookies)

	c.JSON(http.StatusOK, gin.H{
		"jwt":              m.Token,
		"expiresAt":        m.ExpiresAt.Unix(),
		"sessionExpiresAt": rec.Exp,
	})
}

// embed opens a sealed embed token and adopts its session in the iframe.
func (h *Handler) embed(c *gin.Context) {
	t, err := h.codec.OpenEmbedToken(c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}

	outcome := reconcile.Embed.Reconcile(c.Request, t.SessionID, h.codec)

	m, rec, err := h.ladder.Renew(c.Request.Context(), t.SessionID, outcome.PriorToken)
	if err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}
	if (t.OrgID != "" && t.OrgID != rec.OrgID) || (t.TenantID != "" && t.TenantID != rec.TenantID) {
		logger.Warn("embed token tenant does not match session", map[string]any{
			"session": logger.SessionRef(t.SessionID),
		})
		writeError(c, ladder.ErrNoSession)
		return
	}

	reconcile.ApplyCookies(c.Writer, t.SessionID, m.Token, h.cookies)

	resp := gin.H{
		"sessionId": t.SessionID,
		"jwt":       m.Token,
		"expiresAt": m.ExpiresAt.Unix(),
	}
	if outcome.Notice != nil {
		resp["notice"] = outcome.Notice
	}
	c.JSON(http.StatusOK, resp)
}

// EmbedTokenTTL bounds how long a minted embed link can be opened.
const EmbedTokenTTL = 5 * time.Minute

// embedToken mints an embed link for the caller's own session. Only an
// authenticated partner token may hand its session to an iframe.
func (h *Handler) embedToken(c *gin.Context) {
	tok := reconcile.BearerToken(c.Request)
	if tok == "" {
		tok = session.ReadCookie(c.Request, session.JWTCookieName)
	}
	claims, err := h.codec.VerifyAccessToken(tok)
	if err != nil {
		writeError(c, err)
		return
	}
	if !claims.AuthenticationState.AtLeast(auth.Authenticated) {
		writeError(c, errInsufficientAuth)
		return
	}

	rec, err := h.ladder.LoadSession(c.Request.Context(), claims.SessionID())
	if err != nil {
		writeError(c, noSessionIfMissing(err))
		return
	}

	exp := h.codec.Now().Add(EmbedTokenTTL).Unix()
	if rec.Exp < exp {
		exp = rec.Exp
	}
	sealed, err := h.codec.SealEmbedToken(token.EmbedToken{
		SessionID: claims.SessionID(),
		OrgID:     rec.OrgID,
		TenantID:  rec.TenantID,
		Exp:       exp,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"embedToken": sealed, "expiresAt": exp})
}

// clearJWT drops the token cookie but keeps the session resumable.
func (h *Handler) clearJWT(c *gin.Context) {
	session.ClearJWTCookie(c.Writer, h.cookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout deletes the session and drops both cookies. It is idempotent. A
// session named only in the URL is deleted only when the caller also holds
// its cookie or a token for it.
func (h *Handler) Logout(c *gin.Context) {
	res := h.resolve(c)
	if res.SessionID != "" && !holdsSession(c.Request, res) {
		writeError(c, errUnauthorized)
		return
	}
	if res.SessionID != "" {
		if err := h.ladder.Logout(c.Request.Context(), res.SessionID); err != nil {
			logger.Warn("logout could not delete session", map[string]any{
				"session": logger.SessionRef(res.SessionID),
				"error":   err.Error(),
			})
		}
		logger.Info("session logged out", map[string]any{
			"session": logger.SessionRef(res.SessionID),
		})
	}

	session.ClearJWTCookie(c.Writer, h.cookies)
	session.ClearCookie(c.Writer, h.cookies)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func holdsSession(r *http.Request, res reconcile.Resolution) bool {
	if res.Source != reconcile.SourceURL {
		return true
	}
	return res.PriorToken != "" || session.ReadCookie(r, session.CookieName) == res.SessionID
}

// Me returns the caller's verified claims. It runs behind
// middleware.GinRequireAccessToken.
func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c.Request.Context())
	if !ok {
		writeError(c, ladder.ErrNoSession)
		return
	}
	state := claims.AuthenticationState
	if state == "" {
		state = auth.Unauthenticated
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":           claims.SessionID(),
		"orgId":               claims.OrgID,
		"tenantId":            claims.TenantID,
		"environment":         claims.Environment,
		"authenticationState": state,
	})
}
