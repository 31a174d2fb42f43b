package handler

import (
	"errors"
	"net/http"
	"time"

	"care-portal/internal/auth/ladder"
	"care-portal/internal/auth/provider"
	"care-portal/internal/logger"
	"care-portal/internal/middleware"
	"care-portal/internal/otc"
	"care-portal/internal/reconcile"
	"care-portal/internal/session"
	"care-portal/internal/smart"
	"care-portal/internal/token"

	"github.com/gin-gonic/gin"
)

var (
	errInvalidPayload   = errors.New("handler: invalid payload")
	errNotConfigured    = errors.New("handler: not configured")
	errUnauthorized     = errors.New("handler: caller does not hold the session")
	errInsufficientAuth = errors.New("handler: insufficient authentication")
)

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Store     session.Store
	Codec     *token.Codec
	OTC       *otc.Service
	Verifiers *provider.Registry
	Smart     *smart.Launcher
	// HashKey keys session id derivation.
	HashKey   []byte
	Cookies   session.CookieOptions
	ExtendTTL time.Duration
}

type Handler struct {
	store     session.Store
	codec     *token.Codec
	ladder    *ladder.Ladder
	otc       *otc.Service
	verifiers *provider.Registry
	smart     *smart.Launcher
	hashKey   []byte
	cookies   session.CookieOptions
	extendTTL time.Duration
}

func NewHandler(d Deps) *Handler {
	if d.ExtendTTL <= 0 {
		d.ExtendTTL = time.Hour
	}
	return &Handler{
		store:     d.Store,
		codec:     d.Codec,
		ladder:    ladder.New(d.Store, d.Codec),
		otc:       d.OTC,
		verifiers: d.Verifiers,
		smart:     d.Smart,
		hashKey:   d.HashKey,
		cookies:   d.Cookies,
		extendTTL: d.ExtendTTL,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/session")
	api.POST("", h.createSession)
	api.GET("/details", h.sessionDetails)
	api.GET("/jwt", h.sessionJWT)
	api.POST("/refresh", h.refresh)
	api.POST("/otc/start", h.otcStart)
	api.POST("/otc/verify", h.otcVerify)
	api.POST("/b2b-exchange", h.b2bExchange)
	api.POST("/clear-jwt", h.clearJWT)
	api.POST("/logout", h.Logout)
	api.POST("/embed-token", h.embedToken)

	r.GET("/embed/:token", h.embed)

	r.GET("/smart/launch", h.smartLaunch)
	r.GET("/smart/callback", h.smartCallback)

	for _, route := range r.Routes() {
		logger.Debug("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}
}

// resolve finds the request's session: query session_id, then bearer,
// then JWT cookie, then session cookie.
func (h *Handler) resolve(c *gin.Context) reconcile.Resolution {
	return reconcile.Resolve(c.Request, c.Query("session_id"), h.codec)
}

type errorBody struct {
	status int
	code   string
}

// writeError maps domain errors onto the client-facing taxonomy.
// Cryptographic failures are reported like a missing session.
func writeError(c *gin.Context, err error) {
	var incorrect *otc.IncorrectCodeError
	if errors.As(err, &incorrect) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "incorrect_code",
			"remainingAttempts": incorrect.RemainingAttempts,
		})
		return
	}

	body := classify(err)
	if body.status >= http.StatusInternalServerError {
		logger.Error("request failed", map[string]any{
			"request_id": middleware.RequestIDFrom(c),
			"path":       c.FullPath(),
			"error":      err.Error(),
		})
	}
	c.JSON(body.status, gin.H{"error": body.code})
}

func classify(err error) errorBody {
	switch {
	case errors.Is(err, errInvalidPayload), errors.Is(err, session.ErrInvalidRecord):
		return errorBody{http.StatusBadRequest, "invalid_payload"}
	case errors.Is(err, ladder.ErrNoSession),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken):
		return errorBody{http.StatusUnauthorized, "no_session"}
	case errors.Is(err, ladder.ErrSessionExpired):
		return errorBody{http.StatusUnauthorized, "session_expired"}
	case errors.Is(err, errInsufficientAuth):
		return errorBody{http.StatusForbidden, "insufficient_authentication"}
	case errors.Is(err, ladder.ErrSessionNotFound):
		return errorBody{http.StatusNotFound, "not_found"}
	case errors.Is(err, ladder.ErrIdentityConflict):
		return errorBody{http.StatusConflict, "identity_conflict"}
	case errors.Is(err, ladder.ErrStoreFailure):
		return errorBody{http.StatusInternalServerError, "store_failure"}

	case errors.Is(err, otc.ErrNoActiveChallenge):
		return errorBody{http.StatusBadRequest, "no_active_challenge"}
	case errors.Is(err, otc.ErrTooManyAttempts):
		return errorBody{http.StatusTooManyRequests, "too_many_attempts"}
	case errors.Is(err, otc.ErrInvalidDestination):
		return errorBody{http.StatusBadRequest, "invalid_destination"}
	case errors.Is(err, otc.ErrProviderNotConfigured):
		return errorBody{http.StatusInternalServerError, "provider_not_configured"}
	case errors.Is(err, otc.ErrProviderFailure):
		return errorBody{http.StatusBadGateway, "provider_failure"}

	case errors.Is(err, provider.ErrUnknownProvider):
		return errorBody{http.StatusBadRequest, "unknown_provider"}
	case errors.Is(err, provider.ErrVerificationFailed), errors.Is(err, errUnauthorized):
		return errorBody{http.StatusUnauthorized, "unauthorized"}

	case errors.Is(err, errNotConfigured), errors.Is(err, smart.ErrNotConfigured):
		return errorBody{http.StatusNotImplemented, "not_configured"}
	case errors.Is(err, smart.ErrInvalidIssuer):
		return errorBody{http.StatusBadRequest, "invalid_issuer"}
	case errors.Is(err, smart.ErrDiscovery):
		return errorBody{http.StatusBadGateway, "discovery_failed"}
	case errors.Is(err, smart.ErrInvalidState), errors.Is(err, smart.ErrStateExpired):
		return errorBody{http.StatusUnauthorized, "invalid_state"}
	case errors.Is(err, smart.ErrExchange):
		return errorBody{http.StatusUnauthorized, "exchange_failed"}
	}
	return errorBody{http.StatusInternalServerError, "internal_error"}
}

// noSessionIfMissing turns "not found" into "no session" for endpoints that
// only ever act on the caller's own session.
func noSessionIfMissing(err error) error {
	if errors.Is(err, ladder.ErrSessionNotFound) {
		return ladder.ErrNoSession
	}
	return err
}
