package app

import (
	"context"
	"net/http"

	"care-portal/internal/auth/handler"
	"care-portal/internal/auth/provider"
	"care-portal/internal/auth/provider/platform"
	"care-portal/internal/config"
	"care-portal/internal/keys"
	"care-portal/internal/logger"
	"care-portal/internal/middleware"
	"care-portal/internal/otc"
	"care-portal/internal/otc/devcode"
	"care-portal/internal/otc/stytch"
	"care-portal/internal/session"
	"care-portal/internal/smart"
	"care-portal/internal/token"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (_ *gin.Engine, _ func() error, err error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			_ = infra.Close()
		}
	}()

	// ----------------------------
	// Key material
	// ----------------------------

	secrets, err := cfg.SigningKeys()
	if err != nil {
		return nil, nil, err
	}
	keyProvider, err := keys.New(secrets, cfg.JWTActiveKID, []byte(cfg.EncryptionKey))
	if err != nil {
		return nil, nil, err
	}
	codec := token.NewCodec(keyProvider, cfg.AccessTTL())

	// ----------------------------
	// Dependencies
	// ----------------------------

	otcService := otc.NewService(infra.Challenges, otcProvider(cfg))

	var verifiers []provider.IdentityVerifier
	if cfg.B2BOIDCIssuer != "" {
		v, verr := platform.New(platform.DefaultName, cfg.B2BOIDCIssuer, cfg.B2BOIDCClientID)
		if verr != nil {
			return nil, nil, verr
		}
		verifiers = append(verifiers, v)
	}

	var discoveryOpts []smart.DiscovererOption
	if !cfg.IsProduction() {
		discoveryOpts = append(discoveryOpts, smart.WithInsecureIssuers())
	}
	launcher := smart.NewLauncher(
		codec,
		smart.NewDiscoverer(discoveryOpts...),
		cfg.SmartClientID,
		cfg.SmartRedirectURL,
		cfg.SmartScopeList(),
	)

	sessionHandler := handler.NewHandler(handler.Deps{
		Store:     infra.Sessions,
		Codec:     codec,
		OTC:       otcService,
		Verifiers: provider.NewRegistry(verifiers...),
		Smart:     launcher,
		HashKey:   keyProvider.HashKey(),
		Cookies:   session.CookiePolicy(cfg.IsProduction()),
		ExtendTTL: cfg.ExtendTTL(),
	})

	minState, err := cfg.APIMinState()
	if err != nil {
		return nil, nil, err
	}
	authMiddleware := middleware.NewAuthMiddleware(codec, minState)

	// ----------------------------
	// Router
	// ----------------------------

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	// ----------------------------
	// Public Routes
	// ----------------------------

	sessionHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		if err := infra.Healthy(c.Request.Context()); err != nil {
			logger.Error("health check failed", map[string]any{"error": err.Error()})
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAccessToken(authMiddleware))

	api.GET("/me", sessionHandler.Me)

	return router, infra.Close, nil
}

// otcProvider returns nil when no provider is configured; OTC endpoints
// then answer provider_not_configured.
func otcProvider(cfg config.Config) otc.Provider {
	switch cfg.OTCProvider {
	case "stytch":
		return otc.NewLazyProvider(func(context.Context) (otc.Provider, error) {
			return stytch.New(cfg.StytchProjectID, cfg.StytchSecret, cfg.StytchBaseURL)
		})
	case "dev":
		return devcode.New()
	default:
		return nil
	}
}
