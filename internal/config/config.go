package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"care-portal/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppPort string `mapstructure:"APP_PORT"`
	AppEnv  string `mapstructure:"APP_ENV"`

	SessionStore  string `mapstructure:"SESSION_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	DatabaseDSN   string `mapstructure:"DATABASE_DSN"`

	// JWTSigningKeys is a comma-separated list of kid:secret pairs. Every
	// listed key verifies; only JWTActiveKID signs.
	JWTSigningKeys string `mapstructure:"JWT_SIGNING_KEYS"`
	JWTActiveKID   string `mapstructure:"JWT_ACTIVE_KID"`
	EncryptionKey  string `mapstructure:"ENCRYPTION_KEY"`

	AccessTokenTTL   string `mapstructure:"ACCESS_TOKEN_TTL"`
	SessionExtendTTL string `mapstructure:"SESSION_EXTEND_TTL"`

	OTCProvider     string `mapstructure:"OTC_PROVIDER"`
	StytchProjectID string `mapstructure:"STYTCH_PROJECT_ID"`
	StytchSecret    string `mapstructure:"STYTCH_SECRET"`
	StytchBaseURL   string `mapstructure:"STYTCH_BASE_URL"`

	B2BOIDCIssuer   string `mapstructure:"B2B_OIDC_ISSUER"`
	B2BOIDCClientID string `mapstructure:"B2B_OIDC_CLIENT_ID"`

	SmartClientID    string `mapstructure:"SMART_CLIENT_ID"`
	SmartRedirectURL string `mapstructure:"SMART_REDIRECT_URL"`
	SmartScopes      string `mapstructure:"SMART_SCOPES"`

	// APIMinAuthState is the lowest authentication state admitted by the
	// bearer-protected /api routes.
	APIMinAuthState string `mapstructure:"API_MIN_AUTH_STATE"`
}

// Load reads .env when present, then the process environment. Missing key
// material is a configuration error: the portal refuses to start rather
// than serve unsigned sessions.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("SESSION_STORE", "redis")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("JWT_SIGNING_KEYS", "")
	v.SetDefault("JWT_ACTIVE_KID", "")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("SESSION_EXTEND_TTL", "1h")
	v.SetDefault("OTC_PROVIDER", "")
	v.SetDefault("STYTCH_PROJECT_ID", "")
	v.SetDefault("STYTCH_SECRET", "")
	v.SetDefault("STYTCH_BASE_URL", "")
	v.SetDefault("B2B_OIDC_ISSUER", "")
	v.SetDefault("B2B_OIDC_CLIENT_ID", "")
	v.SetDefault("SMART_CLIENT_ID", "")
	v.SetDefault("SMART_REDIRECT_URL", "")
	v.SetDefault("SMART_SCOPES", "openid fhirUser launch launch/patient patient/*.read")
	v.SetDefault("API_MIN_AUTH_STATE", string(auth.Verified))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("config: APP_ENV must be %q or %q", EnvDevelopment, EnvProduction)
	}

	switch c.SessionStore {
	case "redis", "memory":
	case "postgres":
		if c.DatabaseDSN == "" {
			return errors.New("config: DATABASE_DSN must be set when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionStore)
	}

	if _, err := c.SigningKeys(); err != nil {
		return err
	}
	if c.JWTActiveKID == "" {
		return errors.New("config: JWT_ACTIVE_KID must be set")
	}
	if len(c.EncryptionKey) < 32 {
		return errors.New("config: ENCRYPTION_KEY must be at least 32 bytes")
	}

	switch c.OTCProvider {
	case "", "stytch":
	case "dev":
		if c.IsProduction() {
			return errors.New("config: OTC_PROVIDER=dev must not be used when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: unknown OTC_PROVIDER %q", c.OTCProvider)
	}

	if _, err := c.APIMinState(); err != nil {
		return fmt.Errorf("config: API_MIN_AUTH_STATE: %w", err)
	}

	return nil
}

// APIMinState parses APIMinAuthState. Empty admits any valid token.
func (c *Config) APIMinState() (auth.State, error) {
	return auth.ParseState(c.APIMinAuthState)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// SigningKeys parses JWTSigningKeys into a kid → secret map.
func (c *Config) SigningKeys() (map[string][]byte, error) {
	if strings.TrimSpace(c.JWTSigningKeys) == "" {
		return nil, errors.New("config: JWT_SIGNING_KEYS must be set")
	}
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(c.JWTSigningKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, secret, ok := strings.Cut(pair, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("config: malformed JWT_SIGNING_KEYS entry %q", kid)
		}
		keys[kid] = []byte(secret)
	}
	if len(keys) == 0 {
		return nil, errors.New("config: JWT_SIGNING_KEYS must be set")
	}
	return keys, nil
}

// AccessTTL returns 15m when unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// ExtendTTL is how far session-refresh pushes a session's exp.
func (c *Config) ExtendTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionExtendTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

func (c *Config) SmartScopeList() []string {
	return strings.Fields(c.SmartScopes)
}
