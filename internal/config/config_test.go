package config

import (
	"strings"
	"testing"

	"care-portal/internal/auth"
)

func validConfig() Config {
	return Config{
		AppPort:        "8080",
		AppEnv:         EnvDevelopment,
		SessionStore:   "memory",
		JWTSigningKeys: "k1:secret-one,k2:secret-two",
		JWTActiveKID:   "k2",
		EncryptionKey:  strings.Repeat("e", 32),
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_MissingKeyMaterial(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSigningKeys = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing signing keys")
	}

	cfg = validConfig()
	cfg.EncryptionKey = "short"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short encryption key")
	}

	cfg = validConfig()
	cfg.JWTActiveKID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing active kid")
	}
}

func TestValidate_DevOTCRefusedInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.AppEnv = EnvProduction
	cfg.OTCProvider = "dev"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for dev OTC provider in production")
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := validConfig()
	cfg.SessionStore = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}

func TestSigningKeys(t *testing.T) {
	cfg := validConfig()
	keys, err := cfg.SigningKeys()
	if err != nil {
		t.Fatalf("SigningKeys: %v", err)
	}
	if len(keys) != 2 || string(keys["k1"]) != "secret-one" || string(keys["k2"]) != "secret-two" {
		t.Errorf("SigningKeys: got %v", keys)
	}

	cfg.JWTSigningKeys = "k1"
	if _, err := cfg.SigningKeys(); err == nil {
		t.Error("expected error for entry without secret")
	}
}

func TestDurations_Defaults(t *testing.T) {
	cfg := validConfig()
	if got := cfg.AccessTTL(); got.Minutes() != 15 {
		t.Errorf("AccessTTL: got %v", got)
	}
	cfg.SessionExtendTTL = "garbage"
	if got := cfg.ExtendTTL(); got.Hours() != 1 {
		t.Errorf("ExtendTTL: got %v", got)
	}
}

func TestAPIMinState(t *testing.T) {
	cfg := validConfig()
	if st, err := cfg.APIMinState(); err != nil || st != auth.Unauthenticated {
		t.Errorf("empty: %q %v", st, err)
	}

	cfg.APIMinAuthState = "authenticated"
	if st, err := cfg.APIMinState(); err != nil || st != auth.Authenticated {
		t.Errorf("authenticated: %q %v", st, err)
	}

	cfg.APIMinAuthState = "admin"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown state accepted")
	}
}
