package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropDatabas3/idlink/internal/config"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Kind != "memory" {
		t.Errorf("cache kind = %q", cfg.Cache.Kind)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.OIDC.Scopes) != 3 {
		t.Errorf("scopes = %v", cfg.OIDC.Scopes)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9090"
oidc:
  discovery_url: "https://idp.example/.well-known/openid-configuration"
  client_id: "cid"
  client_secret: "cs"
  redirect_uri: "https://app.example/callback"
storage:
  dsn: "postgres://x"
auth:
  username_match_keeps_password: true
`)
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Auth.UsernameMatchKeepsPassword {
		t.Error("auth.username_match_keeps_password should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("OIDC_CLIENT_ID", "env-cid")
	t.Setenv("AUTH_USERNAME_MATCH_KEEPS_PASSWORD", "true")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.OIDC.ClientID != "env-cid" {
		t.Errorf("client_id = %q", cfg.OIDC.ClientID)
	}
	if !cfg.Auth.UsernameMatchKeepsPassword {
		t.Error("env override for auth knob not applied")
	}
}

func TestValidateRejectsIncompleteOIDC(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("validate should fail without oidc credentials")
	}
}
