package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/dsms/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
	if cfg.Backend().Enabled {
		t.Error("backend auth should be off")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeCredentials(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Username: "admin", Password: "pw", Secret: strings.Repeat("s", 32)}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with credentials should pass: %v", err)
	}
	a := cfg.Backend()
	if a.TTL != time.Hour || string(a.Secret) != cfg.Secret {
		t.Errorf("backend auth = %+v", a)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "neither token nor username") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_ShortSecret(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Username: "admin", Password: "pw", Secret: "short"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("short signing secret should fail validation")
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
dsms:
  host_url: ${TEST_DSMS_HOST}
  request_timeout: 30s
  hide_properties: [summary]
sqlite:
  path: /tmp/x.db
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_DSMS_HOST", "https://dsms.example.org")
	t.Setenv("DSMS_HTTP_PORT", "7070")
	t.Setenv("DSMS_COMMIT_WORKERS", "4")

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DSMS.HostURL != "https://dsms.example.org" {
		t.Errorf("host_url = %q", cfg.DSMS.HostURL)
	}
	if cfg.DSMS.RequestTimeout != 30*time.Second {
		t.Errorf("request_timeout = %v", cfg.DSMS.RequestTimeout)
	}
	if cfg.App.HTTP.Port != 7070 {
		t.Errorf("port = %d, env override not applied", cfg.App.HTTP.Port)
	}
	if cfg.DSMS.CommitWorkers != 4 {
		t.Errorf("commit_workers = %d", cfg.DSMS.CommitWorkers)
	}
	if len(cfg.DSMS.HideProperties) != 1 || cfg.DSMS.HideProperties[0] != "summary" {
		t.Errorf("hide_properties = %v", cfg.DSMS.HideProperties)
	}
	if !cfg.DSMS.PingBackend || cfg.Vault.Path != "./vault" {
		t.Error("defaults not kept for unset keys")
	}
	if err := cfg.DSMS.Validate(); err != nil {
		t.Errorf("dsms section: %v", err)
	}
}
