package internal

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dsms/internal/backend"
	"github.com/starford/dsms/internal/dsms"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	DSMS      dsms.Config       `yaml:"dsms"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Manifests ManifestsConfig   `yaml:"manifests"`
}

// Validate validates the server side of the configuration. Client
// commands validate the dsms section themselves.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" env:"DSMS_LOG_LEVEL"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"DSMS_HTTP_PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the directory for attachment and avatar blobs.
type VaultConfig struct {
	Path string `yaml:"path" env:"DSMS_VAULT_PATH"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"DSMS_SQLITE_PATH"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds backend authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": requests carry either Token or a JWT issued at /api/users/token
//     for Username/Password and signed with Secret.
type AuthConfig struct {
	Mode     string        `yaml:"mode" env:"DSMS_AUTH_MODE"`
	Token    string        `yaml:"token" env:"DSMS_AUTH_TOKEN"`
	Username string        `yaml:"username" env:"DSMS_AUTH_USERNAME"`
	Password string        `yaml:"password" env:"DSMS_AUTH_PASSWORD"`
	Secret   string        `yaml:"secret" env:"DSMS_AUTH_SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"DSMS_AUTH_TOKEN_TTL"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.Password, validation.Required.When(c.Username != "")),
		validation.Field(&c.Secret, validation.Required.When(c.Username != ""), validation.Length(32, 0)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" && c.Username == "" {
		return fmt.Errorf("auth: mode is %q but neither token nor username is set", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// Backend returns the request authenticator for the local backend.
func (c *AuthConfig) Backend() *backend.Auth {
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = backend.DefaultTokenTTL
	}
	return &backend.Auth{
		Enabled:  c.AuthEnabled(),
		Token:    c.Token,
		Username: c.Username,
		Password: c.Password,
		Secret:   []byte(c.Secret),
		TTL:      ttl,
	}
}

// ManifestsConfig holds the directory applied by the watch command.
type ManifestsConfig struct {
	Path string `yaml:"path" env:"DSMS_MANIFESTS_PATH"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		DSMS: dsms.DefaultConfig(),
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./dsms.db",
		},
		Auth: AuthConfig{
			Mode:     AuthModeDisabled,
			TokenTTL: backend.DefaultTokenTTL,
		},
		Manifests: ManifestsConfig{
			Path: "./manifests",
		},
	}
}

// Logger builds the process logger: JSON on w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: c.App.LogLevel,
	}))
}
