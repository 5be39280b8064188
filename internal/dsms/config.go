package dsms

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/dsms/internal/remote"
	"github.com/starford/dsms/internal/session"
)

// Config holds the client configuration.
type Config struct {
	HostURL             string        `yaml:"host_url" env:"DSMS_HOST_URL"`
	RequestTimeout      time.Duration `yaml:"request_timeout" env:"DSMS_REQUEST_TIMEOUT"`
	SSLVerify           bool          `yaml:"ssl_verify" env:"DSMS_SSL_VERIFY"`
	Username            string        `yaml:"username" env:"DSMS_USERNAME"`
	Password            string        `yaml:"password" env:"DSMS_PASSWORD"`
	Token               string        `yaml:"token" env:"DSMS_TOKEN"`
	EnableAutoReauth    bool          `yaml:"enable_auto_reauth" env:"DSMS_ENABLE_AUTO_REAUTH"`
	AutoRefresh         bool          `yaml:"auto_refresh" env:"DSMS_AUTO_REFRESH"`
	PingBackend         bool          `yaml:"ping_backend" env:"DSMS_PING_BACKEND"`
	AutoFetchKTypes     bool          `yaml:"auto_fetch_ktypes" env:"DSMS_AUTO_FETCH_KTYPES"`
	AlwaysRefetchKTypes bool          `yaml:"always_refetch_ktypes" env:"DSMS_ALWAYS_REFETCH_KTYPES"`
	IndividualSlugs     bool          `yaml:"individual_slugs" env:"DSMS_INDIVIDUAL_SLUGS"`
	StrictValidation    bool          `yaml:"strict_validation" env:"DSMS_STRICT_VALIDATION"`
	HideProperties      []string      `yaml:"hide_properties" env:"DSMS_HIDE_PROPERTIES" env-separator:","`
	DatetimeFormat      string        `yaml:"datetime_format" env:"DSMS_DATETIME_FORMAT"`
	KItemRepo           string        `yaml:"kitem_repo" env:"DSMS_KITEM_REPO"`
	CommitWorkers       int           `yaml:"commit_workers" env:"DSMS_COMMIT_WORKERS"`
}

// DefaultConfig returns the client defaults. HostURL has none.
func DefaultConfig() Config {
	st := session.DefaultSettings()
	return Config{
		RequestTimeout:   st.RequestTimeout,
		SSLVerify:        st.SSLVerify,
		EnableAutoReauth: true,
		AutoRefresh:      st.AutoRefresh,
		PingBackend:      true,
		AutoFetchKTypes:  true,
		IndividualSlugs:  st.IndividualSlugs,
		StrictValidation: st.StrictValidation,
		DatetimeFormat:   st.DatetimeLayout,
		KItemRepo:        st.Repository,
		CommitWorkers:    st.CommitWorkers,
	}
}

var errTokenAndCredentials = errors.New("either a token or username and password may be set, not both")

// Validate validates the client configuration.
func (c *Config) Validate() error {
	if c.Token != "" && (c.Username != "" || c.Password != "") {
		return errTokenAndCredentials
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.HostURL, validation.Required, is.URL),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Password, validation.Required.When(c.Username != "")),
		validation.Field(&c.Username, validation.Required.When(c.Password != "")),
		validation.Field(&c.DatetimeFormat, validation.Required),
		validation.Field(&c.KItemRepo, validation.Required),
		validation.Field(&c.CommitWorkers, validation.Min(1), validation.Max(64)),
	)
}

func (c *Config) settings() session.Settings {
	return session.Settings{
		HostURL:             c.HostURL,
		IndividualSlugs:     c.IndividualSlugs,
		StrictValidation:    c.StrictValidation,
		AutoRefresh:         c.AutoRefresh,
		AlwaysRefetchKTypes: c.AlwaysRefetchKTypes,
		DatetimeLayout:      c.DatetimeFormat,
		CommitWorkers:       max(c.CommitWorkers, 1),
		RequestTimeout:      c.RequestTimeout,
		Ping:                c.PingBackend,
		SSLVerify:           c.SSLVerify,
		Repository:          c.KItemRepo,
	}
}

func (c *Config) remote() remote.Config {
	return remote.Config{
		HostURL:    c.HostURL,
		Token:      c.Token,
		Username:   c.Username,
		Password:   c.Password,
		Timeout:    c.RequestTimeout,
		SSLVerify:  c.SSLVerify,
		AutoReauth: c.EnableAutoReauth,
		Repository: c.KItemRepo,
	}
}
