package internal

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config is the storyloom process configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Events EventsConfig      `yaml:"events"`
}

// Validate validates every section and reports the first failing one.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"vault", &c.Vault},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"events", &c.Events},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds process-wide settings.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate implements validation.Validatable.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig configures the REST and SSE listener.
type HTTPConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Address returns the listen address, e.g. ":8080" or "127.0.0.1:8080".
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate implements validation.Validatable.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ReadHeaderTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Duration(0)), validation.Max(5*time.Minute)),
	)
}

// VaultConfig points at the directory holding one folder per story, each with
// its context.md document.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate implements validation.Validatable.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c, validation.Field(&c.Path, validation.Required))
}

// SQLiteConfig locates the version and search database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate implements validation.Validatable.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c, validation.Field(&c.Path, validation.Required))
}

// AuthConfig selects how API callers authenticate. Mode "disabled" accepts
// every request; mode "token" requires Token as a bearer credential.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate implements validation.Validatable. An empty mode is treated as
// disabled.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.Token,
			validation.When(c.Mode == AuthModeToken, validation.Required.Error("token is empty in token mode"))),
	)
}

// AuthEnabled reports whether requests must carry the token.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EventsConfig holds server-sent event settings.
type EventsConfig struct {
	// GraphThrottle is the minimum interval between graph.updated events for
	// one story.
	GraphThrottle time.Duration `yaml:"graph_throttle"`
	// Watch indexes context documents edited outside the service.
	Watch bool `yaml:"watch"`
}

// Validate implements validation.Validatable.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.GraphThrottle, validation.Min(time.Duration(0)), validation.Max(time.Minute)),
	)
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:              8080,
				ReadHeaderTimeout: 10 * time.Second,
				ShutdownTimeout:   10 * time.Second,
			},
		},
		Vault:  VaultConfig{Path: "./stories"},
		SQLite: SQLiteConfig{Path: "./storyloom.db"},
		Auth:   AuthConfig{Mode: AuthModeDisabled},
		Events: EventsConfig{GraphThrottle: 2 * time.Second, Watch: true},
	}
}
