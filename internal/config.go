package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/maxthraxx/chronicler/internal/index"
	"github.com/maxthraxx/chronicler/internal/parser"
	"github.com/maxthraxx/chronicler/internal/watcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
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

// VaultConfig holds the vault directory and the tuning of its indexer and
// watcher.
type VaultConfig struct {
	Path string `yaml:"path"`
	// DebounceInterval is how long the watcher waits for a burst of
	// filesystem events to go quiet before emitting them.
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	// EventCapacity bounds the change stream buffer. A consumer further
	// behind than this loses events and is told how many.
	EventCapacity int `yaml:"event_capacity"`
	// MaxFileSize is the largest page, in bytes, that is parsed.
	MaxFileSize int64 `yaml:"max_file_size"`
	// Ignore lists doublestar globs, relative to the vault, that are never
	// indexed or reported.
	Ignore []string `yaml:"ignore"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.DebounceInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.EventCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Ignore, validation.Each(validation.By(validGlob))),
	)
}

func validGlob(value any) error {
	p, _ := value.(string)
	if p == "" || !parser.ValidatePattern(p) {
		return errors.New("must be a valid glob pattern")
	}
	return nil
}

// SQLiteConfig holds the path of the search catalog database. An empty path
// disables the catalog and with it search.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether a catalog is configured.
func (c *SQLiteConfig) Enabled() bool {
	return c.Path != ""
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
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
		Vault: VaultConfig{
			Path:             "./vault",
			DebounceInterval: watcher.DefaultDebounce,
			EventCapacity:    watcher.DefaultCapacity,
			MaxFileSize:      index.DefaultMaxFileSize,
			Ignore:           append([]string(nil), watcher.DefaultIgnore...),
		},
		SQLite: SQLiteConfig{
			Path: "./chronicler.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
