package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Backup  BackupConfig      `yaml:"backup"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	License LicenseConfig     `yaml:"license"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.License.Validate()
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

// BackupConfig holds the backup directory layout.
//
// RecoveryPath is relative to Path. Recipient, when set, is the age public
// key new backups are encrypted to.
type BackupConfig struct {
	Path         string `yaml:"path"`
	RecoveryPath string `yaml:"recovery_path"`
	Watch        bool   `yaml:"watch"`
	Recipient    string `yaml:"recipient"`
}

// Validate validates the backup configuration.
func (c *BackupConfig) Validate() error {
	if c.RecoveryPath == "" {
		c.RecoveryPath = "recovery"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.RecoveryPath, validation.By(relativePath)),
		validation.Field(&c.Recipient, validation.Match(ageRecipientRe)),
	)
}

var ageRecipientRe = regexp.MustCompile(`^age1[0-9a-z]+$`)

func relativePath(value any) error {
	p, _ := value.(string)
	if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
		return errors.New("must be a path inside the backup directory")
	}
	return nil
}

// License store kinds.
const (
	LicenseStoreMemory = "memory"
	LicenseStoreSQLite = "sqlite"
)

// LicenseConfig holds license manager configuration.
//
// Store selects where licenses and requests live: "sqlite" (default) or
// "memory". The defaults apply when an approved request's capsule is unknown.
type LicenseConfig struct {
	Store                  string  `yaml:"store"`
	DefaultGriefScore      float64 `yaml:"default_grief_score"`
	DefaultTruthConfidence float64 `yaml:"default_truth_confidence"`
}

// Validate validates the license configuration.
func (c *LicenseConfig) Validate() error {
	if c.Store == "" {
		c.Store = LicenseStoreSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Store, validation.In(LicenseStoreMemory, LicenseStoreSQLite)),
		validation.Field(&c.DefaultGriefScore, validation.Min(0.0), validation.Max(10.0)),
		validation.Field(&c.DefaultTruthConfidence, validation.Min(0.0), validation.Max(100.0)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
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
		Backup: BackupConfig{
			Path:         "./backups",
			RecoveryPath: "recovery",
			Watch:        true,
		},
		SQLite: SQLiteConfig{
			Path: "./guardian.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		License: LicenseConfig{
			Store:                  LicenseStoreSQLite,
			DefaultGriefScore:      5,
			DefaultTruthConfidence: 75,
		},
	}
}
