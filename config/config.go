// Package config holds run configuration for the DB/API comparison tool.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIConfig configures the paginated API fetch.
type APIConfig struct {
	BaseURL  string
	Role     string
	Resource string
	Alias    string
	Auth     string
	Select   string // optional OData $select, spaces stripped before encoding

	UseUpdates bool
	PageCap    int
	Timeout    time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Validate ensures the API settings are coherent. Auth may be empty; the
// header is sent verbatim either way.
func (c *APIConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("api base URL cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("api base URL must include a host")
	}
	if strings.TrimSpace(c.Role) == "" {
		return fmt.Errorf("api role cannot be empty")
	}
	if strings.TrimSpace(c.Resource) == "" {
		return fmt.Errorf("api resource cannot be empty")
	}
	if c.PageCap <= 0 {
		return fmt.Errorf("page cap must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	return nil
}

// SQLConfig configures the relational read.
type SQLConfig struct {
	Driver string // sqlite3 or postgres
	DSN    string
	SQL    string

	MaxRows      int
	LoginTimeout time.Duration
	QueryTimeout time.Duration
}

// Validate checks driver and statement presence; the SELECT-only guard runs
// in the db client before execution.
func (c *SQLConfig) Validate() error {
	switch c.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q (want sqlite3 or postgres)", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("db dsn cannot be empty")
	}
	if strings.TrimSpace(c.SQL) == "" {
		return fmt.Errorf("db sql statement cannot be empty")
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative")
	}
	return nil
}

// JoinConfig configures the record merge.
type JoinConfig struct {
	DBKey     string
	APIKey    string
	How       string // inner, left, right, outer
	DBPrefix  string
	APIPrefix string
}

// Validate checks keys and join mode, defaulting the prefixes.
func (c *JoinConfig) Validate() error {
	if strings.TrimSpace(c.DBKey) == "" {
		return fmt.Errorf("db join key cannot be empty")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api join key cannot be empty")
	}
	switch c.How {
	case "inner", "left", "right", "outer":
	default:
		return fmt.Errorf("join mode must be inner, left, right, or outer")
	}
	if c.DBPrefix == "" {
		c.DBPrefix = "db_"
	}
	if c.APIPrefix == "" {
		c.APIPrefix = "api_"
	}
	if c.DBPrefix == c.APIPrefix {
		return fmt.Errorf("db and api prefixes must differ")
	}
	return nil
}

// ValidatorConfig configures the optional script validation stage.
type ValidatorConfig struct {
	Enabled    bool
	ScriptPath string
}

// Window is the local-time range for the updates endpoint.
type Window struct {
	FromDate string // YYYY-MM-DD
	FromTime string // HH:MM[:SS]
	ToDate   string
	ToTime   string
	Timezone string
}

// Config bundles everything one run needs.
type Config struct {
	API       APIConfig
	SQL       SQLConfig
	Join      JoinConfig
	Validator ValidatorConfig
	Window    Window

	ExportDir   string
	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			PageCap:         100,
			Timeout:         60 * time.Second,
			MaxRetries:      5,
			RetryBackoff:    600 * time.Millisecond,
			RetryBackoffMax: 30 * time.Second,
		},
		SQL: SQLConfig{
			Driver:       "sqlite3",
			MaxRows:      250_000,
			LoginTimeout: 15 * time.Second,
			QueryTimeout: 60 * time.Second,
		},
		Join: JoinConfig{
			How:       "inner",
			DBPrefix:  "db_",
			APIPrefix: "api_",
		},
		Window: Window{
			FromTime: "00:00:00",
			ToTime:   "23:59:59",
			Timezone: "Europe/Berlin",
		},
		ExportDir: "output",
	}
}

// Validate checks all sections used by a full run.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.SQL.Validate(); err != nil {
		return err
	}
	if err := c.Join.Validate(); err != nil {
		return err
	}
	if c.Validator.Enabled && strings.TrimSpace(c.Validator.ScriptPath) == "" {
		return fmt.Errorf("validation requested but no script path configured")
	}
	return nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, true, nil
}
