// Package config provides configuration loading and management for the Trello extractor.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/trello-extractor/internal/telemetry"
)

// EnvPrefix is the prefix used for environment variable overrides.
const EnvPrefix = "TRELLO_EXTRACTOR"

const (
	// LedgerTypeFile persists the extraction ledger as JSON files on local disk
	LedgerTypeFile = "file"

	// LedgerTypeDatabase persists the extraction ledger in PostgreSQL
	LedgerTypeDatabase = "database"
)

const (
	defaultTrelloBaseURL   = "https://api.trello.com/1"
	defaultTrelloTimeout   = 30 * time.Second
	defaultPageSize        = 100
	defaultWorkerTimeout   = 10 * time.Minute
	defaultEmitTimeout     = 30 * time.Second
	defaultLedgerPath      = "./data/ledger"
	defaultArtifactsPath   = "./data/artifacts"
	defaultBatchSize       = 2000
	defaultCallbackRetries = 3
	defaultCallbackTimeout = 15 * time.Second

	// maxPageSize is the largest page Trello accepts for board card listings
	maxPageSize = 1000
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Trello configures the upstream REST client
	Trello TrelloConfig `yaml:"trello"`

	// Worker bounds a single invocation
	Worker WorkerConfig `yaml:"worker"`

	// Ledger selects where extraction progress is persisted
	Ledger LedgerConfig `yaml:"ledger"`

	// Database is required when Ledger.Type is "database"
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Artifacts configures the local artifact uploader
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Callback configures signal delivery to the platform
	Callback CallbackConfig `yaml:"callback"`

	// Telemetry configures OpenTelemetry export
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// TrelloConfig defines the Trello API client settings
type TrelloConfig struct {
	// BaseURL is the REST API root, e.g. https://api.trello.com/1
	BaseURL string `yaml:"baseURL,omitempty"`

	// Timeout is the per-request timeout (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// PageSize is the number of cards requested per page
	PageSize int `yaml:"pageSize,omitempty"`
}

// WorkerConfig defines the bounds of a single invocation
type WorkerConfig struct {
	// Timeout is the soft deadline after which the worker stops and reports progress
	Timeout string `yaml:"timeout,omitempty"`

	// EmitTimeout bounds emission of the final signal once the deadline fired
	EmitTimeout string `yaml:"emitTimeout,omitempty"`
}

// LedgerConfig defines ledger persistence
type LedgerConfig struct {
	// Type is either "file" or "database"
	Type string `yaml:"type,omitempty"`

	// File holds settings for the file ledger
	File *LedgerFileConfig `yaml:"file,omitempty"`
}

// LedgerFileConfig defines the directory where ledger files are written
type LedgerFileConfig struct {
	Path string `yaml:"path"`
}

// ArtifactsConfig defines where extracted items are written before upload
type ArtifactsConfig struct {
	Path      string `yaml:"path,omitempty"`
	BatchSize int    `yaml:"batchSize,omitempty"`

	// MaxAttachmentBytes caps the attachment bytes accepted by one invocation
	// before the sink asks the platform to call back later. Zero means unlimited.
	MaxAttachmentBytes int64 `yaml:"maxAttachmentBytes,omitempty"`
}

// CallbackConfig defines how signals are delivered to the callback URL
type CallbackConfig struct {
	MaxRetries int    `yaml:"maxRetries,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of idle connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// PasswordEnvVar is consulted when no password file is configured.
const PasswordEnvVar = EnvPrefix + "_DATABASE_PASSWORD"

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from TRELLO_EXTRACTOR_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration that uses only defaults (file ledger, public Trello API)
func Default() *Config {
	return &Config{}
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateTrello(&c.Trello); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"worker.timeout":     c.Worker.Timeout,
		"worker.emitTimeout": c.Worker.EmitTimeout,
		"callback.timeout":   c.Callback.Timeout,
	} {
		if err := validateDuration(value, name); err != nil {
			return err
		}
	}

	switch c.GetLedgerType() {
	case LedgerTypeFile:
	case LedgerTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("ledger.type is %q but database configuration is missing", LedgerTypeDatabase)
		}
		if err := validateDatabase(c.Database); err != nil {
			return err
		}
	default:
		return fmt.Errorf("ledger.type must be one of %q or %q, got %q",
			LedgerTypeFile, LedgerTypeDatabase, c.Ledger.Type)
	}

	if c.Artifacts.BatchSize < 0 {
		return fmt.Errorf("artifacts.batchSize must not be negative")
	}
	if c.Callback.MaxRetries < 0 {
		return fmt.Errorf("callback.maxRetries must not be negative")
	}
	if c.Artifacts.MaxAttachmentBytes < 0 {
		return fmt.Errorf("artifacts.maxAttachmentBytes must not be negative")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateTrello(t *TrelloConfig) error {
	if t.BaseURL != "" {
		u, err := url.Parse(t.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("trello.baseURL must be an absolute URL, got %q", t.BaseURL)
		}
	}
	if t.PageSize < 0 || t.PageSize > maxPageSize {
		return fmt.Errorf("trello.pageSize must be between 1 and %d", maxPageSize)
	}
	return validateDuration(t.Timeout, "trello.timeout")
}

func validateDuration(value, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

func validateDatabase(d *DatabaseConfig) error {
	prefix := "database"
	if d.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if d.Port == 0 {
		return fmt.Errorf("%s.port is required", prefix)
	}
	if d.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if d.Database == "" {
		return fmt.Errorf("%s.database is required", prefix)
	}
	return validateDuration(d.ConnMaxLifetime, prefix+".connMaxLifetime")
}

// GetLedgerType returns the configured ledger type, defaulting to file
func (c *Config) GetLedgerType() string {
	if c.Ledger.Type == "" {
		return LedgerTypeFile
	}
	return c.Ledger.Type
}

// GetLedgerPath returns the directory for file ledgers
func (c *Config) GetLedgerPath() string {
	if c.Ledger.File == nil || c.Ledger.File.Path == "" {
		return defaultLedgerPath
	}
	return c.Ledger.File.Path
}

// GetBaseURL returns the Trello API root
func (t *TrelloConfig) GetBaseURL() string {
	if t.BaseURL == "" {
		return defaultTrelloBaseURL
	}
	return strings.TrimSuffix(t.BaseURL, "/")
}

// GetTimeout returns the per-request timeout
func (t *TrelloConfig) GetTimeout() time.Duration {
	return durationOr(t.Timeout, defaultTrelloTimeout)
}

// GetPageSize returns the number of cards requested per page
func (t *TrelloConfig) GetPageSize() int {
	if t.PageSize == 0 {
		return defaultPageSize
	}
	return t.PageSize
}

// GetTimeout returns the soft deadline of one invocation
func (w *WorkerConfig) GetTimeout() time.Duration {
	return durationOr(w.Timeout, defaultWorkerTimeout)
}

// GetEmitTimeout returns how long the final signal may take once the deadline fired
func (w *WorkerConfig) GetEmitTimeout() time.Duration {
	return durationOr(w.EmitTimeout, defaultEmitTimeout)
}

// GetPath returns the artifact directory
func (a *ArtifactsConfig) GetPath() string {
	if a.Path == "" {
		return defaultArtifactsPath
	}
	return a.Path
}

// GetBatchSize returns the maximum number of items per artifact file
func (a *ArtifactsConfig) GetBatchSize() int {
	if a.BatchSize == 0 {
		return defaultBatchSize
	}
	return a.BatchSize
}

// GetMaxRetries returns how often a callback POST is retried
func (c *CallbackConfig) GetMaxRetries() int {
	if c.MaxRetries == 0 {
		return defaultCallbackRetries
	}
	return c.MaxRetries
}

// GetTimeout returns the per-attempt callback timeout
func (c *CallbackConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, defaultCallbackTimeout)
}

// durationOr assumes value was checked by validate
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
