package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the onboarding sync engine
type Config struct {
	Onboarding OnboardingConfig `yaml:"onboarding"`
	Local      LocalConfig      `yaml:"local"`
	Remote     RemoteConfig     `yaml:"remote"`
	Upload     UploadConfig     `yaml:"upload"`
	Redis      RedisConfig      `yaml:"redis"`
	Review     ReviewConfig     `yaml:"review"`
	Sync       SyncConfig       `yaml:"sync"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Slack      SlackConfig      `yaml:"slack"`
}

// OnboardingConfig holds flow settings
type OnboardingConfig struct {
	TotalSteps int    `yaml:"total_steps" env:"ONBOARD_TOTAL_STEPS"`
	UserID     string `yaml:"user_id" env:"ONBOARD_USER_ID"` // Signed-in driver for CLI commands
}

// LocalConfig holds on-device store settings
type LocalConfig struct {
	Backend   string `yaml:"backend" env:"ONBOARD_LOCAL_BACKEND"` // "sqlite" (default) or "file"
	DataDir   string `yaml:"data_dir" env:"ONBOARD_DATA_DIR"`
	StateFile string `yaml:"state_file" env:"ONBOARD_STATE_FILE"` // Used when backend is "file"
}

// RemoteConfig holds remote document store settings
type RemoteConfig struct {
	Type               string `yaml:"type" env:"ONBOARD_REMOTE_TYPE"` // "postgres" or "memory"
	Host               string `yaml:"host" env:"ONBOARD_REMOTE_HOST"`
	Port               int    `yaml:"port" env:"ONBOARD_REMOTE_PORT"`
	Database           string `yaml:"database" env:"ONBOARD_REMOTE_DATABASE"`
	User               string `yaml:"user" env:"ONBOARD_REMOTE_USER"`
	Password           string `yaml:"password" env:"ONBOARD_REMOTE_PASSWORD"`
	SSLMode            string `yaml:"ssl_mode" env:"ONBOARD_REMOTE_SSL_MODE"` // disable, require, verify-ca, verify-full (default: require)
	MaxConns           int    `yaml:"max_conns" env:"ONBOARD_REMOTE_MAX_CONNS"`
	ProgressCollection string `yaml:"progress_collection"`
	StatusCollection   string `yaml:"status_collection"`
}

// UploadConfig holds blob storage and retry settings
type UploadConfig struct {
	BucketDir   string        `yaml:"bucket_dir" env:"ONBOARD_BUCKET_DIR"`
	BaseURL     string        `yaml:"base_url" env:"ONBOARD_BUCKET_BASE_URL"`
	MaxAttempts int           `yaml:"max_attempts" env:"ONBOARD_UPLOAD_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"ONBOARD_UPLOAD_BASE_DELAY"`
	MaxFileSize int64         `yaml:"max_file_size" env:"ONBOARD_UPLOAD_MAX_FILE_SIZE"` // Bytes, 0 = unlimited
}

// RedisConfig holds the upload progress mirror settings
type RedisConfig struct {
	URL string `yaml:"url" env:"ONBOARD_REDIS_URL"` // Empty disables the mirror
}

// ReviewConfig holds the submission publisher settings
type ReviewConfig struct {
	Brokers []string `yaml:"brokers" env:"ONBOARD_REVIEW_BROKERS" envSeparator:","` // Empty disables publishing
	Topic   string   `yaml:"topic" env:"ONBOARD_REVIEW_TOPIC"`
}

// SyncConfig holds background sync settings
type SyncConfig struct {
	Workers       int           `yaml:"workers" env:"ONBOARD_SYNC_WORKERS"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"ONBOARD_SYNC_PROBE_INTERVAL"`
}

// MetricsConfig holds the agent HTTP listener settings
type MetricsConfig struct {
	Listen string `yaml:"listen" env:"ONBOARD_METRICS_LISTEN"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"ONBOARD_SLACK_WEBHOOK_URL"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled" env:"ONBOARD_SLACK_ENABLED"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
	// SkipEnv disables ONBOARD_* environment overrides.
	SkipEnv bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return loadBytes(data, opts)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	return loadBytes(data, LoadOptions{})
}

// Default returns the configuration used when no config file exists:
// defaults plus environment overrides.
func Default() (*Config, error) {
	return loadBytes(nil, LoadOptions{})
}

func loadBytes(data []byte, opts LoadOptions) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand ${file:...}, ${env:...} and ${VAR} templates
	if err := cfg.expandTemplates(); err != nil {
		return nil, fmt.Errorf("expanding config: %w", err)
	}

	if !opts.SkipEnv {
		if err := env.Parse(&cfg); err != nil {
			return nil, fmt.Errorf("parsing environment: %w", err)
		}
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

var (
	templatePattern = regexp.MustCompile(`\$\{(?:(file|env):)?([^}]*)\}`)
	envNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// expandTemplateValue resolves ${file:path} (trimmed file contents),
// ${env:NAME} and ${NAME}. Malformed templates are left as literals.
func expandTemplateValue(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := templatePattern.FindStringSubmatch(m)
		kind, arg := sub[1], sub[2]
		if kind == "file" {
			if arg == "" {
				return m
			}
			data, err := os.ReadFile(expandTilde(arg))
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("reading secret file: %w", err)
				}
				return m
			}
			return strings.TrimSpace(string(data))
		}
		if !envNamePattern.MatchString(arg) {
			return m
		}
		return os.Getenv(arg)
	})
	return out, firstErr
}

func (c *Config) stringFields() []*string {
	return []*string{
		&c.Onboarding.UserID,
		&c.Local.Backend, &c.Local.DataDir, &c.Local.StateFile,
		&c.Remote.Type, &c.Remote.Host, &c.Remote.Database, &c.Remote.User,
		&c.Remote.Password, &c.Remote.SSLMode,
		&c.Remote.ProgressCollection, &c.Remote.StatusCollection,
		&c.Upload.BucketDir, &c.Upload.BaseURL,
		&c.Redis.URL,
		&c.Review.Topic,
		&c.Metrics.Listen,
		&c.Slack.WebhookURL, &c.Slack.Channel, &c.Slack.Username,
	}
}

func (c *Config) expandTemplates() error {
	var errs []error
	for _, field := range c.stringFields() {
		v, err := expandTemplateValue(*field)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*field = v
	}
	for i, broker := range c.Review.Brokers {
		v, err := expandTemplateValue(broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.Review.Brokers[i] = v
	}
	return errors.Join(errs...)
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".onboard-sync")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Onboarding.TotalSteps == 0 {
		c.Onboarding.TotalSteps = 8
	}

	// Local store defaults
	if c.Local.Backend == "" {
		c.Local.Backend = "sqlite"
	}
	if c.Local.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Local.DataDir = filepath.Join(home, ".onboard-sync")
	} else {
		c.Local.DataDir = expandTilde(c.Local.DataDir)
	}
	if c.Local.StateFile == "" {
		c.Local.StateFile = filepath.Join(c.Local.DataDir, "onboarding-state.yaml")
	} else {
		c.Local.StateFile = expandTilde(c.Local.StateFile)
	}

	// Remote defaults: without a host there is nothing to connect to
	if c.Remote.Type == "" {
		if c.Remote.Host != "" {
			c.Remote.Type = "postgres"
		} else {
			c.Remote.Type = "memory"
		}
	}
	if c.Remote.Port == 0 {
		c.Remote.Port = 5432
	}
	if c.Remote.SSLMode == "" {
		c.Remote.SSLMode = "require" // Secure default for PostgreSQL
	}
	if c.Remote.MaxConns == 0 {
		c.Remote.MaxConns = 4
	}
	if c.Remote.ProgressCollection == "" {
		c.Remote.ProgressCollection = "onboarding_progress"
	}
	if c.Remote.StatusCollection == "" {
		c.Remote.StatusCollection = "onboarding_status"
	}

	// Upload defaults
	if c.Upload.BucketDir == "" {
		c.Upload.BucketDir = filepath.Join(c.Local.DataDir, "bucket")
	} else {
		c.Upload.BucketDir = expandTilde(c.Upload.BucketDir)
	}
	if c.Upload.MaxAttempts == 0 {
		c.Upload.MaxAttempts = 3
	}
	if c.Upload.BaseDelay == 0 {
		c.Upload.BaseDelay = time.Second
	}
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 20 << 20 // 20 MiB
	}

	if c.Review.Topic == "" {
		c.Review.Topic = "onboarding.submissions"
	}

	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 30 * time.Second
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9464"
	}
}

func (c *Config) validate() error {
	if c.Onboarding.TotalSteps < 1 {
		return fmt.Errorf("onboarding.total_steps must be positive, got %d", c.Onboarding.TotalSteps)
	}

	if c.Local.Backend != "sqlite" && c.Local.Backend != "file" {
		return fmt.Errorf("local.backend must be 'sqlite' or 'file', got '%s'", c.Local.Backend)
	}

	switch c.Remote.Type {
	case "memory":
	case "postgres":
		if c.Remote.Host == "" {
			return fmt.Errorf("remote.host is required")
		}
		if c.Remote.Database == "" {
			return fmt.Errorf("remote.database is required")
		}
	default:
		return fmt.Errorf("remote.type must be 'postgres' or 'memory', got '%s'", c.Remote.Type)
	}

	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1")
	}
	if c.Upload.BaseDelay < 0 {
		return fmt.Errorf("upload.base_delay must not be negative")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.ProbeInterval < time.Second {
		return fmt.Errorf("sync.probe_interval must be at least 1s")
	}
	return nil
}

// RemoteDSN returns the remote store connection string
func (c *Config) RemoteDSN() string {
	return c.buildPostgresDSN(c.Remote.Host, c.Remote.Port, c.Remote.Database,
		c.Remote.User, c.Remote.Password, c.Remote.SSLMode)
}

// buildPostgresDSN builds a PostgreSQL URL with escaped credentials and database
func (c *Config) buildPostgresDSN(host string, port int, database, user, password, sslMode string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	// Redact remote credentials
	sanitized.Remote.Password = "[REDACTED]"

	// Redact Redis URL (may carry a password)
	if sanitized.Redis.URL != "" {
		sanitized.Redis.URL = "[REDACTED]"
	}

	// Redact Slack webhook
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	sanitized.Review.Brokers = append([]string(nil), c.Review.Brokers...)

	return &sanitized
}
