package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/launchthat/openclaw-connector/agent/internal/secret"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	MinHeartbeatInterval     = 5 * time.Second
	MinSigningSecretLength   = 16
	DefaultQueueBackend      = BackendFile
	DefaultAPIKeyHeader      = "X-API-Key"
	DefaultIngestTokenEnv    = "LAUNCHTHAT_INGEST_TOKEN"
	DefaultSigningSecretEnv  = "LAUNCHTHAT_SIGNING_SECRET"

	// EnvPrefix is the prefix for environment overrides (LT_OPENCLAW_BASE_URL, ...).
	EnvPrefix = "LT_OPENCLAW"
)

// Queue backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the connector configuration. Fields map 1:1 to config.example.yaml.
// It is validated once and treated as immutable afterwards; only Log.Level
// is hot-reloaded.
type Config struct {
	// BaseURL is the absolute http(s) URL of the ingestion API.
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	WorkspaceID string `yaml:"workspace_id" mapstructure:"workspace_id"`
	InstanceID  string `yaml:"instance_id" mapstructure:"instance_id"`

	// IngestToken is sent as a bearer token. When empty it is resolved from
	// IngestTokenEnv, then IngestTokenFile.
	IngestToken     string `yaml:"ingest_token" mapstructure:"ingest_token"`
	IngestTokenEnv  string `yaml:"ingest_token_env" mapstructure:"ingest_token_env"`
	IngestTokenFile string `yaml:"ingest_token_file" mapstructure:"ingest_token_file"`

	// SigningSecret enables HMAC request signing. Optional; resolved like
	// IngestToken.
	SigningSecret     string `yaml:"signing_secret" mapstructure:"signing_secret"`
	SigningSecretEnv  string `yaml:"signing_secret_env" mapstructure:"signing_secret_env"`
	SigningSecretFile string `yaml:"signing_secret_file" mapstructure:"signing_secret_file"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`

	// RequestTimeout bounds a single HTTP attempt. Zero means no limit.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	Queue QueueConfig `yaml:"queue" mapstructure:"queue"`
	API   APIConfig   `yaml:"api" mapstructure:"api"`
	Inbox InboxConfig `yaml:"inbox" mapstructure:"inbox"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// QueueConfig controls queue durability.
type QueueConfig struct {
	// Persist disables the on-disk snapshot when false.
	Persist bool `yaml:"persist" mapstructure:"persist"`

	// Path is the snapshot location. A leading "~/" expands to the home dir.
	Path string `yaml:"path" mapstructure:"path"`

	// Backend is file | sqlite.
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// APIConfig configures the local producer API.
type APIConfig struct {
	// Listen is the host:port to serve on. Empty disables the API.
	Listen string     `yaml:"listen" mapstructure:"listen"`
	Auth   AuthConfig `yaml:"auth" mapstructure:"auth"`
}

// AuthConfig configures local API authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" mapstructure:"mode"`

	// Header is the HTTP header carrying the key.
	Header string `yaml:"header" mapstructure:"header"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env" mapstructure:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// InboxConfig configures the spool directory producer.
type InboxConfig struct {
	// Dir is watched for *.json event files. Empty disables the inbox.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is debug | info | warn | error.
	Level string `yaml:"level" mapstructure:"level"`

	// Format is json | text.
	Format string `yaml:"format" mapstructure:"format"`
}

// SlogLevel parses Level. An empty level is info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// ConfigurationError reports an invalid or missing configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DefaultQueuePath returns $HOME/.config/launchthat-openclaw/queue.json.
func DefaultQueuePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "launchthat-openclaw", "queue.json")
}

// Load reads the YAML config file at path, resolves secrets from the
// environment or files, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that fill in fields (for
// example from a prompt) before validating.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper instance reading path (if non-empty) and
// environment variables prefixed with EnvPrefix. Callers bind flags on it
// before passing it to FromViper.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{
		"base_url", "workspace_id", "instance_id",
		"ingest_token", "ingest_token_env", "ingest_token_file",
		"signing_secret", "signing_secret_env", "signing_secret_file",
		"heartbeat_interval", "request_timeout",
		"queue.persist", "queue.path", "queue.backend",
		"api.listen", "api.auth.mode", "api.auth.header", "api.auth.key_env",
		"inbox.dir", "log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// FromViper decodes v over the defaults and resolves secrets. It does not
// validate. A missing config file is not an error when v has no file set.
func FromViper(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		IngestTokenEnv:    DefaultIngestTokenEnv,
		SigningSecretEnv:  DefaultSigningSecretEnv,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Queue: QueueConfig{
			Persist: true,
			Path:    DefaultQueuePath(),
			Backend: DefaultQueueBackend,
		},
		API: APIConfig{
			Auth: AuthConfig{Mode: "none", Header: DefaultAPIKeyHeader},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// finish normalizes paths and resolves secrets that were not given directly.
func (c *Config) finish() error {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.Queue.Path = expandHome(c.Queue.Path)
	c.Inbox.Dir = expandHome(c.Inbox.Dir)

	token, err := secret.Resolve(secret.Source{
		Value: c.IngestToken,
		Env:   c.IngestTokenEnv,
		File:  c.IngestTokenFile,
	})
	if err != nil && !errors.Is(err, secret.ErrNotFound) {
		return fmt.Errorf("config: ingest_token: %w", err)
	}
	c.IngestToken = token

	sig, err := secret.Resolve(secret.Source{
		Value: c.SigningSecret,
		Env:   c.SigningSecretEnv,
		File:  c.SigningSecretFile,
	})
	if err != nil && !errors.Is(err, secret.ErrNotFound) {
		return fmt.Errorf("config: signing_secret: %w", err)
	}
	c.SigningSecret = sig
	return nil
}

// Validate checks required fields and structural constraints. Every failure
// is a *ConfigurationError.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigurationError{Field: "base_url", Reason: "is required"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigurationError{Field: "base_url", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", c.BaseURL)}
	}
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return &ConfigurationError{Field: "workspace_id", Reason: "is required"}
	}
	if strings.TrimSpace(c.InstanceID) == "" {
		return &ConfigurationError{Field: "instance_id", Reason: "is required"}
	}
	if c.IngestToken == "" {
		return &ConfigurationError{Field: "ingest_token", Reason: "is required"}
	}
	if c.SigningSecret != "" && len(c.SigningSecret) < MinSigningSecretLength {
		return &ConfigurationError{
			Field:  "signing_secret",
			Reason: fmt.Sprintf("must be at least %d characters", MinSigningSecretLength),
		}
	}
	if c.HeartbeatInterval < MinHeartbeatInterval {
		return &ConfigurationError{
			Field:  "heartbeat_interval",
			Reason: fmt.Sprintf("must be at least %s", MinHeartbeatInterval),
		}
	}
	if c.RequestTimeout < 0 {
		return &ConfigurationError{Field: "request_timeout", Reason: "must not be negative"}
	}

	switch c.Queue.Backend {
	case BackendFile, BackendSQLite:
	default:
		return &ConfigurationError{Field: "queue.backend", Reason: fmt.Sprintf("unknown backend %q", c.Queue.Backend)}
	}
	if c.Queue.Persist && c.Queue.Path == "" {
		return &ConfigurationError{Field: "queue.path", Reason: "is required when persistence is enabled"}
	}

	switch c.API.Auth.Mode {
	case "none", "":
	case "apikey":
		if c.API.Auth.KeyEnv == "" {
			return &ConfigurationError{Field: "api.auth.key_env", Reason: "is required for apikey mode"}
		}
		if c.API.Auth.Header == "" {
			return &ConfigurationError{Field: "api.auth.header", Reason: "is required for apikey mode"}
		}
	default:
		return &ConfigurationError{Field: "api.auth.mode", Reason: fmt.Sprintf("unknown auth mode %q", c.API.Auth.Mode)}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return &ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch c.Log.Format {
	case "json", "text", "":
	default:
		return &ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
