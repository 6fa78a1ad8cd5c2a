// Package config provides configuration loading and validation for the pattern catalog server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-pattern-catalog/internal/telemetry"
)

// EnvPrefix is the prefix of every environment variable read by the server
const EnvPrefix = "THV_PATTERN"

// DatabasePasswordEnv holds the database password when no passwordFile is configured
const DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

const (
	// StorageTypeMemory keeps everything in process memory
	StorageTypeMemory = "memory"
	// StorageTypeDatabase persists to PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// BuildSystemTypeHTTP talks to a remote build system over HTTP
	BuildSystemTypeHTTP = "http"
	// BuildSystemTypeLocal provisions bare git repositories on the local disk
	BuildSystemTypeLocal = "local"
)

const (
	defaultMaxProvisionAttempts = 3
	defaultInitialBackoff       = 2 * time.Second
	defaultMaxBackoff           = 30 * time.Second
	defaultPollInterval         = time.Minute
	defaultBuildSystemTimeout   = 30 * time.Second
	defaultMaxSkew              = 5 * time.Minute
	defaultMaxWait              = 30 * time.Minute
	defaultSSLMode              = "require"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Storage selects the store: "memory" (default) or "database"
	Storage      string              `yaml:"storage,omitempty"`
	Database     *DatabaseConfig     `yaml:"database,omitempty"`
	BuildSystem  BuildSystemConfig   `yaml:"buildSystem"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Signals      *SignalsConfig      `yaml:"signals,omitempty"`
	Telemetry    *telemetry.Config   `yaml:"telemetry,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PasswordFile contains only the password, trailing whitespace is trimmed.
	// Without it the password is read from THV_PATTERN_DATABASE_PASSWORD.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database string `yaml:"database"`

	// SSLMode is one of disable, require, verify-ca, verify-full. Defaults to require.
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxOpenConns    int32  `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns    int32  `yaml:"maxIdleConns,omitempty"`
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// MigrateOnStart applies pending migrations before serving
	MigrateOnStart bool `yaml:"migrateOnStart,omitempty"`

	// DynamicAuth replaces the static password with short-lived credentials
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`
}

// DynamicAuthConfig selects how per-connection database credentials are obtained
type DynamicAuthConfig struct {
	AWSRDSIAM *DynamicAuthAWSRDSIAM `yaml:"awsRdsIam,omitempty"`
}

// DynamicAuthAWSRDSIAM authenticates with IAM tokens issued to the workload's AWS role
type DynamicAuthAWSRDSIAM struct {
	// Region of the database; "detect" reads it from the instance metadata service
	Region string `yaml:"region"`
}

// BuildSystemConfig selects and configures the build system driver
type BuildSystemConfig struct {
	// Type is "http" or "local"
	Type string `yaml:"type"`

	// Endpoint is the base URL of the remote build system (http only)
	Endpoint string `yaml:"endpoint,omitempty"`

	// Timeout bounds each request to the build system (http only)
	Timeout string `yaml:"timeout,omitempty"`

	// CallbackURL is the externally reachable base URL of this server, sent with
	// each pipeline request so the build system can deliver signals (http only)
	CallbackURL string `yaml:"callbackUrl,omitempty"`

	// RepositoryDir holds the bare repositories of the local driver
	RepositoryDir string `yaml:"repositoryDir,omitempty"`

	// RepositoryAuth is used by the local driver when a repositoryRef is a remote URL
	RepositoryAuth *RepositoryAuthConfig `yaml:"repositoryAuth,omitempty"`
}

// RepositoryAuthConfig holds HTTP basic credentials for remote git repositories
type RepositoryAuthConfig struct {
	Username string `yaml:"username"`

	// PasswordFile contains only the password or token, trailing whitespace is trimmed
	PasswordFile string `yaml:"passwordFile"`
}

// OrchestratorConfig tunes the pipeline orchestrator
type OrchestratorConfig struct {
	MaxProvisionAttempts int    `yaml:"maxProvisionAttempts,omitempty"`
	InitialBackoff       string `yaml:"initialBackoff,omitempty"`
	MaxBackoff           string `yaml:"maxBackoff,omitempty"`

	// PollInterval is how long a run may go without a signal before the build system is polled
	PollInterval string `yaml:"pollInterval,omitempty"`

	// MaxDeleteWait bounds the wait parameter of DELETE /v1/patterns/{id}
	MaxDeleteWait string `yaml:"maxDeleteWait,omitempty"`
}

// SignalsConfig controls verification of pipeline-signal callbacks
type SignalsConfig struct {
	// WebhookSecret enables HMAC-SHA256 signature checks when set
	WebhookSecret string `yaml:"webhookSecret,omitempty"`

	// WebhookSecretFile is read when WebhookSecret is empty
	WebhookSecretFile string `yaml:"webhookSecretFile,omitempty"`

	// MaxSkew is how far the signed timestamp may be from server time
	MaxSkew string `yaml:"maxSkew,omitempty"`
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

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// GetStorageType returns the configured storage, memory when unset
func (c *Config) GetStorageType() string {
	if c.Storage == "" {
		return StorageTypeMemory
	}
	return c.Storage
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	switch c.GetStorageType() {
	case StorageTypeMemory:
	case StorageTypeDatabase:
		if c.Database == nil {
			errs = append(errs, fmt.Errorf("database configuration is required for storage %q", StorageTypeDatabase))
		} else if err := c.Database.validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StorageTypeMemory, StorageTypeDatabase, c.Storage))
	}

	if err := c.BuildSystem.validate(); err != nil {
		errs = append(errs, fmt.Errorf("buildSystem: %w", err))
	}
	if err := c.Orchestrator.validate(); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator: %w", err))
	}
	if err := c.Signals.validate(); err != nil {
		errs = append(errs, fmt.Errorf("signals: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("host is required")
	case d.Port <= 0 || d.Port > 65535:
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	case d.User == "":
		return fmt.Errorf("user is required")
	case d.Database == "":
		return fmt.Errorf("database is required")
	}
	switch d.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("unknown sslMode %q", d.SSLMode)
	}
	if _, err := optionalDuration(d.ConnMaxLifetime, 0); err != nil {
		return fmt.Errorf("connMaxLifetime: %w", err)
	}
	if d.DynamicAuth != nil {
		if d.PasswordFile != "" {
			return fmt.Errorf("passwordFile cannot be combined with dynamicAuth")
		}
		if d.DynamicAuth.AWSRDSIAM == nil {
			return fmt.Errorf("dynamicAuth requires awsRdsIam")
		}
		if d.DynamicAuth.AWSRDSIAM.Region == "" {
			return fmt.Errorf("dynamicAuth.awsRdsIam.region is required")
		}
	}
	return nil
}

// GetPassword returns the password from PasswordFile, or from THV_PATTERN_DATABASE_PASSWORD
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if password := os.Getenv(DatabasePasswordEnv); password != "" {
		return password, nil
	}
	return "", fmt.Errorf("no database password configured: set passwordFile or %s", DatabasePasswordEnv)
}

// GetConnectionString builds a postgres:// URL with the password escaped. With
// dynamic auth the URL carries no password; it is supplied for each connection.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	if d.DynamicAuth != nil {
		return d.BuildConnectionStringWithAuth(""), nil
	}
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionStringWithAuth(password), nil
}

// BuildConnectionStringWithAuth builds a postgres:// URL for User with the given
// password, or without one when it is empty
func (d *DatabaseConfig) BuildConnectionStringWithAuth(password string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	user := url.User(d.User)
	if password != "" {
		user = url.UserPassword(d.User, password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

// GetConnMaxLifetime returns the connection lifetime, zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	v, _ := optionalDuration(d.ConnMaxLifetime, 0)
	return v
}

func (b *BuildSystemConfig) validate() error {
	switch b.Type {
	case BuildSystemTypeHTTP:
		if b.Endpoint == "" {
			return fmt.Errorf("endpoint is required for type %q", BuildSystemTypeHTTP)
		}
		u, err := url.Parse(b.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint must be an http(s) URL, got %q", b.Endpoint)
		}
		if _, err := positiveDuration(b.Timeout, defaultBuildSystemTimeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		if b.CallbackURL != "" {
			if cb, err := url.Parse(b.CallbackURL); err != nil || cb.Host == "" {
				return fmt.Errorf("callbackUrl must be an absolute URL, got %q", b.CallbackURL)
			}
		}
	case BuildSystemTypeLocal:
		if b.RepositoryDir == "" {
			return fmt.Errorf("repositoryDir is required for type %q", BuildSystemTypeLocal)
		}
		if a := b.RepositoryAuth; a != nil && (a.Username == "" || a.PasswordFile == "") {
			return fmt.Errorf("repositoryAuth requires username and passwordFile")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("type must be %q or %q, got %q", BuildSystemTypeHTTP, BuildSystemTypeLocal, b.Type)
	}
	return nil
}

// GetRepositoryAuth returns the username and password for remote repositories,
// empty when none are configured
func (b *BuildSystemConfig) GetRepositoryAuth() (username, password string, err error) {
	if b.RepositoryAuth == nil {
		return "", "", nil
	}
	data, err := os.ReadFile(filepath.Clean(b.RepositoryAuth.PasswordFile))
	if err != nil {
		return "", "", fmt.Errorf("failed to read repository password from file %s: %w", b.RepositoryAuth.PasswordFile, err)
	}
	return b.RepositoryAuth.Username, strings.TrimSpace(string(data)), nil
}

// GetTimeout returns the per-request timeout of the HTTP driver
func (b *BuildSystemConfig) GetTimeout() time.Duration {
	v, _ := positiveDuration(b.Timeout, defaultBuildSystemTimeout)
	return v
}

func (o *OrchestratorConfig) validate() error {
	if o == nil {
		return nil
	}
	if o.MaxProvisionAttempts < 0 {
		return fmt.Errorf("maxProvisionAttempts must not be negative, got %d", o.MaxProvisionAttempts)
	}
	initial, err := positiveDuration(o.InitialBackoff, defaultInitialBackoff)
	if err != nil {
		return fmt.Errorf("initialBackoff: %w", err)
	}
	maxBackoff, err := positiveDuration(o.MaxBackoff, defaultMaxBackoff)
	if err != nil {
		return fmt.Errorf("maxBackoff: %w", err)
	}
	if maxBackoff < initial {
		return fmt.Errorf("maxBackoff %s is shorter than initialBackoff %s", maxBackoff, initial)
	}
	if _, err := positiveDuration(o.PollInterval, defaultPollInterval); err != nil {
		return fmt.Errorf("pollInterval: %w", err)
	}
	if _, err := positiveDuration(o.MaxDeleteWait, defaultMaxWait); err != nil {
		return fmt.Errorf("maxDeleteWait: %w", err)
	}
	return nil
}

// GetMaxProvisionAttempts returns the provisioning attempt bound
func (o *OrchestratorConfig) GetMaxProvisionAttempts() int {
	if o == nil || o.MaxProvisionAttempts == 0 {
		return defaultMaxProvisionAttempts
	}
	return o.MaxProvisionAttempts
}

// GetBackoff returns the initial and maximum provisioning retry delays
func (o *OrchestratorConfig) GetBackoff() (initial, maxBackoff time.Duration) {
	if o == nil {
		return defaultInitialBackoff, defaultMaxBackoff
	}
	initial, _ = positiveDuration(o.InitialBackoff, defaultInitialBackoff)
	maxBackoff, _ = positiveDuration(o.MaxBackoff, defaultMaxBackoff)
	return initial, maxBackoff
}

// GetPollInterval returns the status poll interval
func (o *OrchestratorConfig) GetPollInterval() time.Duration {
	if o == nil {
		return defaultPollInterval
	}
	v, _ := positiveDuration(o.PollInterval, defaultPollInterval)
	return v
}

// GetMaxDeleteWait returns the bound of the DELETE wait parameter
func (o *OrchestratorConfig) GetMaxDeleteWait() time.Duration {
	if o == nil {
		return defaultMaxWait
	}
	v, _ := positiveDuration(o.MaxDeleteWait, defaultMaxWait)
	return v
}

func (s *SignalsConfig) validate() error {
	if s == nil {
		return nil
	}
	if s.WebhookSecret != "" && s.WebhookSecretFile != "" {
		return fmt.Errorf("only one of webhookSecret and webhookSecretFile may be set")
	}
	if _, err := positiveDuration(s.MaxSkew, defaultMaxSkew); err != nil {
		return fmt.Errorf("maxSkew: %w", err)
	}
	return nil
}

// GetWebhookSecret returns the signing secret, empty when signatures are not checked
func (s *SignalsConfig) GetWebhookSecret() (string, error) {
	if s == nil {
		return "", nil
	}
	if s.WebhookSecret != "" || s.WebhookSecretFile == "" {
		return s.WebhookSecret, nil
	}
	data, err := os.ReadFile(filepath.Clean(s.WebhookSecretFile))
	if err != nil {
		return "", fmt.Errorf("failed to read webhook secret from %s: %w", s.WebhookSecretFile, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("webhook secret file %s is empty", s.WebhookSecretFile)
	}
	return secret, nil
}

// GetMaxSkew returns the accepted signature timestamp skew
func (s *SignalsConfig) GetMaxSkew() time.Duration {
	if s == nil {
		return defaultMaxSkew
	}
	v, _ := positiveDuration(s.MaxSkew, defaultMaxSkew)
	return v
}

func positiveDuration(raw string, fallback time.Duration) (time.Duration, error) {
	d, err := optionalDuration(raw, fallback)
	if err != nil {
		return fallback, err
	}
	if d <= 0 {
		return fallback, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

func optionalDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("must be a valid duration (e.g. '30s', '5m'): %w", err)
	}
	return d, nil
}
