package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the modforge platform.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                     // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Platform control-plane database (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing control-plane migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// ERP instance the platform introspects and deploys to
	ERP ERPConfig `yaml:"erp"`

	// Tenant database pool management configuration
	TenantPools TenantPoolConfig `yaml:"tenant_pools"`

	// Redis for distributed deployment locks (optional)
	Redis RedisConfig `yaml:"redis"`

	// Scheduled discovery refresh (optional)
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Deployment pipeline settings
	Deploy DeployConfig `yaml:"deploy"`

	// ArtifactDir is where packaged module archives are written.
	ArtifactDir string `yaml:"artifact_dir" env:"ARTIFACT_DIR" env-default:"artifacts"`

	// Credential encryption key for stored secrets (tenant database passwords,
	// ERP credentials). Must be a 32-byte key, base64 encoded.
	// Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	PlatformCredentialsKey string `yaml:"-" env:"PLATFORM_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"forge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"forge_platform"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ERPConfig holds the connection settings for the managed ERP instance.
type ERPConfig struct {
	// Adapter selects the registered transport implementation.
	Adapter string `yaml:"adapter" env:"ERP_ADAPTER" env-default:"jsonrpc"`
	// Endpoint is the base URL of the ERP RPC endpoint.
	Endpoint string `yaml:"endpoint" env:"ERP_ENDPOINT" env-default:""`
	// Database is the ERP database name used during authentication.
	Database string `yaml:"database" env:"ERP_DATABASE" env-default:""`
	Login    string `yaml:"login" env:"ERP_LOGIN" env-default:""`
	Password string `yaml:"-" env:"ERP_PASSWORD"` // Secret - not in YAML
	// AddonsPath is the directory module archives are unpacked into before
	// the ERP's module list is refreshed. Must be reachable from this host.
	AddonsPath string `yaml:"addons_path" env:"ERP_ADDONS_PATH" env-default:""`
	// RPCTimeoutSeconds bounds each individual RPC call.
	RPCTimeoutSeconds int `yaml:"rpc_timeout_seconds" env:"ERP_RPC_TIMEOUT_SECONDS" env-default:"30"`
	// PageSize is the batch size for paged model/field listings.
	PageSize int `yaml:"page_size" env:"ERP_PAGE_SIZE" env-default:"200"`
	// ModelPrefix scopes model discovery to one technical-name namespace,
	// e.g. "rental.". Empty discovers every non-transient model.
	ModelPrefix string `yaml:"model_prefix" env:"ERP_MODEL_PREFIX" env-default:""`
}

// IsAvailable returns true if an ERP endpoint is configured.
func (c *ERPConfig) IsAvailable() bool {
	return c.Endpoint != ""
}

// TenantPoolConfig holds tenant database pool management settings.
type TenantPoolConfig struct {
	// ConnectionTTLMinutes is how long idle tenant pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"TENANT_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxPools limits the number of concurrently open tenant pools.
	MaxPools int `yaml:"max_pools" env:"TENANT_MAX_POOLS" env-default:"50"`
	// PoolMaxConns is the maximum number of connections per tenant pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"TENANT_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per tenant pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"TENANT_POOL_MIN_CONNS" env-default:"1"`
}

// RedisConfig holds Redis connection settings for distributed deployment
// locks. Leave Host empty to fall back to in-process locks.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// IsAvailable returns true if Redis is configured.
func (c *RedisConfig) IsAvailable() bool {
	return c.Host != ""
}

// SchedulerConfig holds scheduled discovery refresh settings.
type SchedulerConfig struct {
	// RefreshSchedulesStr maps domains to cron expressions.
	// Format: "domain1=cron expr;domain2=cron expr" (cron expressions may
	// contain commas, so pairs are separated with semicolons).
	RefreshSchedulesStr string `yaml:"refresh_schedules" env:"DISCOVERY_REFRESH_SCHEDULES" env-default:""`

	// RefreshSchedules is the parsed map from RefreshSchedulesStr (not from config file).
	RefreshSchedules map[string]string `yaml:"-"`
}

// IsAvailable returns true if at least one refresh schedule is configured.
func (c *SchedulerConfig) IsAvailable() bool {
	return len(c.RefreshSchedules) > 0
}

// DeployConfig holds deployment pipeline settings.
type DeployConfig struct {
	// TimeoutSeconds is the default per-deployment timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"DEPLOY_TIMEOUT_SECONDS" env-default:"300"`
	// LockTTLSeconds bounds how long a deployment lock may be held.
	LockTTLSeconds int `yaml:"lock_ttl_seconds" env:"DEPLOY_LOCK_TTL_SECONDS" env-default:"600"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, ERP_PASSWORD,
// PLATFORM_CREDENTIALS_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Parse complex fields
	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	schedules, err := parseRefreshSchedules(c.Scheduler.RefreshSchedulesStr)
	if err != nil {
		return err
	}
	c.Scheduler.RefreshSchedules = schedules
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseRefreshSchedules parses the refresh schedules string into a map.
// Format: "domain1=cron expr;domain2=cron expr"
func parseRefreshSchedules(value string) (map[string]string, error) {
	schedules := make(map[string]string)
	if value == "" {
		return schedules, nil
	}

	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid refresh schedule entry %q (want domain=cron expression)", pair)
		}
		schedules[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return schedules, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
