// Package config loads the YAML configuration of the mssqlpool CLI.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisenkom/go-mssqldb/azuread"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/mssqlpool/pkg/audit"
	"github.com/ruslano69/mssqlpool/pkg/pool"
	"github.com/ruslano69/mssqlpool/pkg/resilience"
	"github.com/ruslano69/mssqlpool/pkg/resultlog"
	"github.com/ruslano69/mssqlpool/pkg/retry"
	"github.com/ruslano69/mssqlpool/pkg/security"
)

// PasswordEnv overrides an empty database.password.
const PasswordEnv = "MSSQLPOOL_PASSWORD"

// Session modes.
const (
	ModePooled    = "pooled"
	ModeDedicated = "dedicated"
)

// Config is the top-level configuration structure.
type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Pool     PoolConfig        `yaml:"pool"`
	Mode     string            `yaml:"mode"` // pooled | dedicated
	ReadOnly bool              `yaml:"read_only"`
	Mask     map[string]string `yaml:"mask"` // column -> partial | middle | stars | first2_last2
	Logging  LoggingConfig     `yaml:"logging"`
	Audit    AuditConfig       `yaml:"audit"`
	Redis    RedisConfig       `yaml:"redis"`
	Breaker  resilience.Config `yaml:"breaker"`
	Retry    retry.Config      `yaml:"retry"` // dial retries inside the pool
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// DatabaseConfig describes the SQL Server endpoint. DSN, when set, wins over
// the individual fields.
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"` // override via MSSQLPOOL_PASSWORD
	WindowsAuth bool   `yaml:"windows_auth"`
	AppName     string `yaml:"app_name"`
	DSN         string `yaml:"dsn"`

	// TLS
	Encrypt                string `yaml:"encrypt"` // disable | false | true
	TrustServerCertificate bool   `yaml:"trust_server_certificate"`
	CACertificate          string `yaml:"ca_certificate"` // PEM file with the server CA
	HostNameInCertificate  string `yaml:"host_name_in_certificate"`

	// Azure AD. FedAuth is one of the go-mssqldb azuread workflows
	// (ActiveDirectoryDefault, ActiveDirectoryPassword, ActiveDirectoryMSI, ...).
	FedAuth             string `yaml:"fedauth"`
	ApplicationClientID string `yaml:"application_client_id"`
}

// PoolConfig starts from a named preset; any field given explicitly
// overrides the preset value.
type PoolConfig struct {
	Preset            string         `yaml:"preset"`
	Name              string         `yaml:"name"`
	MaxSize           *int           `yaml:"max_size"`
	MinIdle           *int           `yaml:"min_idle"`
	MaxLifetime       *time.Duration `yaml:"max_lifetime"`
	IdleTimeout       *time.Duration `yaml:"idle_timeout"`
	ConnectionTimeout *time.Duration `yaml:"connection_timeout"`
	MaxWaiters        *int           `yaml:"max_waiters"`
	ReapInterval      *time.Duration `yaml:"reap_interval"`
	TestOnCheckout    *bool          `yaml:"test_on_checkout"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// AuditConfig controls the statement audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	File       string `yaml:"file"`
	MaxSizeMB  int64  `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	JSON       bool   `yaml:"json"`
	Level      string `yaml:"level"` // minimal | standard | full
	Table      string `yaml:"table"` // empty = no SQL appender
	BatchSize  int    `yaml:"batch_size"`
}

// RedisConfig is the resultlog connection plus CLI-only knobs.
type RedisConfig struct {
	resultlog.Config `yaml:",inline"`

	// Dev starts an in-process miniredis instead of dialing Addr.
	Dev bool `yaml:"dev"`

	StatsInterval time.Duration `yaml:"stats_interval"`
}

// MetricsConfig controls the HTTP listener for /metrics, /stats and /healthz.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty = disabled
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 1433
	cfg.Database.AppName = "mssqlpool"
	cfg.Pool.Preset = "default"
	cfg.Mode = ModePooled
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 5
	cfg.Audit.Level = "standard"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 3600
	cfg.Redis.StatsInterval = resultlog.DefaultStatsInterval
	cfg.Breaker = resilience.DefaultConfig("")
	cfg.Breaker.Enabled = false
	cfg.Retry = retry.DefaultConfig()
	return cfg
}

// Load reads and validates the YAML config at path, applying defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills values the file left empty from the environment.
func (c *Config) ApplyEnv() {
	// password: config file takes precedence; env var is the fallback
	if c.Database.Password == "" {
		c.Database.Password = os.Getenv(PasswordEnv)
	}
}

// Validate checks field combinations that cannot work.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port %d out of range", c.Database.Port)
		}
		if !c.Database.WindowsAuth && c.Database.FedAuth == "" && c.Database.User == "" {
			return fmt.Errorf("database.user is required unless windows_auth or fedauth is set")
		}
		if err := c.Database.validateAuth(); err != nil {
			return err
		}
	}

	switch c.Mode {
	case ModePooled, ModeDedicated:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModePooled, ModeDedicated, c.Mode)
	}

	if _, err := c.Pool.Build(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if c.Audit.Enabled {
		if c.Audit.File == "" && c.Audit.Table == "" {
			return fmt.Errorf("audit: file or table is required when enabled")
		}
		if _, err := audit.ParseLevel(c.Audit.Level); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}

	if _, err := security.NewFieldMasker(c.Mask); err != nil {
		return fmt.Errorf("mask: %w", err)
	}

	if c.Redis.Enabled && !c.Redis.Dev && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Breaker.Enabled {
		if err := c.Breaker.Validate(); err != nil {
			return fmt.Errorf("breaker: %w", err)
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// fedAuthWorkflows lists the workflows accepted by azuread.NewConnector.
var fedAuthWorkflows = []string{
	azuread.ActiveDirectoryDefault,
	azuread.ActiveDirectoryIntegrated,
	azuread.ActiveDirectoryPassword,
	azuread.ActiveDirectoryInteractive,
	azuread.ActiveDirectoryMSI,
	azuread.ActiveDirectoryManagedIdentity,
	azuread.ActiveDirectoryApplication,
	azuread.ActiveDirectoryServicePrincipal,
	azuread.ActiveDirectoryServicePrincipalAccessToken,
}

func (d DatabaseConfig) validateAuth() error {
	if d.FedAuth == "" {
		return nil
	}
	if d.WindowsAuth {
		return fmt.Errorf("database: windows_auth and fedauth are mutually exclusive")
	}
	for _, w := range fedAuthWorkflows {
		if strings.EqualFold(d.FedAuth, w) {
			return nil
		}
	}
	return fmt.Errorf("database.fedauth %q is not one of %s", d.FedAuth, strings.Join(fedAuthWorkflows, ", "))
}

// Build resolves the preset and applies the explicit overrides.
func (p PoolConfig) Build() (pool.Config, error) {
	preset := p.Preset
	if preset == "" {
		preset = "default"
	}
	cfg, err := pool.Preset(preset)
	if err != nil {
		return pool.Config{}, fmt.Errorf("pool: %w", err)
	}

	if p.Name != "" {
		cfg.Name = p.Name
	}
	setInt(&cfg.MaxSize, p.MaxSize)
	setInt(&cfg.MinIdle, p.MinIdle)
	setInt(&cfg.MaxWaiters, p.MaxWaiters)
	setDuration(&cfg.MaxLifetime, p.MaxLifetime)
	setDuration(&cfg.IdleTimeout, p.IdleTimeout)
	setDuration(&cfg.ConnectionTimeout, p.ConnectionTimeout)
	setDuration(&cfg.ReapInterval, p.ReapInterval)
	if p.TestOnCheckout != nil {
		cfg.TestOnCheckout = *p.TestOnCheckout
	}

	if err := cfg.Validate(); err != nil {
		return pool.Config{}, fmt.Errorf("pool: %w", err)
	}
	return cfg, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

// BuildDSN returns the go-mssqldb URL for the database section.
func (d DatabaseConfig) BuildDSN() string {
	if d.DSN != "" {
		return d.DSN
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
	}
	// managed identity and default credentials need no user
	if !d.WindowsAuth && (d.FedAuth == "" || d.User != "") {
		u.User = url.UserPassword(d.User, d.Password)
	}

	q := url.Values{}
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	if d.Encrypt != "" {
		q.Set("encrypt", d.Encrypt)
	}
	if d.AppName != "" {
		q.Set("app name", d.AppName)
	}
	if d.WindowsAuth {
		q.Set("integrated security", "SSPI")
	}
	if d.TrustServerCertificate {
		q.Set("trustservercertificate", "true")
	}
	if d.CACertificate != "" {
		q.Set("certificate", d.CACertificate)
	}
	if d.HostNameInCertificate != "" {
		q.Set("hostnameincertificate", d.HostNameInCertificate)
	}
	if d.FedAuth != "" {
		q.Set("fedauth", d.FedAuth)
	}
	if d.ApplicationClientID != "" {
		q.Set("applicationclientid", d.ApplicationClientID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the DSN with the password masked, for logs.
func (d DatabaseConfig) Redacted() string {
	dsn := d.BuildDSN()
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	return u.Redacted()
}
