// Package config loads and validates the application's configuration
// from a YAML file and environment variables via viper, the way the
// teacher's internal/config package does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Escalation EscalationConfig `mapstructure:"escalation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Adapters   AdaptersConfig   `mapstructure:"adapters"`
	Permission PermissionConfig `mapstructure:"permission"`
	Roles      []RoleEntry      `mapstructure:"roles"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// EscalationConfig tunes the scheduler.
type EscalationConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// StorageBackend selects the Alert Store implementation.
type StorageBackend string

const (
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// StorageConfig selects and configures the Alert Store backend.
type StorageConfig struct {
	Backend    StorageBackend `mapstructure:"backend"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig mirrors internal/store/postgres.Config's mapstructure shape.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ServerConfig holds HTTP server tuning.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// RedisConfig configures the shared dedup cache backend. Addr empty
// means "no redis configured"; adapters fall back to an in-process LRU.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdaptersConfig configures the three concrete adapters. Each has its
// own Enabled flag; at least one must be enabled.
type AdaptersConfig struct {
	Chat   ChatAdapterConfig   `mapstructure:"chat"`
	Paging PagingAdapterConfig `mapstructure:"paging"`
	Mail   MailAdapterConfig   `mapstructure:"mail"`
}

// ChatAdapterConfig configures the chat adapter's ordered room list and
// per-room outgoing webhook URLs.
type ChatAdapterConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Rooms       []string          `mapstructure:"rooms"`
	WebhookURLs map[string]string `mapstructure:"webhook_urls"`
}

// PagingLevel pairs one escalation tier's PagerDuty integration key with
// the severity it reports.
type PagingLevel struct {
	IntegrationKey  string `mapstructure:"integration_key"`
	PayloadSeverity string `mapstructure:"payload_severity"`
}

// PagingAdapterConfig configures the paging adapter.
type PagingAdapterConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	APIKey           string        `mapstructure:"api_key"`
	PayloadSource    string        `mapstructure:"payload_source"`
	OnlyOnEscalation bool          `mapstructure:"only_on_escalation"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`
	Levels           []PagingLevel `mapstructure:"levels"`
}

// MailAdapterConfig configures the mail adapter and its SMTP client.
type MailAdapterConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxImportAge time.Duration `mapstructure:"max_import_age"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
	SMTPHost     string        `mapstructure:"smtp_host"`
	SMTPPort     int           `mapstructure:"smtp_port"`
	SMTPUsername string        `mapstructure:"smtp_username"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	SMTPFrom     string        `mapstructure:"smtp_from"`
}

// PermissionMode selects one of the four authorisation modes.
type PermissionMode string

const (
	PermissionModeUsers           PermissionMode = "users"
	PermissionModeMinRole         PermissionMode = "min_role"
	PermissionModeRoles           PermissionMode = "roles"
	PermissionModeEscalationLevel PermissionMode = "escalation_level"
)

// PermissionConfig selects and parameterises the Permission Policy.
type PermissionConfig struct {
	Mode  PermissionMode `mapstructure:"mode"`
	Users []string       `mapstructure:"users"` // ModeUsers: chat-space user values
	Role  string         `mapstructure:"role"`  // ModeMinRole
	Roles []string       `mapstructure:"roles"` // ModeRoles
	Level uint           `mapstructure:"level"` // ModeEscalationLevel
}

// RoleEntry is one (role, users) pair, lowest rank first.
type RoleEntry struct {
	Role  string   `mapstructure:"role"`
	Users []string `mapstructure:"users"`
}

// LogConfig configures the slog handler and optional file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from the file at configPath (if
// non-empty) merged with environment variables, applying defaults
// first and validating last.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// AutomaticEnv only reaches keys viper already knows; bind the ones
	// without a default so they can also be set from the environment.
	for _, key := range []string{
		"storage.postgres.password", "redis.password", "adapters.chat.rooms",
		"adapters.paging.api_key", "adapters.paging.payload_source", "adapters.paging.only_on_escalation",
		"adapters.mail.addresses", "adapters.mail.smtp_host", "adapters.mail.smtp_username",
		"adapters.mail.smtp_password", "adapters.mail.smtp_from",
		"permission.users", "permission.role", "permission.roles", "permission.level", "log.filename",
	} {
		_ = viper.BindEnv(key)
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, with no config file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("escalation.interval", "5m")
	viper.SetDefault("escalation.tick_interval", "1s")

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlite_path", "/data/ack-escalation.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.database", "ack_escalation")
	viper.SetDefault("storage.postgres.user", "ack_escalation")
	viper.SetDefault("storage.postgres.ssl_mode", "disable")
	viper.SetDefault("storage.postgres.max_conns", 10)
	viper.SetDefault("storage.postgres.min_conns", 2)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("adapters.chat.enabled", false)
	viper.SetDefault("adapters.paging.enabled", false)
	viper.SetDefault("adapters.paging.poll_interval", "5s")
	viper.SetDefault("adapters.paging.dedup_ttl", "1h")
	viper.SetDefault("adapters.mail.enabled", false)
	viper.SetDefault("adapters.mail.poll_interval", "5s")
	viper.SetDefault("adapters.mail.max_import_age", "72h")
	viper.SetDefault("adapters.mail.dedup_ttl", "1h")
	viper.SetDefault("adapters.mail.smtp_port", 587)

	viper.SetDefault("permission.mode", "users")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}

// Validate checks invariants that setDefaults can't enforce on its own.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Escalation.Interval <= 0 {
		return fmt.Errorf("escalation.interval must be positive")
	}

	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendSQLite:
	case StorageBackendPostgres:
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres.host and database are required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if !c.Adapters.Chat.Enabled && !c.Adapters.Paging.Enabled && !c.Adapters.Mail.Enabled {
		return fmt.Errorf("at least one adapter must be enabled")
	}
	if c.Adapters.Chat.Enabled && len(c.Adapters.Chat.Rooms) == 0 {
		return fmt.Errorf("adapters.chat.rooms must be non-empty when the chat adapter is enabled")
	}
	if c.Adapters.Paging.Enabled && len(c.Adapters.Paging.Levels) == 0 {
		return fmt.Errorf("adapters.paging.levels must be non-empty when the paging adapter is enabled")
	}
	if c.Adapters.Mail.Enabled && len(c.Adapters.Mail.Addresses) == 0 {
		return fmt.Errorf("adapters.mail.addresses must be non-empty when the mail adapter is enabled")
	}

	switch c.Permission.Mode {
	case PermissionModeUsers:
		if len(c.Permission.Users) == 0 {
			return fmt.Errorf("permission.users must be non-empty for mode %q", c.Permission.Mode)
		}
	case PermissionModeMinRole:
		if c.Permission.Role == "" {
			return fmt.Errorf("permission.role is required for mode %q", c.Permission.Mode)
		}
	case PermissionModeRoles:
		if len(c.Permission.Roles) == 0 {
			return fmt.Errorf("permission.roles must be non-empty for mode %q", c.Permission.Mode)
		}
	case PermissionModeEscalationLevel:
	default:
		return fmt.Errorf("unknown permission.mode %q", c.Permission.Mode)
	}

	return nil
}
