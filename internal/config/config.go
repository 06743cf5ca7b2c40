package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Forms    FormsConfig    `mapstructure:"forms"`
	Identity IdentityConfig `mapstructure:"identity"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// WorkflowConfig holds engine and reconciler configuration
type WorkflowConfig struct {
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchLimit int           `mapstructure:"reconcile_batch_limit"`
	IntentBufferSize    int           `mapstructure:"intent_buffer_size"`
}

// FormsConfig holds form schema configuration
type FormsConfig struct {
	SchemaDir string `mapstructure:"schema_dir"`
}

// IdentityConfig holds the role directory configuration
type IdentityConfig struct {
	RolesFile string `mapstructure:"roles_file"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "data/portal.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("workflow.reconcile_interval", 5*time.Minute)
	viper.SetDefault("workflow.reconcile_batch_limit", 100)
	viper.SetDefault("workflow.intent_buffer_size", 256)

	viper.SetDefault("forms.schema_dir", "configs/schemas")
	viper.SetDefault("identity.roles_file", "configs/roles.json")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("server.port", "PORTAL_SERVER_PORT")
	viper.BindEnv("database.path", "PORTAL_DB_PATH")
	viper.BindEnv("identity.roles_file", "PORTAL_ROLES_FILE")
	viper.BindEnv("logger.level", "PORTAL_LOG_LEVEL")
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Workflow.ReconcileInterval < time.Second {
		return fmt.Errorf("reconcile interval must be at least 1s")
	}
	if c.Workflow.ReconcileBatchLimit <= 0 {
		return fmt.Errorf("reconcile batch limit must be positive")
	}
	return nil
}
