package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Hub       HubConfig
	Registry  RegistryConfig
	Updates   UpdatesConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Queue     QueueConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the job broker configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// HubConfig holds agent connection settings
type HubConfig struct {
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
}

// RegistryConfig holds container registry polling settings
type RegistryConfig struct {
	RequestTimeout time.Duration
	BatchSize      int
	BatchDelay     time.Duration
	DefaultHost    string
}

// UpdatesConfig holds agent update negotiation settings
type UpdatesConfig struct {
	ReleaseFeedURL  string
	RequestTimeout  time.Duration
	RefreshInterval time.Duration
	DownloadURL     string
	VersionFile     string
}

// WorkerConfig holds queue worker configuration
type WorkerConfig struct {
	PollTimeout time.Duration
}

// SchedulerConfig holds recurring automation cadences
type SchedulerConfig struct {
	ImagePollEvery      time.Duration
	ImagePollAnchor     time.Duration
	CleanupEvery        time.Duration
	CleanupAnchor       time.Duration
	UpdateCheckFallback time.Duration
}

// QueueConfig holds queue-level retry and retention policies
type QueueConfig struct {
	MaxAttempts int
	Retention   int
	BackoffBase time.Duration
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars only
	}

	// Override with environment variables
	viper.AutomaticEnv()

	config := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
			LogLevel:     viper.GetString("server.log_level"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Hub: HubConfig{
			HeartbeatTimeout: viper.GetDuration("hub.heartbeat_timeout"),
			WriteTimeout:     viper.GetDuration("hub.write_timeout"),
		},
		Registry: RegistryConfig{
			RequestTimeout: viper.GetDuration("registry.request_timeout"),
			BatchSize:      viper.GetInt("registry.batch_size"),
			BatchDelay:     viper.GetDuration("registry.batch_delay"),
			DefaultHost:    viper.GetString("registry.default_host"),
		},
		Updates: UpdatesConfig{
			ReleaseFeedURL:  viper.GetString("updates.release_feed_url"),
			RequestTimeout:  viper.GetDuration("updates.request_timeout"),
			RefreshInterval: viper.GetDuration("updates.refresh_interval"),
			DownloadURL:     viper.GetString("updates.download_url"),
			VersionFile:     viper.GetString("updates.version_file"),
		},
		Worker: WorkerConfig{
			PollTimeout: viper.GetDuration("worker.poll_timeout"),
		},
		Scheduler: SchedulerConfig{
			ImagePollEvery:      viper.GetDuration("scheduler.image_poll_every"),
			ImagePollAnchor:     viper.GetDuration("scheduler.image_poll_anchor"),
			CleanupEvery:        viper.GetDuration("scheduler.cleanup_every"),
			CleanupAnchor:       viper.GetDuration("scheduler.cleanup_anchor"),
			UpdateCheckFallback: viper.GetDuration("scheduler.update_check_fallback"),
		},
		Queue: QueueConfig{
			MaxAttempts: viper.GetInt("queue.max_attempts"),
			Retention:   viper.GetInt("queue.retention"),
			BackoffBase: viper.GetDuration("queue.backoff_base"),
		},
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.log_level", "info")

	// Database defaults
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "fleet")
	viper.SetDefault("database.password", "fleet_dev_password")
	viper.SetDefault("database.dbname", "fleet_commander")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Hub defaults
	viper.SetDefault("hub.heartbeat_timeout", 30*time.Second)
	viper.SetDefault("hub.write_timeout", 10*time.Second)

	// Registry defaults
	viper.SetDefault("registry.request_timeout", 10*time.Second)
	viper.SetDefault("registry.batch_size", 10)
	viper.SetDefault("registry.batch_delay", 1*time.Second)
	viper.SetDefault("registry.default_host", "registry-1.docker.io")

	// Updates defaults
	viper.SetDefault("updates.release_feed_url", "https://api.github.com/repos/alvesdmateus/fleet-agent/releases/latest")
	viper.SetDefault("updates.request_timeout", 10*time.Second)
	viper.SetDefault("updates.refresh_interval", 1*time.Hour)
	viper.SetDefault("updates.download_url", "https://github.com/alvesdmateus/fleet-agent/releases/latest")
	viper.SetDefault("updates.version_file", "/opt/fleet/agent.version")

	// Worker defaults
	viper.SetDefault("worker.poll_timeout", 5*time.Second)

	// Scheduler defaults
	viper.SetDefault("scheduler.image_poll_every", 24*time.Hour)
	viper.SetDefault("scheduler.image_poll_anchor", 4*time.Hour)
	viper.SetDefault("scheduler.cleanup_every", 24*time.Hour)
	viper.SetDefault("scheduler.cleanup_anchor", 3*time.Hour)
	viper.SetDefault("scheduler.update_check_fallback", 6*time.Hour)

	// Queue defaults
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.retention", 100)
	viper.SetDefault("queue.backoff_base", 30*time.Second)
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}
