package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 100, cfg.Queue.Retention)
}

func TestLoadFeedTimeoutIndependentOfRegistry(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// The release feed carries its own timeout under updates.*, not the
	// container-registry knob
	assert.Equal(t, 10*time.Second, cfg.Updates.RequestTimeout)
	assert.NotZero(t, cfg.Registry.RequestTimeout)
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "fleet",
			Password: "secret",
			DBName:   "fleet_commander",
			SSLMode:  "disable",
		},
	}

	dsn := cfg.GetDatabaseDSN()
	assert.Equal(t, "host=localhost port=5432 user=fleet password=secret dbname=fleet_commander sslmode=disable", dsn)
}
