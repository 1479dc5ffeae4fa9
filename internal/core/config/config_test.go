package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults verifies that default values are used when env vars are missing.
func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_ENV")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("GATEWAY_PORT")

	os.Setenv("API_URL", "https://backend.test")
	defer os.Unsetenv("API_URL")

	cfg, err := Load(".")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.GatewayPort)
	assert.Equal(t, 10, cfg.Backend.RequestTimeoutSeconds)
	assert.Equal(t, 2, cfg.Backend.MaxRetries)
	assert.Equal(t, "redis://localhost:6379", cfg.Session.RedisURL)
	assert.Equal(t, 30, cfg.Orders.StalenessSeconds)
	assert.Equal(t, 1500, cfg.Orders.RemoveDelayMs)
}

// TestLoad_EnvVars verifies that environment variables override defaults.
func TestLoad_EnvVars(t *testing.T) {
	os.Setenv("APP_ENV", "production")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("GATEWAY_PORT", "9090")
	os.Setenv("API_URL", "https://api.example.com")
	os.Setenv("API_TIMEOUT_SECONDS", "5")
	os.Setenv("API_MAX_RETRIES", "1")
	os.Setenv("ORDERS_STALENESS_SECONDS", "60")
	defer func() {
		os.Unsetenv("APP_ENV")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("GATEWAY_PORT")
		os.Unsetenv("API_URL")
		os.Unsetenv("API_TIMEOUT_SECONDS")
		os.Unsetenv("API_MAX_RETRIES")
		os.Unsetenv("ORDERS_STALENESS_SECONDS")
	}()

	cfg, err := Load(".")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.GatewayPort)
	assert.Equal(t, "https://api.example.com", cfg.Backend.URL)
	assert.Equal(t, 5, cfg.Backend.RequestTimeoutSeconds)
	assert.Equal(t, 1, cfg.Backend.MaxRetries)
	assert.Equal(t, 60, cfg.Orders.StalenessSeconds)
}

// TestLoad_File verifies that values are loaded from a .env file.
func TestLoad_File(t *testing.T) {
	content := []byte(`
APP_ENV=staging
LOG_LEVEL=warn
GATEWAY_PORT=7070
API_URL=https://staging.example.com
REDIS_URL=redis://staging-redis:6379
`)
	err := os.WriteFile(".env", content, 0644)
	require.NoError(t, err)
	defer os.Remove(".env")

	cfg, err := Load(".")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.GatewayPort)
	assert.Equal(t, "https://staging.example.com", cfg.Backend.URL)
	assert.Equal(t, "redis://staging-redis:6379", cfg.Session.RedisURL)
}

// TestLoad_ValidationFailure verifies that missing required fields return an error.
func TestLoad_ValidationFailure(t *testing.T) {
	os.Unsetenv("API_URL")

	cfg, err := Load(".")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "missing required configuration")
}
