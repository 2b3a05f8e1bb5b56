package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// Trust boundary
	assert.Equal(t, "worker://sandbox", cfg.Gateway.TrustedOrigin)
	assert.Equal(t, "worker", cfg.Protocol.Scheme)
	assert.Equal(t, "./static/assets", cfg.Protocol.AssetsDir)
	assert.Empty(t, cfg.Protocol.BootstrapPath)

	// Workers and dispatcher
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.True(t, cfg.Sandbox.EnableConsole)
	assert.Equal(t, 30*time.Second, cfg.RPC.Timeout)

	// Terminal config
	assert.Equal(t, 80, cfg.Terminal.Cols)
	assert.Equal(t, 24, cfg.Terminal.Rows)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "0.0.0.0",
		"GATEWAY_TRUSTED_ORIGIN": "app://console",
		"PROTOCOL_SCHEME":        "sandbox",
		"ASSETS_DIR":             "/opt/assets",
		"BOOTSTRAP_PATH":         "/opt/assets/boot.html",
		"SCRIPTS_DIR":            "/var/lib/scripts",
		"SANDBOX_TIMEOUT":        "250ms",
		"SANDBOX_CONSOLE":        "false",
		"RPC_TIMEOUT":            "1m",
		"TERMINAL_SHELL":         "/bin/zsh",
		"TERMINAL_COLS":          "120",
		"TERMINAL_ROWS":          "40",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "app://console", cfg.Gateway.TrustedOrigin)
	assert.Equal(t, "sandbox", cfg.Protocol.Scheme)
	assert.Equal(t, "/opt/assets", cfg.Protocol.AssetsDir)
	assert.Equal(t, "/opt/assets/boot.html", cfg.Protocol.BootstrapPath)
	assert.Equal(t, "/var/lib/scripts", cfg.Protocol.ScriptsDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.Timeout)
	assert.False(t, cfg.Sandbox.EnableConsole)
	assert.Equal(t, time.Minute, cfg.RPC.Timeout)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 120, cfg.Terminal.Cols)
	assert.Equal(t, 40, cfg.Terminal.Rows)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsEmptyTrustedOrigin(t *testing.T) {
	// An explicitly empty value overrides the default tag
	err := os.Setenv("GATEWAY_TRUSTED_ORIGIN", "")
	require.NoError(t, err)
	defer os.Unsetenv("GATEWAY_TRUSTED_ORIGIN")

	_, err = Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, "worker://sandbox", cfg.Gateway.TrustedOrigin)
}

func TestLoadInvalidDuration(t *testing.T) {
	err := os.Setenv("SANDBOX_TIMEOUT", "soon")
	require.NoError(t, err)
	defer os.Unsetenv("SANDBOX_TIMEOUT")

	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "empty origin", mutate: func(c *Config) { c.Gateway.TrustedOrigin = "" }, wantErr: true},
		{name: "empty scheme", mutate: func(c *Config) { c.Protocol.Scheme = "" }, wantErr: true},
		{name: "empty assets dir", mutate: func(c *Config) { c.Protocol.AssetsDir = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
