package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Protocol  ProtocolConfig
	Sandbox   SandboxConfig
	RPC       RPCConfig
	Terminal  TerminalConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// GatewayConfig holds the trust boundary configuration.
type GatewayConfig struct {
	TrustedOrigin string `envconfig:"GATEWAY_TRUSTED_ORIGIN" default:"worker://sandbox"`
}

// ProtocolConfig holds virtual resource scheme configuration.
type ProtocolConfig struct {
	Scheme        string `envconfig:"PROTOCOL_SCHEME" default:"worker"`
	AssetsDir     string `envconfig:"ASSETS_DIR" default:"./static/assets"`
	BootstrapPath string `envconfig:"BOOTSTRAP_PATH"`
	ScriptsDir    string `envconfig:"SCRIPTS_DIR" default:"./scripts"`
}

// SandboxConfig holds script worker configuration.
type SandboxConfig struct {
	Timeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	EnableConsole bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
}

// RPCConfig holds privileged dispatcher configuration.
type RPCConfig struct {
	Timeout      time.Duration `envconfig:"RPC_TIMEOUT" default:"30s"`
	SettingsFile string        `envconfig:"SETTINGS_FILE"`
}

// TerminalConfig holds defaults for spawned terminal processes.
type TerminalConfig struct {
	Shell string `envconfig:"TERMINAL_SHELL"`
	Cols  int    `envconfig:"TERMINAL_COLS" default:"80"`
	Rows  int    `envconfig:"TERMINAL_ROWS" default:"24"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the trust boundary cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.TrustedOrigin == "" {
		return fmt.Errorf("invalid config: GATEWAY_TRUSTED_ORIGIN must not be empty")
	}
	if c.Protocol.Scheme == "" {
		return fmt.Errorf("invalid config: PROTOCOL_SCHEME must not be empty")
	}
	if c.Protocol.AssetsDir == "" {
		return fmt.Errorf("invalid config: ASSETS_DIR must not be empty")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Gateway: GatewayConfig{
			TrustedOrigin: "worker://sandbox",
		},
		Protocol: ProtocolConfig{
			Scheme:     "worker",
			AssetsDir:  "./static/assets",
			ScriptsDir: "./scripts",
		},
		Sandbox: SandboxConfig{
			Timeout:       5 * time.Second,
			EnableConsole: true,
		},
		RPC: RPCConfig{
			Timeout: 30 * time.Second,
		},
		Terminal: TerminalConfig{
			Cols: 80,
			Rows: 24,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
