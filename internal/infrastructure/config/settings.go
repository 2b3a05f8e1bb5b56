package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// LoadSettings reads a flat key/value document exposed to sandboxed code.
// The format follows the file extension: .yaml/.yml, .toml or .json.
func LoadSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	settings := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &settings)
	case ".toml":
		err = toml.Unmarshal(data, &settings)
	case ".json":
		err = sonic.Unmarshal(data, &settings)
	default:
		return nil, fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return settings, nil
}

// Settings is the configuration subset sandboxed code may read. Values from
// the settings file never replace the built-in keys.
func (c *Config) Settings() (map[string]any, error) {
	settings := make(map[string]any)
	if c.RPC.SettingsFile != "" {
		extra, err := LoadSettings(c.RPC.SettingsFile)
		if err != nil {
			return nil, err
		}
		maps.Copy(settings, extra)
	}

	maps.Copy(settings, map[string]any{
		"scheme":          c.Protocol.Scheme,
		"trusted_origin":  c.Gateway.TrustedOrigin,
		"sandbox_timeout": c.Sandbox.Timeout.String(),
		"rpc_timeout":     c.RPC.Timeout.String(),
		"terminal_cols":   c.Terminal.Cols,
		"terminal_rows":   c.Terminal.Rows,
	})
	return settings, nil
}
