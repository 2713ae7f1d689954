// Package config holds the server configuration, loaded from environment
// variables with the PLYRA_ prefix and an optional plyra.yaml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultAdminKey is the placeholder admin secret. The server warns at
// startup while it is still in use.
const DefaultAdminKey = "plm_admin_changeme"

// Config is the full server configuration.
type Config struct {
	// Server
	Host  string `mapstructure:"host" yaml:"host"`
	Port  int    `mapstructure:"port" yaml:"port"`
	Env   string `mapstructure:"env" yaml:"env"` // local | staging | production
	Debug bool   `mapstructure:"debug" yaml:"debug"`

	// Auth. The admin key guards /admin/keys; set it to a strong random
	// value in production (see `plyra-memory-server admin generate`).
	AdminAPIKey string `mapstructure:"admin_api_key" yaml:"admin_api_key"`

	// Key store: a SQLite path by default, or postgres:// for multi-node
	// deployments.
	KeyStoreURL string `mapstructure:"key_store_url" yaml:"key_store_url"`

	// Memory engine service this gateway fronts.
	EngineURL string `mapstructure:"engine_url" yaml:"engine_url"`

	// Default requests-per-minute quota stamped onto newly created keys.
	// Stored per key; not enforced by this server.
	RateLimitRPM int `mapstructure:"rate_limit_rpm" yaml:"rate_limit_rpm"`

	// Global per-IP request limit for the HTTP server. 0 disables it.
	ServerRateLimitRPM int `mapstructure:"server_rate_limit_rpm" yaml:"server_rate_limit_rpm"`

	// CORS
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               7700,
		Env:                "local",
		AdminAPIKey:        DefaultAdminKey,
		KeyStoreURL:        "~/.plyra/keys.db",
		EngineURL:          "http://127.0.0.1:7720",
		RateLimitRPM:       600,
		ServerRateLimitRPM: 0,
		CORSOrigins:        []string{"*"},
	}
}

// Load resolves the configuration from viper (env vars and any config file
// the CLI registered), layered over the defaults.
func Load() (Config, error) {
	def := Default()
	viper.SetDefault("host", def.Host)
	viper.SetDefault("port", def.Port)
	viper.SetDefault("env", def.Env)
	viper.SetDefault("debug", def.Debug)
	viper.SetDefault("admin_api_key", def.AdminAPIKey)
	viper.SetDefault("key_store_url", def.KeyStoreURL)
	viper.SetDefault("engine_url", def.EngineURL)
	viper.SetDefault("rate_limit_rpm", def.RateLimitRPM)
	viper.SetDefault("server_rate_limit_rpm", def.ServerRateLimitRPM)
	viper.SetDefault("cors_origins", def.CORSOrigins)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// KeyStorePath returns the key store URL with a leading ~ expanded to the
// user's home directory. Postgres URLs pass through untouched.
func (c Config) KeyStorePath() string {
	return ExpandHome(c.KeyStoreURL)
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// WriteYAML writes the configuration as a plyra.yaml file.
func (c Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// YAML renders the configuration as YAML, with the admin key redacted unless
// it is still the default placeholder.
func (c Config) YAML() (string, error) {
	redacted := c
	if redacted.AdminAPIKey != DefaultAdminKey && redacted.AdminAPIKey != "" {
		redacted.AdminAPIKey = "********"
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}
