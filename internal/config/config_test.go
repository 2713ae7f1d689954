package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7700 {
		t.Errorf("port: got %d, want 7700", cfg.Port)
	}
	if cfg.AdminAPIKey != DefaultAdminKey {
		t.Errorf("admin key: got %q, want default placeholder", cfg.AdminAPIKey)
	}
	if cfg.RateLimitRPM != 600 {
		t.Errorf("rate limit: got %d, want 600", cfg.RateLimitRPM)
	}
	if cfg.KeyStoreURL != "~/.plyra/keys.db" {
		t.Errorf("key store url: got %q", cfg.KeyStoreURL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetEnvPrefix("PLYRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	t.Setenv("PLYRA_PORT", "8900")
	t.Setenv("PLYRA_ADMIN_API_KEY", "plm_admin_secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8900 {
		t.Errorf("port: got %d, want env override 8900", cfg.Port)
	}
	if cfg.AdminAPIKey != "plm_admin_secret" {
		t.Errorf("admin key: got %q, want env override", cfg.AdminAPIKey)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/.plyra/keys.db"); got != filepath.Join(home, ".plyra/keys.db") {
		t.Errorf("ExpandHome: got %q", got)
	}
	if got := ExpandHome("postgres://localhost/keys"); got != "postgres://localhost/keys" {
		t.Errorf("ExpandHome should not touch URLs: got %q", got)
	}
	if got := ExpandHome("/var/lib/plyra/keys.db"); got != "/var/lib/plyra/keys.db" {
		t.Errorf("ExpandHome should not touch absolute paths: got %q", got)
	}
}

func TestYAMLRedactsAdminKey(t *testing.T) {
	cfg := Default()
	cfg.AdminAPIKey = "plm_admin_supersecret"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	if strings.Contains(out, "supersecret") {
		t.Error("YAML output leaked the admin key")
	}
	if !strings.Contains(out, "********") {
		t.Error("expected redaction marker in YAML output")
	}
}

func TestWriteYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plyra.yaml")
	if err := Default().WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "key_store_url") {
		t.Error("written YAML missing expected keys")
	}
}
