package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{"email":"a@example.com","password":"p"}],
		"mosquitto": {"host":"localhost"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mosquitto.Port != 1883 {
		t.Errorf("Mosquitto.Port = %d, want 1883", cfg.Mosquitto.Port)
	}
	if cfg.Mosquitto.ClientID != "fossibot_bridge" {
		t.Errorf("Mosquitto.ClientID = %q, want fossibot_bridge", cfg.Mosquitto.ClientID)
	}
	if cfg.Daemon.LogLevel != "info" {
		t.Errorf("Daemon.LogLevel = %q, want info", cfg.Daemon.LogLevel)
	}
	if cfg.Health.Port != 8080 {
		t.Errorf("Health.Port = %d, want 8080", cfg.Health.Port)
	}
	if cfg.Cache.Directory != "/var/lib/fossibot" {
		t.Errorf("Cache.Directory = %q, want /var/lib/fossibot", cfg.Cache.Directory)
	}
	if !cfg.Accounts[0].IsEnabled() {
		t.Error("Accounts[0].IsEnabled() = false, want true (default)")
	}
}

func TestLoadRejectsMissingAccounts(t *testing.T) {
	path := writeConfig(t, `{"mosquitto": {"host":"localhost"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing accounts")
	}
}

func TestLoadRejectsMissingMosquittoHost(t *testing.T) {
	path := writeConfig(t, `{"accounts":[{"email":"a@example.com","password":"p"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing mosquitto.host")
	}
}

func TestLoadRejectsDisabledAccountExplicitly(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{"email":"a@example.com","password":"p","enabled":false}],
		"mosquitto": {"host":"localhost"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Accounts[0].IsEnabled() {
		t.Error("Accounts[0].IsEnabled() = true, want false")
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{"email":"a@example.com","password":"p"}],
		"mosquitto": {"host":"localhost"}
	}`)
	t.Setenv("FOSSIBOT_EMAIL", "env@example.com")
	t.Setenv("MOSQUITTO_HOST", "broker.local")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Accounts[0].Email != "env@example.com" {
		t.Errorf("Accounts[0].Email = %q, want env@example.com", cfg.Accounts[0].Email)
	}
	if cfg.Mosquitto.Host != "broker.local" {
		t.Errorf("Mosquitto.Host = %q, want broker.local", cfg.Mosquitto.Host)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Daemon.LogLevel = %q, want debug", cfg.Daemon.LogLevel)
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
