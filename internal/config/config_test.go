package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	return dir
}

func TestDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if want := filepath.Join(dir, "data", "waagent", "app.db"); cfg.Storage.AppDBPath != want {
		t.Errorf("AppDBPath = %q, want %q", cfg.Storage.AppDBPath, want)
	}
	if cfg.Wacli.BinaryPath != "wacli" {
		t.Errorf("Wacli.BinaryPath = %q", cfg.Wacli.BinaryPath)
	}
	if !cfg.Poller.Enabled {
		t.Error("Poller.Enabled should default to true")
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.SenderTimeout() != 30*time.Second {
		t.Errorf("SenderTimeout = %v", cfg.SenderTimeout())
	}
	if cfg.OpenRouter.StandardModel != "openai/gpt-5.2" {
		t.Errorf("StandardModel = %q", cfg.OpenRouter.StandardModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("WACLI_DB_PATH", "/tmp/wacli.db")
	t.Setenv("APP_DB_PATH", "/tmp/app.db")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("WAAGENT_SERVER_PORT", "8080")
	t.Setenv("WAAGENT_POLLER_ENABLED", "false")
	t.Setenv("WAAGENT_API_TOKEN", "secret")

	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Wacli.DBPath != "/tmp/wacli.db" || cfg.Storage.AppDBPath != "/tmp/app.db" {
		t.Errorf("paths = %q, %q", cfg.Wacli.DBPath, cfg.Storage.AppDBPath)
	}
	if cfg.OpenRouter.APIKey != "sk-or-test" {
		t.Errorf("APIKey = %q", cfg.OpenRouter.APIKey)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Poller.Enabled {
		t.Error("Poller.Enabled should be false")
	}
	if cfg.API.Token != "secret" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	isolate(t)
	t.Setenv("WAAGENT_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestFileBackendPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "waagent", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	content := `{"server.port": 4000, "poller.interval": "30s", "poller.enabled": "false", "openrouter.api_key": "ignored"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Port = %d, want 4000 from file", cfg.Server.Port)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.Poller.Enabled {
		t.Error("Poller.Enabled should be false from file")
	}
	if cfg.OpenRouter.APIKey != "" {
		t.Error("secrets must not be read from the config file")
	}

	t.Setenv("WAAGENT_SERVER_PORT", "5000")
	cfg, err = loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Port = %d, env should win over file", cfg.Server.Port)
	}
}

func TestSetKey(t *testing.T) {
	dir := isolate(t)

	if err := SetKey("server.port", "9000"); err != nil {
		t.Fatalf("SetKey port: %v", err)
	}
	if err := SetKey("poller.enabled", "false"); err != nil {
		t.Fatalf("SetKey enabled: %v", err)
	}
	if err := SetKey("log.level", "debug"); err != nil {
		t.Fatalf("SetKey level: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "waagent", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Poller.Enabled || cfg.Log.Level != "debug" {
		t.Errorf("persisted values not applied: %+v", cfg)
	}

	if err := UnsetKey("server.port"); err != nil {
		t.Fatalf("UnsetKey: %v", err)
	}
	cfg, _ = loadWith(newPlatformBackend())
	if cfg.Server.Port != 3000 {
		t.Errorf("Port after unset = %d", cfg.Server.Port)
	}
}

func TestSetKeyErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		key, value, want string
	}{
		{"openrouter.api_key", "x", "OPENROUTER_API_KEY"},
		{"api.token", "x", "WAAGENT_API_TOKEN"},
		{"nope", "x", "unknown config key"},
		{"server.port", "abc", "invalid integer"},
		{"poller.enabled", "maybe", "invalid boolean"},
	}
	for _, tt := range tests {
		err := SetKey(tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("SetKey(%q, %q) = %v, want error containing %q", tt.key, tt.value, err, tt.want)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenRouter.APIKey = "sk-or-secret"
	cfg.API.Token = "tok"

	for _, info := range ShowAll(cfg) {
		if info.Key == "openrouter.api_key" || info.Key == "api.token" {
			t.Errorf("secret key %s listed", info.Key)
		}
		if strings.Contains(info.Value, "secret") {
			t.Errorf("secret value leaked via %s", info.Key)
		}
	}
	if len(ValidKeys()) != len(specs)-2 {
		t.Errorf("ValidKeys = %d, want %d", len(ValidKeys()), len(specs)-2)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.OpenRouter.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.OpenRouter.APIKey = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Errorf("missing key error = %v", err)
	}

	cfg.Poller.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("API key not required when poller disabled: %v", err)
	}

	cfg.Poller.Interval = "soon"
	cfg.Wacli.DBPath = ""
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "poller.interval") || !strings.Contains(err.Error(), "WACLI_DB_PATH") {
		t.Errorf("Validate = %v", err)
	}
}
