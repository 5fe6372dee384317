package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Wacli      WacliConfig
	Supervisor SupervisorConfig
	Sender     SenderConfig
	Poller     PollerConfig
	OpenRouter OpenRouterConfig
	API        APIConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	AppDBPath string
}

type WacliConfig struct {
	DBPath     string
	StoreDir   string
	BinaryPath string
}

type SupervisorConfig struct {
	ConfigPath string
	Program    string
}

type SenderConfig struct {
	Timeout string
}

type PollerConfig struct {
	Interval string
	Enabled  bool
}

type OpenRouterConfig struct {
	APIKey        string
	BaseURL       string
	Referer       string
	Title         string
	CheapModel    string
	StandardModel string
	PremiumModel  string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 3000},
		Storage: StorageConfig{AppDBPath: defaultAppDBPath()},
		Wacli: WacliConfig{
			DBPath:     "/data/wacli/wacli.db",
			StoreDir:   "/data/wacli",
			BinaryPath: "wacli",
		},
		Supervisor: SupervisorConfig{
			ConfigPath: "/etc/supervisor/conf.d/supervisord.conf",
			Program:    "wacli-sync",
		},
		Sender: SenderConfig{Timeout: "30s"},
		Poller: PollerConfig{Interval: "10s", Enabled: true},
		OpenRouter: OpenRouterConfig{
			BaseURL:       "https://openrouter.ai/api/v1",
			Title:         "WhatsApp Agent",
			CheapModel:    "deepseek/deepseek-v3.2",
			StandardModel: "openai/gpt-5.2",
			PremiumModel:  "anthropic/claude-sonnet-4.5",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the JSON file backend and the environment.
//
// A .env file in the working directory is loaded first; variables already
// set in the process environment win over it. Environment variables then
// override file values. Secrets (OPENROUTER_API_KEY, WAAGENT_API_TOKEN) are
// read from the environment only.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Validate checks the settings the server needs to run the auto-reply loop.
func (c Config) Validate() error {
	var errs []error
	if c.OpenRouter.APIKey == "" && c.Poller.Enabled {
		errs = append(errs, errors.New("missing required config: OpenRouter API key. Set it via environment variable OPENROUTER_API_KEY"))
	}
	if c.Wacli.DBPath == "" {
		errs = append(errs, errors.New("wacli.db_path is required (WACLI_DB_PATH)"))
	}
	if c.Storage.AppDBPath == "" {
		errs = append(errs, errors.New("storage.app_db_path is required (APP_DB_PATH)"))
	}
	for key, raw := range map[string]string{"sender.timeout": c.Sender.Timeout, "poller.interval": c.Poller.Interval} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		}
	}
	return errors.Join(errs...)
}

func (c Config) SenderTimeout() time.Duration {
	return parseDuration(c.Sender.Timeout, 30*time.Second)
}

func (c Config) PollInterval() time.Duration {
	return parseDuration(c.Poller.Interval, 10*time.Second)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
