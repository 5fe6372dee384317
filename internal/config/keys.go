package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WAAGENT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.app_db_path", typ: kString, env: "APP_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Storage.AppDBPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.AppDBPath },
	},
	{
		key: "wacli.db_path", typ: kString, env: "WACLI_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Wacli.DBPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Wacli.DBPath },
	},
	{
		key: "wacli.store_dir", typ: kString, env: "WACLI_STORE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Wacli.StoreDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Wacli.StoreDir },
	},
	{
		key: "wacli.binary_path", typ: kString, env: "WACLI_BINARY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Wacli.BinaryPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Wacli.BinaryPath },
	},
	{
		key: "supervisor.config_path", typ: kString, env: "WAAGENT_SUPERVISOR_CONFIG",
		apply:   func(cfg *Config, v any) { cfg.Supervisor.ConfigPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Supervisor.ConfigPath },
	},
	{
		key: "supervisor.program", typ: kString, env: "WAAGENT_SUPERVISOR_PROGRAM",
		apply:   func(cfg *Config, v any) { cfg.Supervisor.Program = v.(string) },
		extract: func(cfg Config) any { return cfg.Supervisor.Program },
	},
	{
		key: "sender.timeout", typ: kString, env: "WAAGENT_SENDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sender.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Sender.Timeout },
	},
	{
		key: "poller.interval", typ: kString, env: "WAAGENT_POLLER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poller.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Poller.Interval },
	},
	{
		key: "poller.enabled", typ: kBool, env: "WAAGENT_POLLER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Poller.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Poller.Enabled },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.referer", typ: kString, env: "WAAGENT_OPENROUTER_REFERER",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Referer = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Referer },
	},
	{
		key: "openrouter.title", typ: kString, env: "WAAGENT_OPENROUTER_TITLE",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Title = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Title },
	},
	{
		key: "openrouter.model_cheap", typ: kString, env: "WAAGENT_MODEL_CHEAP",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.CheapModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.CheapModel },
	},
	{
		key: "openrouter.model_standard", typ: kString, env: "WAAGENT_MODEL_STANDARD",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.StandardModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.StandardModel },
	},
	{
		key: "openrouter.model_premium", typ: kString, env: "WAAGENT_MODEL_PREMIUM",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.PremiumModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.PremiumModel },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "api.token", typ: kString, env: "WAAGENT_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "WAAGENT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "boolean"
	default:
		return "string"
	}
}

// parse converts a raw string from a file, flag or environment variable
// into the Go type expected by the key's apply func.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ != kString && raw == "") {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
