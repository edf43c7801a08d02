package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.host", typ: kString, env: "SYNTHEX_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SYNTHEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "SYNTHEX_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.token", typ: kString, env: "SYNTHEX_SERVER_TOKEN",
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "provider.api_key", typ: kString, env: "GROQ_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.base_url", typ: kString, env: "SYNTHEX_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.model", typ: kString, env: "SYNTHEX_PROVIDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "provider.temperature", typ: kFloat, env: "SYNTHEX_PROVIDER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.Temperature },
	},
	{
		key: "provider.timeout", typ: kDuration, env: "SYNTHEX_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "provider.max_attempts", typ: kInt, env: "SYNTHEX_PROVIDER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Provider.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.MaxAttempts },
	},
	{
		key: "session.backend", typ: kString, env: "SYNTHEX_SESSION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Session.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Backend },
	},
	{
		key: "session.redis_url", typ: kString, env: "SYNTHEX_SESSION_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisURL },
	},
	{
		key: "session.max_entries", typ: kInt, env: "SYNTHEX_SESSION_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxEntries },
	},
	{
		key: "session.ttl", typ: kDuration, env: "SYNTHEX_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.require_id", typ: kBool, env: "SYNTHEX_SESSION_REQUIRE_ID",
		apply:   func(cfg *Config, v any) { cfg.Session.RequireID = v.(bool) },
		extract: func(cfg Config) any { return cfg.Session.RequireID },
	},
	{
		key: "storage.enabled", typ: kBool, env: "SYNTHEX_STORAGE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Storage.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.Enabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SYNTHEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.retain", typ: kInt, env: "SYNTHEX_STORAGE_RETAIN",
		apply:   func(cfg *Config, v any) { cfg.Storage.Retain = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.Retain },
	},
	{
		key: "upload.max_bytes", typ: kInt, env: "SYNTHEX_UPLOAD_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxBytes = int64(v.(int)) },
		extract: func(cfg Config) any { return cfg.Upload.MaxBytes },
	},
	{
		key: "log.level", typ: kString, env: "SYNTHEX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
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
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
