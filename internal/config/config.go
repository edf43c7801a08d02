package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Session  SessionConfig
	Storage  StorageConfig
	Upload   UploadConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int
	// Token, when set, is required as a bearer token on /api routes.
	Token string
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

type SessionConfig struct {
	Backend    string
	RedisURL   string
	MaxEntries int
	TTL        time.Duration
	// RequireID rejects learn calls without a session_id. When false the
	// caller's network address is used instead.
	RequireID bool
}

type StorageConfig struct {
	Enabled bool
	DataDir string
	Retain  int
}

type UploadConfig struct {
	MaxBytes int64
}

type LogConfig struct {
	Level string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.7,
			Timeout:     30 * time.Second,
			MaxAttempts: 1,
		},
		Session: SessionConfig{
			Backend:    "memory",
			RedisURL:   "redis://localhost:6379/0",
			MaxEntries: 10,
			RequireID:  true,
		},
		Storage: StorageConfig{
			Enabled: true,
			DataDir: defaultDataDir(),
			Retain:  1000,
		},
		Upload: UploadConfig{
			MaxBytes: 1 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory, environment variables and the secrets file, in
// increasing precedence except for secrets, which only fill a still-empty
// API key.
//
// Load does not require the provider API key; commands that call the
// provider check it with Validate.
func Load() (Config, error) {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newFileBackend(ConfigFilePath()), fileSecrets{path: SecretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := Defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Provider.APIKey == "" {
		if key, err := secrets.Get(appName, "provider_api_key"); err == nil && key != "" {
			cfg.Provider.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}

// Validate reports configuration that prevents the relay from starting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		errs = append(errs, fmt.Errorf("missing required config: provider API key. "+
			"Set it via environment variable GROQ_API_KEY, a .env file, or %s", SecretsFilePath()))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("session.backend %q must be memory or redis", c.Session.Backend))
	}
	if c.Session.MaxEntries <= 0 || c.Session.MaxEntries%2 != 0 {
		errs = append(errs, fmt.Errorf("session.max_entries must be a positive even number (one user and one assistant entry per exchange), got %d", c.Session.MaxEntries))
	}
	if c.Provider.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("provider.max_attempts must be positive, got %d", c.Provider.MaxAttempts))
	}
	return errors.Join(errs...)
}
