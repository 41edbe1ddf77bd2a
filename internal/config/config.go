// Package config loads the service configuration with Viper: defaults, then an
// optional YAML file, then CHEFAI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chefai/internal/apperr"
)

// Config represents the application configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	AI      AIConfig      `mapstructure:"ai"`
	Store   StoreConfig   `mapstructure:"store"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// GenerateRate is the sustained number of generate calls per second a
	// single client may make. Zero disables limiting.
	GenerateRate  float64 `mapstructure:"generate_rate"`
	GenerateBurst int     `mapstructure:"generate_burst"`
}

type AIConfig struct {
	// Provider is "gemini" or "local".
	Provider      string `mapstructure:"provider"`
	APIKey        string `mapstructure:"api_key"`
	TextModel     string `mapstructure:"text_model"`
	ImageModel    string `mapstructure:"image_model"`
	ImageMaxWidth uint   `mapstructure:"image_max_width"`
	LocalURL      string `mapstructure:"local_url"`
	LocalModel    string `mapstructure:"local_model"`
	// RequestTimeout bounds upstream calls. Zero leaves it to the upstream.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
}

type AssetsConfig struct {
	CacheName string `mapstructure:"cache_name"`
	// Backend is "memory" or "redis".
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHEFAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The credential is also accepted under the names the Gemini tooling uses.
	if err := v.BindEnv("ai.api_key", "CHEFAI_AI_API_KEY", "GEMINI_API_KEY", "API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that must be present before serving. A
// missing Gemini credential is reported as a configuration error.
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch c.AI.Provider {
	case "gemini":
		if strings.TrimSpace(c.AI.APIKey) == "" {
			return apperr.E(apperr.KindConfig, op, apperr.ErrMissingAPIKey)
		}
	case "local":
		if c.AI.LocalURL == "" {
			return apperr.E(apperr.KindConfig, op, errors.New("ai.local_url is required for the local provider"))
		}
	default:
		return apperr.E(apperr.KindConfig, op, fmt.Errorf("unknown ai.provider %q", c.AI.Provider))
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return apperr.E(apperr.KindConfig, op, errors.New("store.database_url is required for postgres"))
		}
	default:
		return apperr.E(apperr.KindConfig, op, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Assets.Backend {
	case "memory", "redis":
	default:
		return apperr.E(apperr.KindConfig, op, fmt.Errorf("unknown assets.backend %q", c.Assets.Backend))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chefai")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.generate_rate", 0.2)
	v.SetDefault("server.generate_burst", 3)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.text_model", "gemini-3-flash-preview")
	v.SetDefault("ai.image_model", "gemini-2.5-flash-image")
	v.SetDefault("ai.image_max_width", 800)
	v.SetDefault("ai.local_url", "http://localhost:1234/v1/chat/completions")
	v.SetDefault("ai.local_model", "gemma-3-12b-it:2")
	v.SetDefault("ai.request_timeout", time.Duration(0))

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")

	v.SetDefault("assets.cache_name", "chef-ai-v2")
	v.SetDefault("assets.backend", "memory")
	v.SetDefault("assets.redis_addr", "localhost:6379")
	v.SetDefault("assets.redis_password", "")
	v.SetDefault("assets.redis_db", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
}
