package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	// Server-held Telldus account, usable by callers that know Secret.
	Secret   string `mapstructure:"h2t_secret"`
	Email    string `mapstructure:"h2t_email"`
	Password string `mapstructure:"h2t_password"`

	TelldusLiveURL  string        `mapstructure:"telldus_live_url"`
	TelldusLoginURL string        `mapstructure:"telldus_login_url"`
	TelldusTimeout  time.Duration `mapstructure:"telldus_timeout"`

	RateLimitRPS     int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int    `mapstructure:"rate_limit_burst"`
	RateLimitMaxKeys int    `mapstructure:"rate_limit_max_keys"`
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`

	MQTTBrokerURL string `mapstructure:"mqtt_broker_url"`
	MQTTTopic     string `mapstructure:"mqtt_topic"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

var defaults = map[string]interface{}{
	"port":                 "8097",
	"environment":          "production",
	"log_level":            "info",
	"log_format":           "text",
	"h2t_secret":           "",
	"h2t_email":            "",
	"h2t_password":         "",
	"telldus_live_url":     "https://live.telldus.com",
	"telldus_login_url":    "https://login.telldus.com/openid/server",
	"telldus_timeout":      "30s",
	"rate_limit_rps":       1,
	"rate_limit_burst":     5,
	"rate_limit_max_keys":  4096,
	"redis_addr":           "",
	"redis_password":       "",
	"mqtt_broker_url":      "",
	"mqtt_topic":           "homenavi/telldus/commands",
	"cors_allowed_origins": []string{"*"},
}

// Load reads the optional YAML file at path (or $CONFIG_FILE), then lets
// environment variables override every key, e.g. H2T_SECRET or PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.TelldusTimeout <= 0 {
		return nil, fmt.Errorf("telldus_timeout must be positive, got %s", cfg.TelldusTimeout)
	}
	if cfg.RateLimitBurst < 1 {
		cfg.RateLimitBurst = 1
	}
	return &cfg, nil
}

func (c *Config) Debug() bool {
	return strings.EqualFold(c.Environment, "debug")
}

// SlogLevel maps LOG_LEVEL, forcing debug when ENVIRONMENT=debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug() {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
