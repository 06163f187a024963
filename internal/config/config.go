package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Target is one configured search: a display category, the search URL with
// all query parameters baked in, and optional keyword filters. An empty
// filter set matches every listing.
type Target struct {
	Name    string   `mapstructure:"name"`
	URL     string   `mapstructure:"url"`
	Filters []string `mapstructure:"filters"`
}

// Config holds all configuration for the application. Loaded once at startup,
// immutable thereafter; there is no runtime reload.
type Config struct {
	TelegramBotToken string   `mapstructure:"telegram_bot_token"`
	AdminID          int64    `mapstructure:"admin_id"`
	StoragePath      string   `mapstructure:"storage_path"`
	BaseURL          string   `mapstructure:"base_url"`
	PollInterval     int      `mapstructure:"poll_interval_seconds"`
	PollJitter       int      `mapstructure:"poll_jitter_seconds"`
	Targets          []Target `mapstructure:"targets"`
}

// Interval returns the base poll interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Jitter returns the symmetric random offset bound added to the interval.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.PollJitter) * time.Second
}

// LoadConfig reads configuration from a config file or environment variables.
// A .env file in the working directory, if present, is loaded into the
// environment first.
func LoadConfig(path string) (config Config, err error) {
	// Best effort: a missing .env just means plain environment variables.
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; environment variables may still cover it.
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if config.TelegramBotToken == "" {
		return Config{}, fmt.Errorf("telegram_bot_token is not set")
	}
	if config.AdminID == 0 {
		return Config{}, fmt.Errorf("admin_id is not set; crash reports need a recipient")
	}
	if len(config.Targets) == 0 {
		return Config{}, fmt.Errorf("no search targets configured")
	}
	for i, target := range config.Targets {
		if target.Name == "" || target.URL == "" {
			return Config{}, fmt.Errorf("target %d must have both name and url", i)
		}
	}
	if config.StoragePath == "" {
		config.StoragePath = "./data/olxwatch"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://www.olx.pl"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30
	}
	if config.PollJitter < 0 || config.PollJitter >= config.PollInterval {
		config.PollJitter = 5
	}

	return config, nil
}
