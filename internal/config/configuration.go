package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Hub Configuration
	HubURL          string        `mapstructure:"HUB_URL" validate:"required,url"`
	CallbackBaseURL string        `mapstructure:"CALLBACK_BASE_URL" validate:"required,url"`
	HubTimeout      time.Duration `mapstructure:"HUB_TIMEOUT"`

	// Subscription lifecycle policy
	SubscribePacing      time.Duration `mapstructure:"SUBSCRIBE_PACING"`
	MaxSubscribeAttempts int           `mapstructure:"MAX_SUBSCRIBE_ATTEMPTS" validate:"min=1"`
	RetryBackoff         time.Duration `mapstructure:"RETRY_BACKOFF"`
	RenewalHorizon       time.Duration `mapstructure:"RENEWAL_HORIZON"`

	// Sweep scheduling
	BootstrapDelay  time.Duration `mapstructure:"BOOTSTRAP_DELAY"`
	RenewalInterval time.Duration `mapstructure:"RENEWAL_INTERVAL"`
	RetryInterval   time.Duration `mapstructure:"RETRY_INTERVAL"`
	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}
	}
	slog.Info("Environment variables bound", "config", c)
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("HUB_URL", "https://pubsubhubbub.appspot.com/subscribe")
	viper.SetDefault("HUB_TIMEOUT", "30s")
	viper.SetDefault("SUBSCRIBE_PACING", "1s")
	viper.SetDefault("MAX_SUBSCRIBE_ATTEMPTS", 5)
	viper.SetDefault("RETRY_BACKOFF", "1h")
	viper.SetDefault("RENEWAL_HORIZON", "48h")
	viper.SetDefault("BOOTSTRAP_DELAY", "2m")
	viper.SetDefault("RENEWAL_INTERVAL", "24h")
	viper.SetDefault("RETRY_INTERVAL", "6h")
	viper.SetDefault("POLL_INTERVAL", "24h")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration", "config", cfg)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
