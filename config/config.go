package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabasePath     string        `mapstructure:"database_path"`
	TimezoneName     string        `mapstructure:"timezone"`
	LogLevel         string        `mapstructure:"log_level"`
	ServerPort       string        `mapstructure:"server_port"`
	APIUsername      string        `mapstructure:"api_username"`
	APIPassword      string        `mapstructure:"api_password"`
	TelegramToken    string        `mapstructure:"telegram_token"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	JobQueueSize     int           `mapstructure:"job_queue_size"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	AdvanceSpec      string        `mapstructure:"advance_spec"`
	ReconcileSpec    string        `mapstructure:"reconcile_spec"`
	CalDAV           CalDAVConfig  `mapstructure:"caldav"`

	// Timezone is TimezoneName resolved; used for cron and new users.
	Timezone *time.Location `mapstructure:"-"`
}

type CalDAVConfig struct {
	URL          string `mapstructure:"url"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	CalendarPath string `mapstructure:"calendar_path"`
}

func (c CalDAVConfig) Enabled() bool {
	return c.Username != "" && c.Password != "" && c.CalendarPath != ""
}

// Load reads configuration from a .env file (if any), config.yaml (if any)
// and the environment, in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Names kept from the bot's original deployment.
	_ = v.BindEnv("telegram_token", "TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("server_port", "SERVER_PORT", "PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	tz, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Timezone = tz

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "./data/reminders.db")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_port", "8080")
	v.SetDefault("api_username", "")
	v.SetDefault("api_password", "")
	v.SetDefault("telegram_token", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("job_queue_size", 256)
	v.SetDefault("operation_timeout", "10s")
	v.SetDefault("advance_spec", "* * * * *")
	v.SetDefault("reconcile_spec", "@hourly")
	v.SetDefault("caldav.url", "")
	v.SetDefault("caldav.username", "")
	v.SetDefault("caldav.password", "")
	v.SetDefault("caldav.calendar_path", "")
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if (c.APIUsername == "") != (c.APIPassword == "") {
		return errors.New("API_USERNAME and API_PASSWORD must be set together")
	}
	if c.JobQueueSize < 1 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive, got %d", c.JobQueueSize)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT must be positive, got %s", c.OperationTimeout)
	}
	return nil
}

// APIAuthEnabled reports whether the HTTP API requires basic auth.
func (c *Config) APIAuthEnabled() bool {
	return c.APIUsername != ""
}
