package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr             string
		AllowedOrigins   []string `mapstructure:"allowed_origins"`
		ReportsPerMinute int      `mapstructure:"reports_per_minute"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`

	Ledger struct {
		MaxRetries uint64        `mapstructure:"max_retries"`
		RetryBase  time.Duration `mapstructure:"retry_base"`
	} `mapstructure:"ledger"`

	Stock struct {
		LowThreshold float64 `mapstructure:"low_threshold"`
	} `mapstructure:"stock"`

	Report struct {
		Title            string
		ReceivedBy       string `mapstructure:"received_by"`
		ReceivedPosition string `mapstructure:"received_position"`
	} `mapstructure:"report"`

	// Admins are granted the admin role on startup.
	Admins []string `mapstructure:"admins"`
}

// Load reads the YAML file at path. A .env file next to the binary, if any,
// is loaded first; APP_* variables override file values (APP_POSTGRES_DSN ...).
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.reports_per_minute", 10)
	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_base", "20ms")
	v.SetDefault("stock.low_threshold", 5)
	v.SetDefault("report.title", "MATERIALS INSPECTION REPORT")
	v.SetDefault("report.received_position", "QAQC ENGINEER")

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if c.Postgres.DSN == "" {
		return c, errors.New("config: postgres.dsn is required")
	}
	return c, nil
}

// Location is the zone report days are cut in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
