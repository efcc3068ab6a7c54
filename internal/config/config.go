// Package config loads the server's startup KV configuration, plus the
// ambient knobs a real deployment needs. Grounded on
// other_examples/manifests/webitel-im-delivery-service's go.mod, which
// requires github.com/spf13/viper directly for its own service config.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated startup configuration. Nothing
// downstream reads viper directly — one load, one struct, passed down.
type Config struct {
	IPAddress string // display-only; the server always listens on all interfaces
	Port      int
	PhotoPath string

	LogLevel               string
	DBPath                 string
	TransferTimeout        time.Duration
	MaxBufferBytes         int
	WriteQueueCap          int
	IdleTimeout            time.Duration
	MetricsAddr            string
}

// Load reads configuration from defaults, the given file path (if
// non-empty), and environment variables prefixed TEAMRADAR_, in that order
// of increasing precedence in viper's usual sense (env overrides file).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TEAMRADAR")
	v.AutomaticEnv()

	v.SetDefault("ip_address", "0.0.0.0")
	v.SetDefault("port", 12345)
	v.SetDefault("photo_path", "./Photos")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "./teamradar.db")
	v.SetDefault("transfer_timeout_seconds", 30)
	v.SetDefault("max_buffer_bytes", 1<<20)
	v.SetDefault("write_queue_cap", 256)
	v.SetDefault("idle_timeout_seconds", 600)
	v.SetDefault("metrics_addr", ":9090")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "config: read config file")
		}
	}

	cfg := Config{
		IPAddress:       v.GetString("ip_address"),
		Port:            v.GetInt("port"),
		PhotoPath:       v.GetString("photo_path"),
		LogLevel:        v.GetString("log_level"),
		DBPath:          v.GetString("db_path"),
		TransferTimeout: time.Duration(v.GetInt("transfer_timeout_seconds")) * time.Second,
		MaxBufferBytes:  v.GetInt("max_buffer_bytes"),
		WriteQueueCap:   v.GetInt("write_queue_cap"),
		IdleTimeout:     time.Duration(v.GetInt("idle_timeout_seconds")) * time.Second,
		MetricsAddr:     v.GetString("metrics_addr"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("config: invalid port %d", c.Port)
	}
	if c.PhotoPath == "" {
		return errors.New("config: photo_path must not be empty")
	}
	if c.TransferTimeout <= 0 {
		return errors.New("config: transfer_timeout_seconds must be positive")
	}
	return nil
}
