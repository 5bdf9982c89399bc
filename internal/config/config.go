// Package config loads process configuration via spf13/viper, grounded on
// the pack's convention of a single Config struct populated from a YAML
// file plus environment overrides (anywhy-bbgo and 0xtitan6-polymarket-mm
// both wire viper this way).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the server binary reads at startup.
type Config struct {
	Net struct {
		ListenAddr string `mapstructure:"listen_addr"`
		Workers    int    `mapstructure:"workers"`
	} `mapstructure:"net"`

	Commit struct {
		DSN             string `mapstructure:"dsn"`
		BatchSize       int    `mapstructure:"batch_size"`
		BatchIntervalMS int    `mapstructure:"batch_interval_ms"`
	} `mapstructure:"commit"`

	Publisher struct {
		KafkaBrokers     []string `mapstructure:"kafka_brokers"`
		RedisAddr        string   `mapstructure:"redis_addr"`
		RabbitURL        string   `mapstructure:"rabbit_url"`
		RabbitExchange   string   `mapstructure:"rabbit_exchange"`
		BackupPath       string   `mapstructure:"backup_path"`
		BackupMemoryCap  int      `mapstructure:"backup_memory_cap"`
		BackupIntervalMS int      `mapstructure:"backup_interval_ms"`
	} `mapstructure:"publisher"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"metrics"`

	TapeQueueDepth int `mapstructure:"tape_queue_depth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("net.listen_addr", ":9090")
	v.SetDefault("net.workers", 8)
	v.SetDefault("commit.dsn", "fenrir.db")
	v.SetDefault("commit.batch_size", 100)
	v.SetDefault("commit.batch_interval_ms", 10)
	v.SetDefault("publisher.backup_path", "fenrir-publisher")
	v.SetDefault("publisher.backup_memory_cap", 10_000)
	v.SetDefault("publisher.backup_interval_ms", 5_000)
	v.SetDefault("metrics.listen_addr", ":9091")
	v.SetDefault("tape_queue_depth", 4096)
}

// Load reads configuration from path (if it exists), environment variables
// prefixed FENRIR_, and finally the built-in defaults.
func Load(path string) (Config, error) {
	var cfg Config

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("fenrir")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing file just means defaults + env; anything else is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
