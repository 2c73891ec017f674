// Package config loads runtime settings with Viper from defaults, an optional
// config.yaml and SYSMETRICS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYSMETRICS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite" or "memory"
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	OpTimeout       time.Duration `mapstructure:"op_timeout"`
}

type PipelineConfig struct {
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
}

type RealtimeConfig struct {
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	MaxSubscribers    int           `mapstructure:"max_subscribers"`
	HistoryMinutes    int           `mapstructure:"history_minutes"`
}

type LogConfig struct {
	Dir    string `mapstructure:"dir"`
	File   string `mapstructure:"file"`
	Level  string `mapstructure:"level"`
	Stderr bool   `mapstructure:"stderr"`
}

type AgentConfig struct {
	Target   string        `mapstructure:"target"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 25*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "../db/metrics.db")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("storage.busy_timeout", 5*time.Second)
	v.SetDefault("storage.op_timeout", 3*time.Second)

	v.SetDefault("pipeline.sample_interval", 2*time.Second)
	v.SetDefault("pipeline.freshness_window", 2*time.Second)

	v.SetDefault("realtime.broadcast_interval", 3*time.Second)
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.pong_wait", 60*time.Second)
	v.SetDefault("realtime.max_subscribers", 1000)
	v.SetDefault("realtime.history_minutes", 30)

	v.SetDefault("log.dir", "../log")
	v.SetDefault("log.file", "webService.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stderr", false)

	v.SetDefault("agent.target", "http://127.0.0.1:8080/metrics")
	v.SetDefault("agent.interval", 2*time.Second)
	v.SetDefault("agent.timeout", 10*time.Second)
}

// New returns a Viper instance with defaults and environment binding applied.
// Callers may bind CLI flags to it before passing it to Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile when set, otherwise looks for config.yaml in the
// working directory and $HOME/.sysmetrics. A missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sysmetrics")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage.driver %q (use 'sqlite' or 'memory')", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return errors.New("storage.path is required for the sqlite driver")
	}
	if c.Storage.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be positive, got %d", c.Storage.MaxOpenConns)
	}
	if c.Storage.OpTimeout <= 0 {
		return errors.New("storage.op_timeout must be positive")
	}
	if c.Pipeline.SampleInterval <= 0 {
		return errors.New("pipeline.sample_interval must be positive")
	}
	if c.Pipeline.FreshnessWindow <= 0 {
		return errors.New("pipeline.freshness_window must be positive")
	}
	if c.Realtime.BroadcastInterval <= 0 {
		return errors.New("realtime.broadcast_interval must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return errors.New("realtime.send_buffer must be positive")
	}
	return nil
}
