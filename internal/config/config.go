// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`
	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`
	Engine   EngineConfig   `mapstructure:"engine"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Settings SettingsConfig `mapstructure:"settings"`
	Ingest   struct {
		DedupTTL time.Duration `mapstructure:"dedup_ttl"`
	} `mapstructure:"ingest"`
}

type EngineConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	TrendSize     int           `mapstructure:"trend_size"`
	TrendSpacing  time.Duration `mapstructure:"trend_spacing"`
	LogInterval   time.Duration `mapstructure:"log_interval"`
	AlertCapacity int           `mapstructure:"alert_capacity"`
	// Simulate drives ticks from the built-in generator; false means ingest-only.
	Simulate    bool `mapstructure:"simulate"`
	SeedHistory bool `mapstructure:"seed_history"`
	// SeedLogEntries is how many synthetic logsheet rows precede startup (48 = 24h at 30m).
	SeedLogEntries int    `mapstructure:"seed_log_entries"`
	Timezone       string `mapstructure:"timezone"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	// ConnectRetries bounds the startup connection attempts.
	ConnectRetries int `mapstructure:"connect_retries"`
}

type InfluxConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

// Enabled reports whether an Influx endpoint is configured.
func (c InfluxConfig) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

type SettingsConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpenFor  time.Duration `mapstructure:"breaker_open_for"`
	LoadRetries     int           `mapstructure:"load_retries"`
}

// Location resolves the configured timezone, falling back to local time.
func (c EngineConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("config: unknown timezone %q, using local: %v", c.Timezone, err)
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", ":9090")

	v.SetDefault("engine.tick_interval", 3*time.Second)
	v.SetDefault("engine.trend_size", 12)
	v.SetDefault("engine.trend_spacing", 5*time.Minute)
	v.SetDefault("engine.log_interval", 30*time.Minute)
	v.SetDefault("engine.alert_capacity", 5)
	v.SetDefault("engine.simulate", true)
	v.SetDefault("engine.seed_history", true)
	v.SetDefault("engine.seed_log_entries", 48)
	v.SetDefault("engine.timezone", "Local")

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "rabbitmq")
	v.SetDefault("rabbitmq.port", 1883)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.client_id", "silo-monitor")
	v.SetDefault("rabbitmq.connect_retries", 5)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "sdcc")
	v.SetDefault("influx.bucket", "silo")
	v.SetDefault("influx.measurement", "silo_log")

	v.SetDefault("settings.refresh_interval", time.Minute)
	v.SetDefault("settings.breaker_failures", 3)
	v.SetDefault("settings.breaker_open_for", 30*time.Second)
	v.SetDefault("settings.load_retries", 3)

	v.SetDefault("ingest.dedup_ttl", 10*time.Minute)
}

// Load reads config.yaml from path (optional) and overlays environment
// variables: rabbitmq.host is read from RABBITMQ_HOST, influx.url from INFLUX_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		log.Printf("config: no config file in %q, using defaults and environment", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.TrendSize <= 0 {
		return fmt.Errorf("engine.trend_size must be positive")
	}
	if c.Engine.LogInterval <= 0 {
		return fmt.Errorf("engine.log_interval must be positive")
	}
	if c.Engine.AlertCapacity <= 0 {
		return fmt.Errorf("engine.alert_capacity must be positive")
	}
	if c.Engine.SeedLogEntries < 0 {
		return fmt.Errorf("engine.seed_log_entries must not be negative")
	}
	return nil
}
