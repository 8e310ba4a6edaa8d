// Package config loads service configuration from defaults, an optional
// config file and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	IngestRPS      float64       `mapstructure:"ingest_rps"`
	IngestBurst    int           `mapstructure:"ingest_burst"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver     string         `mapstructure:"driver"` // sqlite, postgres or memory
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	SSLMode   string `mapstructure:"sslmode"`
	Timescale bool   `mapstructure:"timescale"`
}

// ConnString returns the keyword/value connection string for pgx.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MQTTConfig configures the optional MQTT ingest bridge.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// BrokerURL returns the broker address with a tcp:// scheme applied when
// none is given.
func (c MQTTConfig) BrokerURL() string {
	b := c.Broker
	if strings.Contains(b, "://") {
		return b
	}
	return fmt.Sprintf("tcp://%s:%d", b, c.Port)
}

// GeneratorConfig configures the synthetic reading generator.
type GeneratorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from path/config.yaml (if present) and the
// environment. Keys map to env vars with dots replaced by underscores,
// e.g. store.driver -> STORE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", 3001)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.ingest_rps", 50.0)
	v.SetDefault("http.ingest_burst", 100)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/soil.db")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "postgres")
	v.SetDefault("store.postgres.dbname", "soil_data")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.timescale", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "soilserver")
	v.SetDefault("mqtt.topic", "soil/readings")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("generator.enabled", true)
	v.SetDefault("generator.interval", time.Hour)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
		// No config file is fine; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}
