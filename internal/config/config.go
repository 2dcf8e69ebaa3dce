// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Ingress  IngressConfig  `mapstructure:"ingress"`
	Games    GamesConfig    `mapstructure:"games"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the HTTP / websocket listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	WSPath          string        `mapstructure:"ws_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the redis connection used for the ledger cache and
// the ephemeral state store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// StoreConfig selects the ephemeral state backend ("redis" or "memory").
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// AdminConfig holds system administrator configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// IngressConfig holds the message gate limits.
type IngressConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	FloodWindow      time.Duration `mapstructure:"flood_window"`
	FloodLimit       int64         `mapstructure:"flood_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
	RateLimit        int64         `mapstructure:"rate_limit"`
}

// GamesConfig holds game-specific configuration.
type GamesConfig struct {
	Dice      GameConfig    `mapstructure:"dice"`
	LowCard   GameConfig    `mapstructure:"lowcard"`
	StartLock time.Duration `mapstructure:"start_lock"`
}

// GameConfig holds the wager limits and phase timings of one game variant.
type GameConfig struct {
	MinBet           int64 `mapstructure:"min_bet"`
	MaxBet           int64 `mapstructure:"max_bet"`
	FeePercent       int64 `mapstructure:"fee_percent"`
	JoinSeconds      int   `mapstructure:"join_seconds"`
	ActionSeconds    int   `mapstructure:"action_seconds"`
	CountdownSeconds int   `mapstructure:"countdown_seconds"`
	FinishedTTL      int   `mapstructure:"finished_ttl_seconds"`
}

// TasksConfig holds the background task pool configuration.
type TasksConfig struct {
	MaxGoroutines int           `mapstructure:"max_goroutines"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// JoinWindow returns the join phase duration.
func (g GameConfig) JoinWindow() time.Duration {
	return time.Duration(g.JoinSeconds) * time.Second
}

// ActionWindow returns the per-round action phase duration.
func (g GameConfig) ActionWindow() time.Duration {
	return time.Duration(g.ActionSeconds) * time.Second
}

// Countdown returns the delay between a resolved round and the next one.
func (g GameConfig) Countdown() time.Duration {
	return time.Duration(g.CountdownSeconds) * time.Second
}

// FinishedRetention returns how long a finished session stays readable.
func (g GameConfig) FinishedRetention() time.Duration {
	return time.Duration(g.FinishedTTL) * time.Second
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, REDIS_ADDR, GAMES_DICE_MIN_BET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional - env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chat")
	v.SetDefault("database.name", "chat")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("store.backend", "redis")

	v.SetDefault("ingress.max_message_length", 1000)
	v.SetDefault("ingress.flood_window", "3s")
	v.SetDefault("ingress.flood_limit", 5)
	v.SetDefault("ingress.rate_window", "60s")
	v.SetDefault("ingress.rate_limit", 60)

	v.SetDefault("games.start_lock", "5s")

	v.SetDefault("games.dice.min_bet", 10)
	v.SetDefault("games.dice.max_bet", 10000)
	v.SetDefault("games.dice.fee_percent", 10)
	v.SetDefault("games.dice.join_seconds", 30)
	v.SetDefault("games.dice.action_seconds", 20)
	v.SetDefault("games.dice.countdown_seconds", 3)
	v.SetDefault("games.dice.finished_ttl_seconds", 60)

	v.SetDefault("games.lowcard.min_bet", 10)
	v.SetDefault("games.lowcard.max_bet", 10000)
	v.SetDefault("games.lowcard.fee_percent", 5)
	v.SetDefault("games.lowcard.join_seconds", 30)
	v.SetDefault("games.lowcard.action_seconds", 20)
	v.SetDefault("games.lowcard.countdown_seconds", 3)
	v.SetDefault("games.lowcard.finished_ttl_seconds", 60)

	v.SetDefault("tasks.max_goroutines", 16)
	v.SetDefault("tasks.timeout", "5s")

	v.SetDefault("log.level", "info")
}

// IsAdmin checks if a user ID is in the system administrator list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
