package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported backends
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"

	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Log    LogConfig    `mapstructure:"log"`
	Market MarketConfig `mapstructure:"market"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Alerts AlertsConfig `mapstructure:"alerts"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	DB     DBConfig     `mapstructure:"db"`
	Notify NotifyConfig `mapstructure:"notify"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
}

type AppConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"env"` // development, production
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MarketConfig describes the single tracked instrument and its exchange endpoints
type MarketConfig struct {
	Symbol        string        `mapstructure:"symbol"`
	StreamURL     string        `mapstructure:"stream_url"`
	TickerURL     string        `mapstructure:"ticker_url"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxReconnects int           `mapstructure:"max_reconnects"` // 0 = retry forever
}

type CacheConfig struct {
	Backend string `mapstructure:"backend"`
}

type AlertsConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Workers       int           `mapstructure:"workers"`
	EvalTimeout   time.Duration `mapstructure:"eval_timeout"`
	ResumeOnStart bool          `mapstructure:"resume_on_start"`
	Store         string        `mapstructure:"store"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PriceKey string `mapstructure:"price_key"`
	AlertKey string `mapstructure:"alert_key"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type DBConfig struct {
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are only unmarshalled from env vars once bound explicitly
	bindEnv(v,
		"app.port", "app.env", "log.level",
		"market.symbol", "market.stream_url", "market.ticker_url", "market.tick_interval",
		"market.read_timeout", "market.fetch_timeout", "market.max_reconnects",
		"cache.backend",
		"alerts.interval", "alerts.workers", "alerts.eval_timeout", "alerts.resume_on_start", "alerts.store",
		"redis.addr", "redis.password", "redis.db", "redis.price_key", "redis.alert_key",
		"mongo.uri", "mongo.database", "mongo.collection",
		"db.host", "db.port", "db.user", "db.password", "db.name", "db.sslmode", "db.sqlite_path",
		"notify.timeout",
		"kafka.brokers", "kafka.topic",
	)
	// PORT and WEBHOOK_URL are what the hosting platform and older deployments set
	if err := v.BindEnv("app.port", "APP_PORT", "PORT"); err != nil {
		log.Printf("Could not bind env var for key app.port: %v", err)
	}
	if err := v.BindEnv("notify.webhook_url", "NOTIFY_WEBHOOK_URL", "WEBHOOK_URL"); err != nil {
		log.Printf("Could not bind env var for key notify.webhook_url: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("market.symbol", "BTCUSDT")
	v.SetDefault("market.stream_url", "wss://stream.binance.com:9443/ws/btcusdt@trade")
	v.SetDefault("market.ticker_url", "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT")
	v.SetDefault("market.tick_interval", time.Second)
	v.SetDefault("market.read_timeout", 60*time.Second)
	v.SetDefault("market.fetch_timeout", 5*time.Second)
	v.SetDefault("market.max_reconnects", 0)

	v.SetDefault("cache.backend", CacheRedis)

	v.SetDefault("alerts.interval", time.Second)
	v.SetDefault("alerts.workers", 10)
	v.SetDefault("alerts.eval_timeout", 5*time.Second)
	v.SetDefault("alerts.resume_on_start", true)
	v.SetDefault("alerts.store", StoreRedis)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.price_key", "BTCUSDT_LATEST_PRICE")
	v.SetDefault("redis.alert_key", "price_alerts")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "price_alerts")
	v.SetDefault("mongo.collection", "alerts")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "price_alerts")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "data/alerts.db")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "price_alerts")
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market symbol cannot be empty")
	}
	if c.Market.TickInterval <= 0 {
		return fmt.Errorf("market tick interval must be positive, got %s", c.Market.TickInterval)
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts interval must be positive, got %s", c.Alerts.Interval)
	}
	if c.Alerts.Workers <= 0 {
		return fmt.Errorf("alerts workers must be positive, got %d", c.Alerts.Workers)
	}
	switch c.Cache.Backend {
	case CacheRedis, CacheMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Alerts.Store {
	case StoreRedis, StorePostgres, StoreSQLite:
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo uri is required when alerts store is %q", StoreMongo)
		}
	default:
		return fmt.Errorf("unknown alerts store %q", c.Alerts.Store)
	}
	return nil
}

// IsProduction reports whether the app runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
