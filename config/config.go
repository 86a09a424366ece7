package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Shortener  ShortenerConfig  `mapstructure:"shortener"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Earnings   EarningsConfig   `mapstructure:"earnings"`
	GeoIP      GeoIPConfig      `mapstructure:"geoip"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Clicks     ClicksConfig     `mapstructure:"clicks"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RedirectSecret signs interstitial continue tokens.
	RedirectSecret string `mapstructure:"redirect_secret"`
	// ProxyHeader names the header carrying the client IP behind a proxy, e.g. X-Forwarded-For.
	ProxyHeader string   `mapstructure:"proxy_header"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver        string `mapstructure:"driver"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type ShortenerConfig struct {
	CodeLength      int     `mapstructure:"code_length"`
	MaxAttempts     int     `mapstructure:"max_attempts"`
	CustomMinLength int     `mapstructure:"custom_min_length"`
	CustomMaxLength int     `mapstructure:"custom_max_length"`
	BloomCapacity   uint    `mapstructure:"bloom_capacity"`
	BloomFPRate     float64 `mapstructure:"bloom_fp_rate"`
}

type AnalyticsConfig struct {
	// UniqueWindow is "day" (calendar day in Timezone) or a Go duration for a rolling window.
	UniqueWindow string `mapstructure:"unique_window"`
	Timezone     string `mapstructure:"timezone"`
	// UniqueTracker is "redis" or "store".
	UniqueTracker string `mapstructure:"unique_tracker"`
	RecentLimit   int    `mapstructure:"recent_limit"`
}

type EarningsConfig struct {
	// BaseRateMicros is the amount credited per click, in millionths of the currency unit.
	BaseRateMicros int64 `mapstructure:"base_rate_micros"`
	PublisherRate  int   `mapstructure:"publisher_rate"`
}

type GeoIPConfig struct {
	DBPath  string        `mapstructure:"db_path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	NumCounters int64         `mapstructure:"num_counters"`
	MaxCost     int64         `mapstructure:"max_cost"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type ClicksConfig struct {
	// Dispatch is "nats" or "inline".
	Dispatch      string        `mapstructure:"dispatch"`
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.run_migrations", true)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.host", "localhost")
	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("shortener.code_length", 6)
	v.SetDefault("shortener.max_attempts", 3)
	v.SetDefault("shortener.custom_min_length", 3)
	v.SetDefault("shortener.custom_max_length", 64)
	v.SetDefault("shortener.bloom_capacity", 1_000_000)
	v.SetDefault("shortener.bloom_fp_rate", 0.001)

	v.SetDefault("analytics.unique_window", "day")
	v.SetDefault("analytics.timezone", "UTC")
	v.SetDefault("analytics.unique_tracker", "redis")
	v.SetDefault("analytics.recent_limit", 100)

	v.SetDefault("earnings.base_rate_micros", 1000)
	v.SetDefault("earnings.publisher_rate", 80)

	v.SetDefault("geoip.timeout", 50*time.Millisecond)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.num_counters", 100_000)
	v.SetDefault("cache.max_cost", 10_000)
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("clicks.dispatch", "nats")
	v.SetDefault("clicks.record_timeout", 5*time.Second)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("reconcile.interval", 30*time.Second)
	v.SetDefault("reconcile.batch", 50)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.environment", "APP_ENV")
	v.BindEnv("server.redirect_secret", "REDIRECT_SECRET")
	v.BindEnv("server.proxy_header", "PROXY_HEADER")
	v.BindEnv("log.level", "LOG_LEVEL")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("geoip.db_path", "GEOIP_DB_PATH")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
}
