// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Session   SessionConfig   `koanf:"session"`
	AppStore  AppStoreConfig  `koanf:"appstore"`
	PlayStore PlayStoreConfig `koanf:"playstore"`
	Products  ProductsConfig  `koanf:"products"`
	Sweep     SweepConfig     `koanf:"sweep"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// SessionConfig holds the public half of the identity service's signing key.
// This service only verifies session tokens, it never issues them.
type SessionConfig struct {
	PublicKeyPath string `koanf:"public_key_path"`
	Issuer        string `koanf:"issuer"`
	Audience      string `koanf:"audience"`
}

type AppStoreConfig struct {
	KeyPath     string        `koanf:"key_path"`
	KeyID       string        `koanf:"key_id"`
	IssuerID    string        `koanf:"issuer_id"`
	BundleID    string        `koanf:"bundle_id"`
	APIBaseURL  string        `koanf:"api_base_url"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
}

type PlayStoreConfig struct {
	KeyPath      string `koanf:"key_path"`
	ClientEmail  string `koanf:"client_email"`
	PackageName  string `koanf:"package_name"`
	TokenURL     string `koanf:"token_url"`
	APIBaseURL   string `koanf:"api_base_url"`
	PubSubSecret string `koanf:"pubsub_secret"`
}

// ProductsConfig maps store product ids onto plan types.
type ProductsConfig struct {
	Single []string `koanf:"single"`
	Family []string `koanf:"family"`
}

type SweepConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

type CacheConfig struct {
	StatusTTL time.Duration `koanf:"status_ttl"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		k := koanf.New(".")

		if err := loadDefaults(k); err != nil {
			loadErr = fmt.Errorf("load defaults: %w", err)
			return
		}

		if configPath != "" {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				loadErr = fmt.Errorf("load config file: %w", err)
				return
			}
		}

		if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
			loadErr = fmt.Errorf("load env vars: %w", err)
			return
		}

		cfg = &Config{}
		if err := k.Unmarshal("", cfg); err != nil {
			loadErr = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		if err := validate(cfg); err != nil {
			loadErr = fmt.Errorf("validate config: %w", err)
			return
		}
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "Entitlement Backend",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"session.public_key_path": "keys/session_public.pem",
		"session.issuer":          "lumenlearn-identity",
		"session.audience":        "lumenlearn-api",

		"appstore.api_base_url": "https://api.storekit.itunes.apple.com",
		"appstore.token_expiry": "55m",

		"playstore.token_url":    "https://oauth2.googleapis.com/token",
		"playstore.api_base_url": "https://androidpublisher.googleapis.com",

		"products.single": []string{"premium_lifetime"},
		"products.family": []string{"premium_family"},

		"sweep.enabled":    true,
		"sweep.interval":   "24h",
		"sweep.batch_size": 200,

		"cache.status_ttl": "24h",

		"rate_limit.requests": 100,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    20,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PUT",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "entitlement-backend",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"SESSION_PUBLIC_KEY_PATH":     "session.public_key_path",
	"SESSION_ISSUER":              "session.issuer",
	"SESSION_AUDIENCE":            "session.audience",
	"APPSTORE_KEY_PATH":           "appstore.key_path",
	"APPSTORE_KEY_ID":             "appstore.key_id",
	"APPSTORE_ISSUER_ID":          "appstore.issuer_id",
	"APPSTORE_BUNDLE_ID":          "appstore.bundle_id",
	"APPSTORE_API_BASE_URL":       "appstore.api_base_url",
	"PLAYSTORE_KEY_PATH":          "playstore.key_path",
	"PLAYSTORE_CLIENT_EMAIL":      "playstore.client_email",
	"PLAYSTORE_PACKAGE_NAME":      "playstore.package_name",
	"PLAYSTORE_API_BASE_URL":      "playstore.api_base_url",
	"PLAYSTORE_PUBSUB_SECRET":     "playstore.pubsub_secret",
	"SWEEP_ENABLED":               "sweep.enabled",
	"SWEEP_INTERVAL":              "sweep.interval",
	"SWEEP_BATCH_SIZE":            "sweep.batch_size",
	"CACHE_STATUS_TTL":            "cache.status_ttl",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Session.PublicKeyPath == "" {
		return fmt.Errorf("SESSION_PUBLIC_KEY_PATH is required")
	}

	if c.AppStore.KeyPath != "" {
		if c.AppStore.KeyID == "" || c.AppStore.IssuerID == "" {
			return fmt.Errorf(
				"APPSTORE_KEY_ID and APPSTORE_ISSUER_ID are required when an App Store key is configured",
			)
		}
		if c.AppStore.BundleID == "" {
			return fmt.Errorf("APPSTORE_BUNDLE_ID is required")
		}
	}

	if c.PlayStore.KeyPath != "" && c.PlayStore.ClientEmail == "" {
		return fmt.Errorf(
			"PLAYSTORE_CLIENT_EMAIL is required when a Play Store key is configured",
		)
	}

	if len(c.Products.Single) == 0 && len(c.Products.Family) == 0 {
		return fmt.Errorf("at least one product id must be configured")
	}

	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep.batch_size must be positive")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
