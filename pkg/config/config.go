package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Catalog   CatalogConfig
	Documents DocumentsConfig
	Cache     CacheConfig
	Budgets   BudgetsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds verification settings for access tokens issued by the auth service.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CatalogConfig points at an optional override of the embedded static catalog.
type CatalogConfig struct {
	Path string
}

// DocumentsConfig tunes the link probe and its worker pool.
type DocumentsConfig struct {
	ProbeTimeout    time.Duration
	RetryBackoff    time.Duration
	Workers         int
	QueueSize       int
	ResultTTL       time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
	UserAgent       string
	MaxRedirects    int
}

// CacheConfig governs redis-backed snapshots of derived data.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// BudgetsConfig holds budget defaults.
type BudgetsConfig struct {
	Currency     string
	HistoryLimit int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Catalog = CatalogConfig{Path: v.GetString("CATALOG_PATH")}

	cfg.Documents = DocumentsConfig{
		ProbeTimeout:    parseDuration(v.GetString("DOCUMENT_PROBE_TIMEOUT"), 5*time.Second),
		RetryBackoff:    parseDuration(v.GetString("DOCUMENT_PROBE_RETRY_BACKOFF"), 500*time.Millisecond),
		Workers:         v.GetInt("DOCUMENT_PROBE_WORKERS"),
		QueueSize:       v.GetInt("DOCUMENT_PROBE_QUEUE_SIZE"),
		ResultTTL:       parseDuration(v.GetString("DOCUMENT_VALIDATION_TTL"), 24*time.Hour),
		BreakerFailures: v.GetInt("DOCUMENT_BREAKER_FAILURES"),
		BreakerOpenFor:  parseDuration(v.GetString("DOCUMENT_BREAKER_OPEN_FOR"), time.Minute),
		UserAgent:       v.GetString("DOCUMENT_PROBE_USER_AGENT"),
		MaxRedirects:    v.GetInt("DOCUMENT_PROBE_MAX_REDIRECTS"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.Budgets = BudgetsConfig{
		Currency:     strings.ToUpper(v.GetString("BUDGET_CURRENCY")),
		HistoryLimit: v.GetInt("BUDGET_HISTORY_LIMIT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exchange_hub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CATALOG_PATH", "")

	v.SetDefault("DOCUMENT_PROBE_TIMEOUT", "5s")
	v.SetDefault("DOCUMENT_PROBE_RETRY_BACKOFF", "500ms")
	v.SetDefault("DOCUMENT_PROBE_WORKERS", 4)
	v.SetDefault("DOCUMENT_PROBE_QUEUE_SIZE", 64)
	v.SetDefault("DOCUMENT_VALIDATION_TTL", "24h")
	v.SetDefault("DOCUMENT_BREAKER_FAILURES", 5)
	v.SetDefault("DOCUMENT_BREAKER_OPEN_FOR", "1m")
	v.SetDefault("DOCUMENT_PROBE_USER_AGENT", "va-hybrid-link-check/1.0")
	v.SetDefault("DOCUMENT_PROBE_MAX_REDIRECTS", 5)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("BUDGET_CURRENCY", "EUR")
	v.SetDefault("BUDGET_HISTORY_LIMIT", 50)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
