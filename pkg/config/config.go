package config

import (
	"errors"
	"fmt"
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

// Store drivers for analysis results.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Store      StoreConfig
	Analysis   AnalysisConfig
	Encryption EncryptionConfig
	Insights   InsightsConfig
	Docs       DocsConfig
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

// DSN renders a libpq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL renders a postgres:// URL, the form golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects where snapshots, flags and cursors live.
type StoreConfig struct {
	Driver    string
	BadgerDir string
}

// AnalysisConfig tunes the analysis pipeline.
type AnalysisConfig struct {
	FetchConcurrency int
	ExcerptLimit     int
	WeeklyWindow     time.Duration
	MonthlyWindow    time.Duration
	LockTTL          time.Duration
	KeywordsFile     string
	CursorSource     string
	Breaker          BreakerConfig
}

// BreakerConfig configures the circuit breaker around entry store reads.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// EncryptionConfig holds the master secret used to derive per-student keys.
type EncryptionConfig struct {
	MasterSecret string
}

// InsightsConfig governs cache behaviour for snapshot reads.
type InsightsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// DocsConfig toggles swagger exposure.
type DocsConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	driver := strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER")))
	if driver != StoreDriverBadger {
		driver = StoreDriverPostgres
	}
	cfg.Store = StoreConfig{
		Driver:    driver,
		BadgerDir: v.GetString("BADGER_DIR"),
	}

	concurrency := v.GetInt("ANALYSIS_FETCH_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 10
	}
	excerpts := v.GetInt("ANALYSIS_EXCERPT_LIMIT")
	if excerpts <= 0 {
		excerpts = 5
	}
	ratio := v.GetFloat64("ANALYSIS_BREAKER_FAILURE_RATIO")
	if ratio <= 0 || ratio > 1 {
		ratio = 0.6
	}
	cfg.Analysis = AnalysisConfig{
		FetchConcurrency: concurrency,
		ExcerptLimit:     excerpts,
		WeeklyWindow:     parseDuration(v.GetString("ANALYSIS_WEEKLY_WINDOW"), 7*24*time.Hour),
		MonthlyWindow:    parseDuration(v.GetString("ANALYSIS_MONTHLY_WINDOW"), 30*24*time.Hour),
		LockTTL:          parseDuration(v.GetString("ANALYSIS_LOCK_TTL"), 30*time.Minute),
		KeywordsFile:     v.GetString("ANALYSIS_KEYWORDS_FILE"),
		CursorSource:     v.GetString("ANALYSIS_CURSOR_SOURCE"),
		Breaker: BreakerConfig{
			MaxRequests:  uint32(v.GetUint("ANALYSIS_BREAKER_MAX_REQUESTS")),
			Interval:     parseDuration(v.GetString("ANALYSIS_BREAKER_INTERVAL"), time.Minute),
			Timeout:      parseDuration(v.GetString("ANALYSIS_BREAKER_TIMEOUT"), 30*time.Second),
			MinRequests:  uint32(v.GetUint("ANALYSIS_BREAKER_MIN_REQUESTS")),
			FailureRatio: ratio,
		},
	}

	cfg.Encryption = EncryptionConfig{MasterSecret: v.GetString("ENCRYPTION_MASTER_SECRET")}

	cfg.Insights = InsightsConfig{
		CacheEnabled: v.GetBool("ENABLE_INSIGHTS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("INSIGHTS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Docs = DocsConfig{Enabled: v.GetBool("ENABLE_DOCS") && cfg.Env != EnvProduction}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "journal_insights")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("BADGER_DIR", "./data/insights")

	v.SetDefault("ANALYSIS_FETCH_CONCURRENCY", 10)
	v.SetDefault("ANALYSIS_EXCERPT_LIMIT", 5)
	v.SetDefault("ANALYSIS_WEEKLY_WINDOW", "168h")
	v.SetDefault("ANALYSIS_MONTHLY_WINDOW", "720h")
	v.SetDefault("ANALYSIS_LOCK_TTL", "30m")
	v.SetDefault("ANALYSIS_KEYWORDS_FILE", "")
	v.SetDefault("ANALYSIS_CURSOR_SOURCE", "journal_entries")
	v.SetDefault("ANALYSIS_BREAKER_MAX_REQUESTS", 3)
	v.SetDefault("ANALYSIS_BREAKER_INTERVAL", "1m")
	v.SetDefault("ANALYSIS_BREAKER_TIMEOUT", "30s")
	v.SetDefault("ANALYSIS_BREAKER_MIN_REQUESTS", 10)
	v.SetDefault("ANALYSIS_BREAKER_FAILURE_RATIO", 0.6)

	v.SetDefault("ENCRYPTION_MASTER_SECRET", "dev_journal_secret")

	v.SetDefault("ENABLE_INSIGHTS_CACHE", false)
	v.SetDefault("INSIGHTS_CACHE_TTL", "10m")
	v.SetDefault("ENABLE_DOCS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
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

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
