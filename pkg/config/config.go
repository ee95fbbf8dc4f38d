// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Segment, Search, Cache, Ranking, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Segment  SegmentConfig  `yaml:"segment"`
	Search   SearchConfig   `yaml:"search"`
	Cache    CacheConfig    `yaml:"cache"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Views    ViewsConfig    `yaml:"views"`
	Copilot  CopilotConfig  `yaml:"copilot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
	// WriteRateLimit is the number of writes one visitor may make per
	// minute; zero disables the limit.
	WriteRateLimit  int           `yaml:"writeRateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RecordEvents string `yaml:"recordEvents"`
	LevelSync    string `yaml:"levelSync"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// SegmentConfig controls the dictionary segmenter behind the tokenizer.
type SegmentConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DictFiles      []string `yaml:"dictFiles"`
	UserDictFile   string   `yaml:"userDictFile"`
	FilteredWords  []string `yaml:"filteredWords"`
	MinTokenLength int      `yaml:"minTokenLength"`
}

// SearchConfig controls paging limits and which orderings get page-level caching.
type SearchConfig struct {
	DefaultLimit  int                      `yaml:"defaultLimit"`
	MaxLimit      int                      `yaml:"maxLimit"`
	CacheMaxPage  int                      `yaml:"cacheMaxPage"`
	HomeOrderings map[string]time.Duration `yaml:"homeOrderings"`
	// SlowLog is the latency above which a search logs its phase timings.
	SlowLog       time.Duration            `yaml:"slowLog"`
}

// CacheConfig controls the cache layer's timeouts, TTLs and breaker.
type CacheConfig struct {
	OpTimeout       time.Duration `yaml:"opTimeout"`
	ByIDTTL         time.Duration `yaml:"byIdTTL"`
	UserNameTTL     time.Duration `yaml:"userNameTTL"`
	CommentCountTTL time.Duration `yaml:"commentCountTTL"`
	ScanBatch       int64         `yaml:"scanBatch"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerReset    time.Duration `yaml:"breakerReset"`
}

// RankingConfig controls the hot-score refresh jobs.
type RankingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	FullCron     string        `yaml:"fullCron"`
	RecentCron   string        `yaml:"recentCron"`
	Timezone     string        `yaml:"timezone"`
	PageSize     int           `yaml:"pageSize"`
	RecentKey    string        `yaml:"recentKey"`
	RecentSize   int64         `yaml:"recentSize"`
	RecentSlack  int64         `yaml:"recentSlack"`
	RecentTTL    time.Duration `yaml:"recentTTL"`
	RatingWindow time.Duration `yaml:"ratingWindow"`
}

// ViewsConfig controls view-count deduplication and flushing.
type ViewsConfig struct {
	DedupWindow   time.Duration `yaml:"dedupWindow"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	MaxPending    int           `yaml:"maxPending"`
}

// CopilotConfig holds record display settings.
type CopilotConfig struct {
	MinRatingsForDisplay int64 `yaml:"minRatingsForDisplay"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("invalid search limits: default=%d max=%d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Ranking.PageSize <= 0 {
		return fmt.Errorf("ranking.pageSize must be positive, got %d", c.Ranking.PageSize)
	}
	if c.Ranking.RecentSize <= 0 {
		return fmt.Errorf("ranking.recentSize must be positive, got %d", c.Ranking.RecentSize)
	}
	for name, ttl := range c.Search.HomeOrderings {
		if ttl <= 0 {
			return fmt.Errorf("search.homeOrderings[%s] must have a positive ttl", name)
		}
	}
	return nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowOrigins:    []string{"*"},
			WriteRateLimit:  30,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "copilot",
			User:            "copilot",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "copilot-search",
			Topics: KafkaTopics{
				RecordEvents: "copilot-events",
				LevelSync:    "level-sync",
			},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Segment: SegmentConfig{
			Enabled:        true,
			MinTokenLength: 2,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			CacheMaxPage: 3,
			HomeOrderings: map[string]time.Duration{
				"hot":   24 * time.Hour,
				"views": time.Hour,
				"id":    5 * time.Minute,
			},
			SlowLog: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			OpTimeout:       500 * time.Millisecond,
			ByIDTTL:         5 * time.Minute,
			UserNameTTL:     10 * time.Minute,
			CommentCountTTL: 5 * time.Minute,
			ScanBatch:       2000,
			BreakerFailures: 5,
			BreakerReset:    10 * time.Second,
		},
		Ranking: RankingConfig{
			Enabled:      true,
			FullCron:     "0 30 4 * * *",
			RecentCron:   "0 0 8-20/3 * * *",
			Timezone:     "Asia/Shanghai",
			PageSize:     1000,
			RecentKey:    "rate:hot:copilotIds",
			RecentSize:   100,
			RecentSlack:  50,
			RecentTTL:    3 * time.Hour,
			RatingWindow: 7 * 24 * time.Hour,
		},
		Views: ViewsConfig{
			DedupWindow:   time.Hour,
			FlushInterval: 10 * time.Second,
			MaxPending:    10000,
		},
		Copilot: CopilotConfig{
			MinRatingsForDisplay: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("CS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("CS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CS_SEGMENT_DICT_FILES"); v != "" {
		cfg.Segment.DictFiles = strings.Split(v, ",")
	}
	if v := os.Getenv("CS_SEGMENT_USER_DICT"); v != "" {
		cfg.Segment.UserDictFile = v
	}
	if v := os.Getenv("CS_RANKING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Ranking.Enabled = enabled
		}
	}
	if v := os.Getenv("CS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
