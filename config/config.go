package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Grid      GridConfig      `yaml:"grid"`
	Processor ProcessorConfig `yaml:"processor"`
	Store     StoreConfig     `yaml:"store"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// GridConfig holds the discretization as configured. Rates are decimal
// fractions per year; balances and payments are whole currency units.
type GridConfig struct {
	Balance IntRangeConfig   `yaml:"balance"`
	Rate    FloatRangeConfig `yaml:"rate"`
	Payment IntRangeConfig   `yaml:"payment"`
	Solver  string           `yaml:"solver"`
}

type IntRangeConfig struct {
	Min  int64 `yaml:"min"`
	Max  int64 `yaml:"max"`
	Step int64 `yaml:"step"`
}

type FloatRangeConfig struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

type ProcessorConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	Window         int           `yaml:"window"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

type WriterConfig struct {
	ExportAfterSweep bool          `yaml:"export_after_sweep"`
	BlockSize        int           `yaml:"block_size"`
	Parquet          ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
	Prefix      string `yaml:"prefix"`
	LocalDir    string `yaml:"local_dir"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Address   string          `yaml:"address"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
	Report bool   `yaml:"report"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Grid: GridConfig{
			Balance: IntRangeConfig{Min: 0, Max: 200000, Step: 1000},
			Rate:    FloatRangeConfig{Min: 0, Max: 0.1, Step: 0.0001},
			Payment: IntRangeConfig{Min: 0, Max: 4000, Step: 100},
			Solver:  "search",
		},
		Processor: ProcessorConfig{
			MaxWorkers:     4,
			Window:         8,
			ReportInterval: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "payoff_grid.db"},
			Redis:  RedisConfig{Addr: "localhost:6379", TTL: time.Hour, Prefix: "payoffgrid"},
		},
		Writer: WriterConfig{
			BlockSize: 10000,
			Parquet:   ParquetConfig{Compression: "snappy", Prefix: "grid", LocalDir: "exports"},
		},
		Storage: StorageConfig{
			Kafka: KafkaConfig{Topic: "payoffgrid.sweeps"},
		},
		Server: ServerConfig{
			Enabled:   true,
			Address:   ":8080",
			RateLimit: RateLimitConfig{RequestsPerSecond: 20, BurstSize: 40},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Namespace: "PayoffGrid", Dashboard: "PayoffGrid"},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PAYOFFGRID_PG_DSN"); v != "" {
		config.Store.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = strings.Split(strings.TrimSpace(v), ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Store.Redis.Addr = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.Version == "" {
		return fmt.Errorf("service.version is required")
	}

	if cfg.Grid.Solver == "" {
		return fmt.Errorf("grid.solver must be search or closed_form, got ''")
	}
	if err := cfg.Grid.validate(); err != nil {
		return err
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.Window <= 0 {
		return fmt.Errorf("processor.window must be greater than 0")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or postgres, got '%s'", cfg.Store.Driver)
	}
	if cfg.Store.Redis.Enabled && cfg.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required when redis is enabled")
	}

	if cfg.Writer.BlockSize <= 0 {
		return fmt.Errorf("writer.block_size must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Server.Enabled && cfg.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must not be negative")
	}

	return nil
}

func validateIntRange(name string, r IntRangeConfig) error {
	if r.Min < 0 {
		return fmt.Errorf("%s.min must not be negative", name)
	}
	if r.Step <= 0 {
		return fmt.Errorf("%s.step must be greater than 0", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%s.max must not be below %s.min", name, name)
	}
	return nil
}

func validateFloatRange(name string, r FloatRangeConfig) error {
	if r.Min < 0 {
		return fmt.Errorf("%s.min must not be negative", name)
	}
	if r.Step <= 0 {
		return fmt.Errorf("%s.step must be greater than 0", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%s.max must not be below %s.min", name, name)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
