package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"prayukti-judge/internal/guard"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Judge    JudgeConfig    `yaml:"judge"`
	Guard    GuardConfig    `yaml:"guard"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type JudgeConfig struct {
	Toolchain      string        `yaml:"toolchain"`
	JavacPath      string        `yaml:"javac_path"`
	JavaPath       string        `yaml:"java_path"`
	ScratchDir     string        `yaml:"scratch_dir"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	CompileTimeout time.Duration `yaml:"compile_timeout"`
	MemoryMB       int64         `yaml:"memory_mb"`
	StackMB        int64         `yaml:"stack_mb"`
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CleanupQueue   int           `yaml:"cleanup_queue"`
	OrphanMaxAge   time.Duration `yaml:"orphan_max_age"`
	SeedFile       string        `yaml:"seed_file"` // Optional YAML file of experiments loaded at startup
}

// GuardConfig replaces the built-in deny list when Rules is non-empty.
type GuardConfig struct {
	Rules []guard.Rule `yaml:"rules"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"` // Empty selects the in-memory store
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig enables the Redis read-through cache for experiments.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"` // Empty disables caching
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("loaded environment file")
	}
	return nil
}

// ApplyEnv overrides selected settings from JUDGE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("JUDGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("JUDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JUDGE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("JUDGE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JUDGE_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("JUDGE_REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
	if v := os.Getenv("JUDGE_SCRATCH_DIR"); v != "" {
		c.Judge.ScratchDir = v
	}
	if v := os.Getenv("JUDGE_SEED_FILE"); v != "" {
		c.Judge.SeedFile = v
	}
	return nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second, // a submit runs every test case
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Judge: JudgeConfig{
			Toolchain:      "java",
			DefaultTimeout: 2 * time.Second,
			MaxTimeout:     10 * time.Second,
			CompileTimeout: 10 * time.Second,
			MemoryMB:       256,
			StackMB:        64,
			MaxCodeBytes:   64 << 10,
			MaxOutputBytes: 1 << 20,
			MaxConcurrent:  32,
			CleanupQueue:   1024,
			OrphanMaxAge:   10 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:       5 * time.Minute,
			KeyPrefix: "prayukti:",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Judge.Toolchain == "" {
		return fmt.Errorf("judge.toolchain is required")
	}
	if c.Judge.DefaultTimeout > c.Judge.MaxTimeout {
		return fmt.Errorf("judge.default_timeout (%s) must be <= max_timeout (%s)",
			c.Judge.DefaultTimeout, c.Judge.MaxTimeout)
	}
	if c.Judge.MaxConcurrent < 1 {
		return fmt.Errorf("judge.max_concurrent must be >= 1")
	}
	if c.Judge.MemoryMB < 16 {
		return fmt.Errorf("judge.memory_mb must be >= 16")
	}
	if c.Judge.ScratchDir != "" && !filepath.IsAbs(c.Judge.ScratchDir) {
		return fmt.Errorf("judge.scratch_dir: %q must be an absolute path", c.Judge.ScratchDir)
	}
	if err := guard.Validate(c.Guard.Rules); err != nil {
		return fmt.Errorf("guard.rules: %w", err)
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when redis_addr is set")
	}
	if c.Security.RateLimitRPS < 0 {
		return fmt.Errorf("security.rate_limit_rps must not be negative")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
