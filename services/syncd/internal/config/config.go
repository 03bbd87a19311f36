package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location.
const ConfigPath = "config.yaml"

// Storage backends for user and guest documents.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMinio    = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	TrustedProxies []string `yaml:"trustedProxies"`

	HSTSMaxAge            string `yaml:"hstsMaxAge"`
	HSTSIncludeSubdomains bool   `yaml:"hstsIncludeSubdomains"`

	UserBackend  string `yaml:"userBackend"`
	GuestBackend string `yaml:"guestBackend"`
	DataDir      string `yaml:"dataDir"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ContentCacheAddr   string `yaml:"contentCacheAddr"`
	ContentCachePrefix string `yaml:"contentCachePrefix"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	SyncTimeout     string `yaml:"syncTimeout"`
	SyncMinInterval string `yaml:"syncMinInterval"`
	SaveTimeout     string `yaml:"saveTimeout"`

	CallBurstThreshold int    `yaml:"callBurstThreshold"`
	CallBurstWindow    string `yaml:"callBurstWindow"`
	DebugEndpoints     bool   `yaml:"debugEndpoints"`

	WriteRateLimitPerMinute int `yaml:"writeRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("SYNCD_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SYNCD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYNCD_USER_BACKEND"); v != "" {
		cfg.UserBackend = v
	}
	if v := os.Getenv("SYNCD_GUEST_BACKEND"); v != "" {
		cfg.GuestBackend = v
	}
	if v := os.Getenv("SYNCD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("SYNCD_CONTENT_CACHE_ADDR"); v != "" {
		cfg.ContentCacheAddr = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("SYNCD_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SYNCD_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("SYNCD_HSTS_MAX_AGE"); v != "" {
		cfg.HSTSMaxAge = v
	}
	if v := os.Getenv("SYNCD_WRITE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SYNCD_DEBUG_ENDPOINTS"); v != "" {
		cfg.DebugEndpoints = v == "true"
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.UserBackend == "" {
		cfg.UserBackend = BackendMemory
	}
	if cfg.GuestBackend == "" {
		cfg.GuestBackend = BackendMemory
	}
	if strings.TrimSpace(cfg.HSTSMaxAge) == "" {
		cfg.HSTSMaxAge = "8760h"
	}
	cfg.UserBackend = strings.ToLower(strings.TrimSpace(cfg.UserBackend))
	cfg.GuestBackend = strings.ToLower(strings.TrimSpace(cfg.GuestBackend))
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or SYNCD_JWT_SECRET)")
	}
	switch cfg.UserBackend {
	case BackendMemory:
	case BackendFile:
		if cfg.DataDir == "" {
			return errors.New("config: dataDir is required for the file backend")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres backend")
		}
	case BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown userBackend %q", cfg.UserBackend)
	}
	switch cfg.GuestBackend {
	case BackendMemory:
	case BackendFile:
		if cfg.DataDir == "" {
			return errors.New("config: dataDir is required for the file backend")
		}
	default:
		return fmt.Errorf("config: guestBackend must be %q or %q, got %q", BackendMemory, BackendFile, cfg.GuestBackend)
	}
	if cfg.WriteRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when writeRateLimitPerMinute is set")
	}
	for name, raw := range map[string]string{
		"jwtLeeway":       cfg.JWTLeeway,
		"syncTimeout":     cfg.SyncTimeout,
		"syncMinInterval": cfg.SyncMinInterval,
		"saveTimeout":     cfg.SaveTimeout,
		"callBurstWindow": cfg.CallBurstWindow,
		"hstsMaxAge":      cfg.HSTSMaxAge,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration. Empty input yields zero so
// callers fall back to their defaults.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}

// MustDuration parses a duration already checked by validateConfig.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDuration(raw)
	return d
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
