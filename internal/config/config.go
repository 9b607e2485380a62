package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		IdleTimeout  time.Duration `yaml:"idleTimeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Inference struct {
		APIKey    string        `yaml:"apiKey"`
		BaseURL   string        `yaml:"baseURL"`
		Model     string        `yaml:"model"`
		MaxTokens int           `yaml:"maxTokens"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"inference"`

	Capture struct {
		MaxImageBytes int64 `yaml:"maxImageBytes"`
	} `yaml:"capture"`

	Sessions struct {
		TTL         time.Duration `yaml:"ttl"`
		MaxWait     time.Duration `yaml:"maxWait"`
		FailureKeep int           `yaml:"failureKeep"`
	} `yaml:"sessions"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	// Database holds failure diagnostics. Driver is "", "mysql" or "postgres";
	// empty keeps them in memory.
	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	// Storage holds image previews. Driver is "memory" or "minio".
	Storage struct {
		Driver string `yaml:"driver"`
		Minio  struct {
			Endpoint      string        `yaml:"endpoint"`
			AccessKey     string        `yaml:"accessKey"`
			SecretKey     string        `yaml:"secretKey"`
			BucketName    string        `yaml:"bucketName"`
			Region        string        `yaml:"region"`
			UseSSL        bool          `yaml:"useSSL"`
			Prefix        string        `yaml:"prefix"`
			PresignExpiry time.Duration `yaml:"presignExpiry"`
		} `yaml:"minio"`
	} `yaml:"storage"`
}

// Load reads .env (if present), the YAML file at path (if present), applies
// environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only configuration
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Inference.APIKey, "INFERENCE_API_KEY")
	setString(&c.Inference.BaseURL, "INFERENCE_BASE_URL")
	setString(&c.Inference.Model, "INFERENCE_MODEL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// long-polling state requests can hold the connection up to Sessions.MaxWait
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if c.Inference.Model == "" {
		c.Inference.Model = "gemini-1.5-pro"
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = 4096
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 60 * time.Second
	}
	if c.Capture.MaxImageBytes == 0 {
		c.Capture.MaxImageBytes = 10 << 20
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = 30 * time.Minute
	}
	if c.Sessions.MaxWait == 0 {
		c.Sessions.MaxWait = 60 * time.Second
	}
	if c.Sessions.FailureKeep == 0 {
		c.Sessions.FailureKeep = 500
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 20
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Minio.Prefix == "" {
		c.Storage.Minio.Prefix = "previews/"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Inference.APIKey) == "" {
		return errors.New("inference.apiKey (or INFERENCE_API_KEY) is required")
	}
	if c.Inference.Timeout < 0 {
		return fmt.Errorf("inference.timeout must be >= 0 (got %s)", c.Inference.Timeout)
	}
	if c.Capture.MaxImageBytes < 0 {
		return fmt.Errorf("capture.maxImageBytes must be > 0 (got %d)", c.Capture.MaxImageBytes)
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver: %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "memory":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucketName are required for the minio driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver: %q", c.Storage.Driver)
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
