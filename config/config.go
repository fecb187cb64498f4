package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxLinkExpiry is the longest lifetime object storage grants a presigned
// link.
const MaxLinkExpiry = 7 * 24 * time.Hour

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Store     StoreConfig     `yaml:"store"`
	Records   RecordsConfig   `yaml:"records"`
	Blob      BlobConfig      `yaml:"blob"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
}

// BotConfig holds the chat-facing identity: the single privileged operator
// and the credential the transport presents on every event.
type BotConfig struct {
	OperatorID     int64  `yaml:"operator_id"`
	TransportToken string `yaml:"transport_token"`
}

type StoreConfig struct {
	Type             string      `yaml:"type"`
	RecordsPath      string      `yaml:"records_path"`
	EntitlementsPath string      `yaml:"entitlements_path"`
	Redis            RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	RecordsKey      string `yaml:"records_key"`
	EntitlementsKey string `yaml:"entitlements_key"`
}

type RecordsConfig struct {
	Views         int           `yaml:"views"`
	TTL           time.Duration `yaml:"ttl"`
	FreeSizeLimit int64         `yaml:"free_size_limit"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
}

type BlobConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Bucket     string        `yaml:"bucket"`
	UseSSL     bool          `yaml:"use_ssl"`
	LinkExpiry time.Duration `yaml:"link_expiry"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Enabled reports whether enough is configured to reach blob storage.
func (b BlobConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			MaxUploadBytes: 2 << 30,
			RequestTimeout: 60 * time.Second,
			UploadTimeout:  15 * time.Minute,
		},
		Store: StoreConfig{
			Type:             "file",
			RecordsPath:      "files.json",
			EntitlementsPath: "premium.json",
			Redis: RedisConfig{
				Addr:            "localhost:6379",
				Password:        "",
				DB:              0,
				RecordsKey:      "gravebox:records",
				EntitlementsKey: "gravebox:entitlements",
			},
		},
		Records: RecordsConfig{
			Views:         1,
			TTL:           1 * time.Hour,
			FreeSizeLimit: 10_000_000,
			ReapInterval:  60 * time.Second,
		},
		Blob: BlobConfig{
			Bucket: "gravebox",
			UseSSL: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.loadFromEnv()

	// presigned links live as long as the records pointing at them
	if cfg.Blob.LinkExpiry == 0 {
		cfg.Blob.LinkExpiry = cfg.Records.TTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Server.MaxUploadBytes = n
		}
	}

	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("UPLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.UploadTimeout = d
		}
	}

	if v := os.Getenv("ADMIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Bot.OperatorID = id
		}
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Bot.TransportToken = v
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("RECORDS_PATH"); v != "" {
		c.Store.RecordsPath = v
	}
	if v := os.Getenv("ENTITLEMENTS_PATH"); v != "" {
		c.Store.EntitlementsPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}

	if v := os.Getenv("RECORD_VIEWS"); v != "" {
		if views, err := strconv.Atoi(v); err == nil {
			c.Records.Views = views
		}
	}
	if v := os.Getenv("RECORD_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Records.TTL = ttl
		}
	}
	if v := os.Getenv("FREE_SIZE_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Records.FreeSizeLimit = n
		}
	}
	if v := os.Getenv("REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Records.ReapInterval = d
		}
	}

	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		c.Blob.Endpoint = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		c.Blob.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		c.Blob.SecretKey = v
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		c.Blob.Bucket = v
	}
	if v := os.Getenv("BLOB_USE_SSL"); v != "" {
		c.Blob.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("BLOB_LINK_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Blob.LinkExpiry = d
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.RequestTimeout <= 0 || c.Server.UploadTimeout <= 0 {
		return fmt.Errorf("request_timeout and upload_timeout must be positive")
	}

	if c.Bot.OperatorID == 0 {
		return fmt.Errorf("operator_id is required")
	}

	if c.Bot.TransportToken == "" {
		return fmt.Errorf("transport_token is required")
	}

	switch c.Store.Type {
	case "file":
		if c.Store.RecordsPath == "" || c.Store.EntitlementsPath == "" {
			return fmt.Errorf("records_path and entitlements_path are required when store type is 'file'")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when store type is 'redis'")
		}
		if c.Store.Redis.RecordsKey == "" || c.Store.Redis.EntitlementsKey == "" {
			return fmt.Errorf("redis records_key and entitlements_key are required")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be 'file' or 'redis')", c.Store.Type)
	}

	if c.Records.Views < 1 {
		return fmt.Errorf("views must be at least 1")
	}

	if c.Records.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if c.Records.FreeSizeLimit <= 0 {
		return fmt.Errorf("free_size_limit must be positive")
	}

	if c.Records.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive")
	}

	if c.Server.MaxUploadBytes < c.Records.FreeSizeLimit {
		return fmt.Errorf("max_upload_bytes must be >= free_size_limit")
	}

	if c.Blob.Enabled() {
		if c.Blob.LinkExpiry < c.Records.TTL {
			return fmt.Errorf("blob link_expiry (%s) must be at least the record ttl (%s)", c.Blob.LinkExpiry, c.Records.TTL)
		}
		if c.Blob.LinkExpiry > MaxLinkExpiry {
			return fmt.Errorf("blob link_expiry must not exceed %s", MaxLinkExpiry)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("requests_per_min must be at least 1 when rate limiting is enabled")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
