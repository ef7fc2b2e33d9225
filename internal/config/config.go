package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working dir.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	BridgeURL                  string `yaml:"bridgeURL"`
	BridgeUploadTimeoutSeconds int    `yaml:"bridgeUploadTimeoutSeconds"`
	BridgeQueryTimeoutSeconds  int    `yaml:"bridgeQueryTimeoutSeconds"`

	UploadDir         string   `yaml:"uploadDir"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SessionSecret   string `yaml:"sessionSecret"`
	SessionTTLHours int    `yaml:"sessionTTLHours"`
	RequireRole     bool   `yaml:"requireRole"`

	SignupRateLimit        int `yaml:"signupRateLimit"`
	LoginRateLimit         int `yaml:"loginRateLimit"`
	RateLimitWindowSeconds int `yaml:"rateLimitWindowSeconds"`
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
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RAGCHAT_BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}
	if v := os.Getenv("RAGCHAT_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("RAGCHAT_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("RAGCHAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("RAGCHAT_REQUIRE_ROLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireRole = b
		}
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

	for i, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.AllowedExtensions[i] = ext
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.BridgeURL == "" {
		return errors.New("config: bridgeURL is required (set in config.yaml or RAGCHAT_BRIDGE_URL)")
	}
	if !strings.HasPrefix(cfg.BridgeURL, "ws://") && !strings.HasPrefix(cfg.BridgeURL, "wss://") {
		return errors.New("config: bridgeURL must be a ws:// or wss:// URL")
	}
	if cfg.BridgeUploadTimeoutSeconds < 0 || cfg.BridgeQueryTimeoutSeconds < 0 {
		return errors.New("config: bridge timeouts must be >= 0")
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return errors.New("config: sessionSecret is required (set in config.yaml or RAGCHAT_SESSION_SECRET)")
	}
	if cfg.SessionTTLHours < 0 {
		return errors.New("config: sessionTTLHours must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.UploadDir == "" && cfg.MinioEndpoint == "" {
		return errors.New("config: uploadDir or minioEndpoint is required")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minio requires minioAccessKey, minioSecretKey and minioBucket")
	}
	if cfg.SignupRateLimit < 0 || cfg.LoginRateLimit < 0 || cfg.RateLimitWindowSeconds < 0 {
		return errors.New("config: rate limit settings must be >= 0")
	}
	if (cfg.SignupRateLimit > 0 || cfg.LoginRateLimit > 0) && cfg.RedisAddr == "" {
		return errors.New("config: rate limiting requires redisAddr (set in config.yaml or REDIS_ADDR)")
	}
	return nil
}
