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

// DevServerConfigPath is the development backend config used when no path is given.
const DevServerConfigPath = "devserver.yaml"

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Port                    string   `yaml:"port"`
	LogLevel                string   `yaml:"logLevel"`
	JWTSecret               string   `yaml:"jwtSecret"`
	TokenTTL                string   `yaml:"tokenTTL"`
	DataDir                 string   `yaml:"dataDir"`
	DatabaseURL             string   `yaml:"databaseURL"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	AllowedExtensions       []string `yaml:"allowedExtensions"`
	CORSOrigins             []string `yaml:"corsOrigins"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	LLMProvider             string   `yaml:"llmProvider"`
	LLMBaseURL              string   `yaml:"llmBaseURL"`
	LLMAPIKey               string   `yaml:"llmApiKey"`
	LLMModel                string   `yaml:"llmModel"`
}

// LoadDevServer reads the development backend config from path (defaults to
// DevServerConfigPath). A missing file falls back to defaults.
func LoadDevServer(path string) (DevServerConfig, error) {
	cfg := DevServerConfig{}
	if path == "" {
		path = DevServerConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := os.Getenv("DEVSERVER_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("DEVSERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DEVSERVER_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("DEVSERVER_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DEVSERVER_DATA_DIR"); v != "" {
		cfg.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DEVSERVER_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DEVSERVER_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("DEVSERVER_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("DEVSERVER_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = strings.TrimSpace(v)
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = strings.TrimSpace(v)
	}
	applyDevServerDefaults(&cfg)
	if err := validateDevServerConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDevServerDefaults(cfg *DevServerConfig) {
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TokenTTL == "" {
		cfg.TokenTTL = "30m"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
}

func validateDevServerConfig(cfg DevServerConfig) error {
	if len(strings.TrimSpace(cfg.JWTSecret)) < 16 {
		return errors.New("config: jwtSecret of at least 16 bytes is required (set in config or DEVSERVER_JWT_SECRET)")
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required with minioEndpoint")
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	switch cfg.LLMProvider {
	case "":
	case "ollama", "openai-compat", "gemini":
		if cfg.LLMModel == "" {
			return fmt.Errorf("config: llmModel is required for provider %q", cfg.LLMProvider)
		}
		if cfg.LLMProvider == "gemini" && cfg.LLMAPIKey == "" {
			return errors.New("config: llmApiKey is required for gemini (set in config or LLM_API_KEY)")
		}
	default:
		return fmt.Errorf("config: llmProvider must be ollama, openai-compat or gemini, got %q", cfg.LLMProvider)
	}
	return nil
}

// ParseTokenTTL parses the access token lifetime.
func ParseTokenTTL(ttl string) (time.Duration, error) {
	if ttl == "" {
		return 0, errors.New("config: tokenTTL is required")
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: tokenTTL must be positive")
	}
	return dur, nil
}
