package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the client config used when no path is given.
const ConfigPath = "medivault.yaml"

// Token store backends.
const (
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
	TokenStoreMemory = "memory"
)

// FileConfig represents the client configuration loaded from YAML.
type FileConfig struct {
	APIBaseURL        string   `yaml:"apiBaseURL"`
	LogLevel          string   `yaml:"logLevel"`
	RequestTimeout    string   `yaml:"requestTimeout"`
	TokenStore        string   `yaml:"tokenStore"`
	TokenPath         string   `yaml:"tokenPath"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	RedisKey          string   `yaml:"redisKey"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	ChatGreeting      string   `yaml:"chatGreeting"`
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// not an error; defaults and environment overrides still apply.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
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
	if v := os.Getenv("MEDIVAULT_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEDIVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEDIVAULT_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEDIVAULT_TOKEN_STORE"); v != "" {
		cfg.TokenStore = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEDIVAULT_TOKEN_PATH"); v != "" {
		cfg.TokenPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MEDIVAULT_REDIS_KEY"); v != "" {
		cfg.RedisKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEDIVAULT_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("MEDIVAULT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MEDIVAULT_CHAT_GREETING"); v != "" {
		cfg.ChatGreeting = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "http://localhost:8000"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "warn"
	}
	if strings.TrimSpace(cfg.TokenStore) == "" {
		cfg.TokenStore = TokenStoreFile
	}
	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))
	if cfg.TokenStore == TokenStoreFile && strings.TrimSpace(cfg.TokenPath) == "" {
		cfg.TokenPath = DefaultTokenPath()
	}
}

// DefaultTokenPath is the per-user location of the persisted token.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "medivault", "token")
}

func validateConfig(cfg FileConfig) error {
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: apiBaseURL must be an http(s) URL, got %q", cfg.APIBaseURL)
	}
	if _, err := ParseRequestTimeout(cfg.RequestTimeout); err != nil {
		return err
	}
	switch cfg.TokenStore {
	case TokenStoreFile:
		if strings.TrimSpace(cfg.TokenPath) == "" {
			return errors.New("config: tokenPath is required for the file token store")
		}
	case TokenStoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis token store (set in config or REDIS_ADDR)")
		}
	case TokenStoreMemory:
	default:
		return fmt.Errorf("config: tokenStore must be file, redis or memory, got %q", cfg.TokenStore)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}

// ParseRequestTimeout parses an optional duration; empty means no client
// timeout beyond the transport's.
func ParseRequestTimeout(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid requestTimeout duration: %w", err)
	}
	if dur < 0 {
		return 0, errors.New("config: requestTimeout must be >= 0")
	}
	return dur, nil
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
