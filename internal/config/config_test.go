package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("MEDIVAULT_API_BASE_URL", "https://records.example.com")
	t.Setenv("MEDIVAULT_MAX_UPLOAD_BYTES", "2048")
	t.Setenv("MEDIVAULT_ALLOWED_EXTENSIONS", ".pdf, .txt,")
	t.Setenv("MEDIVAULT_TOKEN_STORE", "memory")

	cfg, err := Load(writeConfig(t, `
apiBaseURL: "http://localhost:9000"
logLevel: "debug"
requestTimeout: "15s"
tokenStore: "file"
maxUploadBytes: 1024
chatGreeting: "Hi."
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIBaseURL != "https://records.example.com" {
		t.Fatalf("apiBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.MaxUploadBytes != 2048 {
		t.Fatalf("maxUploadBytes = %d, want 2048", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowedExtensions) != 2 || cfg.AllowedExtensions[1] != ".txt" {
		t.Fatalf("allowedExtensions = %v", cfg.AllowedExtensions)
	}
	if cfg.TokenStore != TokenStoreMemory {
		t.Fatalf("tokenStore = %q", cfg.TokenStore)
	}
	if cfg.LogLevel != "debug" || cfg.ChatGreeting != "Hi." {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if d, _ := ParseRequestTimeout(cfg.RequestTimeout); d != 15*time.Second {
		t.Fatalf("requestTimeout = %v", d)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8000" || cfg.TokenStore != TokenStoreFile {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.TokenPath, filepath.Join("medivault", "token")) {
		t.Fatalf("tokenPath = %q", cfg.TokenPath)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"bad url":        `apiBaseURL: "localhost"`,
		"bad store":      `tokenStore: "sqlite"`,
		"redis no addr":  `tokenStore: "redis"`,
		"bad timeout":    `requestTimeout: "soon"`,
		"negative limit": `maxUploadBytes: -1`,
	}
	t.Setenv("REDIS_ADDR", "")
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadDevServer(t *testing.T) {
	t.Setenv("DEVSERVER_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("DEVSERVER_LOGIN_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("DEVSERVER_CORS_ORIGINS", "http://localhost:5173, https://app.example.com")

	cfg, err := LoadDevServer(writeConfig(t, `
port: "8100"
tokenTTL: "1h"
minioEndpoint: "localhost:9000"
minioAccessKey: "minio"
minioSecretKey: "minio123"
minioBucket: "records"
llmProvider: "Ollama"
llmModel: "llama3"
`))
	if err != nil {
		t.Fatalf("load devserver config: %v", err)
	}
	if cfg.Port != "8100" || cfg.LoginRateLimitPerMinute != 5 || !cfg.MinioUseSSL {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LLMProvider != "ollama" {
		t.Fatalf("llmProvider = %q", cfg.LLMProvider)
	}
	if ttl, _ := ParseTokenTTL(cfg.TokenTTL); ttl != time.Hour {
		t.Fatalf("tokenTTL = %v", ttl)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://app.example.com" {
		t.Fatalf("corsOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.MaxUploadBytes != 20<<20 || cfg.DataDir != "data" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadDevServerRequiresSecret(t *testing.T) {
	t.Setenv("DEVSERVER_JWT_SECRET", "")
	if _, err := LoadDevServer(writeConfig(t, `port: "8000"`)); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}
