package config

import (
	"os"
	"path/filepath"
	"testing"
)

const baseYAML = `
port: "8080"
logLevel: "info"
databaseDriver: "sqlite"
sqlitePath: "ledger.db"
redisAddr: "localhost:6379"
blobBackend: "fs"
dataDir: "data"
jwtSecret: "test-secret"
embeddingModel: "nomic-embed-text"
generationModel: "llama3"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ChunkSize != 800 {
		t.Errorf("chunkSize = %d, want 800", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap != 120 {
		t.Errorf("chunkOverlap = %d, want 120", cfg.ChunkOverlap)
	}
	if cfg.TopK != 4 {
		t.Errorf("topK = %d, want 4", cfg.TopK)
	}
	if cfg.RetentionMaxAgeHours != 24*30 {
		t.Errorf("retentionMaxAgeHours = %d, want %d", cfg.RetentionMaxAgeHours, 24*30)
	}
	if cfg.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("ollamaBaseURL = %q", cfg.OllamaBaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("RAGSERVE_CHUNK_SIZE", "1024")
	t.Setenv("RAGSERVE_RETENTION_MAX_AGE_HOURS", "48")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Errorf("jwtSecret = %q, want env override", cfg.JWTSecret)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("redisAddr = %q, want env override", cfg.RedisAddr)
	}
	if cfg.ChunkSize != 1024 {
		t.Errorf("chunkSize = %d, want 1024", cfg.ChunkSize)
	}
	if cfg.RetentionMaxAgeHours != 48 {
		t.Errorf("retentionMaxAgeHours = %d, want 48", cfg.RetentionMaxAgeHours)
	}
}

func TestValidateConfigRejectsMissingSQLitePath(t *testing.T) {
	cfg := FileConfig{
		Port:           "8080",
		DatabaseDriver: "sqlite",
		RedisAddr:      "localhost:6379",
		BlobBackend:    "fs",
		DataDir:        "data",
		JWTSecret:      "s",
		DummyAI:        true,
		ChunkSize:      800,
		ChunkOverlap:   120,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing sqlitePath")
	}
}

func TestValidateConfigRejectsInvalidChunkSettings(t *testing.T) {
	cfg := FileConfig{
		Port:           "8080",
		DatabaseDriver: "sqlite",
		SQLitePath:     "ledger.db",
		RedisAddr:      "localhost:6379",
		BlobBackend:    "fs",
		DataDir:        "data",
		JWTSecret:      "s",
		DummyAI:        true,
		ChunkSize:      100,
		ChunkOverlap:   100,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for chunkOverlap >= chunkSize")
	}
}

func TestValidateConfigRejectsUnknownBlobBackend(t *testing.T) {
	cfg := FileConfig{
		Port:           "8080",
		DatabaseDriver: "sqlite",
		SQLitePath:     "ledger.db",
		RedisAddr:      "localhost:6379",
		BlobBackend:    "s3",
		JWTSecret:      "s",
		DummyAI:        true,
		ChunkSize:      800,
		ChunkOverlap:   120,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for unknown blobBackend")
	}
}

func TestValidateConfigRequiresModelsWithoutDummy(t *testing.T) {
	cfg := FileConfig{
		Port:           "8080",
		DatabaseDriver: "sqlite",
		SQLitePath:     "ledger.db",
		RedisAddr:      "localhost:6379",
		BlobBackend:    "fs",
		DataDir:        "data",
		JWTSecret:      "s",
		ChunkSize:      800,
		ChunkOverlap:   120,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing models")
	}
}
