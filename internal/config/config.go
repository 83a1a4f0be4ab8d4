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

// ConfigPath is the default config location relative to the working dir.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Storage backend for the lifecycle ledger: "postgres" or "sqlite".
	DatabaseDriver string `yaml:"databaseDriver"`
	DatabaseURL    string `yaml:"databaseURL"`
	SQLitePath     string `yaml:"sqlitePath"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// Blob backend for raw uploads: "minio" or "fs".
	BlobBackend    string `yaml:"blobBackend"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	DataDir        string `yaml:"dataDir"`

	OllamaBaseURL   string `yaml:"ollamaBaseURL"`
	EmbeddingModel  string `yaml:"embeddingModel"`
	GenerationModel string `yaml:"generationModel"`
	// DummyAI bypasses the model backend and streams canned replies.
	DummyAI bool `yaml:"dummyAI"`

	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`
	TopK         int `yaml:"topK"`

	JWTSecret         string `yaml:"jwtSecret"`
	SessionTTLMinutes int    `yaml:"sessionTTLMinutes"`

	// RetentionMaxAgeHours bounds how old an upload must be before the
	// reclamation scan reports it.
	RetentionMaxAgeHours int `yaml:"retentionMaxAgeHours"`

	LoginRateLimit    int `yaml:"loginRateLimit"`
	LoginRateWindowMS int `yaml:"loginRateWindowMS"`

	EmbedWorkers int `yaml:"embedWorkers"`
}

// SessionTTL returns the transcript/token lifetime.
func (c FileConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// RetentionMaxAge returns the reclamation age threshold.
func (c FileConfig) RetentionMaxAge() time.Duration {
	return time.Duration(c.RetentionMaxAgeHours) * time.Hour
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
	applyDefaults(&cfg)
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
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("RAGSERVE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("RAGSERVE_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("RAGSERVE_RETENTION_MAX_AGE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionMaxAgeHours = n
		}
	}
	if v := os.Getenv("RAGSERVE_DUMMY_AI"); v != "" {
		cfg.DummyAI = v == "true" || v == "1"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.BlobBackend == "" {
		cfg.BlobBackend = "minio"
	}
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://localhost:11434"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 120
	}
	if cfg.TopK == 0 {
		cfg.TopK = 4
	}
	if cfg.SessionTTLMinutes == 0 {
		cfg.SessionTTLMinutes = 24 * 60
	}
	if cfg.RetentionMaxAgeHours == 0 {
		cfg.RetentionMaxAgeHours = 24 * 30
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.LoginRateWindowMS == 0 {
		cfg.LoginRateWindowMS = 60000
	}
	if cfg.EmbedWorkers == 0 {
		cfg.EmbedWorkers = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return errors.New("config: sqlitePath is required when databaseDriver is sqlite")
		}
	default:
		return fmt.Errorf("config: unknown databaseDriver %q (want postgres or sqlite)", cfg.DatabaseDriver)
	}
	switch cfg.BlobBackend {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required when blobBackend is minio")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minio credentials are required (set in config.yaml or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
		}
	case "fs":
		if cfg.DataDir == "" {
			return errors.New("config: dataDir is required when blobBackend is fs")
		}
	default:
		return fmt.Errorf("config: unknown blobBackend %q (want minio or fs)", cfg.BlobBackend)
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if !cfg.DummyAI {
		if cfg.EmbeddingModel == "" {
			return errors.New("config: embeddingModel is required (set in config.yaml)")
		}
		if cfg.GenerationModel == "" {
			return errors.New("config: generationModel is required (set in config.yaml)")
		}
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be non-negative and smaller than chunkSize")
	}
	if cfg.RetentionMaxAgeHours < 0 {
		return errors.New("config: retentionMaxAgeHours must be non-negative")
	}
	return nil
}
