package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// AWSConfig selects regions and an optional S3-compatible endpoint.
// Credentials come from the default chain unless static keys are given
// for a custom endpoint.
type AWSConfig struct {
    Region          string // Bedrock control plane + runtime
    S3Region        string
    S3Endpoint      string
    S3UsePathStyle  bool
    S3AccessKeyID   string
    S3SecretKey     string
}

// BatchConfig defines manifest, submission and result defaults.
type BatchConfig struct {
    RoleARN           string
    DefaultModelID    string
    MaxTokens         int
    Temperature       float64
    MaxEncodedBytes   int
    PollInterval      time.Duration
    PreviewLines      int
    VideoPreviewLines int
    WorkDir           string
    Concurrency       int
    PresignTTL        time.Duration
}

// RegistryConfig selects where job registry entries are persisted.
type RegistryConfig struct {
    Backend   string // "file"|"redis"
    Path      string
    RedisURL  string
    KeyPrefix string
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
    Addr string
}

// Config is the top-level configuration.
type Config struct {
    Logging  LoggingConfig
    Axiom    AxiomConfig
    AWS      AWSConfig
    Batch    BatchConfig
    Registry RegistryConfig
    Metrics  MetricsConfig
}

// FromEnv loads configuration from environment with sensible defaults.
// A .env file in the working directory is applied first when present.
func FromEnv() Config {
    _ = godotenv.Load()

    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/bedrockbatch.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_bedrockbatch",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    region := getEnv("AWS_REGION", "us-east-1")
    cfg.AWS = AWSConfig{
        Region:         getEnv("BEDROCK_REGION", region),
        S3Region:       getEnv("S3_REGION", region),
        S3Endpoint:     getEnv("S3_ENDPOINT", ""),
        S3UsePathStyle: parseBool(getEnv("S3_USE_PATH_STYLE", "false")),
        S3AccessKeyID:  getEnv("S3_ACCESS_KEY_ID", ""),
        S3SecretKey:    getEnv("S3_SECRET_ACCESS_KEY", ""),
    }

    cfg.Batch = BatchConfig{
        RoleARN:           getEnv("BATCH_ROLE_ARN", ""),
        DefaultModelID:    getEnv("BATCH_MODEL_ID", "us.anthropic.claude-3-5-haiku-20241022-v1:0"),
        MaxTokens:         parseInt(getEnv("BATCH_MAX_TOKENS", "2048"), 2048),
        Temperature:       parseFloat(getEnv("BATCH_TEMPERATURE", "0.1"), 0.1),
        MaxEncodedBytes:   parseInt(getEnv("BATCH_MAX_ENCODED_BYTES", ""), 0),
        PollInterval:      parseDuration(getEnv("BATCH_POLL_INTERVAL", "30s"), 30*time.Second),
        PreviewLines:      parseInt(getEnv("BATCH_PREVIEW_LINES", "3"), 3),
        VideoPreviewLines: parseInt(getEnv("BATCH_VIDEO_PREVIEW_LINES", "1"), 1),
        WorkDir:           getEnv("BATCH_WORK_DIR", os.TempDir()),
        Concurrency:       parseInt(getEnv("BATCH_CONCURRENCY", "1"), 1),
        PresignTTL:        parseDuration(getEnv("BATCH_PRESIGN_TTL", "0"), 0),
    }
    if cfg.Batch.PollInterval <= 0 { cfg.Batch.PollInterval = 30 * time.Second }
    if cfg.Batch.Concurrency <= 0 { cfg.Batch.Concurrency = 1 }

    cfg.Registry = RegistryConfig{
        Backend:   strings.ToLower(getEnv("REGISTRY_BACKEND", "file")),
        Path:      getEnv("REGISTRY_PATH", "job_states.json"),
        RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
        KeyPrefix: getEnv("REGISTRY_KEY_PREFIX", "bedrockbatch:jobs"),
    }

    cfg.Metrics = MetricsConfig{Addr: getEnv("METRICS_ADDR", "")}

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
