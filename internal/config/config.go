package config

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	DatabasePath  string `json:"database_path"`
	APIPort       string `json:"api_port"`
	LogLevel      string `json:"log_level"`
	DataDir       string `json:"data_dir"`
	EncryptionKey string `json:"encryption_key"` // 用于加密邮箱凭据
	CORSOrigins   string `json:"cors_origins"`

	// AI provider (deep classifier)
	AIProvider    string `json:"ai_provider"` // openai, claude, custom
	AIAPIKey      string `json:"ai_api_key"`
	AIModel       string `json:"ai_model"`
	AIBaseURL     string `json:"ai_base_url"`
	AIContextSize int    `json:"ai_context_size"` // model context window in tokens

	// Confidence routing thresholds (0.7/0.9 are the canonical policy)
	ReviewThreshold  float64 `json:"review_threshold"`  // below this a job-related verdict needs review
	ApproveThreshold float64 `json:"approve_threshold"` // at or above this a verdict is auto-approved
	RejectThreshold  float64 `json:"reject_threshold"`  // below this a verdict is auto-rejected

	// Circuit breaker around the deep classifier
	BreakerMaxFailures     int `json:"breaker_max_failures"`
	BreakerCooldownSeconds int `json:"breaker_cooldown_seconds"`

	// Pipeline tuning
	ClassifyWorkers     int `json:"classify_workers"`      // bounded parallelism in the classify phase
	FetchBatchSize      int `json:"fetch_batch_size"`      // page size for the fetcher
	ReviewRetentionDays int `json:"review_retention_days"` // default retention for review entries
	SyncIntervalMinutes int `json:"sync_interval_minutes"` // 0 disables the background scheduler
	MaxEmailsPerSync    int `json:"max_emails_per_sync"`   // 0 means unlimited
}

// Default configuration values
const (
	DefaultDatabasePath        = "data/jobtrail.db"
	DefaultAPIPort             = "8080"
	DefaultLogLevel            = "INFO"
	DefaultDataDir             = "data"
	DefaultEncryptionKey       = "" // 空表示从固定种子派生，仅用于开发
	DefaultCORSOrigins         = "*"
	DefaultAIProvider          = "openai"
	DefaultAIModel             = ""
	DefaultAIContextSize       = 8192
	DefaultReviewThreshold     = 0.7
	DefaultApproveThreshold    = 0.9
	DefaultRejectThreshold     = 0.3
	DefaultBreakerMaxFailures  = 3
	DefaultBreakerCooldownSecs = 300
	DefaultClassifyWorkers     = 4
	DefaultFetchBatchSize      = 25
	DefaultReviewRetentionDays = 14
	DefaultSyncIntervalMinutes = 0
	DefaultMaxEmailsPerSync    = 200
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:           DefaultDatabasePath,
		APIPort:                DefaultAPIPort,
		LogLevel:               DefaultLogLevel,
		DataDir:                DefaultDataDir,
		EncryptionKey:          DefaultEncryptionKey,
		CORSOrigins:            DefaultCORSOrigins,
		AIProvider:             DefaultAIProvider,
		AIModel:                DefaultAIModel,
		AIContextSize:          DefaultAIContextSize,
		ReviewThreshold:        DefaultReviewThreshold,
		ApproveThreshold:       DefaultApproveThreshold,
		RejectThreshold:        DefaultRejectThreshold,
		BreakerMaxFailures:     DefaultBreakerMaxFailures,
		BreakerCooldownSeconds: DefaultBreakerCooldownSecs,
		ClassifyWorkers:        DefaultClassifyWorkers,
		FetchBatchSize:         DefaultFetchBatchSize,
		ReviewRetentionDays:    DefaultReviewRetentionDays,
		SyncIntervalMinutes:    DefaultSyncIntervalMinutes,
		MaxEmailsPerSync:       DefaultMaxEmailsPerSync,
	}

	// Try to load from config file
	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	// Override with environment variables
	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json file
func (c *Config) loadFromFile() error {
	// Look for config file in current directory and data directory
	configPaths := []string{
		"config.json",
		filepath.Join(c.DataDir, "config.json"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(data, c); err != nil {
			return err
		}
		return nil
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("JOBTRAIL_DATABASE_PATH"); val != "" {
		c.DatabasePath = val
	}
	if val := os.Getenv("JOBTRAIL_API_PORT"); val != "" {
		c.APIPort = val
	}
	if val := os.Getenv("JOBTRAIL_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("JOBTRAIL_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("JOBTRAIL_ENCRYPTION_KEY"); val != "" {
		c.EncryptionKey = val
	}
	if val := os.Getenv("JOBTRAIL_CORS_ORIGINS"); val != "" {
		c.CORSOrigins = val
	}
	if val := os.Getenv("JOBTRAIL_AI_PROVIDER"); val != "" {
		c.AIProvider = val
	}
	if val := os.Getenv("JOBTRAIL_AI_API_KEY"); val != "" {
		c.AIAPIKey = val
	}
	if val := os.Getenv("JOBTRAIL_AI_MODEL"); val != "" {
		c.AIModel = val
	}
	if val := os.Getenv("JOBTRAIL_AI_BASE_URL"); val != "" {
		c.AIBaseURL = val
	}
	if val := os.Getenv("JOBTRAIL_AI_CONTEXT_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.AIContextSize = n
		}
	}
	if val := os.Getenv("JOBTRAIL_SYNC_INTERVAL_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.SyncIntervalMinutes = n
		}
	}
	if val := os.Getenv("JOBTRAIL_CLASSIFY_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.ClassifyWorkers = n
		}
	}
}

// GetEncryptionKey returns the 32-byte key used for credential encryption.
// If EncryptionKey is empty a development key is derived from a fixed seed.
func (c *Config) GetEncryptionKey() []byte {
	seed := c.EncryptionKey
	if seed == "" {
		seed = "jobtrail-default-key-change-in-production"
	}
	// 使用 SHA-256 确保密钥长度为 32 字节
	hash := sha256.Sum256([]byte(seed))
	return hash[:]
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
