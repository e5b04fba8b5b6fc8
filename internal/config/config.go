// Package config loads process configuration from environment variables,
// with optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration, loaded once at start and
// passed explicitly down the call graph (see spec §9 "Global state").
type Config struct {
	Environment string

	// Mailbox / run window
	MailboxTimezone string
	WindowDefault   string // calendar_day | rolling_24h
	FailOnNaive     bool

	// Output
	OutputDir     string
	RebuildWindow time.Duration
	WatermarkFile string

	// Token budgets
	SelectTokenBudget   int
	PerThreadMaxChunks  int
	PerThreadMaxChunksException int
	FinalInputTokenCap  int

	// Hierarchical thresholds
	HierarchicalEnable     bool
	HierarchicalAutoEnable bool
	AutoThreadsThreshold   int
	AutoMessagesThreshold  int
	ParallelPool           int
	PerThreadTimeout       time.Duration
	FlatFinalTimeout       time.Duration

	// LLM connection
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMFinalModel  string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMMaxRetries  int
	PromptVersion  string

	// Budget enforcement
	RunTokenBudget float64
	RunCostBudgetUSD float64

	// Cleaner policy
	KeepTopQuoteHead      int
	MaxQuoteRemovalLength int

	// Extraction
	ExtractConfidenceThreshold float64

	// Ranking / selection
	ServiceSenderPrefixes []string

	// Optional stores — absence degrades to file-only behavior, never fatal.
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Health/metrics HTTP surface
	HealthAddr string

	// Mailbox identity / selection context (spec §4.3/§4.5: user-alias
	// mentions and sender rank feed chunk signals and rank score).
	MailboxFolders []string
	UserAliases    []string
	SenderTiers    map[string]int

	// Default Graph mailbox driver (internal/mailboxdriver). A blank
	// ClientID means the driver is not configured for this run.
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphAccessToken  string
	GraphRefreshToken string

	// Mailbox/LLM fetch retry and breaker knobs shared with
	// internal/resilience.Driver and internal/llm.Client.
	MailboxMaxRetries        uint64
	MailboxBreakerThreshold  int
	MailboxBreakerTimeout    time.Duration

	// LLM response cache (internal/llmcache, supplemented feature 3).
	LLMCacheTTL time.Duration

	// Stage cache (internal/stagecache, supplemented feature 2).
	StageCacheTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),

		MailboxTimezone: getEnv("MAILBOX_TIMEZONE", "UTC"),
		WindowDefault:   getEnv("WINDOW_DEFAULT", "calendar_day"),
		FailOnNaive:     getEnvBool("FAIL_ON_NAIVE", false),

		OutputDir:     getEnv("OUTPUT_DIR", "./digests"),
		RebuildWindow: getEnvDuration("REBUILD_WINDOW", 48*time.Hour),
		WatermarkFile: getEnv("WATERMARK_FILE", "./digests/.watermark"),

		SelectTokenBudget:           getEnvInt("SELECT_TOKEN_BUDGET", 3000),
		PerThreadMaxChunks:          getEnvInt("PER_THREAD_MAX_CHUNKS", 8),
		PerThreadMaxChunksException: getEnvInt("PER_THREAD_MAX_CHUNKS_EXCEPTION", 12),
		FinalInputTokenCap:          getEnvInt("FINAL_INPUT_TOKEN_CAP", 4000),

		HierarchicalEnable:     getEnvBool("HIERARCHICAL_ENABLE", true),
		HierarchicalAutoEnable: getEnvBool("HIERARCHICAL_AUTO_ENABLE", true),
		AutoThreadsThreshold:   getEnvInt("AUTO_THREADS_THRESHOLD", 60),
		AutoMessagesThreshold:  getEnvInt("AUTO_MESSAGES_THRESHOLD", 300),
		ParallelPool:           getEnvInt("PARALLEL_POOL", 8),
		PerThreadTimeout:       getEnvDuration("PER_THREAD_TIMEOUT", 20*time.Second),
		FlatFinalTimeout:       getEnvDuration("FLAT_FINAL_TIMEOUT", 60*time.Second),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMFinalModel:  getEnv("LLM_FINAL_MODEL", ""),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
		PromptVersion:  getEnv("PROMPT_VERSION", "v1"),

		RunTokenBudget:   getEnvFloat("RUN_TOKEN_BUDGET", 200000),
		RunCostBudgetUSD: getEnvFloat("RUN_COST_BUDGET_USD", 5.0),

		KeepTopQuoteHead:      getEnvInt("KEEP_TOP_QUOTE_HEAD", 2),
		MaxQuoteRemovalLength: getEnvInt("MAX_QUOTE_REMOVAL_LENGTH", 100000),

		ExtractConfidenceThreshold: getEnvFloat("EXTRACT_CONFIDENCE_THRESHOLD", 0.5),

		ServiceSenderPrefixes: getEnvSlice("SERVICE_SENDER_PREFIXES", []string{
			"postmaster@", "mailer-daemon@", "noreply@", "no-reply@",
		}),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "maildigest"),
		RedisURL:    getEnv("REDIS_URL", ""),

		HealthAddr: getEnv("HEALTH_ADDR", ":8080"),

		MailboxFolders: getEnvSlice("MAILBOX_FOLDERS", []string{"Inbox"}),
		UserAliases:    getEnvSlice("USER_ALIASES", nil),
		SenderTiers:    getEnvIntMap("SENDER_TIERS"),

		GraphTenantID:     getEnv("GRAPH_TENANT_ID", "common"),
		GraphClientID:     getEnv("GRAPH_CLIENT_ID", ""),
		GraphClientSecret: getEnv("GRAPH_CLIENT_SECRET", ""),
		GraphAccessToken:  getEnv("GRAPH_ACCESS_TOKEN", ""),
		GraphRefreshToken: getEnv("GRAPH_REFRESH_TOKEN", ""),

		MailboxMaxRetries:       uint64(getEnvInt("MAILBOX_MAX_RETRIES", 3)),
		MailboxBreakerThreshold: getEnvInt("MAILBOX_BREAKER_THRESHOLD", 5),
		MailboxBreakerTimeout:   getEnvDuration("MAILBOX_BREAKER_TIMEOUT", 30*time.Second),

		LLMCacheTTL:   getEnvDuration("LLM_CACHE_TTL", 72*time.Hour),
		StageCacheTTL: getEnvDuration("STAGE_CACHE_TTL", 72*time.Hour),
	}

	if cfg.LLMFinalModel == "" {
		cfg.LLMFinalModel = cfg.LLMModel
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// getEnvIntMap parses a "key:value,key:value" env var into a map, used for
// SENDER_TIERS ("alice@corp.example:3,bob@corp.example:2"). Malformed
// entries are skipped rather than failing the whole load.
func getEnvIntMap(key string) map[string]int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		tier, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(kv[0])] = tier
	}
	return out
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.Environment == "production" }

// Validate performs a minimal sanity check beyond the zero-value defaults;
// callers needing OpenAI calls should check OpenAIAPIKey separately since a
// missing key is only fatal once the LLM stage is actually reached.
func (c *Config) Validate() error {
	if c.ParallelPool <= 0 {
		return fmt.Errorf("config: PARALLEL_POOL must be positive, got %d", c.ParallelPool)
	}
	if c.PerThreadMaxChunksException < c.PerThreadMaxChunks {
		return fmt.Errorf("config: PER_THREAD_MAX_CHUNKS_EXCEPTION must be >= PER_THREAD_MAX_CHUNKS")
	}
	return nil
}
