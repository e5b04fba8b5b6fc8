// Command maildigest runs one end-to-end digest build: fetch a mailbox
// window, normalize/thread/chunk/extract/rank/summarize it, validate the
// result, and persist the digest plus its watermark. See spec §6 "CLI" for
// the exit-code contract: 0 success, 1 partial (degraded) digest, 2 fatal
// error before a digest could be produced.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/config"
	"github.com/d1249/maildigest/internal/domain"
	"github.com/d1249/maildigest/internal/healthsrv"
	"github.com/d1249/maildigest/internal/llm"
	"github.com/d1249/maildigest/internal/llmcache"
	"github.com/d1249/maildigest/internal/mailboxdriver"
	"github.com/d1249/maildigest/internal/metrics"
	"github.com/d1249/maildigest/internal/normalize"
	"github.com/d1249/maildigest/internal/persist"
	"github.com/d1249/maildigest/internal/pipeline"
	"github.com/d1249/maildigest/internal/resilience"
	"github.com/d1249/maildigest/internal/runstore"
	"github.com/d1249/maildigest/internal/stagecache"
	"github.com/d1249/maildigest/internal/logger"
	"github.com/d1249/maildigest/internal/summarize"
)

const shutdownTimeout = 30 * time.Second

var (
	flagFromDate          string
	flagWindow            string
	flagDryRun            bool
	flagForce             bool
	flagValidateCitations bool
	flagOut               string
	flagModel             string
	flagPromptVersion     string
)

func main() {
	logger.Init(logger.Config{Level: logger.LevelInfo, Service: "maildigest"})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	root := &cobra.Command{
		Use:   "maildigest",
		Short: "Build a daily corporate-email digest",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, summarize, and persist one digest for the configured window",
		RunE:  runDigest,
	}
	runCmd.Flags().StringVar(&flagFromDate, "from-date", "", "digest date, YYYY-MM-DD (default: today in mailbox timezone)")
	runCmd.Flags().StringVar(&flagWindow, "window", "", "calendar_day or rolling_24h (default: config WINDOW_DEFAULT)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run the pipeline but do not write output files or the watermark")
	runCmd.Flags().BoolVar(&flagForce, "force", false, "rebuild even if a digest for this date already exists within the rebuild window")
	runCmd.Flags().BoolVar(&flagValidateCitations, "validate-citations", false, "fail the run on any citation/quote mismatch instead of degrading")
	runCmd.Flags().StringVar(&flagOut, "out", "", "output directory (default: config OUTPUT_DIR)")
	runCmd.Flags().StringVar(&flagModel, "model", "", "override the configured LLM model for this run")
	runCmd.Flags().StringVar(&flagPromptVersion, "prompt-version", "", "override the configured prompt version for this run")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		logger.Error("command failed: %v", err)
		os.Exit(2)
	}
}

func runDigest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config: %v", err)
	}
	if flagModel != "" {
		cfg.LLMModel = flagModel
		cfg.LLMFinalModel = flagModel
	}
	if flagPromptVersion != "" {
		cfg.PromptVersion = flagPromptVersion
	}
	if flagWindow != "" {
		cfg.WindowDefault = flagWindow
	}
	if flagOut != "" {
		cfg.OutputDir = flagOut
	}

	tz, err := time.LoadLocation(cfg.MailboxTimezone)
	if err != nil {
		logger.Fatal("invalid MAILBOX_TIMEZONE %q: %v", cfg.MailboxTimezone, err)
	}

	digestDate, err := resolveDigestDate(flagFromDate, tz)
	if err != nil {
		logger.Fatal("invalid --from-date: %v", err)
	}
	windowStart, windowEnd := resolveWindow(digestDate, cfg.WindowDefault, tz)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal, stopping run (timeout: %v)...", shutdownTimeout)
		time.AfterFunc(shutdownTimeout, func() { os.Exit(1) })
		cancel()
	}()

	registry := metrics.NewRegistry()

	var db *sqlx.DB
	var runStore *runstore.Store
	if cfg.DatabaseURL != "" {
		db, err = runstore.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("run registry unavailable, continuing without it: %v", err)
		}
	}
	runStore = runstore.New(db)

	var mongoClient *mongo.Client
	var stageStore *stagecache.Store
	if cfg.MongoDBURL != "" {
		mongoClient, err = stagecache.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("stage cache unavailable, continuing without it: %v", err)
		}
	}
	if mongoClient != nil {
		stageStore = stagecache.New(mongoClient.Database(cfg.MongoDBName))
		if err := stageStore.EnsureIndexes(ctx); err != nil {
			logger.Warn("stage cache index setup failed: %v", err)
		}
	} else {
		stageStore = stagecache.New(nil)
	}

	var redisClient *redis.Client
	llmClient := buildLLMClient(cfg)

	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}

	model := summarize.Orchestrator{
		LLM:              wrapWithCache(llmClient, redisClient, cfg, digestDate),
		ParallelPool:     cfg.ParallelPool,
		PerThreadTimeout: cfg.PerThreadTimeout,
		FlatFinalTimeout: cfg.FlatFinalTimeout,
		Model:            cfg.LLMModel,
		MaxTokens:        cfg.LLMMaxTokens,
		Log:              zerolog.Nop(),
	}

	mailbox := buildMailboxDriver(cfg)

	var healthApp *fiber.App
	if cfg.HealthAddr != "" {
		handler := healthsrv.New(db, redisClient, mongoClient, registry)
		healthApp = fiber.New(fiber.Config{DisableStartupMessage: true})
		handler.Register(healthApp)
		go func() {
			if err := healthApp.Listen(cfg.HealthAddr); err != nil {
				logger.Warn("health server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = healthApp.ShutdownWithContext(shutdownCtx)
		}()
	}

	traceID := fmt.Sprintf("%s-%s", cfg.MailboxFolders[0], digestDate.Format("20060102150405"))

	params := pipeline.Params{
		TraceID:     traceID,
		User:        firstNonEmpty(cfg.UserAliases),
		DigestDate:  digestDate,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Folders:     cfg.MailboxFolders,

		MailboxTimezone: tz,
		FailOnNaive:     cfg.FailOnNaive,
		CleanPolicy: normalize.CleanPolicy{
			KeepTopQuoteHead:      cfg.KeepTopQuoteHead,
			MaxQuoteRemovalLength: cfg.MaxQuoteRemovalLength,
		},

		UserAliases:           cfg.UserAliases,
		SenderTiers:           cfg.SenderTiers,
		ServiceSenderPrefixes: cfg.ServiceSenderPrefixes,

		ExtractConfidenceThreshold: cfg.ExtractConfidenceThreshold,

		SelectTokenBudget:  cfg.SelectTokenBudget,
		FinalInputTokenCap: cfg.FinalInputTokenCap,

		PerThreadMaxChunks:          cfg.PerThreadMaxChunks,
		PerThreadMaxChunksException: cfg.PerThreadMaxChunksException,

		ModeConfig: summarize.ModeConfig{
			Enable:                cfg.HierarchicalEnable,
			AutoEnable:            cfg.HierarchicalAutoEnable,
			AutoThreadsThreshold:  cfg.AutoThreadsThreshold,
			AutoMessagesThreshold: cfg.AutoMessagesThreshold,
		},

		ValidateCitations: flagValidateCitations,
		PromptVersion:     cfg.PromptVersion,
		StageCacheTTL:     cfg.StageCacheTTL,
	}

	jsonPath, _ := persist.Paths(cfg.OutputDir, digestDate)
	skip, err := persist.ShouldSkip(jsonPath, cfg.RebuildWindow, flagForce, time.Now().UTC())
	if err != nil {
		logger.Warn("failed to check existing digest, rebuilding anyway: %v", err)
	}
	if skip {
		logger.Info("digest for %s already built within rebuild window, skipping (use --force to rebuild)", params.DigestDate.Format("2006-01-02"))
		return nil
	}

	startedAt := time.Now().UTC()
	_ = runStore.StartRun(ctx, traceID, digestDate.Format("2006-01-02"), params.User, "pending", "pending", params.Folders, startedAt)

	result, err := pipeline.Run(ctx, pipeline.Dependencies{
		Mailbox:      mailbox,
		Orchestrator: &model,
		Metrics:      registry,
		RunStore:     runStore,
		StageCache:   stageStore,
	}, params)
	if err != nil {
		logger.Error("run failed: %v", err)
		_ = runStore.FinishRun(ctx, traceID, time.Now().UTC(), runstore.Counters{}, true, err.Error())
		if ae, ok := apperr.As(err); ok && ae.Kind.Fatal() {
			os.Exit(2)
		}
		os.Exit(2)
	}

	_ = runStore.FinishRun(ctx, traceID, time.Now().UTC(), result.Counters, result.Digest.Partial, result.Digest.DegradeReason)

	if flagDryRun {
		fmt.Println(result.Rendered)
		if result.Digest.Partial {
			os.Exit(1)
		}
		return nil
	}

	if err := persist.Write(cfg.OutputDir, digestDate, result.Digest, result.Rendered); err != nil {
		logger.Error("failed to persist digest: %v", err)
		os.Exit(2)
	}
	for _, folder := range params.Folders {
		if err := persist.WriteWatermark(cfg.OutputDir, folder, windowEnd); err != nil {
			logger.Warn("failed to write watermark for %s: %v", folder, err)
		}
	}

	logger.Info("digest built for %s: %d messages, %d actions", digestDate.Format("2006-01-02"), result.Digest.TotalMessagesProcessed, len(result.Digest.MyActions))

	if result.Digest.Partial {
		os.Exit(1)
	}
	return nil
}

func buildLLMClient(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		MaxRetries:  cfg.LLMMaxRetries,
		CBThreshold: cfg.MailboxBreakerThreshold,
		CBTimeout:   cfg.MailboxBreakerTimeout,
	})
}

func wrapWithCache(inner *llm.Client, redisClient *redis.Client, cfg *config.Config, digestDate time.Time) *llmcache.CachingModel {
	var cache *llmcache.Cache
	if redisClient != nil {
		cache = llmcache.New(redisClient, cfg.LLMCacheTTL)
	} else {
		cache = llmcache.New(nil, cfg.LLMCacheTTL)
	}
	return &llmcache.CachingModel{
		Inner:         inner,
		Cache:         cache,
		PromptVersion: cfg.PromptVersion,
		DigestDate:    digestDate.Format("2006-01-02"),
	}
}

// unconfiguredMailbox fails every Fetch with a mailbox-transport error when
// GRAPH_CLIENT_ID is unset, so a run with no mailbox driver configured
// degrades to an empty, partial digest instead of crashing on a nil driver.
type unconfiguredMailbox struct{}

func (unconfiguredMailbox) Fetch(ctx context.Context, windowStart, windowEnd time.Time, folders []string) ([]domain.RawRecord, error) {
	return nil, apperr.New(apperr.KindMailboxTransport, "mailbox driver not configured: set GRAPH_CLIENT_ID")
}

func buildMailboxDriver(cfg *config.Config) *resilience.Driver {
	var inner domain.MailboxDriver = unconfiguredMailbox{}
	if cfg.GraphClientID != "" {
		token := &oauth2.Token{
			AccessToken:  cfg.GraphAccessToken,
			RefreshToken: cfg.GraphRefreshToken,
		}
		inner = mailboxdriver.NewGraphDriver(mailboxdriver.Config{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
		}, token)
	}
	breaker := resilience.New(resilience.DefaultConfig("mailbox"))
	return resilience.NewDriver(inner, breaker, cfg.MailboxMaxRetries)
}

func resolveDigestDate(flagValue string, tz *time.Location) (time.Time, error) {
	if flagValue == "" {
		now := time.Now().In(tz)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, tz), nil
	}
	return time.ParseInLocation("2006-01-02", flagValue, tz)
}

func resolveWindow(digestDate time.Time, windowMode string, tz *time.Location) (time.Time, time.Time) {
	if windowMode == "rolling_24h" {
		end := time.Now().In(tz)
		return end.Add(-24 * time.Hour), end
	}
	start := time.Date(digestDate.Year(), digestDate.Month(), digestDate.Day(), 0, 0, 0, 0, tz)
	return start, start.Add(24 * time.Hour)
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
