package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sentinelai/sentinel/internal/activity"
	"github.com/sentinelai/sentinel/internal/api"
	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/blobstore"
	"github.com/sentinelai/sentinel/internal/blobstore/localstore"
	"github.com/sentinelai/sentinel/internal/blobstore/s3store"
	"github.com/sentinelai/sentinel/internal/collab"
	"github.com/sentinelai/sentinel/internal/config"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/pipeline"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/queue/memqueue"
	"github.com/sentinelai/sentinel/internal/queue/redisqueue"
	"github.com/sentinelai/sentinel/internal/repository"
	"github.com/sentinelai/sentinel/internal/sweeper"

	"github.com/redis/go-redis/v9"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "sentinel-server",
		Short: "Sentinel AI server — evidence ingestion and analysis pipeline",
		Long: `Sentinel AI is a job orchestration and pipeline fabric for ingesting
document, audio, video, and CDR evidence, fanning work out to typed
workers, building a cross-artifact knowledge graph, and exposing
RBAC-scoped results over a REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	if err := config.BindFlags(root, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sentinel-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// run wires every component in the order SPEC_FULL.md §2 specifies: Artifact
// Store, Metadata Store, Queue Fabric, Typed Workers, API Gateway. Each
// stage's dependencies are only the stages already built above it.
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting sentinel server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("queue_backend", cfg.QueueBackend),
		zap.String("blob_backend", cfg.BlobBackend),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Encryption ---
	// Must run before opening the database so EncryptedString fields can
	// transparently encrypt/decrypt user passwords and OIDC client secrets.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.SecretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 1. Artifact Store ---
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// --- 2. Metadata Store ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	userRepo := repository.NewUserRepository(gormDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(gormDB)
	oidcProviderRepo := repository.NewOIDCProviderRepository(gormDB)
	jobRepo := repository.NewJobRepository(gormDB)
	artifactRepo := repository.NewArtifactRepository(gormDB)
	suspectRepo := repository.NewSuspectRepository(gormDB)
	chunkRepo := repository.NewChunkRepository(gormDB)
	graphRepo := repository.NewGraphRepository(gormDB)
	activityRepo := repository.NewActivityRepository(gormDB)
	activityRec := activity.New(activityRepo, logger)

	// --- 3. Queue Fabric ---
	queueFabric, err := buildQueueFabric(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize queue fabric: %w", err)
	}
	defer func() {
		if err := queueFabric.Close(); err != nil {
			logger.Warn("queue fabric shutdown error", zap.Error(err))
		}
	}()

	// --- Auth ---
	// In development (no data dir or missing key files), ephemeral keys are
	// generated in memory. In production, persistent PEM files are used so
	// tokens survive server restarts.
	jwtManager, err := buildJWTManager(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	localProvider := auth.NewLocalAuthProvider(userRepo, refreshTokenRepo, jwtManager)
	oidcProvider := auth.NewOIDCAuthProvider(oidcProviderRepo, userRepo, refreshTokenRepo, jwtManager)
	authService := auth.NewAuthService(localProvider, oidcProvider, refreshTokenRepo, jwtManager)

	// --- 4. Typed Workers ---
	deps := &pipeline.Deps{
		Blobs:     blobs,
		Jobs:      jobRepo,
		Artifacts: artifactRepo,
		Suspects:  suspectRepo,
		Chunks:    chunkRepo,
		Graph:     graphRepo,
		Queue:     queueFabric,

		Transcriber:    collab.NewDeterministic(),
		Extractor:      collab.NewDeterministic(),
		Translator:     collab.NewDeterministic(),
		Summarizer:     collab.NewDeterministic(),
		Vision:         collab.NewDeterministic(),
		Embedder:       collab.NewDeterministic(),
		GraphExtractor: collab.NewDeterministic(),
		VectorIndex:    collab.NewDeterministic(),

		CanonicalLanguage: "en",
		MaxRetries:        cfg.MaxRetries,
		BackoffBase:       cfg.ParsedBackoffBase(),
		StageTimeout:      cfg.ParsedStageTimeout(),
		Logger:            logger,
	}
	gate := pipeline.NewGate(artifactRepo, queueFabric, logger)
	runners := pipeline.BuildRunners(deps, gate, cfg.WorkerPoolSize, cfg.GraphWorkerPoolSize)

	for _, runner := range runners {
		runner := runner
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("pipeline runner stopped", zap.Error(err))
			}
		}()
	}

	// --- Sweeper ---
	sweep, err := sweeper.New(jobRepo, blobs, sweeper.Config{
		Retention: cfg.ParsedBlobRetention(),
		Interval:  cfg.ParsedSweeperInterval(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	if err := sweep.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	defer func() {
		if err := sweep.Stop(); err != nil {
			logger.Warn("sweeper shutdown error", zap.Error(err))
		}
	}()

	// --- 5. API Gateway ---
	router := api.NewRouter(api.RouterConfig{
		DB:        gormDB,
		AuthSvc:   authService,
		Users:     userRepo,
		Jobs:      jobRepo,
		Artifacts: artifactRepo,
		Suspects:  suspectRepo,
		Queue:     queueFabric,
		Blobs:     blobs,
		Activity:  activityRec,
		Config:    cfg,
		Logger:    logger,
		Secure:    cfg.SecureCookies,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down sentinel server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("sentinel server stopped")
	return nil
}

// buildBlobStore selects the blobstore.Store implementation per
// cfg.BlobBackend. Validate already guarantees BlobBackend is "local" or
// "s3", and that S3Bucket is set when "s3" is chosen.
func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		if err := os.MkdirAll(cfg.BlobLocalDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating local blob directory: %w", err)
		}
		return localstore.New(cfg.BlobLocalDir)
	}
}

// buildQueueFabric selects the queue.Fabric implementation per
// cfg.QueueBackend.
func buildQueueFabric(cfg *config.Config) (queue.Fabric, error) {
	switch cfg.QueueBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return redisqueue.New(client), nil
	default:
		return memqueue.New(cfg.ParsedStageTimeout()), nil
	}
}

// buildJWTManager loads RSA keys from the data directory if available,
// or generates ephemeral in-memory keys for development.
func buildJWTManager(dataDir string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, "sentinel-server")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return auth.NewJWTManagerGenerated("sentinel-server")
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
