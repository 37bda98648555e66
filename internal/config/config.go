// Package config loads Sentinel AI's configuration once at process startup
// from Cobra flags and SENTINEL_* environment variables, in that precedence
// order — layered the same way the teacher's cmd/server/main.go binds flags
// over envOrDefault, generalized to Viper. No configuration file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every setting read at startup. It is immutable once loaded —
// nothing in this repository re-reads Viper after New returns, matching
// SPEC_FULL.md §6's "no runtime mutation" contract.
type Config struct {
	HTTPAddr      string
	DBDriver      string
	DBDSN         string
	SecretKey     string
	LogLevel      string
	DataDir       string
	SecureCookies bool

	// QueueBackend selects the queue.Fabric implementation: "memory" or "redis".
	QueueBackend string
	RedisAddr    string
	RedisDB      int

	// BlobBackend selects the blobstore.Store implementation: "local" or "s3".
	BlobBackend  string
	BlobLocalDir string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string

	// WorkerPoolSize bounds concurrent in-flight artifacts per media-type
	// Runner (spec.md §5's "configured pool size").
	WorkerPoolSize int

	// SweeperInterval is how often internal/sweeper runs its GC passes.
	SweeperInterval string
	// BlobRetention is how long a failed job's blob prefix survives before
	// the sweeper deletes it (spec.md §9's blob-GC resolution).
	BlobRetention string

	// MaxFilesPerJob bounds how many files a single upload may contain.
	MaxFilesPerJob int
	// MaxFileSizeBytes bounds the size of any one uploaded file.
	MaxFileSizeBytes int64

	// MaxRetries and BackoffBase are the default queue retry policy (spec.md
	// §4.2), applied uniformly across every media-type queue.
	MaxRetries  int
	BackoffBase string

	// StageTimeout bounds how long any single pipeline stage may run before
	// its context is canceled and the attempt counted as a retryable
	// failure (spec.md §5's "configurable wall-clock budget").
	StageTimeout string

	// GraphWorkerPoolSize is the graph queue's own pool size, kept separate
	// from WorkerPoolSize since the graph stage is typically provisioned
	// with less fan-out than the upstream media-type pools.
	GraphWorkerPoolSize int
}

// envPrefix is prepended (upper-cased, with "-" replaced by "_") to every
// Viper key when resolving environment variables, so "db-dsn" reads from
// SENTINEL_DB_DSN.
const envPrefix = "sentinel"

// BindFlags registers every configuration flag on the given command and
// binds each one to a Viper key, so that Execute() -> New() sees flags,
// then SENTINEL_* env vars, then defaults, in that order of precedence.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()

	flags.String("http-addr", ":8080", "HTTP API listen address")
	flags.String("db-driver", "sqlite", "Database driver (sqlite or postgres)")
	flags.String("db-dsn", "./sentinel.db", "Database DSN or file path for SQLite")
	flags.String("secret-key", "", "Master secret key for encrypting credentials at rest (required)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("data-dir", "./data", "Directory for server data (RSA keys, local blobstore)")
	flags.Bool("secure-cookies", false, "Set Secure flag on auth cookies (enable in production over HTTPS)")

	flags.String("queue-backend", "memory", "Queue fabric backend (memory or redis)")
	flags.String("redis-addr", "localhost:6379", "Redis address, used when queue-backend=redis")
	flags.Int("redis-db", 0, "Redis logical database index")

	flags.String("blob-backend", "local", "Artifact store backend (local or s3)")
	flags.String("blob-local-dir", "./data/blobs", "Root directory for the local artifact store")
	flags.String("s3-bucket", "", "S3 bucket name, required when blob-backend=s3")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint override (empty = AWS default)")

	flags.Int("worker-pool-size", 4, "Concurrent in-flight artifacts per media-type worker pool")
	flags.Int("graph-worker-pool-size", 2, "Concurrent in-flight artifacts for the graph worker pool")
	flags.String("sweeper-interval", "15m", "How often the blob sweeper runs")
	flags.String("blob-retention", "720h", "How long a failed job's blobs survive before the sweeper deletes them")

	flags.Int("max-files-per-job", 50, "Maximum number of files accepted in a single upload")
	flags.Int64("max-file-size-bytes", 500<<20, "Maximum size of any single uploaded file, in bytes")
	flags.Int("max-retries", 3, "Redeliveries after a failed attempt before a work item is dead-lettered")
	flags.String("backoff-base", "60s", "Base duration for the exponential nack backoff")
	flags.String("stage-timeout", "10m", "Wall-clock budget for a single pipeline stage")

	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("config: binding flags: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return nil
}

// New builds a Config from the already-bound Viper instance. Call this
// inside the Cobra command's RunE, after flag parsing, so Viper has seen
// the actual argv.
func New(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:        v.GetString("http-addr"),
		DBDriver:        v.GetString("db-driver"),
		DBDSN:           v.GetString("db-dsn"),
		SecretKey:       v.GetString("secret-key"),
		LogLevel:        v.GetString("log-level"),
		DataDir:         v.GetString("data-dir"),
		SecureCookies:   v.GetBool("secure-cookies"),
		QueueBackend:    v.GetString("queue-backend"),
		RedisAddr:       v.GetString("redis-addr"),
		RedisDB:         v.GetInt("redis-db"),
		BlobBackend:     v.GetString("blob-backend"),
		BlobLocalDir:    v.GetString("blob-local-dir"),
		S3Bucket:        v.GetString("s3-bucket"),
		S3Region:        v.GetString("s3-region"),
		S3Endpoint:      v.GetString("s3-endpoint"),
		WorkerPoolSize:      v.GetInt("worker-pool-size"),
		GraphWorkerPoolSize: v.GetInt("graph-worker-pool-size"),
		SweeperInterval:     v.GetString("sweeper-interval"),
		BlobRetention:       v.GetString("blob-retention"),
		MaxFilesPerJob:      v.GetInt("max-files-per-job"),
		MaxFileSizeBytes:    v.GetInt64("max-file-size-bytes"),
		MaxRetries:          v.GetInt("max-retries"),
		BackoffBase:         v.GetString("backoff-base"),
		StageTimeout:        v.GetString("stage-timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field invariants that a single flag default cannot
// express.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("config: secret key is required — set --secret-key or SENTINEL_SECRET_KEY")
	}
	if c.QueueBackend != "memory" && c.QueueBackend != "redis" {
		return fmt.Errorf("config: queue-backend must be \"memory\" or \"redis\", got %q", c.QueueBackend)
	}
	if c.BlobBackend != "local" && c.BlobBackend != "s3" {
		return fmt.Errorf("config: blob-backend must be \"local\" or \"s3\", got %q", c.BlobBackend)
	}
	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("config: s3-bucket is required when blob-backend=s3")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("config: worker-pool-size must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.GraphWorkerPoolSize < 1 {
		return fmt.Errorf("config: graph-worker-pool-size must be >= 1, got %d", c.GraphWorkerPoolSize)
	}
	if c.MaxFilesPerJob < 1 {
		return fmt.Errorf("config: max-files-per-job must be >= 1, got %d", c.MaxFilesPerJob)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max-retries must be >= 0, got %d", c.MaxRetries)
	}
	if _, err := time.ParseDuration(c.BackoffBase); err != nil {
		return fmt.Errorf("config: backoff-base: %w", err)
	}
	if _, err := time.ParseDuration(c.StageTimeout); err != nil {
		return fmt.Errorf("config: stage-timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.SweeperInterval); err != nil {
		return fmt.Errorf("config: sweeper-interval: %w", err)
	}
	if _, err := time.ParseDuration(c.BlobRetention); err != nil {
		return fmt.Errorf("config: blob-retention: %w", err)
	}
	return nil
}

// ParsedBackoffBase, ParsedStageTimeout, ParsedSweeperInterval, and
// ParsedBlobRetention return the corresponding duration fields already
// validated by Validate — callers in main.go use these instead of
// re-parsing the raw strings.
func (c *Config) ParsedBackoffBase() time.Duration  { d, _ := time.ParseDuration(c.BackoffBase); return d }
func (c *Config) ParsedStageTimeout() time.Duration { d, _ := time.ParseDuration(c.StageTimeout); return d }
func (c *Config) ParsedSweeperInterval() time.Duration {
	d, _ := time.ParseDuration(c.SweeperInterval)
	return d
}
func (c *Config) ParsedBlobRetention() time.Duration {
	d, _ := time.ParseDuration(c.BlobRetention)
	return d
}
