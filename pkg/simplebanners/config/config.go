// Package config loads server configuration and assembles a banner service
// from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	eventsredis "github.com/tendant/simple-banners/pkg/simplebanners/events/redis"
	"github.com/tendant/simple-banners/pkg/simplebanners/export"
	"github.com/tendant/simple-banners/pkg/simplebanners/metrics"
	"github.com/tendant/simple-banners/pkg/simplebanners/repo/memory"
	repopg "github.com/tendant/simple-banners/pkg/simplebanners/repo/postgres"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// ServerConfig represents server configuration for the banner service.
// Defaults come from the env-default tags.
type ServerConfig struct {
	Port        string `yaml:"port" env:"BANNERS_PORT" env-default:"8080"`
	Environment string `yaml:"environment" env:"BANNERS_ENVIRONMENT" env-default:"development"` // development, production, testing

	// Database configuration. "memory" or a postgres:// URL.
	DatabaseURL        string        `yaml:"database_url" env:"BANNERS_DATABASE_URL" env-default:"memory"`
	DBSchema           string        `yaml:"db_schema" env:"BANNERS_DB_SCHEMA" env-default:"banners"`
	AutoMigrate        bool          `yaml:"auto_migrate" env:"BANNERS_AUTO_MIGRATE" env-default:"false"`
	PublishLockTimeout time.Duration `yaml:"publish_lock_timeout" env:"BANNERS_PUBLISH_LOCK_TIMEOUT" env-default:"5s"`

	// Event fan-out. Redis is disabled when RedisURL is empty.
	RedisURL           string `yaml:"redis_url" env:"BANNERS_REDIS_URL"`
	RedisChannel       string `yaml:"redis_channel" env:"BANNERS_REDIS_CHANNEL" env-default:"banners:events"`
	EnableEventLogging bool   `yaml:"enable_event_logging" env:"BANNERS_ENABLE_EVENT_LOGGING" env-default:"true"`

	// Manifest export: "", "memory://", "file:///path" or "s3://bucket/prefix".
	ExportURL string   `yaml:"export_url" env:"BANNERS_EXPORT_URL"`
	S3        S3Config `yaml:"s3"`
	// ExportRetention keeps the manifests of this many newest publications;
	// zero keeps all of them.
	ExportRetention int `yaml:"export_retention" env:"BANNERS_EXPORT_RETENTION" env-default:"0"`

	// API
	APIKeySHA256    string `yaml:"api_key_sha256" env:"BANNERS_API_KEY_SHA256"`
	DefaultPageSize int    `yaml:"default_page_size" env:"BANNERS_DEFAULT_PAGE_SIZE" env-default:"100"`
}

// S3Config holds the S3 settings used when ExportURL is an s3:// URL.
type S3Config struct {
	Region                 string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	AccessKeyID            string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey        string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint               string `yaml:"endpoint" env:"AWS_S3_ENDPOINT"`
	UsePathStyle           bool   `yaml:"use_path_style" env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	EnableSSE              bool   `yaml:"enable_sse" env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `yaml:"sse_algorithm" env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `yaml:"sse_kms_key_id" env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `yaml:"create_bucket_if_not_exist" env:"AWS_S3_CREATE_BUCKET_IF_NOT_EXIST" env-default:"false"`
}

// Load reads the environment, then applies opts and validates.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return finish(&cfg, opts)
}

// LoadFile reads a YAML file, lets the environment override it, then
// applies opts and validates.
func LoadFile(path string, opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return finish(&cfg, opts)
}

func finish(cfg *ServerConfig, opts []Option) (*ServerConfig, error) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if _, err := c.DatabaseType(); err != nil {
		return err
	}

	if c.PublishLockTimeout < 0 {
		return errors.New("publish_lock_timeout must not be negative")
	}

	if c.DefaultPageSize <= 0 || c.DefaultPageSize > simplebanners.MaxSnapshotLimit {
		return fmt.Errorf("default_page_size must be between 1 and %d", simplebanners.MaxSnapshotLimit)
	}

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("unsupported redis_url format: %s (use 'redis://...')", c.RedisURL)
	}

	if _, err := parseExportURL(c.ExportURL); err != nil {
		return err
	}
	if c.ExportRetention < 0 {
		return errors.New("export_retention must not be negative")
	}

	return nil
}

// DatabaseType returns "memory" or "postgres" based on DatabaseURL.
func (c *ServerConfig) DatabaseType() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == "memory":
		return "memory", nil
	case strings.HasPrefix(c.DatabaseURL, "postgresql://"), strings.HasPrefix(c.DatabaseURL, "postgres://"):
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database_url format: %s (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}
}

// Components is a fully wired service with the resources backing it.
type Components struct {
	Service    simplebanners.Service
	Repository simplebanners.Repository
	Metrics    *metrics.Collector
	Exporter   *export.Exporter

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// BuildService creates a Service instance from the server configuration.
// Metrics are registered on reg when it is non-nil.
func (c *ServerConfig) BuildService(ctx context.Context, reg prometheus.Registerer, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	components := &Components{}
	fail := func(err error) (*Components, error) {
		components.Close()
		return nil, err
	}

	repo, closeRepo, err := c.BuildRepository(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	components.Repository = repo
	components.closers = append(components.closers, closeRepo)

	options := []simplebanners.Option{
		simplebanners.WithRepository(repo),
		simplebanners.WithLogger(logger),
	}

	// Set up event sinks
	var sinks []simplebanners.EventSink
	if c.EnableEventLogging {
		sinks = append(sinks, simplebanners.NewLoggingEventSink(logger))
	}
	if c.RedisURL != "" {
		sink, err := eventsredis.NewSinkFromURL(ctx, c.RedisURL, c.RedisChannel)
		if err != nil {
			return fail(err)
		}
		components.closers = append(components.closers, func() { _ = sink.Close() })
		sinks = append(sinks, sink)
	}
	store, err := c.BuildBlobStore(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to build export store: %w", err))
	}
	if store != nil {
		components.Exporter = export.NewExporter(repo, store,
			export.WithLogger(logger),
			export.WithRetention(c.ExportRetention),
		)
		sinks = append(sinks, components.Exporter)
	}
	if len(sinks) > 0 {
		options = append(options, simplebanners.WithEventSink(simplebanners.NewMultiEventSink(sinks...)))
	}

	if reg != nil {
		components.Metrics = metrics.New(reg)
		options = append(options, simplebanners.WithMetrics(components.Metrics))
	}

	svc, err := simplebanners.New(options...)
	if err != nil {
		return fail(err)
	}
	components.Service = svc
	return components, nil
}

// BuildRepository creates a Repository based on the configuration. The
// returned func releases the connection pool.
func (c *ServerConfig) BuildRepository(ctx context.Context) (simplebanners.Repository, func(), error) {
	dbType, err := c.DatabaseType()
	if err != nil {
		return nil, nil, err
	}

	switch dbType {
	case "postgres":
		pool, err := c.NewPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		if c.AutoMigrate {
			if err := c.migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repopg.NewWithPool(pool, repopg.WithLockTimeout(c.PublishLockTimeout)), pool.Close, nil
	default:
		return memory.New(memory.WithLockTimeout(c.PublishLockTimeout)), func() {}, nil
	}
}

// NewPool opens a pgx pool whose sessions use DBSchema as search_path.
func (c *ServerConfig) NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database_url: %w", err)
	}
	schema := c.DBSchema
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", schema)
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// Migrate creates DBSchema if needed and applies the embedded schema. It is
// a no-op for the memory database.
func (c *ServerConfig) Migrate(ctx context.Context) error {
	dbType, err := c.DatabaseType()
	if err != nil || dbType != "postgres" {
		return err
	}
	pool, err := c.NewPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	return c.migrate(ctx, pool)
}

func (c *ServerConfig) migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if c.DBSchema != "" {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{c.DBSchema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", c.DBSchema, err)
		}
	}
	return repopg.Migrate(ctx, pool)
}
