package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/config"
	"github.com/Janar2510/driveapipe-app/internal/idempotency"
	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/internal/template"
)

// checkedStore is a pipeline store that can report its health.
type checkedStore interface {
	pipeline.PipelineStore
	Ping(ctx context.Context) error
}

// buildPipelineStore creates the pipeline store selected by cfg.Driver. The
// returned closer releases the underlying connection and is never nil.
func buildPipelineStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (checkedStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory pipeline store")
		return pipeline.NewMemoryPipelineStore(), func() {}, nil

	case config.DriverPostgres:
		dsn := os.Getenv(cfg.Postgres.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("pipeline store: %s environment variable not set", cfg.Postgres.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline store: parse DSN: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Postgres.MaxConns
		}
		poolCfg.MinConns = cfg.Postgres.MinConns
		poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pipeline store: ping: %w", err)
		}

		store := pipeline.NewPgPipelineStore(pool)
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("pipeline store: migrate: %w", err)
			}
		}
		logger.Info("using postgres pipeline store")
		return store, pool.Close, nil

	case config.DriverBadger:
		db, err := pipeline.OpenBadger(pipeline.BadgerOptions{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     logger.Named("badger"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline store: %w", err)
		}
		logger.Info("using badger pipeline store",
			zap.String("path", cfg.Badger.Path),
			zap.Bool("in_memory", cfg.Badger.InMemory),
		)
		closer := func() {
			if err := db.Close(); err != nil {
				logger.Error("badger close failed", zap.Error(err))
			}
		}
		return pipeline.NewBadgerPipelineStore(db), closer, nil

	case config.DriverMongo:
		uri := os.Getenv(cfg.Mongo.URIEnv)
		if uri == "" {
			return nil, nil, fmt.Errorf("pipeline store: %s environment variable not set", cfg.Mongo.URIEnv)
		}
		opts := options.Client().ApplyURI(uri)
		if cfg.Mongo.ConnectTimeout > 0 {
			opts.SetConnectTimeout(cfg.Mongo.ConnectTimeout)
		}
		client, err := mongo.Connect(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline store: connect: %w", err)
		}
		closer := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("mongo disconnect failed", zap.Error(err))
			}
		}

		store := pipeline.NewMongoPipelineStore(client, cfg.Mongo.Database)
		if err := store.Ping(ctx); err != nil {
			closer()
			return nil, nil, fmt.Errorf("pipeline store: ping: %w", err)
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			closer()
			return nil, nil, fmt.Errorf("pipeline store: indexes: %w", err)
		}
		logger.Info("using mongo pipeline store", zap.String("database", cfg.Mongo.Database))
		return store, closer, nil

	default:
		return nil, nil, fmt.Errorf("unsupported pipeline store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store and closer when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	case config.DriverRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		store := idempotency.NewRedisStore(client)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close failed", zap.Error(err))
			}
		}
		return store, closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}

// loadTemplates reads and validates the templates in dir. An empty dir
// yields no templates; the built-in default is always available.
func loadTemplates(dir string) ([]template.Template, error) {
	if dir == "" {
		return nil, nil
	}
	tmpls, err := template.NewLoader().LoadAll([]string{dir})
	if err != nil {
		return nil, fmt.Errorf("template loading failed: %w", err)
	}
	if verrs := template.NewValidator().Validate(tmpls); len(verrs) > 0 {
		return nil, &templateValidationError{errs: verrs}
	}
	return tmpls, nil
}

type templateValidationError struct {
	errs []template.VError
}

func (e *templateValidationError) Error() string {
	return fmt.Sprintf("template validation failed: %d error(s), first: %v", len(e.errs), e.errs[0])
}
