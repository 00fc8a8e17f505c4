package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"voir/cmd/identity"
)

// backend owns the credential store and the connections behind it.
//
// The Postgres pool is opened whenever VOIR_DATABASE_URL is set, even for
// the redis store, because it also backs the audit log.
type backend struct {
	kind  string
	store identity.Store
	pool  *pgxpool.Pool
	rdb   *redis.Client
}

func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	b := &backend{kind: cfg.Store}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		log.Info("db.enabled", "migrate", cfg.DBMigrate)
	}

	switch cfg.Store {
	case StorePostgres:
		if b.pool == nil {
			return nil, fmt.Errorf("%w: postgres store requires VOIR_DATABASE_URL", ErrConfig)
		}
		st, err := identity.NewPostgresStore(b.pool)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = st
	case StoreRedis:
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.rdb = rdb
		st, err := identity.NewRedisStore(rdb, identity.WithKeyPrefix(cfg.RedisKeyPrefix))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = st
	default:
		b.store = identity.NewMemoryStore()
	}

	log.Info("store.selected", "store", b.kind)
	return b, nil
}

// ping checks every connection the backend holds.
func (b *backend) ping(ctx context.Context) error {
	var errs []error
	if b.pool != nil {
		if err := PingDB(ctx, b.pool, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("db: %w", err))
		}
	}
	if b.rdb != nil {
		if err := PingRedis(ctx, b.rdb, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *backend) Close() {
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
