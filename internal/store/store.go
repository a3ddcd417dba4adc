// Package store provides the durable backends behind views.Tracker.
package store

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Zachkp/about-me/internal/config"
	"github.com/Zachkp/about-me/internal/views"
)

// ErrTotalOverflow is returned by the SQL stores for totals their signed
// column cannot hold.
var ErrTotalOverflow = errors.New("total views exceeds storage range")

// Backend is a ledger store that holds connections or files open.
type Backend interface {
	views.Store
	io.Closer
	Ping(ctx context.Context) error
}

var (
	_ Backend = &FileStore{}
	_ Backend = &SQLiteStore{}
	_ Backend = &RedisStore{}
	_ Backend = &PostgresStore{}
)

// Open builds the backend selected by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	entry := log.WithField("store", cfg.Store)

	switch cfg.Store {
	case config.StoreFile:
		entry.WithField("path", cfg.DataFile).Info("using file ledger")
		return NewFileStore(cfg.DataFile), nil

	case config.StoreSQLite:
		entry.WithField("path", cfg.SQLitePath).Info("using sqlite ledger")
		return OpenSQLite(cfg.SQLitePath)

	case config.StoreRedis:
		entry.WithField("addr", cfg.RedisAddr).Info("using redis ledger")
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.RedisPrefix), nil

	case config.StorePostgres:
		entry.Info("using postgres ledger")
		return OpenPostgres(ctx, cfg.PostgresURL)
	}

	return nil, errors.Errorf("unknown store %q", cfg.Store)
}
