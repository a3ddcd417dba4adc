package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zachkp/about-me/internal/views"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS view_ledger (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		total_views BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO view_ledger (id, total_views) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS known_visitors (
		identity TEXT PRIMARY KEY,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// schemaLockID serializes schema creation across processes.
const schemaLockID = 0x76696577

// PostgresStore keeps the ledger in PostgreSQL. Updates lock the ledger row,
// so several server processes may share one database.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	ready bool
}

func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, views.Unavailable("connect postgres", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return views.Unavailable("begin postgres transaction", err)
	}
	defer tx.Rollback(ctx)

	// CREATE TABLE IF NOT EXISTS races on pg_type when run concurrently.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return views.Unavailable("lock postgres schema", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return views.Unavailable("create postgres schema", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return views.Unavailable("commit postgres schema", err)
	}

	s.ready = true
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, views.Unavailable("begin postgres transaction", err)
	}
	defer tx.Rollback(ctx)

	return loadPostgres(ctx, tx, false)
}

func (s *PostgresStore) Update(ctx context.Context, fn views.UpdateFunc) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, views.Unavailable("begin postgres transaction", err)
	}
	defer tx.Rollback(ctx)

	l, err := loadPostgres(ctx, tx, true)
	if err != nil {
		return nil, err
	}
	before := l.Clone()

	changed, err := fn(l)
	if err != nil {
		return nil, err
	}
	if !changed {
		return l, nil
	}

	total, err := sqlTotal(l)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE view_ledger SET total_views = $1 WHERE id = 1`, total); err != nil {
		return nil, views.Unavailable("update total views", err)
	}
	if added := l.VisitorsSince(before); len(added) > 0 {
		batch := &pgx.Batch{}
		for _, id := range added {
			batch.Queue(`INSERT INTO known_visitors (identity) VALUES ($1) ON CONFLICT DO NOTHING`, id)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, views.Unavailable("insert visitors", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, views.Unavailable("commit postgres transaction", err)
	}
	return l, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func loadPostgres(ctx context.Context, tx pgx.Tx, forUpdate bool) (*views.Ledger, error) {
	query := `SELECT total_views FROM view_ledger WHERE id = 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var total int64
	err := tx.QueryRow(ctx, query).Scan(&total)
	if err == pgx.ErrNoRows {
		return nil, views.Malformed("read total views", err)
	}
	if err != nil {
		return nil, views.Unavailable("read total views", err)
	}
	if total < 0 {
		return nil, views.Malformed("read total views", fmt.Errorf("negative total %d", total))
	}

	l := views.NewLedger()
	l.TotalViews = uint64(total)

	rows, err := tx.Query(ctx, `SELECT identity FROM known_visitors`)
	if err != nil {
		return nil, views.Unavailable("read visitors", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, views.Unavailable("read visitors", err)
	}
	for _, id := range ids {
		l.AddVisitor(id)
	}
	return l, nil
}
