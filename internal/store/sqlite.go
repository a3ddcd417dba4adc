package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/Zachkp/about-me/internal/views"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS view_ledger (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_views INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT OR IGNORE INTO view_ledger (id, total_views) VALUES (1, 0)`,
	`CREATE TABLE IF NOT EXISTS known_visitors (
		identity TEXT PRIMARY KEY,
		first_seen DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLiteStore keeps the ledger in two tables of a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	ready bool
}

// OpenSQLite opens (and creates, if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, views.Unavailable("create data directory", err)
		}
	}

	// Immediate transactions take the write lock up front, so a second process
	// waits on busy_timeout instead of failing its read-to-write upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, views.Unavailable("open sqlite", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return views.Unavailable("create sqlite schema", err)
		}
	}
	s.ready = true
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	return loadSQL(ctx, s.db)
}

func (s *SQLiteStore) Update(ctx context.Context, fn views.UpdateFunc) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, views.Unavailable("begin sqlite transaction", err)
	}
	defer tx.Rollback()

	l, err := loadSQL(ctx, tx)
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
	if _, err := tx.ExecContext(ctx,
		`UPDATE view_ledger SET total_views = ? WHERE id = 1`, total); err != nil {
		return nil, views.Unavailable("update total views", err)
	}
	for _, id := range l.VisitorsSince(before) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO known_visitors (identity) VALUES (?)`, id); err != nil {
			return nil, views.Unavailable("insert visitor", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, views.Unavailable("commit sqlite transaction", err)
	}
	return l, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlTotal converts the total to the signed column type, refusing values that
// would wrap.
func sqlTotal(l *views.Ledger) (int64, error) {
	if l.TotalViews > math.MaxInt64 {
		return 0, views.Unavailable("update total views", ErrTotalOverflow)
	}
	return int64(l.TotalViews), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadSQL(ctx context.Context, q queryer) (*views.Ledger, error) {
	l := views.NewLedger()

	var total int64
	err := q.QueryRowContext(ctx, `SELECT total_views FROM view_ledger WHERE id = 1`).Scan(&total)
	if err == sql.ErrNoRows {
		return nil, views.Malformed("read total views", err)
	}
	if err != nil {
		return nil, views.Unavailable("read total views", err)
	}
	if total < 0 {
		return nil, views.Malformed("read total views", fmt.Errorf("negative total %d", total))
	}
	l.TotalViews = uint64(total)

	rows, err := q.QueryContext(ctx, `SELECT identity FROM known_visitors`)
	if err != nil {
		return nil, views.Unavailable("read visitors", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, views.Malformed("scan visitor", err)
		}
		l.AddVisitor(id)
	}
	if err := rows.Err(); err != nil {
		return nil, views.Unavailable("read visitors", err)
	}
	return l, nil
}
