package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/Zachkp/about-me/internal/views"
)

const fileLockRetry = 10 * time.Millisecond

// FileStore keeps the ledger in a single JSON document. Every operation holds
// an exclusive lock on <path>.lock, so the server and the command line can
// share one file. Writes are atomic renames; readers never see a partial ledger.
type FileStore struct {
	path string

	// mu serializes goroutines sharing this store; the flock only excludes
	// other open files.
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *FileStore) Path() string { return s.path }

// withLock runs fn while holding both the in-process and the file lock.
func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return views.Unavailable("create data directory", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return views.Unavailable("lock ledger file", err)
	}
	if !locked {
		return views.Unavailable("lock ledger file", errors.New("lock not acquired"))
	}
	defer s.lock.Unlock()

	return fn()
}

func (s *FileStore) Ensure(ctx context.Context) error {
	return s.withLock(ctx, s.ensure)
}

func (s *FileStore) ensure() error {
	_, err := os.Stat(s.path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return views.Unavailable("stat ledger file", err)
	}

	return s.write(views.NewLedger())
}

func (s *FileStore) Load(ctx context.Context) (*views.Ledger, error) {
	var l *views.Ledger
	err := s.withLock(ctx, func() (err error) {
		l, err = s.load()
		return err
	})
	return l, err
}

func (s *FileStore) load() (*views.Ledger, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, views.Unavailable("read ledger file", err)
	}

	l, err := views.DecodeLedger(data)
	if err != nil {
		return nil, views.Malformed("parse ledger file", err)
	}
	return l, nil
}

func (s *FileStore) Update(ctx context.Context, fn views.UpdateFunc) (*views.Ledger, error) {
	var result *views.Ledger
	err := s.withLock(ctx, func() error {
		l, err := s.load()
		if err != nil {
			return err
		}

		changed, err := fn(l)
		if err != nil {
			return err
		}
		if changed {
			if err := s.write(l); err != nil {
				return err
			}
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FileStore) write(l *views.Ledger) error {
	data, err := views.EncodeLedger(l)
	if err != nil {
		return views.Unavailable("encode ledger", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return views.Unavailable("replace ledger file", err)
	}
	return nil
}

// Ping checks that the ledger file exists or can be created.
func (s *FileStore) Ping(ctx context.Context) error {
	return s.Ensure(ctx)
}

func (s *FileStore) Close() error { return nil }
