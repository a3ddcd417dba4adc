package views

import "context"

// UpdateFunc mutates the ledger in place and reports whether anything changed.
// It may be called more than once when a store retries an optimistic transaction.
type UpdateFunc func(l *Ledger) (changed bool, err error)

// Store persists a single Ledger.
type Store interface {
	// Ensure creates the backing location and an empty ledger when absent.
	Ensure(ctx context.Context) error
	// Load returns the current ledger, creating it first if needed.
	Load(ctx context.Context) (*Ledger, error)
	// Update applies fn to the current ledger and persists the result when fn
	// reports a change. Nothing is written when the ledger cannot be read.
	Update(ctx context.Context, fn UpdateFunc) (*Ledger, error)
}
