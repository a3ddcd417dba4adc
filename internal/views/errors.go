package views

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStorageUnavailable marks failures to create, read or write the backing store.
	ErrStorageUnavailable = errors.New("view ledger storage unavailable")
	// ErrMalformedLedger marks persisted content that cannot be decoded into a Ledger.
	ErrMalformedLedger = errors.New("view ledger is malformed")
)

// StoreError carries the failure kind together with the underlying cause.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == e.Kind }

// Unavailable wraps err as an ErrStorageUnavailable failure of op.
func Unavailable(op string, err error) error {
	return errors.WithStack(&StoreError{Op: op, Kind: ErrStorageUnavailable, Err: err})
}

// Malformed wraps err as an ErrMalformedLedger failure of op.
func Malformed(op string, err error) error {
	return errors.WithStack(&StoreError{Op: op, Kind: ErrMalformedLedger, Err: err})
}
