package bundle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned for operations against a bundle that is
	// not in the active state.
	ErrNotInitialized = errors.New("bundle is not active")
	// ErrConnection marks websocket connect and health failures.
	ErrConnection = errors.New("sync connection failed")
	// ErrTimeout marks bounded waits that expired: initialization, restart
	// recovery, path-index sync.
	ErrTimeout = errors.New("timed out")
)

// StoreError wraps a failure surfaced by the document store with the
// attempted operation and path.
type StoreError struct {
	Op       string
	Path     string
	BundleID string
	Err      error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s (bundle %s): %v", e.Op, e.BundleID, e.Err)
	}
	return fmt.Sprintf("store %s %s (bundle %s): %v", e.Op, e.Path, e.BundleID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore builds a StoreError, passing nil through.
func WrapStore(op, path, bundleID string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Path: path, BundleID: bundleID, Err: err}
}
