package configsync

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indicates a transient connectivity failure of the shared store.
	// Polling operations skip the cycle and keep their watermark; synchronous operations
	// return it to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound indicates the requested record does not exist in the store.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidActionID indicates an empty action identifier was registered or run.
	ErrInvalidActionID = errors.New("invalid action id")

	// ErrInvalidAmount indicates a non-positive counter increment.
	ErrInvalidAmount = errors.New("counter amount must be positive")

	// ErrMalformedRecord indicates a stored record is missing expected fields or
	// cannot be decoded.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrHandlerPanic indicates an action handler panicked while running.
	ErrHandlerPanic = errors.New("action handler panicked")
)

// Unavailable wraps err so that errors.Is(result, ErrStoreUnavailable) holds while
// the driver error stays reachable through errors.Is/As. A nil err returns nil.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsUnavailable reports whether err is a transient store connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
