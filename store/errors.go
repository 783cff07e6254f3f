package store

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/getpup/configsync"
)

// IsTransient reports whether err is a connectivity failure that is expected to
// heal on its own: network errors, dropped connections and deadline expiry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, configsync.ErrStoreUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps transient errors with configsync.Unavailable and returns every
// other error unchanged.
func Classify(err error) error {
	if IsTransient(err) {
		return configsync.Unavailable(err)
	}
	return err
}
