package profiles

import "errors"

// ErrInvalidTTL is returned by Prune for a non-positive ttl.
var ErrInvalidTTL = errors.New("profile ttl must be positive")
