package actions

import "errors"

// ErrNilHandler is returned when registering a nil handler.
var ErrNilHandler = errors.New("nil action handler")
