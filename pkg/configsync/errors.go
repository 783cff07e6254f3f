package configsync

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrPullInProgress is returned by Pull when another pull of this process
	// is still running.
	ErrPullInProgress = errors.New("pull already in progress")
)
