package configsync

import "context"

// Endpoint is a locally declared selectable endpoint whose behaviour can be
// overlaid by an alternative configuration.
type Endpoint interface {
	// Methods returns the selection methods the endpoint supports.
	Methods() []string

	// Alternatives returns the names of the alternative handlers of the endpoint.
	Alternatives() []string

	// CurrentConfig returns a copy of the configuration currently in effect,
	// which is the code-declared default until Apply is called.
	CurrentConfig() Config

	// Apply replaces the configuration in effect. It has no result: the endpoint
	// owns what applying means.
	Apply(cfg Config)
}

// Syncer converges the local process on the state of the shared store.
// Pull is invoked by a scheduler; pulls of one process never overlap.
type Syncer interface {
	// Pull runs the action poll followed by the alternative poll.
	// A returned error wrapping ErrStoreUnavailable means the cycle was skipped
	// and will be retried on the next tick.
	Pull(ctx context.Context) error
}
