package configsync

import (
	"maps"
	"time"
)

// Wildcard is the action target that addresses every process.
const Wildcard = "*"

// ProbabilityKey is the config option holding per-variant weights.
// It is persisted as an ordered list of [key, value] pairs.
const ProbabilityKey = "probability"

// ActionRecord is a unit of cluster work written by RunAction and observed by
// every dispatcher on its next poll.
type ActionRecord struct {
	// ID is the store key of the record (UUID).
	ID string `json:"id"`

	// ActionID selects which registered handler(s) run.
	ActionID string `json:"action_id"`

	// Target is a process ID or Wildcard.
	Target string `json:"target"`

	// LogicalTime is the write time in Unix nanoseconds.
	// Claiming a unique action sets it to zero atomically; once zeroed the record
	// can never be claimed or observed again.
	LogicalTime int64 `json:"logical_time"`
}

// Claimed reports whether the record has already been consumed by a claim.
func (r ActionRecord) Claimed() bool {
	return r.LogicalTime == 0
}

// Config is an alternative configuration: option name to value.
type Config map[string]any

// Clone returns a shallow copy of the config. A nil config clones to an empty one.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	maps.Copy(out, c)
	return out
}

// Merge copies every entry of other onto a copy of c and returns it.
func (c Config) Merge(other Config) Config {
	out := c.Clone()
	maps.Copy(out, other)
	return out
}

// AlternativeRecord is the persisted last-writer-wins snapshot of one endpoint's
// alternative configuration.
type AlternativeRecord struct {
	// EndpointID is the primary key.
	EndpointID string `json:"endpoint_id"`

	// Config is the persisted form of the configuration (probability as pairs).
	Config Config `json:"config"`

	// LogicalTime is the write time in Unix nanoseconds.
	LogicalTime int64 `json:"logical_time"`
}

// ProfileRecord announces that a process class exists.
type ProfileRecord struct {
	// ProcessID is the primary key.
	ProcessID string `json:"process_id"`

	// LastHeartbeat is the last time the process refreshed its profile.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// LogicalTime converts a wall clock time into the logical time unit used by
// persisted records.
func LogicalTime(t time.Time) int64 {
	return t.UnixNano()
}

// TimeOf converts a logical time back into a wall clock time.
func TimeOf(logicalTime int64) time.Time {
	return time.Unix(0, logicalTime)
}
