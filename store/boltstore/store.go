// Package boltstore implements store.Store on a bbolt file.
//
// A bolt file is locked by a single process, so this adapter suits one process
// with several Syncer instances, CLI tooling and tests. Every operation runs in
// one bolt transaction, and bolt serializes writers, which makes claims and
// counter increments atomic.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	fileMode  os.FileMode = 0o600
	timeWidth             = 19
)

var (
	bucketActions      = []byte("actions")
	bucketClaimed      = []byte("claimed")
	bucketAlternatives = []byte("alternatives")
	bucketProfiles     = []byte("profiles")
	bucketCounters     = []byte("counters")

	allBuckets = [][]byte{bucketActions, bucketClaimed, bucketAlternatives, bucketProfiles, bucketCounters}

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("boltstore: store is closed")
)

// DefaultTimeout bounds how long Open waits for the file lock.
var DefaultTimeout = 5 * time.Second

// Store is a bbolt implementation of store.Store.
type Store struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// Open opens or creates the database at path and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: DefaultTimeout, NoGrowSync: true})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, configsync.Unavailable(fmt.Errorf("boltstore: opening %s: %w", path, err))
		}
		return nil, fmt.Errorf("boltstore: opening %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database. Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureOpen(ctx context.Context) error {
	if s.closed.Load() {
		return configsync.Unavailable(ErrClosed)
	}
	return ctx.Err()
}

func (s *Store) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	return classify(s.db.Update(fn))
}

func (s *Store) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	return classify(s.db.View(fn))
}

func classify(err error) error {
	if errors.Is(err, berrors.ErrDatabaseNotOpen) || errors.Is(err, berrors.ErrTimeout) {
		return configsync.Unavailable(err)
	}
	return err
}

func padTime(lt int64) []byte {
	return fmt.Appendf(nil, "%0*d", timeWidth, lt)
}

func actionKey(rec configsync.ActionRecord) []byte {
	return append(append(padTime(rec.LogicalTime), '/'), rec.ID...)
}

// InsertAction stores a pending action, or a claimed one when its logical time
// is zero.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	payload, err := store.MarshalRecord(rec)
	if err != nil {
		return err
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		if rec.Claimed() {
			return tx.Bucket(bucketClaimed).Put([]byte(rec.ID), payload)
		}
		return tx.Bucket(bucketActions).Put(actionKey(rec), payload)
	})
}

// scan visits pending actions after the watermark that match the filter in
// ascending order until fn returns false.
func scan(tx *bbolt.Tx, filter store.ActionFilter, fn func(k []byte, rec configsync.ActionRecord) bool) {
	c := tx.Bucket(bucketActions).Cursor()
	for k, v := c.Seek(padTime(max(filter.After, 0) + 1)); k != nil; k, v = c.Next() {
		var rec configsync.ActionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		if filter.Matches(rec) && !fn(k, rec) {
			return
		}
	}
}

// ClaimAction moves the oldest matching pending action to the claimed bucket.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	var (
		found configsync.ActionRecord
		key   []byte
	)
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		scan(tx, filter, func(k []byte, rec configsync.ActionRecord) bool {
			found, key = rec, bytes.Clone(k)
			return false
		})
		if key == nil {
			return configsync.ErrNotFound
		}

		claimed := found
		claimed.LogicalTime = 0
		payload, err := store.MarshalRecord(claimed)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketActions).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketClaimed).Put([]byte(found.ID), payload)
	})
	if err != nil {
		return configsync.ActionRecord{}, err
	}
	return found, nil
}

// FindActions returns matching pending actions, oldest first.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, error) {
	var out []configsync.ActionRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		scan(tx, filter, func(_ []byte, rec configsync.ActionRecord) bool {
			out = append(out, rec)
			return true
		})
		return nil
	})
	return out, err
}

// LatestActionTime returns the greatest pending logical time.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	var lt int64
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketActions).Cursor().Last()
		if k == nil {
			return configsync.ErrNotFound
		}
		if len(k) < timeWidth {
			return fmt.Errorf("%w: action key %q", configsync.ErrMalformedRecord, k)
		}
		var err error
		lt, err = strconv.ParseInt(string(k[:timeWidth]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
		}
		return nil
	})
	return lt, err
}

type alternativeValue struct {
	Config      json.RawMessage `json:"config"`
	LogicalTime int64           `json:"logical_time"`
}

func decodeAlternative(endpointID string, raw []byte) configsync.AlternativeRecord {
	rec := configsync.AlternativeRecord{EndpointID: endpointID}
	var v alternativeValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return rec
	}
	rec.LogicalTime = v.LogicalTime
	if len(v.Config) > 0 {
		rec.Config, _ = store.UnmarshalConfig(v.Config)
	}
	return rec
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	var rec configsync.AlternativeRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAlternatives).Get([]byte(endpointID))
		if raw == nil {
			return configsync.ErrNotFound
		}
		rec = decodeAlternative(endpointID, raw)
		return nil
	})
	return rec, err
}

// SaveAlternative replaces the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	cfg, err := store.MarshalConfig(rec.Config)
	if err != nil {
		return err
	}
	payload, err := store.MarshalRecord(alternativeValue{Config: cfg, LogicalTime: rec.LogicalTime})
	if err != nil {
		return err
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlternatives).Put([]byte(rec.EndpointID), payload)
	})
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlternatives).Delete([]byte(endpointID))
	})
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	if len(filter.EndpointIDs) == 0 {
		return nil, nil
	}

	var out []configsync.AlternativeRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlternatives).ForEach(func(k, v []byte) error {
			if rec := decodeAlternative(string(k), v); filter.Matches(rec) {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	var out []configsync.AlternativeRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlternatives).ForEach(func(k, v []byte) error {
			out = append(out, decodeAlternative(string(k), v))
			return nil
		})
	})
	return out, err
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	n := 0
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAlternatives).ForEach(func(k, _ []byte) error {
			if !slices.Contains(exclude, string(k)) {
				n++
			}
			return nil
		})
	})
	return n, err
}

// SaveProfile upserts the profile of rec.ProcessID.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(rec.ProcessID), strconv.AppendInt(nil, rec.LastHeartbeat.UnixNano(), 10))
	})
}

func heartbeat(v []byte) time.Time {
	ns, _ := strconv.ParseInt(string(v), 10, 64)
	return time.Unix(0, ns)
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	var out []configsync.ProfileRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			out = append(out, configsync.ProfileRecord{ProcessID: string(k), LastHeartbeat: heartbeat(v)})
			return nil
		})
	})
	return out, err
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if heartbeat(v).Before(cutoff) {
				stale = append(stale, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	return deleted, err
}

// IncrementCounter adds amount to the counter and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	var next int64
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		var current int64
		if raw := b.Get([]byte(counterID)); raw != nil {
			var err error
			if current, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
				return fmt.Errorf("%w: counter %q: %w", configsync.ErrMalformedRecord, counterID, err)
			}
		}
		next = current + amount
		return b.Put([]byte(counterID), strconv.AppendInt(nil, next, 10))
	})
	return next, err
}

var _ store.Store = (*Store)(nil)
