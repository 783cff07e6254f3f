package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/google/uuid"
)

// ErrClosed is returned (wrapped as unavailable) by every call made after Close.
var ErrClosed = errors.New("memory store closed")

// Store is an in-memory implementation of store.Store for tests and single
// process deployments. It provides thread-safe access using a sync.RWMutex;
// every record is copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	actions      map[string]configsync.ActionRecord      // record ID -> action
	alternatives map[string]configsync.AlternativeRecord // endpointID -> override
	profiles     map[string]configsync.ProfileRecord     // processID -> profile
	counters     map[string]int64                        // counterID -> value
	closed       bool
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		actions:      make(map[string]configsync.ActionRecord),
		alternatives: make(map[string]configsync.AlternativeRecord),
		profiles:     make(map[string]configsync.ProfileRecord),
		counters:     make(map[string]int64),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return configsync.Unavailable(ErrClosed)
	}
	return nil
}

// InsertAction stores a new action record. A record without ID gets a UUID.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.actions[rec.ID] = rec

	return nil
}

// ClaimAction zeroes the oldest pending record matching the filter under the
// write lock and returns it as it was before the claim.
// Returns configsync.ErrNotFound if nothing matches.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return configsync.ActionRecord{}, err
	}

	var (
		found configsync.ActionRecord
		ok    bool
	)
	for _, rec := range s.actions {
		if !filter.Matches(rec) {
			continue
		}
		if !ok || compareActions(rec, found) < 0 {
			found, ok = rec, true
		}
	}
	if !ok {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}

	claimed := found
	claimed.LogicalTime = 0
	s.actions[found.ID] = claimed

	return found, nil
}

// FindActions returns the records matching the filter ordered by logical time.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []configsync.ActionRecord
	for _, rec := range s.actions {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, compareActions)

	return out, nil
}

// LatestActionTime returns the greatest logical time of any pending record.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var latest int64
	for _, rec := range s.actions {
		latest = max(latest, rec.LogicalTime)
	}
	if latest == 0 {
		return 0, configsync.ErrNotFound
	}

	return latest, nil
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return configsync.AlternativeRecord{}, err
	}

	rec, ok := s.alternatives[endpointID]
	if !ok {
		return configsync.AlternativeRecord{}, configsync.ErrNotFound
	}

	return copyAlternative(rec), nil
}

// SaveAlternative replaces the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.alternatives[rec.EndpointID] = copyAlternative(rec)

	return nil
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.alternatives, endpointID)

	return nil
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []configsync.AlternativeRecord
	for _, rec := range s.alternatives {
		if filter.Matches(rec) {
			out = append(out, copyAlternative(rec))
		}
	}
	slices.SortFunc(out, compareAlternatives)

	return out, nil
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]configsync.AlternativeRecord, 0, len(s.alternatives))
	for _, rec := range s.alternatives {
		out = append(out, copyAlternative(rec))
	}
	slices.SortFunc(out, compareAlternatives)

	return out, nil
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	for id := range s.alternatives {
		if !slices.Contains(exclude, id) {
			n++
		}
	}

	return n, nil
}

// SaveProfile upserts the profile of rec.ProcessID.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.profiles[rec.ProcessID] = rec

	return nil
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]configsync.ProfileRecord, 0, len(s.profiles))
	for _, rec := range s.profiles {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b configsync.ProfileRecord) int {
		return cmp.Compare(a.ProcessID, b.ProcessID)
	})

	return out, nil
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	for id, rec := range s.profiles {
		if rec.LastHeartbeat.Before(cutoff) {
			delete(s.profiles, id)
			n++
		}
	}

	return n, nil
}

// IncrementCounter adds amount to the counter and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.counters[counterID] += amount

	return s.counters[counterID], nil
}

// Close marks the store closed. Later calls fail as unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func compareActions(a, b configsync.ActionRecord) int {
	return cmp.Or(cmp.Compare(a.LogicalTime, b.LogicalTime), cmp.Compare(a.ID, b.ID))
}

func compareAlternatives(a, b configsync.AlternativeRecord) int {
	return cmp.Compare(a.EndpointID, b.EndpointID)
}

func copyAlternative(rec configsync.AlternativeRecord) configsync.AlternativeRecord {
	if rec.Config != nil {
		rec.Config = rec.Config.Clone()
	}
	return rec
}

var _ store.Store = (*Store)(nil)
