package store

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/configsync"
)

// MockStore is a configurable mock implementation of Store for use in tests.
// It allows setting up return values, tracking method calls, and injecting
// errors for testing error paths. Unset hooks behave like an empty store.
type MockStore struct {
	mu sync.RWMutex

	// InsertActionFunc is called by InsertAction if set.
	InsertActionFunc func(ctx context.Context, rec configsync.ActionRecord) error

	// ClaimActionFunc is called by ClaimAction if set.
	ClaimActionFunc func(ctx context.Context, filter ActionFilter) (configsync.ActionRecord, error)

	// FindActionsFunc is called by FindActions if set.
	FindActionsFunc func(ctx context.Context, filter ActionFilter) ([]configsync.ActionRecord, error)

	// LatestActionTimeFunc is called by LatestActionTime if set.
	LatestActionTimeFunc func(ctx context.Context) (int64, error)

	// GetAlternativeFunc is called by GetAlternative if set.
	GetAlternativeFunc func(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error)

	// SaveAlternativeFunc is called by SaveAlternative if set.
	SaveAlternativeFunc func(ctx context.Context, rec configsync.AlternativeRecord) error

	// DeleteAlternativeFunc is called by DeleteAlternative if set.
	DeleteAlternativeFunc func(ctx context.Context, endpointID string) error

	// FindAlternativesFunc is called by FindAlternatives if set.
	FindAlternativesFunc func(ctx context.Context, filter AlternativeFilter) ([]configsync.AlternativeRecord, error)

	// ListAlternativesFunc is called by ListAlternatives if set.
	ListAlternativesFunc func(ctx context.Context) ([]configsync.AlternativeRecord, error)

	// CountAlternativesFunc is called by CountAlternatives if set.
	CountAlternativesFunc func(ctx context.Context, exclude []string) (int, error)

	// SaveProfileFunc is called by SaveProfile if set.
	SaveProfileFunc func(ctx context.Context, rec configsync.ProfileRecord) error

	// ListProfilesFunc is called by ListProfiles if set.
	ListProfilesFunc func(ctx context.Context) ([]configsync.ProfileRecord, error)

	// DeleteProfilesBeforeFunc is called by DeleteProfilesBefore if set.
	DeleteProfilesBeforeFunc func(ctx context.Context, cutoff time.Time) (int, error)

	// IncrementCounterFunc is called by IncrementCounter if set.
	IncrementCounterFunc func(ctx context.Context, counterID string, amount int64) (int64, error)

	// Call tracking
	InsertActionCalls         []configsync.ActionRecord
	ClaimActionCalls          []ActionFilter
	FindActionsCalls          []ActionFilter
	LatestActionTimeCalls     int
	GetAlternativeCalls       []string
	SaveAlternativeCalls      []configsync.AlternativeRecord
	DeleteAlternativeCalls    []string
	FindAlternativesCalls     []AlternativeFilter
	ListAlternativesCalls     int
	CountAlternativesCalls    [][]string
	SaveProfileCalls          []configsync.ProfileRecord
	ListProfilesCalls         int
	DeleteProfilesBeforeCalls []time.Time
	IncrementCounterCalls     []IncrementCounterCall
	CloseCalls                int
}

// IncrementCounterCall records the arguments of one IncrementCounter call.
type IncrementCounterCall struct {
	CounterID string
	Amount    int64
}

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// InsertAction implements Store.
func (m *MockStore) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	m.mu.Lock()
	m.InsertActionCalls = append(m.InsertActionCalls, rec)
	m.mu.Unlock()

	if m.InsertActionFunc != nil {
		return m.InsertActionFunc(ctx, rec)
	}

	return nil
}

// ClaimAction implements Store.
func (m *MockStore) ClaimAction(ctx context.Context, filter ActionFilter) (configsync.ActionRecord, error) {
	m.mu.Lock()
	m.ClaimActionCalls = append(m.ClaimActionCalls, filter)
	m.mu.Unlock()

	if m.ClaimActionFunc != nil {
		return m.ClaimActionFunc(ctx, filter)
	}

	return configsync.ActionRecord{}, configsync.ErrNotFound
}

// FindActions implements Store.
func (m *MockStore) FindActions(ctx context.Context, filter ActionFilter) ([]configsync.ActionRecord, error) {
	m.mu.Lock()
	m.FindActionsCalls = append(m.FindActionsCalls, filter)
	m.mu.Unlock()

	if m.FindActionsFunc != nil {
		return m.FindActionsFunc(ctx, filter)
	}

	return nil, nil
}

// LatestActionTime implements Store.
func (m *MockStore) LatestActionTime(ctx context.Context) (int64, error) {
	m.mu.Lock()
	m.LatestActionTimeCalls++
	m.mu.Unlock()

	if m.LatestActionTimeFunc != nil {
		return m.LatestActionTimeFunc(ctx)
	}

	return 0, configsync.ErrNotFound
}

// GetAlternative implements Store.
func (m *MockStore) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	m.mu.Lock()
	m.GetAlternativeCalls = append(m.GetAlternativeCalls, endpointID)
	m.mu.Unlock()

	if m.GetAlternativeFunc != nil {
		return m.GetAlternativeFunc(ctx, endpointID)
	}

	return configsync.AlternativeRecord{}, configsync.ErrNotFound
}

// SaveAlternative implements Store.
func (m *MockStore) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	m.mu.Lock()
	m.SaveAlternativeCalls = append(m.SaveAlternativeCalls, rec)
	m.mu.Unlock()

	if m.SaveAlternativeFunc != nil {
		return m.SaveAlternativeFunc(ctx, rec)
	}

	return nil
}

// DeleteAlternative implements Store.
func (m *MockStore) DeleteAlternative(ctx context.Context, endpointID string) error {
	m.mu.Lock()
	m.DeleteAlternativeCalls = append(m.DeleteAlternativeCalls, endpointID)
	m.mu.Unlock()

	if m.DeleteAlternativeFunc != nil {
		return m.DeleteAlternativeFunc(ctx, endpointID)
	}

	return nil
}

// FindAlternatives implements Store.
func (m *MockStore) FindAlternatives(ctx context.Context, filter AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	m.mu.Lock()
	m.FindAlternativesCalls = append(m.FindAlternativesCalls, filter)
	m.mu.Unlock()

	if m.FindAlternativesFunc != nil {
		return m.FindAlternativesFunc(ctx, filter)
	}

	return nil, nil
}

// ListAlternatives implements Store.
func (m *MockStore) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	m.mu.Lock()
	m.ListAlternativesCalls++
	m.mu.Unlock()

	if m.ListAlternativesFunc != nil {
		return m.ListAlternativesFunc(ctx)
	}

	return nil, nil
}

// CountAlternatives implements Store.
func (m *MockStore) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	m.mu.Lock()
	m.CountAlternativesCalls = append(m.CountAlternativesCalls, exclude)
	m.mu.Unlock()

	if m.CountAlternativesFunc != nil {
		return m.CountAlternativesFunc(ctx, exclude)
	}

	return 0, nil
}

// SaveProfile implements Store.
func (m *MockStore) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	m.mu.Lock()
	m.SaveProfileCalls = append(m.SaveProfileCalls, rec)
	m.mu.Unlock()

	if m.SaveProfileFunc != nil {
		return m.SaveProfileFunc(ctx, rec)
	}

	return nil
}

// ListProfiles implements Store.
func (m *MockStore) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	m.mu.Lock()
	m.ListProfilesCalls++
	m.mu.Unlock()

	if m.ListProfilesFunc != nil {
		return m.ListProfilesFunc(ctx)
	}

	return nil, nil
}

// DeleteProfilesBefore implements Store.
func (m *MockStore) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	m.DeleteProfilesBeforeCalls = append(m.DeleteProfilesBeforeCalls, cutoff)
	m.mu.Unlock()

	if m.DeleteProfilesBeforeFunc != nil {
		return m.DeleteProfilesBeforeFunc(ctx, cutoff)
	}

	return 0, nil
}

// IncrementCounter implements Store.
func (m *MockStore) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	m.mu.Lock()
	m.IncrementCounterCalls = append(m.IncrementCounterCalls, IncrementCounterCall{
		CounterID: counterID,
		Amount:    amount,
	})
	m.mu.Unlock()

	if m.IncrementCounterFunc != nil {
		return m.IncrementCounterFunc(ctx, counterID, amount)
	}

	return amount, nil
}

// Close implements Store.
func (m *MockStore) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()

	return nil
}

// Reset clears all call tracking data.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertActionCalls = nil
	m.ClaimActionCalls = nil
	m.FindActionsCalls = nil
	m.LatestActionTimeCalls = 0
	m.GetAlternativeCalls = nil
	m.SaveAlternativeCalls = nil
	m.DeleteAlternativeCalls = nil
	m.FindAlternativesCalls = nil
	m.ListAlternativesCalls = 0
	m.CountAlternativesCalls = nil
	m.SaveProfileCalls = nil
	m.ListProfilesCalls = 0
	m.DeleteProfilesBeforeCalls = nil
	m.IncrementCounterCalls = nil
	m.CloseCalls = 0
}

var _ Store = (*MockStore)(nil)
