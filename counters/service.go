// Package counters exposes cluster-wide monotonic counters kept in the shared store.
package counters

import (
	"context"
	"fmt"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/metrics"
	"github.com/getpup/configsync/store"
	"github.com/getpup/pupsourcing/es"
)

// Config configures the counter Service.
type Config struct {
	// Store persists counters (required).
	Store store.CounterStore

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics records increments (optional).
	Metrics *metrics.Collector
}

// Service increments shared counters. Every increment is a single atomic store
// operation, so concurrent processes never observe the same value.
type Service struct {
	config Config
}

// New creates a new counter Service.
func New(cfg Config) *Service {
	return &Service{config: cfg}
}

// Increment adds amount to the counter and returns the new value. An unseen
// counter starts at amount.
func (s *Service) Increment(ctx context.Context, counterID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, configsync.ErrInvalidAmount
	}

	v, err := s.config.Store.IncrementCounter(ctx, counterID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", counterID, err)
	}

	s.config.Metrics.IncCounterIncrements()
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "counter incremented", "counterID", counterID, "amount", amount, "value", v)
	}
	return v, nil
}

// Next increments the counter by one and returns the new value.
func (s *Service) Next(ctx context.Context, counterID string) (int64, error) {
	return s.Increment(ctx, counterID, 1)
}
