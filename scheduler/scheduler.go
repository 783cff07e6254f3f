// Package scheduler runs callbacks once or at a fixed interval outside the
// request path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"
)

var (
	// ErrNotStarted is returned when a job is scheduled before Start.
	ErrNotStarted = errors.New("scheduler not started")

	// ErrInvalidInterval is returned by Every for a non-positive interval.
	ErrInvalidInterval = errors.New("schedule interval must be positive")
)

// Func is a scheduled callback.
type Func func(ctx context.Context)

// Config configures the Scheduler.
type Config struct {
	// StopTimeout bounds how long Stop waits for running jobs (default: 10s).
	StopTimeout time.Duration

	// WorkerLimit caps concurrently running jobs. Zero leaves one goroutine
	// per job; negative values are rejected by New.
	WorkerLimit int

	// Logger is for observability (optional).
	Logger es.Logger
}

// Scheduler invokes callbacks once or repeatedly, keyed by name.
type Scheduler struct {
	config Config

	mu      sync.Mutex
	quartz  quartz.Scheduler
	started *atomic.Bool
}

// New creates a new Scheduler. It does nothing until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	opts := []quartz.SchedulerOpt{
		quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)),
	}
	if cfg.WorkerLimit != 0 {
		opts = append(opts, quartz.WithWorkerLimit(cfg.WorkerLimit))
	}

	q, err := quartz.NewStdScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		config:  cfg,
		quartz:  q,
		started: atomic.NewBool(false),
	}, nil
}

// Start starts the scheduler. Jobs receive ctx and stop firing once it is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return
	}
	s.quartz.Start(ctx)
	s.started.Store(s.quartz.IsStarted())
}

// Started reports whether the scheduler is running.
func (s *Scheduler) Started() bool {
	return s.started.Load()
}

// Stop removes every job and waits for running ones to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return
	}

	_ = s.quartz.Clear()
	s.quartz.Stop()
	s.started.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.config.StopTimeout)
	defer cancel()
	s.quartz.Wait(ctx)
}

// Once invokes fn one time, as soon as possible. Scheduling a key that is
// already scheduled replaces it.
func (s *Scheduler) Once(key string, fn Func) error {
	return s.schedule(key, fn, quartz.NewRunOnceTrigger(0))
}

// Every invokes fn every interval, first after one interval has elapsed.
// Scheduling a key that is already scheduled replaces it.
func (s *Scheduler) Every(key string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.schedule(key, fn, quartz.NewSimpleTrigger(interval))
}

// Cancel removes a scheduled job. Cancelling an unknown key is a no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		_ = s.quartz.DeleteJob(quartz.NewJobKey(key))
	}
}

func (s *Scheduler) schedule(key string, fn Func, trigger quartz.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return ErrNotStarted
	}

	jobKey := quartz.NewJobKey(key)
	_ = s.quartz.DeleteJob(jobKey)

	fj := job.NewFunctionJob[struct{}](func(ctx context.Context) (struct{}, error) {
		s.run(ctx, key, fn)
		return struct{}{}, nil
	})
	if err := s.quartz.ScheduleJob(quartz.NewJobDetail(fj, jobKey), trigger); err != nil {
		return fmt.Errorf("failed to schedule %q: %w", key, err)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, key string, fn Func) {
	defer func() {
		if r := recover(); r != nil && s.config.Logger != nil {
			s.config.Logger.Error(ctx, "scheduled job panicked", "key", key, "panic", r)
		}
	}()
	fn(ctx)
}
