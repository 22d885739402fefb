// package scheduler drives the time-based sweeps; nothing else in the worker
// initiates work without an external trigger.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type Manager interface {
	SubscribeToAll(ctx context.Context) error
	RenewExpiring(ctx context.Context) error
	RetryFailed(ctx context.Context) error
}

type Poller interface {
	PollAll(ctx context.Context) error
}

// Intervals names every sweep cadence so tests can compress them.
type Intervals struct {
	// BootstrapDelay holds the initial subscribe-all back until the callback
	// endpoint is externally reachable.
	BootstrapDelay time.Duration
	Renewal        time.Duration
	Retry          time.Duration
	Poll           time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		BootstrapDelay: 2 * time.Minute,
		Renewal:        24 * time.Hour,
		Retry:          6 * time.Hour,
		Poll:           24 * time.Hour,
	}
}

type Scheduler struct {
	manager   Manager
	poller    Poller
	intervals Intervals
}

func New(manager Manager, poller Poller, intervals Intervals) *Scheduler {
	defaults := DefaultIntervals()
	if intervals.BootstrapDelay <= 0 {
		intervals.BootstrapDelay = defaults.BootstrapDelay
	}
	if intervals.Renewal <= 0 {
		intervals.Renewal = defaults.Renewal
	}
	if intervals.Retry <= 0 {
		intervals.Retry = defaults.Retry
	}
	if intervals.Poll <= 0 {
		intervals.Poll = defaults.Poll
	}

	return &Scheduler{manager: manager, poller: poller, intervals: intervals}
}

// Start launches the sweep goroutines and returns. Sweeps are independent;
// a slow sweep does not block the others, and all stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Scheduler starting",
		"bootstrap_delay", s.intervals.BootstrapDelay,
		"renewal_interval", s.intervals.Renewal,
		"retry_interval", s.intervals.Retry,
		"poll_interval", s.intervals.Poll)

	go s.bootstrap(ctx)
	go s.loop(ctx, "fallback poll", s.intervals.Poll, true, s.poller.PollAll)
	go s.loop(ctx, "renewal sweep", s.intervals.Renewal, false, s.manager.RenewExpiring)
	go s.loop(ctx, "retry sweep", s.intervals.Retry, false, s.manager.RetryFailed)
}

func (s *Scheduler) bootstrap(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.intervals.BootstrapDelay):
	}

	s.run(ctx, "bootstrap subscribe-all", s.manager.SubscribeToAll)
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, runAtStart bool, fn func(context.Context) error) {
	if runAtStart {
		s.run(ctx, name, fn)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, name, fn)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}

	slog.Info("Sweep starting", "sweep", name)
	start := time.Now()

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		slog.Error("sweep failed", "sweep", name, "error", err)
		return
	}

	slog.Info("Sweep done", "sweep", name, "elapsed", time.Since(start))
}
