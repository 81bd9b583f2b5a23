package presence

import (
	"context"
	"sync"
	"time"

	"github.com/campusdata/presence/internal/monitoring"
	"github.com/campusdata/presence/internal/timeutil"
)

// SweepMode describes how the sweep loop is hosted.
type SweepMode int

const (
	// ModeIdle means no sweep loop is running.
	ModeIdle SweepMode = iota
	// ModeAttached means the loop's lifetime is bound to a caller-supplied
	// context, typically the process signal context.
	ModeAttached
	// ModeIndependent means the loop owns its lifetime and only Stop ends it.
	ModeIndependent
)

func (m SweepMode) String() string {
	switch m {
	case ModeAttached:
		return "attached"
	case ModeIndependent:
		return "independent"
	default:
		return "idle"
	}
}

// SweeperOptions carries the timing knobs for the sweep loop.
type SweeperOptions struct {
	InitialDelay time.Duration // pause before the first sweep
	PollInterval time.Duration // pause between sweeps
	StopTimeout  time.Duration // bounded wait for the loop to exit on Stop
}

// Sweeper drives the periodic departure (and catch-up arrival) checks over
// every buffered key. Exactly one loop runs at a time, in one of two modes;
// Start is idempotent and Stop is safe to call in any state.
type Sweeper struct {
	buffer *Buffer
	rec    *Reconciler
	clock  timeutil.Clock
	opts   SweeperOptions

	// manual coalesces sweep triggers from the API: a pending trigger
	// absorbs later ones.
	manual chan struct{}

	mu     sync.Mutex
	mode   SweepMode
	cancel context.CancelFunc
	done   chan struct{}

	lastSweepAt time.Time
	lastErr     error
	sweepCount  int64
}

// SweepStatus is the externally visible state of the sweep loop.
type SweepStatus struct {
	Mode        string    `json:"mode"`
	SweepCount  int64     `json:"sweep_count"`
	LastSweepAt time.Time `json:"last_sweep_at"`
	LastError   string    `json:"last_error,omitempty"`
	IsHealthy   bool      `json:"is_healthy"`
}

// NewSweeper creates a sweeper over the given buffer and reconciler.
func NewSweeper(buffer *Buffer, rec *Reconciler, clock timeutil.Clock, opts SweeperOptions) *Sweeper {
	return &Sweeper{
		buffer: buffer,
		rec:    rec,
		clock:  clock,
		opts:   opts,
		manual: make(chan struct{}, 1),
	}
}

// Start launches the sweep loop if it is not already running and returns the
// resulting mode. A non-nil ctx attaches the loop to the caller's lifetime;
// a nil ctx starts an independent worker that runs until Stop. A second
// Start while running is a no-op and reports the active mode.
func (s *Sweeper) Start(ctx context.Context) SweepMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return s.mode
	}

	if ctx != nil {
		s.mode = ModeAttached
	} else {
		s.mode = ModeIndependent
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	monitoring.Logf("presence sweeper: started mode=%s poll=%s", s.mode, s.opts.PollInterval)
	go s.loop(runCtx, done)
	return s.mode
}

// Stop cancels the loop and waits for it to exit, bounded by StopTimeout.
// If the wait times out the loop is abandoned but the sweeper still returns
// to idle so a later Start is not blocked. Stop before Start is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.mode == ModeIdle {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	timer := s.clock.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C():
		monitoring.Logf("presence sweeper: loop did not stop within %s, abandoning", s.opts.StopTimeout)
	}

	s.mu.Lock()
	if s.done == done {
		s.mode = ModeIdle
		s.cancel = nil
		s.done = nil
	}
	s.mu.Unlock()
}

// TriggerSweep requests an immediate sweep. Non-blocking; if a trigger is
// already pending this one is absorbed.
func (s *Sweeper) TriggerSweep() {
	select {
	case s.manual <- struct{}{}:
	default:
		monitoring.Logf("presence sweeper: manual trigger skipped (already pending)")
	}
}

// Status reports the current mode and run bookkeeping.
func (s *Sweeper) Status() SweepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SweepStatus{
		Mode:        s.mode.String(),
		SweepCount:  s.sweepCount,
		LastSweepAt: s.lastSweepAt,
		IsHealthy:   true,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
		status.IsHealthy = false
	}
	// Stale loop: running but no sweep for several poll intervals.
	if s.mode != ModeIdle && !s.lastSweepAt.IsZero() &&
		s.clock.Since(s.lastSweepAt) > 4*s.opts.PollInterval {
		status.IsHealthy = false
	}
	return status
}

// Mode returns the current sweep mode.
func (s *Sweeper) Mode() SweepMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		// An attached loop dies with its context; make sure a later
		// Start is possible. Stop may already have moved on to a new
		// generation, hence the done check.
		s.mu.Lock()
		if s.done == done {
			s.mode = ModeIdle
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
		monitoring.Logf("presence sweeper: loop terminated")
	}()

	delay := s.clock.NewTimer(s.opts.InitialDelay)
	select {
	case <-delay.C():
	case <-ctx.Done():
		delay.Stop()
		return
	}

	ticker := s.clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.sweep(ctx)
		case <-s.manual:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one pass over all buffered keys. A failure on one key is
// logged and that key's buffer left intact for retry on the next pass; the
// rest of the pass continues.
func (s *Sweeper) sweep(ctx context.Context) {
	now := s.clock.Now().UTC()
	var firstErr error

	for _, key := range s.buffer.Keys() {
		window := s.buffer.Snapshot(key)

		opened, err := s.rec.MaybeOpen(ctx, key, window, now)
		if err != nil {
			monitoring.Logf("presence sweeper: arrival check %s: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if opened {
			// A session opened in this pass is never closed in the
			// same pass.
			continue
		}

		if _, err := s.rec.MaybeClose(ctx, key, window, now); err != nil {
			monitoring.Logf("presence sweeper: departure check %s: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.lastSweepAt = now
	s.lastErr = firstErr
	s.sweepCount++
	s.mu.Unlock()
}
