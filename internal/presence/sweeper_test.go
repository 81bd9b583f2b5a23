package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusdata/presence/internal/timeutil"
)

func testSweeperOpts() SweeperOptions {
	return SweeperOptions{
		InitialDelay: 0,
		PollInterval: 50 * time.Millisecond,
		StopTimeout:  time.Second,
	}
}

func TestSweeperStartIdempotent(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	s := NewSweeper(buffer, rec, timeutil.NewMockClock(recT0), testSweeperOpts())
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Equal(t, ModeAttached, s.Start(ctx))
	// A second Start in any mode reports the running mode and changes
	// nothing.
	require.Equal(t, ModeAttached, s.Start(nil))
	require.Equal(t, ModeAttached, s.Mode())

	s.Stop()
	require.Equal(t, ModeIdle, s.Mode())
}

func TestSweeperStartIndependent(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	s := NewSweeper(buffer, rec, timeutil.NewMockClock(recT0), testSweeperOpts())

	require.Equal(t, ModeIndependent, s.Start(nil))
	require.Equal(t, ModeIndependent, s.Mode())
	s.Stop()
	require.Equal(t, ModeIdle, s.Mode())
}

func TestSweeperStopBeforeStart(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	s := NewSweeper(buffer, rec, timeutil.NewMockClock(recT0), testSweeperOpts())

	s.Stop()
	s.Stop()
	require.Equal(t, ModeIdle, s.Mode())
}

func TestSweeperAttachedDiesWithContext(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	s := NewSweeper(buffer, rec, timeutil.NewMockClock(recT0), testSweeperOpts())

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, ModeAttached, s.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		return s.Mode() == ModeIdle
	}, time.Second, 5*time.Millisecond, "attached loop should return to idle when its context dies")

	// Restart after the context death must work.
	require.Equal(t, ModeIndependent, s.Start(nil))
	s.Stop()
}

func TestSweeperRunsOnTriggerAndTick(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())
	defer s.Stop()

	s.Start(nil)
	require.Eventually(t, func() bool {
		// Advance fires the initial delay timer and then ticks; the
		// manual trigger covers the window where the loop has not
		// registered its ticker yet.
		clock.Advance(50 * time.Millisecond)
		s.TriggerSweep()
		return s.Status().SweepCount >= 1
	}, time.Second, time.Millisecond)
}

func TestSweeperOpensThenCloses(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())

	key := Key{Camera: "cam", SubjectID: 1}
	buffer.Record(key, recT0.Add(-3*time.Second))
	buffer.Record(key, recT0)

	// Pass 1: enough continuous evidence, session opens.
	s.sweep(context.Background())
	require.Equal(t, 1, store.openCount())

	// Well within the absence window nothing closes.
	clock.Advance(30 * time.Second)
	s.sweep(context.Background())
	require.Equal(t, 1, store.openCount())

	// Silence past the absence window closes it.
	clock.Advance(31 * time.Second)
	s.sweep(context.Background())
	require.Equal(t, 0, store.openCount())

	sess := store.session(1)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Exit)
	require.False(t, sess.Present) // 61s stay, under the 5 minute floor
	require.Equal(t, 0, buffer.Len())
}

func TestSweeperNeverClosesSessionOpenedSamePass(t *testing.T) {
	store := newFakeStore()
	buffer := NewBuffer(10 * time.Second)
	// Zero absence window: a departure check would fire immediately, so
	// only the same-pass skip keeps the fresh session open.
	rec := NewReconciler(store, buffer, 3*time.Second, 0, 300*time.Second)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())

	key := Key{Camera: "cam", SubjectID: 1}
	buffer.Record(key, recT0.Add(-3*time.Second))
	buffer.Record(key, recT0)

	s.sweep(context.Background())
	require.Equal(t, 1, store.openCount(), "session opened this pass must survive the pass")

	s.sweep(context.Background())
	require.Equal(t, 0, store.openCount(), "next pass may close it")
}

func TestSweeperPrunesSilentKeysWithoutSessions(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())

	// A single flicker detection registers the key but never opens a
	// session. Sweeps must not carry it forever.
	buffer.Record(Key{Camera: "cam", SubjectID: 1}, recT0)

	clock.Advance(5 * time.Minute)
	s.sweep(context.Background())

	require.Equal(t, 0, buffer.Len(), "silent key without a session must be pruned")
	require.Equal(t, 0, store.openCount())
}

func TestSweeperIsolatesPerKeyFailures(t *testing.T) {
	store := newFakeStore()
	store.findErrFor[1] = errors.New("subject 1 lookup broken")
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())

	bad := Key{Camera: "cam", SubjectID: 1}
	good := Key{Camera: "cam", SubjectID: 2}
	for _, key := range []Key{bad, good} {
		buffer.Record(key, recT0.Add(-3*time.Second))
		buffer.Record(key, recT0)
	}

	s.sweep(context.Background())

	require.Equal(t, 1, store.openCount(), "healthy key must still open despite the broken one")
	require.Equal(t, 2, len(buffer.Snapshot(bad)), "failed key keeps its evidence for retry")

	status := s.Status()
	require.False(t, status.IsHealthy)
	require.Contains(t, status.LastError, "subject 1 lookup broken")

	// The failure clears on the next clean pass.
	delete(store.findErrFor, 1)
	s.sweep(context.Background())
	require.True(t, s.Status().IsHealthy)
}

func TestSweeperStatusBookkeeping(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	s := NewSweeper(buffer, rec, clock, testSweeperOpts())

	status := s.Status()
	require.Equal(t, "idle", status.Mode)
	require.Equal(t, int64(0), status.SweepCount)
	require.True(t, status.IsHealthy)

	s.sweep(context.Background())
	s.sweep(context.Background())
	status = s.Status()
	require.Equal(t, int64(2), status.SweepCount)
	require.Equal(t, recT0, status.LastSweepAt)
}

func TestSweeperStatusStaleLoopUnhealthy(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	clock := timeutil.NewMockClock(recT0)
	opts := testSweeperOpts()
	s := NewSweeper(buffer, rec, clock, opts)
	defer s.Stop()

	s.sweep(context.Background())
	s.Start(nil)
	require.True(t, s.Status().IsHealthy)

	// Running, but no sweep for several poll intervals.
	clock.Set(recT0.Add(10 * opts.PollInterval))
	require.False(t, s.Status().IsHealthy)
}
