package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory SessionStore enforcing the same single-open-
// session-per-subject rule as the real database.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions []*Session

	createCalls int
	closeCalls  int

	findErrFor map[int64]error // per-subject FindOpenSession failures
	createErr  error
	closeErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{findErrFor: make(map[int64]error)}
}

func (f *fakeStore) FindOpenSession(ctx context.Context, subjectID int64, periodStart time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.findErrFor[subjectID]; err != nil {
		return nil, err
	}
	for _, s := range f.sessions {
		if s.SubjectID != subjectID || s.Exit != nil {
			continue
		}
		if !periodStart.IsZero() && s.Entry.Before(periodStart) {
			continue
		}
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, subjectID int64, label string, entry time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, s := range f.sessions {
		if s.SubjectID == subjectID && s.Exit == nil {
			cp := *s
			return &cp, ErrSessionExists
		}
	}
	f.nextID++
	s := &Session{ID: f.nextID, SubjectID: subjectID, Label: label, Entry: entry}
	f.sessions = append(f.sessions, s)
	cp := *s
	return &cp, nil
}

func (f *fakeStore) CloseSession(ctx context.Context, sessionID int64, exit time.Time, present bool, score float64) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	for _, s := range f.sessions {
		if s.ID == sessionID && s.Exit == nil {
			e := exit
			s.Exit = &e
			s.Present = present
			s.Score = score
			cp := *s
			return &cp, nil
		}
	}
	return nil, errors.New("no open session with that id")
}

// session returns a copy of the stored session by id, or nil.
func (f *fakeStore) session(id int64) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (f *fakeStore) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.Exit == nil {
			n++
		}
	}
	return n
}

var recT0 = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func newTestReconciler(store SessionStore) (*Reconciler, *Buffer) {
	buffer := NewBuffer(10 * time.Second)
	rec := NewReconciler(store, buffer, 3*time.Second, 60*time.Second, 300*time.Second)
	return rec, buffer
}

func window(times ...time.Time) []time.Time { return times }

func TestMaybeOpenEmptyWindow(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)

	opened, err := rec.MaybeOpen(context.Background(), Key{Camera: "cam", SubjectID: 1}, nil, recT0)
	if err != nil {
		t.Fatalf("MaybeOpen: %v", err)
	}
	if opened {
		t.Error("opened = true for empty window, want false")
	}
	if store.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", store.createCalls)
	}
}

func TestMaybeOpenInsufficientSpan(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)

	w := window(recT0, recT0.Add(2900*time.Millisecond))
	opened, err := rec.MaybeOpen(context.Background(), Key{Camera: "cam", SubjectID: 1}, w, recT0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("MaybeOpen: %v", err)
	}
	if opened {
		t.Error("opened = true below the presence span, want false")
	}
}

func TestMaybeOpenCreatesSession(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	for _, off := range []time.Duration{0, 1500 * time.Millisecond, 3 * time.Second} {
		buffer.Record(key, recT0.Add(off))
	}
	now := recT0.Add(3 * time.Second)

	opened, err := rec.MaybeOpen(context.Background(), key, buffer.Snapshot(key), now)
	if err != nil {
		t.Fatalf("MaybeOpen: %v", err)
	}
	if !opened {
		t.Fatal("opened = false, want true")
	}

	s := store.session(1)
	if s == nil {
		t.Fatal("no session persisted")
	}
	if s.SubjectID != 1 || !s.Entry.Equal(now) || s.Exit != nil {
		t.Errorf("session = %+v, want open session for subject 1 entered at %v", s, now)
	}

	// Spent evidence is reset but the key stays registered for departure
	// checks.
	if got := len(buffer.Snapshot(key)); got != 0 {
		t.Errorf("window length after open = %d, want 0", got)
	}
	if got := buffer.Len(); got != 1 {
		t.Errorf("buffer Len after open = %d, want 1", got)
	}
}

func TestMaybeOpenIdempotentSameDay(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	w := window(recT0, recT0.Add(3*time.Second))
	now := recT0.Add(3 * time.Second)
	if _, err := rec.MaybeOpen(context.Background(), key, w, now); err != nil {
		t.Fatalf("first MaybeOpen: %v", err)
	}

	// Fresh evidence later the same day must not open a second session.
	later := now.Add(2 * time.Minute)
	buffer.Record(key, later.Add(-3*time.Second))
	buffer.Record(key, later)
	opened, err := rec.MaybeOpen(context.Background(), key, buffer.Snapshot(key), later)
	if err != nil {
		t.Fatalf("second MaybeOpen: %v", err)
	}
	if opened {
		t.Error("opened = true with a session already open today, want false")
	}
	if got := store.openCount(); got != 1 {
		t.Errorf("open sessions = %d, want 1", got)
	}
	if store.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", store.createCalls)
	}
}

func TestMaybeOpenLosesCreateRace(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	// An open session from yesterday is invisible to the day-scoped find
	// but still trips the store's uniqueness rule on create. The loser
	// treats that as "already open", not an error.
	yesterday := recT0.Add(-24 * time.Hour)
	if _, err := store.CreateSession(context.Background(), 1, "", yesterday); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	store.createCalls = 0

	w := window(recT0, recT0.Add(3*time.Second))
	opened, err := rec.MaybeOpen(context.Background(), key, w, recT0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("MaybeOpen: %v", err)
	}
	if opened {
		t.Error("opened = true after losing the create race, want false")
	}
	if got := store.openCount(); got != 1 {
		t.Errorf("open sessions = %d, want 1", got)
	}
}

func TestMaybeOpenFindError(t *testing.T) {
	store := newFakeStore()
	store.findErrFor[1] = errors.New("disk on fire")
	rec, _ := newTestReconciler(store)

	w := window(recT0, recT0.Add(3*time.Second))
	_, err := rec.MaybeOpen(context.Background(), Key{Camera: "cam", SubjectID: 1}, w, recT0.Add(3*time.Second))
	if err == nil {
		t.Fatal("MaybeOpen error = nil, want store failure")
	}
}

func TestMaybeCloseNoOpenSession(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)

	closed, err := rec.MaybeClose(context.Background(), Key{Camera: "cam", SubjectID: 1}, nil, recT0)
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if closed {
		t.Error("closed = true with no open session, want false")
	}
}

func TestMaybeCloseDropsSilentKeyWithoutSession(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	// One flicker detection, never enough to open a session.
	buffer.Record(key, recT0)

	// Still within the absence window: the key stays for more evidence.
	closed, err := rec.MaybeClose(context.Background(), key, buffer.Snapshot(key), recT0.Add(59*time.Second))
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if closed {
		t.Error("closed = true with no open session, want false")
	}
	if got := buffer.Len(); got != 1 {
		t.Errorf("buffer Len before the absence window = %d, want 1", got)
	}

	// Once the subject has been silent past the absence window the key is
	// dropped even though there was never a session to close.
	if _, err := rec.MaybeClose(context.Background(), key, buffer.Snapshot(key), recT0.Add(60*time.Second)); err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if got := buffer.Len(); got != 0 {
		t.Errorf("buffer Len after silence with no session = %d, want 0", got)
	}
}

func TestMaybeCloseBeforeAbsenceElapsed(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	if _, err := store.CreateSession(context.Background(), 1, "", recT0); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	lastSeen := recT0.Add(10 * time.Minute)
	now := lastSeen.Add(59 * time.Second)
	closed, err := rec.MaybeClose(context.Background(), key, window(lastSeen), now)
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if closed {
		t.Error("closed = true before the absence window elapsed, want false")
	}
	if store.closeCalls != 0 {
		t.Errorf("closeCalls = %d, want 0", store.closeCalls)
	}
}

func TestMaybeCloseAfterAbsence(t *testing.T) {
	store := newFakeStore()
	rec, buffer := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	if _, err := store.CreateSession(context.Background(), 1, "", recT0); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	buffer.Record(key, recT0)

	lastSeen := recT0.Add(10 * time.Minute)
	now := lastSeen.Add(60 * time.Second)
	closed, err := rec.MaybeClose(context.Background(), key, window(lastSeen), now)
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if !closed {
		t.Fatal("closed = false, want true")
	}

	s := store.session(1)
	if s.Exit == nil || !s.Exit.Equal(now) {
		t.Fatalf("exit = %v, want %v", s.Exit, now)
	}
	// 11 minutes on site: well past the 5 minute floor, 0.18h score.
	if !s.Present {
		t.Error("present = false, want true")
	}
	if s.Score != 0.18 {
		t.Errorf("score = %v, want 0.18", s.Score)
	}
	if got := buffer.Len(); got != 0 {
		t.Errorf("buffer Len after close = %d, want 0", got)
	}
}

func TestMaybeCloseEmptyWindowFallsBackToEntry(t *testing.T) {
	store := newFakeStore()
	rec, _ := newTestReconciler(store)
	key := Key{Camera: "cam", SubjectID: 1}

	if _, err := store.CreateSession(context.Background(), 1, "", recT0); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	closed, err := rec.MaybeClose(context.Background(), key, nil, recT0.Add(59*time.Second))
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if closed {
		t.Error("closed = true only 59s after entry, want false")
	}

	closed, err = rec.MaybeClose(context.Background(), key, nil, recT0.Add(60*time.Second))
	if err != nil {
		t.Fatalf("MaybeClose: %v", err)
	}
	if !closed {
		t.Fatal("closed = false 60s after entry with no evidence, want true")
	}

	s := store.session(1)
	if s.Present {
		t.Error("present = true for a 60s stay, want false")
	}
	if s.Score != 0.02 {
		t.Errorf("score = %v, want 0.02", s.Score)
	}
}

func TestScoreSession(t *testing.T) {
	presentMin := 300 * time.Second
	tests := []struct {
		name     string
		duration time.Duration
		score    float64
		present  bool
	}{
		{"one minute", time.Minute, 0.02, false},
		{"just under floor", 299 * time.Second, 0.08, false},
		{"exactly floor", 300 * time.Second, 0.08, true},
		{"one hour", time.Hour, 1.0, true},
		{"ninety minutes", 90 * time.Minute, 1.5, true},
		{"zero", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, present := ScoreSession(tt.duration, presentMin)
			if score != tt.score {
				t.Errorf("score = %v, want %v", score, tt.score)
			}
			if present != tt.present {
				t.Errorf("present = %v, want %v", present, tt.present)
			}
		})
	}
}
