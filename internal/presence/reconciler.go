package presence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSessionExists is returned by a SessionStore when a create races another
// creator and loses. The reconciler treats it as "already open".
var ErrSessionExists = errors.New("open session already exists")

// Session mirrors one persisted attendance record as the engine sees it.
type Session struct {
	ID        int64
	SubjectID int64
	Label     string
	Entry     time.Time
	Exit      *time.Time
	Present   bool
	Score     float64
}

// SessionStore is the persistence contract the reconciler drives. At most
// one open session (nil exit) may exist per subject; FindOpenSession with a
// zero periodStart matches any open session regardless of date.
//
// The three operations must be atomic with respect to each other for the
// same subject: two concurrent creates may not both succeed.
type SessionStore interface {
	FindOpenSession(ctx context.Context, subjectID int64, periodStart time.Time) (*Session, error)
	CreateSession(ctx context.Context, subjectID int64, label string, entry time.Time) (*Session, error)
	CloseSession(ctx context.Context, sessionID int64, exit time.Time, present bool, score float64) (*Session, error)
}

// Reconciler decides when buffered detection evidence amounts to an arrival
// or a departure. Decisions are pure given the window and the store lookup;
// side effects go through the store and the buffer.
type Reconciler struct {
	store  SessionStore
	buffer *Buffer

	presenceSpan time.Duration // continuous evidence needed to open
	absenceAfter time.Duration // silence needed to close
	presentMin   time.Duration // floor duration to count as present
}

// NewReconciler wires the decision logic to its store and buffer.
func NewReconciler(store SessionStore, buffer *Buffer, presenceSpan, absenceAfter, presentMin time.Duration) *Reconciler {
	return &Reconciler{
		store:        store,
		buffer:       buffer,
		presenceSpan: presenceSpan,
		absenceAfter: absenceAfter,
		presentMin:   presentMin,
	}
}

// MaybeOpen opens a session for key when the window spans at least the
// configured presence duration and the subject has no open session for the
// current day. It reports whether a session was actually created. On
// success the spent evidence is reset so the same window cannot trigger a
// second arrival.
func (r *Reconciler) MaybeOpen(ctx context.Context, key Key, window []time.Time, now time.Time) (bool, error) {
	if len(window) == 0 {
		return false, nil
	}
	span := latest(window).Sub(earliest(window))
	if span < r.presenceSpan {
		return false, nil
	}

	existing, err := r.store.FindOpenSession(ctx, key.SubjectID, dayStart(now))
	if err != nil {
		return false, fmt.Errorf("find open session for subject %d: %w", key.SubjectID, err)
	}
	if existing != nil {
		return false, nil
	}

	if _, err := r.store.CreateSession(ctx, key.SubjectID, "", now); err != nil {
		if errors.Is(err, ErrSessionExists) {
			// Lost a create race; someone else opened it. Same outcome.
			return false, nil
		}
		return false, fmt.Errorf("create session for subject %d: %w", key.SubjectID, err)
	}
	r.buffer.Reset(key)
	return true, nil
}

// MaybeClose closes the subject's open session once no evidence has been
// seen for the configured absence duration. An empty window counts as no
// evidence since the session opened. It reports whether a session was
// closed; afterwards the key is dropped from the buffer. A key that went
// silent without ever opening a session (a flicker below the presence span)
// is also dropped, so the buffer never accumulates stale keys.
func (r *Reconciler) MaybeClose(ctx context.Context, key Key, window []time.Time, now time.Time) (bool, error) {
	open, err := r.store.FindOpenSession(ctx, key.SubjectID, time.Time{})
	if err != nil {
		return false, fmt.Errorf("find open session for subject %d: %w", key.SubjectID, err)
	}
	if open == nil {
		if len(window) == 0 || now.Sub(latest(window)) >= r.absenceAfter {
			r.buffer.Clear(key)
		}
		return false, nil
	}

	lastSeen := open.Entry
	if len(window) > 0 {
		lastSeen = latest(window)
	}
	if now.Sub(lastSeen) < r.absenceAfter {
		return false, nil
	}

	duration := now.Sub(open.Entry)
	score, present := ScoreSession(duration, r.presentMin)
	if _, err := r.store.CloseSession(ctx, open.ID, now, present, score); err != nil {
		return false, fmt.Errorf("close session %d: %w", open.ID, err)
	}
	r.buffer.Clear(key)
	return true, nil
}

// ScoreSession converts a session duration into the stored presence score
// (hours, two decimals) and present flag (stay of at least presentMin).
// The score is an open-ended engagement metric, deliberately not normalised
// to a fixed class length.
func ScoreSession(duration, presentMin time.Duration) (score float64, present bool) {
	score = math.Round(duration.Hours()*100) / 100
	present = duration >= presentMin
	return score, present
}

// dayStart returns midnight UTC of the day containing t. Sessions are
// deduplicated per calendar day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func earliest(window []time.Time) time.Time {
	min := window[0]
	for _, t := range window[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
}

func latest(window []time.Time) time.Time {
	max := window[0]
	for _, t := range window[1:] {
		if t.After(max) {
			max = t
		}
	}
	return max
}
