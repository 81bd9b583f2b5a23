package db

import (
	"context"
	"errors"
	"time"

	"github.com/campusdata/presence/internal/presence"
)

// LogStore adapts the attendance tables to the presence engine's
// SessionStore contract. Both the ingest fast path and the sweep loop go
// through here; database/sql's pool hands each call its own short-lived
// connection, so a slow sweep never holds up ingestion.
type LogStore struct {
	db *DB
}

// LogStore returns the SessionStore view of this database.
func (db *DB) LogStore() *LogStore {
	return &LogStore{db: db}
}

var _ presence.SessionStore = (*LogStore)(nil)

func toSession(l *AttendanceLog) *presence.Session {
	if l == nil {
		return nil
	}
	s := &presence.Session{
		ID:        l.ID,
		SubjectID: l.StudentID,
		Entry:     l.Entry,
		Exit:      l.Exit,
		Present:   l.Present,
		Score:     l.Score,
	}
	if l.Subject != nil {
		s.Label = *l.Subject
	}
	return s
}

// FindOpenSession returns the subject's open session, nil if none.
func (s *LogStore) FindOpenSession(ctx context.Context, subjectID int64, periodStart time.Time) (*presence.Session, error) {
	log, err := s.db.FindOpenLog(ctx, subjectID, periodStart)
	if err != nil {
		return nil, err
	}
	return toSession(log), nil
}

// CreateSession opens a session, translating a lost create race into the
// engine's ErrSessionExists.
func (s *LogStore) CreateSession(ctx context.Context, subjectID int64, label string, entry time.Time) (*presence.Session, error) {
	log, err := s.db.CreateLog(ctx, subjectID, label, entry)
	if errors.Is(err, ErrOpenLogExists) {
		return toSession(log), presence.ErrSessionExists
	}
	if err != nil {
		return nil, err
	}
	return toSession(log), nil
}

// CloseSession stamps exit, present and score on an open session.
func (s *LogStore) CloseSession(ctx context.Context, sessionID int64, exit time.Time, present bool, score float64) (*presence.Session, error) {
	log, err := s.db.CloseLog(ctx, sessionID, exit, present, score)
	if err != nil {
		return nil, err
	}
	return toSession(log), nil
}
