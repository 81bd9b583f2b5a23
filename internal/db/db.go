package db

import (
	"database/sql"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the attendance database. All timestamps are stored as unix
// seconds (DOUBLE) in UTC.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the attendance database at path and
// ensures the baseline schema. The schema here matches migration 000001;
// fresh databases work without running migrations, existing ones upgrade
// through the migrate wrapper.
func NewDB(path string) (*DB, error) {
	// DSN pragmas apply to every pooled connection, not just the first.
	// Immediate transactions take the write lock up front so concurrent
	// writers queue on busy_timeout instead of failing mid-transaction.
	dsn := path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS students (
		student_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		roll              TEXT NOT NULL UNIQUE,
		name              TEXT NOT NULL,
		email             TEXT,
		created_at        DOUBLE DEFAULT (UNIXEPOCH('subsec'))
	);
	CREATE TABLE IF NOT EXISTS attendance_logs (
		log_id            INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id        INTEGER NOT NULL,
		subject           TEXT,
		class_date_unix   DOUBLE NOT NULL,
		entry_unix        DOUBLE NOT NULL,
		exit_unix         DOUBLE,
		present           INTEGER NOT NULL DEFAULT 0,
		presence_score    DOUBLE NOT NULL DEFAULT 0,
		created_at        DOUBLE DEFAULT (UNIXEPOCH('subsec')),
		updated_at        DOUBLE DEFAULT (UNIXEPOCH('subsec')),
		FOREIGN KEY(student_id) REFERENCES students(student_id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_open_log
		ON attendance_logs(student_id) WHERE exit_unix IS NULL;
	CREATE INDEX IF NOT EXISTS idx_attendance_logs_student_date
		ON attendance_logs(student_id, class_date_unix);
`

// unixToTime converts stored unix seconds to a UTC time.
func unixToTime(sec float64) time.Time {
	s, frac := math.Modf(sec)
	return time.Unix(int64(s), int64(frac*1e9)).UTC()
}

// timeToUnix converts a time to stored unix seconds.
func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
