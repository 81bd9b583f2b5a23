package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrOpenLogExists reports that a create found (or raced) an existing
	// open log for the student. The existing log is returned alongside.
	ErrOpenLogExists = errors.New("student already has an open attendance log")

	// ErrNoOpenLog reports that a close found no open log to act on.
	ErrNoOpenLog = errors.New("no open attendance log")
)

// AttendanceLog is one persisted attendance session. Exit is nil while the
// session is open.
type AttendanceLog struct {
	ID        int64      `json:"id"`
	StudentID int64      `json:"student_id"`
	Subject   *string    `json:"subject,omitempty"`
	ClassDate time.Time  `json:"class_date"`
	Entry     time.Time  `json:"entry_time"`
	Exit      *time.Time `json:"exit_time"`
	Present   bool       `json:"present"`
	Score     float64    `json:"presence_score"`
}

// LogWithStudent joins a log with the student's roll and name for listings.
// Roll and name are empty when the subject id was never enrolled.
type LogWithStudent struct {
	AttendanceLog
	StudentRoll string `json:"student_roll"`
	StudentName string `json:"student_name"`
}

const logColumns = `log_id, student_id, subject, class_date_unix, entry_unix, exit_unix, present, presence_score`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*AttendanceLog, error) {
	var (
		l         AttendanceLog
		subject   sql.NullString
		classDate float64
		entry     float64
		exit      sql.NullFloat64
	)
	if err := row.Scan(&l.ID, &l.StudentID, &subject, &classDate, &entry, &exit, &l.Present, &l.Score); err != nil {
		return nil, err
	}
	if subject.Valid {
		l.Subject = &subject.String
	}
	l.ClassDate = unixToTime(classDate)
	l.Entry = unixToTime(entry)
	if exit.Valid {
		t := unixToTime(exit.Float64)
		l.Exit = &t
	}
	return &l, nil
}

// FindOpenLog returns the student's open log (nil exit), or nil if none.
// A non-zero periodStart restricts the match to logs dated on or after it;
// a zero periodStart matches any open log.
func (db *DB) FindOpenLog(ctx context.Context, studentID int64, periodStart time.Time) (*AttendanceLog, error) {
	q := `SELECT ` + logColumns + `
		FROM attendance_logs
		WHERE student_id = ? AND exit_unix IS NULL`
	args := []any{studentID}
	if !periodStart.IsZero() {
		q += ` AND class_date_unix >= ?`
		args = append(args, timeToUnix(periodStart))
	}
	q += ` ORDER BY entry_unix DESC LIMIT 1`

	log, err := scanLog(db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open log: %w", err)
	}
	return log, nil
}

// CreateLog opens a new attendance log for the student. At most one open
// log may exist per student, enforced twice: a pre-check inside the
// transaction and a partial unique index for the race where two creators
// pass the pre-check together. Either way the loser gets the existing open
// log back with ErrOpenLogExists.
func (db *DB) CreateLog(ctx context.Context, studentID int64, subject string, entry time.Time) (*AttendanceLog, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			// already committed or rolled back
			_ = err
		}
	}()

	existing, err := scanLog(tx.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM attendance_logs WHERE student_id = ? AND exit_unix IS NULL LIMIT 1`,
		studentID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check open log: %w", err)
	}
	if err == nil {
		return existing, ErrOpenLogExists
	}

	var subjectArg any
	if subject != "" {
		subjectArg = subject
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_logs (student_id, subject, class_date_unix, entry_unix, exit_unix, present, presence_score)
		VALUES (?, ?, ?, ?, NULL, 0, 0)`,
		studentID, subjectArg, timeToUnix(entry), timeToUnix(entry))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// Lost the race against a concurrent creator.
			winner, ferr := db.FindOpenLog(ctx, studentID, time.Time{})
			if ferr != nil || winner == nil {
				return nil, fmt.Errorf("create log raced but winner not found: %w", err)
			}
			return winner, ErrOpenLogExists
		}
		return nil, fmt.Errorf("insert log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created, err := scanLog(tx.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM attendance_logs WHERE log_id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("read back created log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// CloseLog stamps the exit time, present flag and score on an open log.
// Closing an already-closed log returns ErrNoOpenLog.
func (db *DB) CloseLog(ctx context.Context, logID int64, exit time.Time, present bool, score float64) (*AttendanceLog, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE attendance_logs
		SET exit_unix = ?, present = ?, presence_score = ?, updated_at = UNIXEPOCH('subsec')
		WHERE log_id = ? AND exit_unix IS NULL`,
		timeToUnix(exit), present, score, logID)
	if err != nil {
		return nil, fmt.Errorf("close log %d: %w", logID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("close log %d: %w", logID, ErrNoOpenLog)
	}

	closed, err := scanLog(db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM attendance_logs WHERE log_id = ?`, logID))
	if err != nil {
		return nil, fmt.Errorf("read back closed log: %w", err)
	}
	return closed, nil
}

// Logs lists all attendance logs joined with student roll and name, newest
// entry first.
func (db *DB) Logs(ctx context.Context) ([]LogWithStudent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT l.log_id, l.student_id, l.subject, l.class_date_unix, l.entry_unix,
			l.exit_unix, l.present, l.presence_score,
			COALESCE(s.roll, ''), COALESCE(s.name, '')
		FROM attendance_logs l
		LEFT JOIN students s ON s.student_id = l.student_id
		ORDER BY l.entry_unix DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogWithStudent
	for rows.Next() {
		var (
			l         LogWithStudent
			subject   sql.NullString
			classDate float64
			entry     float64
			exit      sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.StudentID, &subject, &classDate, &entry, &exit,
			&l.Present, &l.Score, &l.StudentRoll, &l.StudentName); err != nil {
			return nil, err
		}
		if subject.Valid {
			l.Subject = &subject.String
		}
		l.ClassDate = unixToTime(classDate)
		l.Entry = unixToTime(entry)
		if exit.Valid {
			t := unixToTime(exit.Float64)
			l.Exit = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
