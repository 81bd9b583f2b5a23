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
	// ErrDuplicateRoll reports that a student with the same roll exists.
	ErrDuplicateRoll = errors.New("student with this roll already exists")

	// ErrStudentNotFound reports a lookup miss.
	ErrStudentNotFound = errors.New("student not found")
)

// Student is one enrolled subject.
type Student struct {
	ID        int64     `json:"id"`
	Roll      string    `json:"roll"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func scanStudent(row rowScanner) (*Student, error) {
	var (
		s       Student
		email   sql.NullString
		created float64
	)
	if err := row.Scan(&s.ID, &s.Roll, &s.Name, &email, &created); err != nil {
		return nil, err
	}
	if email.Valid {
		s.Email = &email.String
	}
	s.CreatedAt = unixToTime(created)
	return &s, nil
}

const studentColumns = `student_id, roll, name, email, created_at`

// CreateStudent enrolls a new student. Rolls are unique.
func (db *DB) CreateStudent(ctx context.Context, roll, name string, email *string) (*Student, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO students (roll, name, email) VALUES (?, ?, ?)`,
		roll, name, email)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateRoll
		}
		return nil, fmt.Errorf("insert student: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.StudentByID(ctx, id)
}

// Students lists all enrolled students.
func (db *DB) Students(ctx context.Context) ([]Student, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students ORDER BY student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// StudentByID fetches one student, ErrStudentNotFound on a miss.
func (db *DB) StudentByID(ctx context.Context, id int64) (*Student, error) {
	s, err := scanStudent(db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE student_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find student %d: %w", id, err)
	}
	return s, nil
}
