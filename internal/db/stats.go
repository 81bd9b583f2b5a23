package db

import (
	"context"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StudentAttendancePercent is one row of the per-student dashboard: how many
// logs the student has and what fraction counted as present.
type StudentAttendancePercent struct {
	StudentID    int64   `json:"student_id"`
	Name         string  `json:"name"`
	TotalLogs    int64   `json:"total_logs"`
	PresentCount int64   `json:"present_count"`
	Percent      float64 `json:"percent"`
}

// AttendancePercents computes the present percentage per student over all of
// their logs. Students with no logs report zero percent.
func (db *DB) AttendancePercents(ctx context.Context) ([]StudentAttendancePercent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.student_id, s.name,
			COUNT(l.log_id) AS total,
			COALESCE(SUM(CASE WHEN l.present = 1 THEN 1 ELSE 0 END), 0) AS present_count
		FROM students s
		LEFT JOIN attendance_logs l ON l.student_id = s.student_id
		GROUP BY s.student_id
		ORDER BY s.student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StudentAttendancePercent
	for rows.Next() {
		var r StudentAttendancePercent
		if err := rows.Scan(&r.StudentID, &r.Name, &r.TotalLogs, &r.PresentCount); err != nil {
			return nil, err
		}
		if r.TotalLogs > 0 {
			r.Percent = math.Round(float64(r.PresentCount)/float64(r.TotalLogs)*100*100) / 100
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DashboardSummary is the headline dashboard figures.
type DashboardSummary struct {
	Students int64 `json:"students"`
	Todays   int64 `json:"todays"`
}

// Summary returns the total enrolled students and the count of distinct
// students marked present with an entry on the calendar day of now (UTC).
func (db *DB) Summary(ctx context.Context, now time.Time) (DashboardSummary, error) {
	var out DashboardSummary
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&out.Students); err != nil {
		return out, err
	}

	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT student_id)
		FROM attendance_logs
		WHERE present = 1 AND entry_unix >= ?`,
		timeToUnix(dayStart)).Scan(&out.Todays); err != nil {
		return out, err
	}
	return out, nil
}

// ScoreRollup summarises presence scores of closed logs over a trailing
// window of days.
type ScoreRollup struct {
	Days     int     `json:"days"`
	Count    int64   `json:"count"`
	MeanHrs  float64 `json:"mean_hours"`
	P50Score float64 `json:"p50_score"`
	P85Score float64 `json:"p85_score"`
	P98Score float64 `json:"p98_score"`
}

// ScoreRollup computes score percentiles over closed logs whose entry falls
// within the last days*24h before now.
func (db *DB) ScoreRollup(ctx context.Context, days int, now time.Time) (ScoreRollup, error) {
	out := ScoreRollup{Days: days}
	cutoff := timeToUnix(now.UTC().Add(-time.Duration(days) * 24 * time.Hour))

	rows, err := db.QueryContext(ctx, `
		SELECT presence_score
		FROM attendance_logs
		WHERE exit_unix IS NOT NULL AND entry_unix >= ?`,
		cutoff)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return out, err
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	out.Count = int64(len(scores))
	if len(scores) == 0 {
		return out, nil
	}

	sort.Float64s(scores)
	out.MeanHrs = stat.Mean(scores, nil)
	out.P50Score = stat.Quantile(0.50, stat.Empirical, scores, nil)
	out.P85Score = stat.Quantile(0.85, stat.Empirical, scores, nil)
	out.P98Score = stat.Quantile(0.98, stat.Empirical, scores, nil)
	return out, nil
}
