package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/campusdata/presence/internal/db"
	"github.com/campusdata/presence/internal/httputil"
)

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	summary, err := s.db.Summary(r.Context(), s.clock.Now())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute summary: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) showAttendancePercents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rows, err := s.db.AttendancePercents(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute attendance percents: %v", err))
		return
	}
	if rows == nil {
		rows = []db.StudentAttendancePercent{}
	}
	httputil.WriteJSONOK(w, rows)
}

// showAlerts lists students whose attendance percent falls below the
// configured threshold.
func (s *Server) showAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rows, err := s.db.AttendancePercents(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute attendance percents: %v", err))
		return
	}

	threshold := s.cfg.GetAlertThresholdPercent()
	low := []db.StudentAttendancePercent{}
	for _, row := range rows {
		if row.Percent < threshold {
			low = append(low, row)
		}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"threshold": threshold,
		"alerts":    low,
	})
}

func (s *Server) showScoreRollup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'days' parameter")
			return
		}
		days = parsed
	}

	rollup, err := s.db.ScoreRollup(r.Context(), days, s.clock.Now())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute rollup: %v", err))
		return
	}
	httputil.WriteJSONOK(w, rollup)
}
