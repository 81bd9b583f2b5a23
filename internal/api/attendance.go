package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/campusdata/presence/internal/db"
	"github.com/campusdata/presence/internal/httputil"
	"github.com/campusdata/presence/internal/presence"
)

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	logs, err := s.db.Logs(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list logs: %v", err))
		return
	}
	if logs == nil {
		logs = []db.LogWithStudent{}
	}
	httputil.WriteJSONOK(w, logs)
}

type markInRequest struct {
	StudentID int64  `json:"student_id"`
	Subject   string `json:"subject,omitempty"`
}

// markIn manually opens an attendance log, e.g. from a front-desk kiosk.
// Idempotent: a second mark-in while a log is open returns the open log.
func (s *Server) markIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req markInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.StudentID <= 0 {
		httputil.BadRequest(w, "missing student id")
		return
	}

	if _, err := s.db.StudentByID(r.Context(), req.StudentID); err != nil {
		if errors.Is(err, db.ErrStudentNotFound) {
			httputil.NotFound(w, "student not found")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to look up student: %v", err))
		return
	}

	log, err := s.db.CreateLog(r.Context(), req.StudentID, req.Subject, s.clock.Now().UTC())
	if errors.Is(err, db.ErrOpenLogExists) {
		httputil.WriteJSONOK(w, log)
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to mark in: %v", err))
		return
	}
	httputil.WriteJSONCreated(w, log)
}

type markOutRequest struct {
	StudentID int64 `json:"student_id"`
}

// markOut manually closes the student's open log using the same scoring
// rule as the reconciler's departure decision.
func (s *Server) markOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req markOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.StudentID <= 0 {
		httputil.BadRequest(w, "missing student id")
		return
	}

	open, err := s.db.FindOpenLog(r.Context(), req.StudentID, time.Time{})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to find open log: %v", err))
		return
	}
	if open == nil {
		httputil.NotFound(w, "no active session found")
		return
	}

	exit := s.clock.Now().UTC()
	score, present := presence.ScoreSession(exit.Sub(open.Entry), s.cfg.GetPresentMin())
	closed, err := s.db.CloseLog(r.Context(), open.ID, exit, present, score)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to mark out: %v", err))
		return
	}
	httputil.WriteJSONOK(w, closed)
}
