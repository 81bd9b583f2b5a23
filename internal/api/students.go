package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/campusdata/presence/internal/db"
	"github.com/campusdata/presence/internal/httputil"
)

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createStudent(w, r)
	case http.MethodGet:
		s.listStudents(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type studentCreateRequest struct {
	Roll  string  `json:"roll"`
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) {
	var req studentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Roll == "" || req.Name == "" {
		httputil.BadRequest(w, "roll and name are required")
		return
	}

	student, err := s.db.CreateStudent(r.Context(), req.Roll, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateRoll) {
			httputil.BadRequest(w, "student with this roll exists")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to create student: %v", err))
		return
	}
	httputil.WriteJSONCreated(w, student)
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.db.Students(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list students: %v", err))
		return
	}
	if students == nil {
		students = []db.Student{}
	}
	httputil.WriteJSONOK(w, students)
}

func (s *Server) showStudent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/students/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid student id")
		return
	}

	student, err := s.db.StudentByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrStudentNotFound) {
			httputil.NotFound(w, "student not found")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to look up student: %v", err))
		return
	}
	httputil.WriteJSONOK(w, student)
}
