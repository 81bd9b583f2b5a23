package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/campusdata/presence/internal/config"
	"github.com/campusdata/presence/internal/db"
	"github.com/campusdata/presence/internal/presence"
	"github.com/campusdata/presence/internal/timeutil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server mounts the JSON API over the attendance database and the presence
// engine.
type Server struct {
	db      *db.DB
	gateway *presence.Gateway
	buffer  *presence.Buffer
	sweeper *presence.Sweeper
	cfg     *config.PresenceConfig
	clock   timeutil.Clock
}

// NewServer builds the API server from its collaborators.
func NewServer(database *db.DB, gateway *presence.Gateway, buffer *presence.Buffer,
	sweeper *presence.Sweeper, cfg *config.PresenceConfig, clock timeutil.Clock) *Server {
	return &Server{
		db:      database,
		gateway: gateway,
		buffer:  buffer,
		sweeper: sweeper,
		cfg:     cfg,
		clock:   clock,
	}
}

// ServeMux returns the API routes, intended to be mounted under /api.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/presence", s.handlePresence)
	mux.HandleFunc("/attendance/logs", s.listLogs)
	mux.HandleFunc("/attendance/mark-in", s.markIn)
	mux.HandleFunc("/attendance/mark-out", s.markOut)
	mux.HandleFunc("/students", s.handleStudents)
	mux.HandleFunc("/students/", s.showStudent)
	mux.HandleFunc("/dashboard/summary", s.showSummary)
	mux.HandleFunc("/dashboard/attendance-percent", s.showAttendancePercents)
	mux.HandleFunc("/dashboard/alerts", s.showAlerts)
	mux.HandleFunc("/dashboard/score-rollup", s.showScoreRollup)
	mux.HandleFunc("/sweeper/status", s.showSweeperStatus)
	mux.HandleFunc("/sweeper/sweep", s.triggerSweep)
	mux.HandleFunc("/health", s.showHealth)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
