package api

import (
	"net/http"

	"github.com/campusdata/presence/internal/httputil"
)

func (s *Server) showSweeperStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.sweeper.Status())
}

// triggerSweep requests an immediate sweep pass. Coalesced: a pending
// trigger absorbs this one.
func (s *Server) triggerSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.sweeper.TriggerSweep()
	httputil.WriteJSONOK(w, map[string]string{"status": "triggered"})
}
