package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/campusdata/presence/internal/httputil"
	"github.com/campusdata/presence/internal/presence"
	"github.com/campusdata/presence/internal/version"
)

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestDetection(w, r)
	case http.MethodGet:
		s.showPresenceSnapshot(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// ingestDetection is the detection heartbeat endpoint: one call per
// face-match event. Reconciliation errors never surface here; only
// malformed events are rejected.
func (s *Server) ingestDetection(w http.ResponseWriter, r *http.Request) {
	var evt presence.DetectionEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	ack, err := s.gateway.Ingest(r.Context(), evt)
	if err != nil {
		if errors.Is(err, presence.ErrInvalidEvent) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, "failed to ingest detection")
		return
	}
	httputil.WriteJSONCreated(w, ack)
}

// showPresenceSnapshot dumps the raw buffer contents for debugging and
// monitoring. Keys render as "camera:subject", timestamps as RFC3339 in
// chronological order.
func (s *Server) showPresenceSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.buffer.SnapshotAll()
	out := make(map[string][]string, len(snapshot))
	for key, times := range snapshot {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		iso := make([]string, len(times))
		for i, t := range times {
			iso[i] = t.UTC().Format(time.RFC3339Nano)
		}
		out[key.String()] = iso
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
