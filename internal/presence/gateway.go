package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusdata/presence/internal/monitoring"
	"github.com/campusdata/presence/internal/timeutil"
)

// ErrInvalidEvent marks a detection event rejected at ingest. It is the only
// error Ingest returns to the caller; reconciliation failures are logged and
// retried by the sweep instead.
var ErrInvalidEvent = errors.New("invalid detection event")

// DefaultCamera is used when an event does not name its source camera.
const DefaultCamera = "local"

// DetectionEvent is one observation that a subject was seen. Only its
// timestamp survives ingestion, inside the presence buffer.
type DetectionEvent struct {
	SubjectID  int64          `json:"subject_id"`
	Confidence float64        `json:"confidence"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Camera     string         `json:"camera_id,omitempty"`
	Liveness   *bool          `json:"liveness,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate rejects malformed events: missing subject id or a confidence
// outside [0,1].
func (e DetectionEvent) Validate() error {
	if e.SubjectID <= 0 {
		return fmt.Errorf("%w: missing subject id", ErrInvalidEvent)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g outside [0,1]", ErrInvalidEvent, e.Confidence)
	}
	return nil
}

// Ack acknowledges an accepted detection with its resolved timestamp.
type Ack struct {
	Accepted  bool      `json:"accepted"`
	EventID   string    `json:"event_id"`
	SubjectID int64     `json:"subject_id"`
	Timestamp time.Time `json:"ts"`
}

// Gateway is the synchronous fast path for incoming detections: buffer the
// timestamp, run an immediate arrival check so sessions open without waiting
// for the next sweep tick, and make sure the sweeper is running so the
// departure side is covered too.
type Gateway struct {
	buffer  *Buffer
	rec     *Reconciler
	sweeper *Sweeper
	clock   timeutil.Clock
}

// NewGateway wires the fast path to the shared buffer, reconciler and
// sweeper.
func NewGateway(buffer *Buffer, rec *Reconciler, sweeper *Sweeper, clock timeutil.Clock) *Gateway {
	return &Gateway{
		buffer:  buffer,
		rec:     rec,
		sweeper: sweeper,
		clock:   clock,
	}
}

// Ingest records one detection and opportunistically opens a session. It
// fails the caller only for malformed input; a store failure during the
// arrival check leaves the buffered evidence in place for the next sweep.
func (g *Gateway) Ingest(ctx context.Context, evt DetectionEvent) (Ack, error) {
	if err := evt.Validate(); err != nil {
		return Ack{}, err
	}

	ts := g.clock.Now().UTC()
	if evt.Timestamp != nil {
		ts = evt.Timestamp.UTC()
	}
	camera := evt.Camera
	if camera == "" {
		camera = DefaultCamera
	}
	key := Key{Camera: camera, SubjectID: evt.SubjectID}

	g.buffer.Record(key, ts)

	if _, err := g.rec.MaybeOpen(ctx, key, g.buffer.Snapshot(key), g.clock.Now().UTC()); err != nil {
		monitoring.Logf("presence ingest: arrival check %s: %v", key, err)
	}

	// Departure detection must run even if this is the first event the
	// process has seen. No-op when already running in either mode.
	g.sweeper.Start(nil)

	return Ack{
		Accepted:  true,
		EventID:   uuid.NewString(),
		SubjectID: evt.SubjectID,
		Timestamp: ts,
	}, nil
}
