package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder adapts the Store to the engine's recording hook. Journal
// failures are logged and dropped; recording must never affect the
// run itself.
type Recorder struct {
	store *Store
	runID uuid.UUID
	log   zerolog.Logger
}

func NewRecorder(store *Store, runID uuid.UUID, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, runID: runID, log: log}
}

func (r *Recorder) Attempt(ctx context.Context, pass int, want time.Time, stage string, err error) {
	var detail *string
	if err != nil {
		msg := err.Error()
		detail = &msg
	}
	if dberr := r.store.RecordAttempt(ctx, r.runID, pass, want, stage, err == nil, detail); dberr != nil {
		r.log.Warn().Err(dberr).Msg("journal attempt write failed")
	}
}

func (r *Recorder) PassDone(ctx context.Context, pass int, bookingGUID string) {
	detail := bookingGUID
	if dberr := r.store.RecordAttempt(ctx, r.runID, pass, time.Now().UTC(), "pass", true, &detail); dberr != nil {
		r.log.Warn().Err(dberr).Msg("journal pass write failed")
	}
}
