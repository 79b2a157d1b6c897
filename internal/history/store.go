package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  *time.Time
	Strategy    string
	Status      string
	BookingGUID *string
	Detail      *string
}

type Store struct{ db *DB }

func NewStore(d *DB) *Store { return &Store{db: d} }

func (s *Store) StartRun(ctx context.Context, id uuid.UUID, strategy string) error {
	return s.db.Exec(ctx, `INSERT INTO runs(id, strategy) VALUES ($1,$2)`, id, strategy)
}

func (s *Store) RecordAttempt(ctx context.Context, runID uuid.UUID, pass int, preferredAt time.Time, stage string, success bool, detail *string) error {
	return s.db.Exec(ctx, `
INSERT INTO run_attempts(run_id, pass, preferred_at, stage, success, detail)
VALUES ($1,$2,$3,$4,$5,$6)`,
		runID, pass, preferredAt, stage, success, detail)
}

func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status string, bookingGUID, detail *string) error {
	return s.db.Exec(ctx, `
UPDATE runs SET finished_at=now(), status=$2, booking_guid=$3, detail=$4 WHERE id=$1`,
		runID, status, bookingGUID, detail)
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, started_at, finished_at, strategy, status, booking_guid, detail
FROM runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Strategy, &r.Status, &r.BookingGUID, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
