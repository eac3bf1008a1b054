package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Mode        string    `json:"mode"`
	Processed   int       `json:"processed"`
	Successful  int       `json:"successful"`
	TotalOffers int       `json:"totalOffers"`
	NewOffers   int       `json:"newOffers"`
	Interrupted bool      `json:"interrupted"`
	Error       string    `json:"error,omitempty"`
}

// Record inserts one finished run. The caller supplies everything except
// the id, which is generated here.
func (d *DB) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	interrupted := 0
	if r.Interrupted {
		interrupted = 1
	}
	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO runs(id, started_at, finished_at, mode, processed, successful, total_offers, new_offers, interrupted, error)
VALUES(?,?,?,?,?,?,?,?,?,?);`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.FinishedAt.UTC().Format(time.RFC3339),
		r.Mode, r.Processed, r.Successful, r.TotalOffers, r.NewOffers,
		interrupted, r.Error,
	)
	return r.ID, err
}

// Recent returns the latest runs, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT id, started_at, finished_at, mode, processed, successful, total_offers, new_offers, interrupted, error
FROM runs
ORDER BY started_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			interrupted       int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Mode,
			&r.Processed, &r.Successful, &r.TotalOffers, &r.NewOffers,
			&interrupted, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		r.Interrupted = interrupted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
