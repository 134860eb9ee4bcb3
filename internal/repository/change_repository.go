package repository

import (
	"context"
	"sort"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// ChangeChannel is the NOTIFY channel raised for every recorded change.
const ChangeChannel = "shift_report_changes"

// Change is one recorded report write with its before and after images.
type Change struct {
	ID       int64
	ReportID string
	Cause    WriteCause
	// Before is nil for inserts.
	Before   *Report
	After    *Report
	Attempts int
}

// StatusTransition returns the normalised before and after statuses.
func (c *Change) StatusTransition() (before, after Status, created bool) {
	if c.Before == nil {
		return "", c.After.Status, true
	}
	return c.Before.Status, c.After.Status, false
}

// ChangeRepository reads and settles rows of the report change log.
type ChangeRepository struct {
	db *database.DB
}

// NewChangeRepository creates a new ChangeRepository.
func NewChangeRepository(db *database.DB) *ChangeRepository {
	return &ChangeRepository{db: db}
}

// Claim leases up to limit unprocessed changes, oldest first. A lease that
// runs out without the change being settled makes it claimable again.
func (r *ChangeRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]*Change, error) {
	query := `
		WITH next AS (
			SELECT id
			FROM shift_report_changes
			WHERE processed_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE shift_report_changes c
		SET claimed_until = now() + make_interval(secs => $2),
		    attempts = c.attempts + 1
		FROM next
		WHERE c.id = next.id
		RETURNING c.id, c.report_id, c.cause, c.before, c.after, c.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to claim report changes")
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		var (
			c      Change
			cause  string
			before []byte
			after  []byte
		)
		if err := rows.Scan(&c.ID, &c.ReportID, &cause, &before, &after, &c.Attempts); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan report change")
		}
		c.Cause = WriteCause(cause)
		if before != nil {
			if c.Before, err = DecodeReport(c.ReportID, before, 0); err != nil {
				return nil, err
			}
		}
		if c.After, err = DecodeReport(c.ReportID, after, 0); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate report changes")
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes, nil
}

// MarkProcessed settles a change. A non-empty lastError is kept for
// inspection.
func (r *ChangeRepository) MarkProcessed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE shift_report_changes
		SET processed_at = now(), claimed_until = NULL, last_error = NULLIF($2, '')
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, lastError); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark change processed")
	}
	return nil
}

// Release returns a change to the queue so another claim retries it.
func (r *ChangeRepository) Release(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE shift_report_changes
		SET claimed_until = NULL, last_error = NULLIF($2, '')
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, lastError); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to release change")
	}
	return nil
}
