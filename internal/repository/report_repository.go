package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// ErrReportNotFound is returned when a report id does not resolve.
var ErrReportNotFound = errors.New(errors.ErrCodeNotFound, "Report not found.")

// ErrNoChange tells Update to commit nothing. The loaded report is returned.
var ErrNoChange = errors.New(errors.ErrCodeFailedPrecondition, "no change")

// MutateFunc changes a freshly locked report. Returning an error rolls back;
// returning ErrNoChange skips the write.
type MutateFunc func(r *Report, now Instant) error

// ReviewQueueFilter selects submitted reports.
type ReviewQueueFilter struct {
	// ControllerUID limits results to reports listing this uid in
	// controllerUids. Empty means no membership restriction.
	ControllerUID string
	// ExcludeCreatedBy drops reports authored by this uid.
	ExcludeCreatedBy string
	Limit            int
}

// ReportRepository stores shift reports as JSONB documents.
type ReportRepository struct {
	db *database.DB
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(db *database.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report document.
func (r *ReportRepository) Create(ctx context.Context, report *Report, cause WriteCause) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var now time.Time
		if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to read server time")
		}
		instant := NewInstant(now)
		if report.Created.IsZero() {
			report.Created = instant.Stamp()
		}
		report.Updated = instant.Stamp()
		if report.Version == 0 {
			report.Version = 1
		}

		data, err := EncodeReport(report)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO shift_reports (id, data, version, write_cause, submitted_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
		`
		_, err = tx.Exec(ctx, query, report.ID, data, report.Version, string(cause), nullTime(report.Submitted.Server), now)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create report")
		}
		return nil
	})
}

// Get loads a report outside any transaction.
func (r *ReportRepository) Get(ctx context.Context, id string) (*Report, error) {
	var (
		data    []byte
		version int64
	)
	err := r.db.QueryRow(ctx, `SELECT data, version FROM shift_reports WHERE id = $1`, id).Scan(&data, &version)
	if err == pgx.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get report")
	}
	return DecodeReport(id, data, version)
}

// Update locks the report row, applies fn and writes the result back with a
// bumped version and a fresh updatedAt stamp, all in one transaction.
func (r *ReportRepository) Update(ctx context.Context, id string, cause WriteCause, fn MutateFunc) (*Report, error) {
	var result *Report
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var (
			data    []byte
			version int64
			now     time.Time
		)
		query := `SELECT data, version, now() FROM shift_reports WHERE id = $1 FOR UPDATE`
		err := tx.QueryRow(ctx, query, id).Scan(&data, &version, &now)
		if err == pgx.ErrNoRows {
			return ErrReportNotFound
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load report")
		}

		report, err := DecodeReport(id, data, version)
		if err != nil {
			return err
		}

		instant := NewInstant(now)
		if err := fn(report, instant); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = report
				return nil
			}
			return err
		}

		report.Version = version + 1
		report.Updated = instant.Stamp()
		encoded, err := EncodeReport(report)
		if err != nil {
			return err
		}

		update := `
			UPDATE shift_reports
			SET data = $2, version = $3, write_cause = $4, submitted_at = $5, updated_at = $6
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, id, encoded, report.Version, string(cause), nullTime(report.Submitted.Server), now); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update report")
		}
		result = report
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListSubmitted returns submitted reports, newest submission first.
func (r *ReportRepository) ListSubmitted(ctx context.Context, filter ReviewQueueFilter) ([]*Report, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, data, version
		FROM shift_reports
		WHERE status = 'submitted'
		  AND ($1 = '' OR data->'controllerUids' ? $1)
		  AND ($2 = '' OR created_by IS DISTINCT FROM $2)
		ORDER BY submitted_at DESC NULLS LAST, id
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, filter.ControllerUID, filter.ExcludeCreatedBy, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list submitted reports")
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var (
			id      string
			data    []byte
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan report")
		}
		report, err := DecodeReport(id, data, version)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate reports")
	}
	return reports, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
