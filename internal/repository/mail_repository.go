package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// MailMessage is a queued outbound email. Delivery is done by a separate
// worker reading the mail table.
type MailMessage struct {
	ID        string
	To        []string
	Subject   string
	HTML      string
	Text      string
	ReportID  string
	CreatedAt time.Time
}

// MailRepository appends to the outbound mail queue.
type MailRepository struct {
	db *database.DB
}

// NewMailRepository creates a new MailRepository.
func NewMailRepository(db *database.DB) *MailRepository {
	return &MailRepository{db: db}
}

// Enqueue stores one message for delivery.
func (r *MailRepository) Enqueue(ctx context.Context, msg *MailMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	query := `
		INSERT INTO mail (id, recipients, subject, html, text, report_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, msg.ID, msg.To, msg.Subject, msg.HTML, msg.Text, msg.ReportID).
		Scan(&msg.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to enqueue mail")
	}
	return nil
}
