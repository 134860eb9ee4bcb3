package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-shift-reviews/internal/database"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// Inbox notification types.
const (
	InboxTypeReviewRequest  = "review_request"
	InboxTypeReviewDecision = "review_decision"
)

// InboxItem is one notification in a user's inbox.
type InboxItem struct {
	ID         string    `json:"id"`
	UID        string    `json:"-"`
	Type       string    `json:"type"`
	ReportID   string    `json:"reportId"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReportDate string    `json:"reportDate,omitempty"`
	SiteName   string    `json:"siteName,omitempty"`
	Unread     bool      `json:"unread"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Inbox is the per-user summary document.
type Inbox struct {
	UID                string    `json:"uid"`
	UnreadCount        int       `json:"unreadCount"`
	UpdatedAt          time.Time `json:"updatedAt"`
	UpdatedAtClientISO string    `json:"updatedAtClientIso,omitempty"`
}

// InboxRepository manages inbox summaries and their items.
type InboxRepository struct {
	db *database.DB
}

// NewInboxRepository creates a new InboxRepository.
func NewInboxRepository(db *database.DB) *InboxRepository {
	return &InboxRepository{db: db}
}

// Publish inserts an item and upserts the parent summary in one transaction.
// The unread counter only moves when the item is unread.
func (r *InboxRepository) Publish(ctx context.Context, item *InboxItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	increment := 0
	if item.Unread {
		increment = 1
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var now time.Time
		upsert := `
			INSERT INTO inboxes (uid, unread_count, updated_at, updated_at_client_iso)
			VALUES ($1, $2, now(), to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"'))
			ON CONFLICT (uid) DO UPDATE
			SET unread_count = inboxes.unread_count + EXCLUDED.unread_count,
			    updated_at = EXCLUDED.updated_at,
			    updated_at_client_iso = EXCLUDED.updated_at_client_iso
			RETURNING updated_at
		`
		if err := tx.QueryRow(ctx, upsert, item.UID, increment).Scan(&now); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert inbox")
		}

		insert := `
			INSERT INTO inbox_items
			    (id, uid, type, report_id, actor_id, actor_name, status,
			     title, body, report_date, site_name, unread, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
			        $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13)
		`
		_, err := tx.Exec(ctx, insert,
			item.ID, item.UID, item.Type, item.ReportID, item.ActorID, item.ActorName, item.Status,
			item.Title, item.Body, item.ReportDate, item.SiteName, item.Unread, now,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert inbox item")
		}
		item.CreatedAt = now
		return nil
	})
}

// Get returns the inbox summary. A user with no inbox gets an empty one.
func (r *InboxRepository) Get(ctx context.Context, uid string) (*Inbox, error) {
	inbox := &Inbox{UID: uid}
	var clientISO *string
	query := `SELECT unread_count, updated_at, updated_at_client_iso FROM inboxes WHERE uid = $1`
	err := r.db.QueryRow(ctx, query, uid).Scan(&inbox.UnreadCount, &inbox.UpdatedAt, &clientISO)
	if err == pgx.ErrNoRows {
		return inbox, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get inbox")
	}
	if clientISO != nil {
		inbox.UpdatedAtClientISO = *clientISO
	}
	return inbox, nil
}

// ListItems returns the newest items first.
func (r *InboxRepository) ListItems(ctx context.Context, uid string, limit int) ([]*InboxItem, error) {
	query := `
		SELECT id, uid, type, report_id, coalesce(actor_id, ''), coalesce(actor_name, ''),
		       coalesce(status, ''), title, body, coalesce(report_date, ''), coalesce(site_name, ''),
		       unread, created_at
		FROM inbox_items
		WHERE uid = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, uid, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list inbox items")
	}
	defer rows.Close()

	var items []*InboxItem
	for rows.Next() {
		var (
			item InboxItem
			id   uuid.UUID
		)
		err := rows.Scan(&id, &item.UID, &item.Type, &item.ReportID, &item.ActorID, &item.ActorName,
			&item.Status, &item.Title, &item.Body, &item.ReportDate, &item.SiteName,
			&item.Unread, &item.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan inbox item")
		}
		item.ID = id.String()
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate inbox items")
	}
	return items, nil
}

// MarkRead flips an item to read and decrements the counter in the same
// transaction. Marking an already-read item is a no-op.
func (r *InboxRepository) MarkRead(ctx context.Context, uid, itemID string) error {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return errors.NotFound("inbox item", itemID)
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var unread bool
		err := tx.QueryRow(ctx,
			`SELECT unread FROM inbox_items WHERE id = $1 AND uid = $2 FOR UPDATE`, id, uid,
		).Scan(&unread)
		if err == pgx.ErrNoRows {
			return errors.NotFound("inbox item", itemID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load inbox item")
		}
		if !unread {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE inbox_items SET unread = false WHERE id = $1`, id); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark inbox item read")
		}
		decrement := `
			UPDATE inboxes
			SET unread_count = GREATEST(unread_count - 1, 0), updated_at = now()
			WHERE uid = $1
		`
		if _, err := tx.Exec(ctx, decrement, uid); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update inbox counter")
		}
		return nil
	})
}
