package service

import (
	"context"

	"github.com/pesio-ai/be-shift-reviews/internal/client"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

// ReportStore is the report document store.
type ReportStore interface {
	Get(ctx context.Context, id string) (*repository.Report, error)
	Update(ctx context.Context, id string, cause repository.WriteCause, fn repository.MutateFunc) (*repository.Report, error)
	ListSubmitted(ctx context.Context, filter repository.ReviewQueueFilter) ([]*repository.Report, error)
}

// InboxStore persists inbox items and their summaries.
type InboxStore interface {
	Publish(ctx context.Context, item *repository.InboxItem) error
	Get(ctx context.Context, uid string) (*repository.Inbox, error)
	ListItems(ctx context.Context, uid string, limit int) ([]*repository.InboxItem, error)
	MarkRead(ctx context.Context, uid, itemID string) error
}

// MailQueue accepts outbound email for asynchronous delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, msg *repository.MailMessage) error
}

// UserStore is the profile store.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*repository.UserProfile, error)
	FindByEmail(ctx context.Context, email string) (*repository.UserProfile, error)
	ListApproverIDs(ctx context.Context) ([]string, error)
	ListActiveByRoles(ctx context.Context, roles []string, limit int) ([]*repository.UserProfile, error)
}

// AuthProvider looks up accounts in the authentication backend.
type AuthProvider interface {
	GetUser(ctx context.Context, uid string) (*client.AuthRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*client.AuthRecord, error)
}

// EventPublisher mirrors committed inbox items to the event stream.
type EventPublisher interface {
	PublishInboxEvent(ctx context.Context, eventType, messageID, reportID, actorID, recipient string, payload map[string]any)
}

// Actor is the signed-in caller of an operation.
type Actor struct {
	UID         string
	Email       string
	DisplayName string
	Role        string
}

// Name returns the label recorded for the actor on audit entries.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Email != "" {
		return a.Email
	}
	return a.UID
}
