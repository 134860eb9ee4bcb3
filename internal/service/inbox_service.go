package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

const defaultInboxLimit = 50

// InboxView is a user's inbox summary with its newest items.
type InboxView struct {
	UnreadCount int                     `json:"unreadCount"`
	Items       []*repository.InboxItem `json:"items"`
}

// InboxService reads and acknowledges inbox notifications.
type InboxService struct {
	inbox InboxStore
	log   *logger.Logger
}

// NewInboxService creates a new InboxService.
func NewInboxService(inbox InboxStore, log *logger.Logger) *InboxService {
	return &InboxService{inbox: inbox, log: log}
}

// ListInbox returns the caller's unread count and newest items.
func (s *InboxService) ListInbox(ctx context.Context, actor Actor, limit int) (*InboxView, error) {
	if err := requireCaller(actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	summary, err := s.inbox.Get(ctx, actor.UID)
	if err != nil {
		return nil, err
	}
	items, err := s.inbox.ListItems(ctx, actor.UID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*repository.InboxItem{}
	}
	return &InboxView{UnreadCount: summary.UnreadCount, Items: items}, nil
}

// MarkInboxItemRead marks one of the caller's items read.
func (s *InboxService) MarkInboxItemRead(ctx context.Context, actor Actor, itemID string) error {
	if err := requireCaller(actor); err != nil {
		return err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return errors.InvalidInput("itemId", "A valid itemId is required.")
	}
	if err := s.inbox.MarkRead(ctx, actor.UID, itemID); err != nil {
		if !errors.HasCode(err, errors.ErrCodeNotFound) {
			s.log.Error().Err(err).Str("uid", actor.UID).Str("item_id", itemID).Msg("Failed to mark inbox item read")
		}
		return err
	}
	return nil
}
