package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

// ReviewQueueEntry is one report awaiting the caller's review.
type ReviewQueueEntry struct {
	ReportID    string    `json:"reportId"`
	Status      string    `json:"status"`
	SiteName    string    `json:"siteName,omitempty"`
	ReportDate  string    `json:"reportDate,omitempty"`
	ShiftType   string    `json:"shiftType,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	Controllers []string  `json:"controllers,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// ReviewQueueService answers which reports a user must review.
type ReviewQueueService struct {
	reports ReportStore
	users   UserStore
	log     *logger.Logger
}

// NewReviewQueueService creates a new ReviewQueueService.
func NewReviewQueueService(reports ReportStore, users UserStore, log *logger.Logger) *ReviewQueueService {
	return &ReviewQueueService{reports: reports, users: users, log: log}
}

// ListPendingForReviewer returns submitted reports visible to actor. Managers
// see every submitted report; everyone else only those naming them as a
// controller. Reports the actor created are never returned.
func (s *ReviewQueueService) ListPendingForReviewer(ctx context.Context, actor Actor, limit int) ([]*ReviewQueueEntry, error) {
	if actor.UID == "" {
		return nil, errors.Unauthenticated("Sign in required.")
	}

	role := actor.Role
	if role == "" {
		profile, err := s.users.GetByID(ctx, actor.UID)
		switch {
		case err == nil:
			role = profile.Role
		case !errors.HasCode(err, errors.ErrCodeNotFound):
			s.log.Warn().Err(err).Str("uid", actor.UID).Msg("Failed to read caller role")
		}
	}

	filter := repository.ReviewQueueFilter{ExcludeCreatedBy: actor.UID, Limit: limit}
	if role != repository.RoleManager {
		filter.ControllerUID = actor.UID
	}

	reports, err := s.reports.ListSubmitted(ctx, filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(reports))
	entries := make([]*ReviewQueueEntry, 0, len(reports))
	for _, r := range reports {
		if seen[r.ID] || r.CreatedBy == actor.UID || r.Status != repository.StatusSubmitted {
			continue
		}
		seen[r.ID] = true
		entries = append(entries, newReviewQueueEntry(r))
	}

	s.log.Debug().
		Str("uid", actor.UID).
		Str("role", role).
		Int("count", len(entries)).
		Msg("Listed review queue")
	return entries, nil
}

func newReviewQueueEntry(r *repository.Report) *ReviewQueueEntry {
	e := &ReviewQueueEntry{
		ReportID:    r.ID,
		Status:      string(r.Status),
		SiteName:    r.SiteName,
		ReportDate:  r.ReportDate,
		ShiftType:   r.ShiftType,
		CreatedBy:   r.CreatedBy,
		SubmittedAt: r.Submitted.Server,
	}
	for _, c := range r.Controllers() {
		if c.Name != "" {
			e.Controllers = append(e.Controllers, c.Name)
		} else if c.UID != "" {
			e.Controllers = append(e.Controllers, c.UID)
		}
	}
	return e
}
