package service

import (
	"context"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

const publishConcurrency = 8

// ReviewerSource yields the uids that receive a review request.
type ReviewerSource interface {
	Recipients(ctx context.Context, users UserStore) ([]string, error)
}

// ExplicitReviewers are the reviewer uids named on the report.
type ExplicitReviewers []string

func (e ExplicitReviewers) Recipients(context.Context, UserStore) ([]string, error) {
	return dedupe(e), nil
}

// RoleFallbackReviewers is every user holding the approve permission except
// the submitter.
type RoleFallbackReviewers struct {
	Exclude string
}

func (f RoleFallbackReviewers) Recipients(ctx context.Context, users UserStore) ([]string, error) {
	ids, err := users.ListApproverIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && id != f.Exclude {
			out = append(out, id)
		}
	}
	return dedupe(out), nil
}

// ReviewerSourceFor picks the reviewer source of a report: the reviewers it
// names by uid, or the approver role when it names none.
func ReviewerSourceFor(r *repository.Report) ReviewerSource {
	var explicit ExplicitReviewers
	for _, rv := range r.Reviewers {
		if uid := strings.TrimSpace(rv.UID); uid != "" {
			explicit = append(explicit, uid)
		}
	}
	if len(explicit) > 0 {
		return explicit
	}
	return RoleFallbackReviewers{Exclude: r.Submitter()}
}

// NotificationService publishes inbox notifications for report status
// transitions.
type NotificationService struct {
	users  UserStore
	inbox  InboxStore
	events EventPublisher
	log    *logger.Logger
}

// NewNotificationService creates a new NotificationService. events may be
// nil.
func NewNotificationService(users UserStore, inbox InboxStore, events EventPublisher, log *logger.Logger) *NotificationService {
	return &NotificationService{users: users, inbox: inbox, events: events, log: log}
}

// HandleChange publishes the notifications a recorded write calls for.
// Inserts never notify.
func (s *NotificationService) HandleChange(ctx context.Context, change *repository.Change, ids *IdentityResolver) error {
	before, after, created := change.StatusTransition()
	if created || before == after {
		return nil
	}
	switch {
	case after == repository.StatusUnderReview:
		_, err := s.NotifyReviewRequest(ctx, change.After, ids)
		return err
	case after.Terminal():
		_, err := s.NotifyDecision(ctx, change.Before, change.After, ids)
		return err
	}
	return nil
}

// NotifyReviewRequest tells every reviewer that a report awaits their
// decision. It returns the number of notifications published.
func (s *NotificationService) NotifyReviewRequest(ctx context.Context, report *repository.Report, ids *IdentityResolver) (int, error) {
	targets, err := ReviewerSourceFor(report).Recipients(ctx, s.users)
	if err != nil {
		s.log.Error().Err(err).Str("report_id", report.ID).Msg("Failed to resolve review recipients")
		return 0, err
	}
	if len(targets) == 0 {
		s.log.Info().Str("report_id", report.ID).Msg("No recipients for review request")
		return 0, nil
	}

	actorID := report.Submitter()
	actorName := "Controller"
	if report.Controller1 != nil && report.Controller1.Name != "" {
		actorName = report.Controller1.Name
	}
	if actorID == "" {
		actorID = "system"
	} else if id := ids.ByUID(ctx, actorID); id != nil {
		actorID = id.UID
		actorName = id.DisplayName
	}

	template := repository.InboxItem{
		Type:       repository.InboxTypeReviewRequest,
		ReportID:   report.ID,
		ActorID:    actorID,
		ActorName:  actorName,
		Status:     string(repository.StatusUnderReview),
		Title:      "Review requested",
		Body:       "A shift report requires your approval.",
		Unread:     true,
		ReportDate: report.ReportDate,
		SiteName:   report.SiteName,
	}
	return s.fanOut(ctx, targets, template, ids), nil
}

// NotifyDecision tells the report's controllers that it was approved or
// rejected.
func (s *NotificationService) NotifyDecision(ctx context.Context, before, after *repository.Report, ids *IdentityResolver) (int, error) {
	actorID, actorName := s.decisionActor(ctx, before, after, ids)

	recipients := after.ControllerRecipients()
	if len(recipients) == 0 {
		switch {
		case after.SubmittedBy != "":
			recipients = []string{after.SubmittedBy}
		case after.CreatedBy != "":
			recipients = []string{after.CreatedBy}
		default:
			s.log.Warn().Str("report_id", after.ID).Msg("No recipients for review decision")
			return 0, nil
		}
	}

	verb, title := "approved", "Report approved"
	if after.Status == repository.StatusRejected {
		verb, title = "rejected", "Report rejected"
	}

	template := repository.InboxItem{
		Type:       repository.InboxTypeReviewDecision,
		ReportID:   after.ID,
		ActorID:    actorID,
		ActorName:  actorName,
		Status:     string(after.Status),
		Title:      title,
		Body:       actorName + " " + verb + " your report for " + BuildShiftSummary(after.ReportDate, after.SiteName) + ".",
		Unread:     true,
		ReportDate: after.ReportDate,
		SiteName:   after.SiteName,
	}
	return s.fanOut(ctx, recipients, template, ids), nil
}

// decisionActor works out who made a decision: approvedBy, then the latest
// approval event, then the reviewer whose status changed to the report's.
func (s *NotificationService) decisionActor(ctx context.Context, before, after *repository.Report, ids *IdentityResolver) (id, name string) {
	actorRef := after.ApprovedBy
	if actorRef == "" {
		if ev, ok := after.LastApproval(); ok {
			actorRef = ev.ApproverID
			name = ev.ApproverName
		}
	}

	if actorRef == "" && before != nil {
		for i, rv := range after.Reviewers {
			if string(rv.Status) != string(after.Status) {
				continue
			}
			if i < len(before.Reviewers) && before.Reviewers[i].Status == rv.Status {
				continue
			}
			actorRef = rv.Email
			if name == "" {
				name = rv.Name
			}
			break
		}
	}

	id = "system"
	if actorRef != "" {
		id = actorRef
		if identity := ids.Resolve(ctx, actorRef); identity != nil {
			id = identity.UID
			if name == "" {
				name = identity.DisplayName
			}
		}
		if name == "" {
			name = actorRef
		}
	}
	if name == "" {
		name = "Review Team"
	}
	return id, name
}

// fanOut publishes one copy of template per resolvable recipient. Failures
// are logged per recipient and never returned.
func (s *NotificationService) fanOut(ctx context.Context, uids []string, template repository.InboxItem, ids *IdentityResolver) int {
	var (
		g         errgroup.Group
		published atomic.Int64
	)
	g.SetLimit(publishConcurrency)

	for _, uid := range dedupe(uids) {
		g.Go(func() error {
			identity := ids.ByUID(ctx, uid)
			if identity == nil {
				return nil
			}
			item := template
			item.ID = ""
			item.UID = identity.UID
			if err := s.inbox.Publish(ctx, &item); err != nil {
				s.log.Warn().Err(err).
					Str("report_id", item.ReportID).
					Str("recipient", item.UID).
					Str("type", item.Type).
					Msg("Failed to publish inbox notification")
				return nil
			}
			published.Add(1)
			if s.events != nil {
				s.events.PublishInboxEvent(ctx, item.Type, item.ID, item.ReportID, item.ActorID, item.UID, map[string]any{
					"title":  item.Title,
					"body":   item.Body,
					"status": item.Status,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(published.Load())
	s.log.Info().
		Str("report_id", template.ReportID).
		Str("type", template.Type).
		Int("recipients", len(uids)).
		Int("published", n).
		Msg("Published inbox notifications")
	return n
}

// BuildShiftSummary renders "site on date" with whichever parts are known.
func BuildShiftSummary(reportDate, siteName string) string {
	site := strings.TrimSpace(siteName)
	date := ""
	if d := FormatShiftDate(reportDate); d != "this shift" {
		date = d
	}
	switch {
	case site != "" && date != "":
		return site + " on " + date
	case site != "":
		return site
	case date != "":
		return date
	}
	return "this shift"
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
