package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

// Decision actions accepted by DecideAsApprover.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ReportStatus is the outcome of a lifecycle operation.
type ReportStatus struct {
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

// ReportService handles the signed-in lifecycle operations of a report.
type ReportService struct {
	reports ReportStore
	users   UserStore
	log     *logger.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(reports ReportStore, users UserStore, log *logger.Logger) *ReportService {
	return &ReportService{reports: reports, users: users, log: log}
}

// ── Submission ──

// SubmitReport moves a draft to submitted.
func (s *ReportService) SubmitReport(ctx context.Context, reportID string, actor Actor) (*ReportStatus, error) {
	if err := requireCaller(actor); err != nil {
		return nil, err
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, errors.InvalidInput("reportId", "A valid reportId is required.")
	}

	report, err := s.reports.Update(ctx, reportID, repository.CauseSubmission, func(r *repository.Report, now repository.Instant) error {
		if r.CreatedBy != actor.UID {
			return errors.PermissionDenied("Only the report owner can submit this report.")
		}
		if r.Status != repository.StatusDraft {
			return errors.FailedPrecondition("Only draft reports can be submitted.")
		}
		return markSubmitted(r, actor, now)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("report_id", reportID).Str("uid", actor.UID).Msg("Report submission refused")
		return nil, err
	}

	s.log.Info().
		Str("report_id", reportID).
		Str("submitted_by", actor.UID).
		Int64("version", report.Version).
		Msg("Report submitted")
	return statusOf(report), nil
}

// RequestReview moves a draft or submitted report into review, which issues
// reviewer tokens and notifies the reviewers.
func (s *ReportService) RequestReview(ctx context.Context, reportID string, actor Actor) (*ReportStatus, error) {
	if err := requireCaller(actor); err != nil {
		return nil, err
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, errors.InvalidInput("reportId", "A valid reportId is required.")
	}

	report, err := s.reports.Update(ctx, reportID, repository.CauseSubmission, func(r *repository.Report, now repository.Instant) error {
		if r.CreatedBy != actor.UID {
			return errors.PermissionDenied("Only the report owner can request a review.")
		}
		switch r.Status {
		case repository.StatusDraft:
			if err := markSubmitted(r, actor, now); err != nil {
				return err
			}
		case repository.StatusSubmitted:
		default:
			return errors.FailedPrecondition("Only draft or submitted reports can be sent for review.")
		}
		r.Status = repository.StatusUnderReview
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("report_id", reportID).Str("uid", actor.UID).Msg("Review request refused")
		return nil, err
	}

	s.log.Info().
		Str("report_id", reportID).
		Str("requested_by", actor.UID).
		Int64("version", report.Version).
		Msg("Report sent for review")
	return statusOf(report), nil
}

func markSubmitted(r *repository.Report, actor Actor, now repository.Instant) error {
	if err := validateControllers(r); err != nil {
		return err
	}
	if len(r.ControllerUIDs) == 0 {
		r.ControllerUIDs = r.ControllerRecipients()
	}
	r.Status = repository.StatusSubmitted
	r.SubmittedBy = actor.UID
	r.Submitted = now.Stamp()
	return nil
}

// validateControllers requires two distinct on-duty controllers.
func validateControllers(r *repository.Report) error {
	invalid := errors.InvalidInput("controllers", "Reports must list two different on-duty controllers before submission")

	c1, c2 := r.Controller1, r.Controller2
	if c1 == nil || c2 == nil || c1.UID == "" || c2.UID == "" {
		return invalid
	}
	if strings.EqualFold(c1.UID, c2.UID) {
		return invalid
	}

	seen := make(map[string]bool, len(r.ControllerUIDs))
	for _, uid := range r.ControllerUIDs {
		key := strings.ToLower(strings.TrimSpace(uid))
		if key == "" {
			continue
		}
		if seen[key] {
			return invalid
		}
		seen[key] = true
	}
	return nil
}

// ── Signed-in decisions ──

// DecideAsApprover lets a signed-in approver decide a report directly,
// without a reviewer token.
func (s *ReportService) DecideAsApprover(ctx context.Context, reportID string, actor Actor, action, comment string) (*DecisionResult, error) {
	if err := requireCaller(actor); err != nil {
		return nil, err
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, errors.InvalidInput("reportId", "A valid reportId is required.")
	}
	action = strings.ToLower(strings.TrimSpace(action))
	if action != DecisionApprove && action != DecisionReject {
		return nil, errors.InvalidInput("action", "Action must be approve or reject.")
	}
	comment = strings.TrimSpace(comment)
	if action == DecisionReject && comment == "" {
		return nil, errors.InvalidInput("comment", "Rejection comment is required")
	}

	verb, past := "approve", "approved"
	if action == DecisionReject {
		verb, past = "reject", "rejected"
	}
	if !s.canApprove(ctx, actor) {
		return nil, errors.PermissionDenied("User does not have permission to " + verb + " reports")
	}

	report, err := s.reports.Update(ctx, reportID, repository.CauseManagerDecision, func(r *repository.Report, now repository.Instant) error {
		if r.Status != repository.StatusSubmitted && r.Status != repository.StatusUnderReview {
			return errors.FailedPrecondition("Only submitted reports can be " + past)
		}
		if r.CreatedBy == actor.UID {
			return errors.PermissionDenied("You cannot " + verb + " your own report")
		}

		event := repository.ApprovalEvent{
			ApproverID:   actor.UID,
			ApproverName: actor.Name(),
			Comment:      comment,
			Timestamp:    now.Server,
		}
		idx := reviewerFor(r, actor)

		if action == DecisionApprove {
			if idx >= 0 {
				rv := &r.Reviewers[idx]
				rv.Status = repository.ReviewerApproved
				rv.Approved = true
				rv.ApprovedAt = now.Server
			}
			event.Action = repository.ActionApproved
			r.Status = repository.StatusApproved
			r.ApprovedBy = actor.UID
			r.Approved = now.Stamp()
		} else {
			if idx >= 0 {
				rv := &r.Reviewers[idx]
				rv.Status = repository.ReviewerRejected
				rv.Rejected = true
				rv.RejectedAt = now.Server
				rv.RejectionComment = comment
			}
			event.Action = repository.ActionRejected
			r.Status = repository.StatusRejected
			r.RejectionReason = comment
			r.Rejected = now.Stamp()
		}
		r.Approvals = append(r.Approvals, event)
		burnAllTokens(r, now)
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("report_id", reportID).Str("uid", actor.UID).Str("action", action).Msg("Approver decision refused")
		return nil, err
	}

	s.log.Info().
		Str("report_id", reportID).
		Str("decided_by", actor.UID).
		Str("status", string(report.Status)).
		Int64("version", report.Version).
		Msg("Approver decided report")

	if action == DecisionApprove {
		return &DecisionResult{Message: "Report approved successfully."}, nil
	}
	return &DecisionResult{Message: "Report rejected successfully."}, nil
}

func (s *ReportService) canApprove(ctx context.Context, actor Actor) bool {
	if actor.Role == repository.RoleManager {
		return true
	}
	profile, err := s.users.GetByID(ctx, actor.UID)
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeNotFound) {
			s.log.Warn().Err(err).Str("uid", actor.UID).Msg("Failed to read approver profile")
		}
		return false
	}
	return profile.Role == repository.RoleManager || profile.CanApprove()
}

// reviewerFor returns the index of the reviewer entry naming actor, or -1.
func reviewerFor(r *repository.Report, actor Actor) int {
	email := strings.ToLower(strings.TrimSpace(actor.Email))
	for i, rv := range r.Reviewers {
		if rv.UID != "" && rv.UID == actor.UID {
			return i
		}
		if email != "" && rv.Email == email {
			return i
		}
	}
	return -1
}

func requireCaller(actor Actor) error {
	if actor.UID == "" {
		return errors.Unauthenticated("Sign in required.")
	}
	return nil
}

func statusOf(r *repository.Report) *ReportStatus {
	return &ReportStatus{ReportID: r.ID, Status: string(r.Status), Version: r.Version}
}
