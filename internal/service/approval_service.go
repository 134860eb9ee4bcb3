package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

// DecisionResult acknowledges a decision.
type DecisionResult struct {
	Message string `json:"message"`
}

// ApprovalService is the token-gated approval state machine.
type ApprovalService struct {
	reports ReportStore
	log     *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(reports ReportStore, log *logger.Logger) *ApprovalService {
	return &ApprovalService{reports: reports, log: log}
}

// AllRequiredApproved reports whether quorum is met. Reviewers marked not
// required, disabled or skipped are ignored. An empty required set is never
// approved.
func AllRequiredApproved(reviewers []repository.Reviewer) bool {
	required := 0
	for _, rv := range reviewers {
		if !rv.Required {
			continue
		}
		required++
		if !rv.HasApproved() {
			return false
		}
	}
	return required > 0
}

func validateDecision(reportID, tok, comment string, requireComment bool) (string, string, string, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return "", "", "", errors.InvalidInput("reportId", "A valid reportId is required.")
	}
	tok = token.Normalize(tok)
	if tok == "" {
		return "", "", "", errors.InvalidInput("token", "A valid token is required.")
	}
	comment = strings.TrimSpace(comment)
	if requireComment && comment == "" {
		return "", "", "", errors.InvalidInput("comment", "A rejection comment is required.")
	}
	return reportID, tok, comment, nil
}

// locateReviewer finds the reviewer holding tok. A token that was burned on
// this report is reported as used; anything else is indistinguishable from
// a wrong token.
func locateReviewer(r *repository.Report, tok, kind string) (int, error) {
	idx := r.FindReviewerByToken(tok)
	if idx < 0 {
		if r.FindReviewerBySpentToken(tok) >= 0 {
			return -1, errors.FailedPrecondition(fmt.Sprintf("This %s token has already been used.", kind))
		}
		return -1, errors.PermissionDenied(fmt.Sprintf("The provided %s token is invalid or has expired.", kind))
	}
	rv := r.Reviewers[idx]
	if rv.Token.Used || rv.Status.Decided() {
		return -1, errors.FailedPrecondition(fmt.Sprintf("This %s token has already been used.", kind))
	}
	if rv.UID != "" && rv.UID == r.CreatedBy {
		return -1, errors.PermissionDenied("Reviewers cannot decide on their own report.")
	}
	return idx, nil
}

func reviewerActor(rv repository.Reviewer) (id, name string) {
	id = rv.UID
	if id == "" {
		id = rv.Email
	}
	name = rv.Name
	if name == "" {
		name = rv.Email
	}
	return id, name
}

// burnAllTokens invalidates every reviewer token and clears the auxiliary
// token structures.
func burnAllTokens(r *repository.Report, now repository.Instant) {
	for i := range r.Reviewers {
		rv := &r.Reviewers[i]
		r.Tokens.PurgeAll(rv.Token.Values())
		if rv.Token.Live() {
			rv.Token = token.Invalidate(rv.Token, now.Server)
		}
	}
	r.Tokens.Clear()
}

// ApproveByToken records the approval of the reviewer holding tok and
// advances the report when quorum is reached.
func (s *ApprovalService) ApproveByToken(ctx context.Context, reportID, tok string) (*DecisionResult, error) {
	reportID, tok, _, err := validateDecision(reportID, tok, "", false)
	if err != nil {
		return nil, err
	}

	var reviewerIndex int
	report, err := s.reports.Update(ctx, reportID, repository.CauseReviewAction, func(r *repository.Report, now repository.Instant) error {
		if r.Status.Terminal() {
			return errors.FailedPrecondition(fmt.Sprintf("This report has already been %s.", r.Status))
		}

		idx, err := locateReviewer(r, tok, "approval")
		if err != nil {
			return err
		}
		reviewerIndex = idx

		rv := &r.Reviewers[idx]
		r.Tokens.PurgeAll(rv.Token.Values())
		rv.Token = token.Invalidate(rv.Token, now.Server)
		rv.Status = repository.ReviewerApproved
		rv.Approved = true
		rv.ApprovedAt = now.Server
		rv.Rejected = false
		rv.RejectedAt = time.Time{}
		rv.RejectionComment = ""

		approverID, approverName := reviewerActor(*rv)
		r.Approvals = append(r.Approvals, repository.ApprovalEvent{
			ApproverID:   approverID,
			ApproverName: approverName,
			Action:       repository.ActionApproved,
			Timestamp:    now.Server,
		})

		switch {
		case AllRequiredApproved(r.Reviewers):
			r.Status = repository.StatusApproved
			r.Approved = now.Stamp()
			burnAllTokens(r, now)
		case r.Status == repository.StatusSubmitted:
			r.Status = repository.StatusUnderReview
		}
		return nil
	})
	if err != nil {
		s.logRefusal(err, reportID, "approve")
		return nil, err
	}

	s.log.Info().
		Str("report_id", reportID).
		Int("reviewer_index", reviewerIndex).
		Str("status", string(report.Status)).
		Int64("version", report.Version).
		Msg("Reviewer approved report")

	return &DecisionResult{Message: "Report approved successfully."}, nil
}

// RejectByToken rejects the report on behalf of the reviewer holding tok.
// The whole review round ends: every token is burned and other reviewers
// return to pending.
func (s *ApprovalService) RejectByToken(ctx context.Context, reportID, tok, comment string) (*DecisionResult, error) {
	reportID, tok, comment, err := validateDecision(reportID, tok, comment, true)
	if err != nil {
		return nil, err
	}

	var reviewerIndex int
	report, err := s.reports.Update(ctx, reportID, repository.CauseReviewAction, func(r *repository.Report, now repository.Instant) error {
		switch r.Status {
		case repository.StatusApproved:
			return errors.FailedPrecondition("Approved reports can no longer be rejected.")
		case repository.StatusRejected:
			return errors.FailedPrecondition("This report has already been rejected.")
		}

		idx, err := locateReviewer(r, tok, "rejection")
		if err != nil {
			return err
		}
		reviewerIndex = idx

		// A rejection voids earlier approvals: every other reviewer goes
		// back to pending (full-rejection scenario).
		for i := range r.Reviewers {
			rv := &r.Reviewers[i]
			r.Tokens.PurgeAll(rv.Token.Values())
			rv.Token = token.Invalidate(rv.Token, now.Server)
			rv.Approved = false
			rv.ApprovedAt = time.Time{}
			if i == idx {
				rv.Status = repository.ReviewerRejected
				rv.Rejected = true
				rv.RejectedAt = now.Server
				rv.RejectionComment = comment
				continue
			}
			rv.Status = repository.ReviewerPending
			rv.Rejected = false
			rv.RejectedAt = time.Time{}
		}
		r.Tokens.Clear()

		approverID, approverName := reviewerActor(r.Reviewers[idx])
		r.Approvals = append(r.Approvals, repository.ApprovalEvent{
			ApproverID:   approverID,
			ApproverName: approverName,
			Action:       repository.ActionRejected,
			Comment:      comment,
			Timestamp:    now.Server,
		})

		r.Status = repository.StatusRejected
		r.RejectionReason = comment
		r.Rejected = now.Stamp()
		return nil
	})
	if err != nil {
		s.logRefusal(err, reportID, "reject")
		return nil, err
	}

	s.log.Info().
		Str("report_id", reportID).
		Int("reviewer_index", reviewerIndex).
		Int64("version", report.Version).
		Msg("Reviewer rejected report")

	return &DecisionResult{Message: "Report rejected successfully."}, nil
}

func (s *ApprovalService) logRefusal(err error, reportID, action string) {
	event := s.log.Warn()
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		event = s.log.Error()
	}
	event.Err(err).
		Str("report_id", reportID).
		Str("action", action).
		Str("code", string(errors.CodeOf(err))).
		Msg("Token decision refused")
}
