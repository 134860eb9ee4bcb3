package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

// TokenIssuerConfig holds the values embedded in review emails.
type TokenIssuerConfig struct {
	ApprovalURL string
	SenderName  string
}

// TokenIssuer mints reviewer tokens when a report enters review and queues
// the review request emails.
type TokenIssuer struct {
	reports ReportStore
	mail    MailQueue
	cfg     TokenIssuerConfig
	log     *logger.Logger
}

// NewTokenIssuer creates a new TokenIssuer.
func NewTokenIssuer(reports ReportStore, mail MailQueue, cfg TokenIssuerConfig, log *logger.Logger) *TokenIssuer {
	return &TokenIssuer{reports: reports, mail: mail, cfg: cfg, log: log}
}

type pendingReviewEmail struct {
	email string
	name  string
	link  string
}

// ApprovalLink builds the link a reviewer follows to decide.
func ApprovalLink(base, reportID, tok string) string {
	return fmt.Sprintf("%s?reportId=%s&token=%s", base, url.QueryEscape(reportID), url.QueryEscape(tok))
}

// HandleChange issues tokens for a write that moved the report into
// under_review. Transitions made by the approval state machine itself never
// issue tokens.
func (s *TokenIssuer) HandleChange(ctx context.Context, change *repository.Change) error {
	before, after, _ := change.StatusTransition()
	if after != repository.StatusUnderReview || before == repository.StatusUnderReview {
		return nil
	}
	if change.Cause == repository.CauseReviewAction {
		s.log.Debug().
			Str("report_id", change.ReportID).
			Int64("change_id", change.ID).
			Msg("Skipping token issuance for review action")
		return nil
	}
	_, err := s.IssueTokens(ctx, change.ReportID, change.ID)
	return err
}

// IssueTokens re-reads the report and, while it is still under review, gives
// every reviewer with an email a fresh token. It returns the number of
// review emails queued.
//
// changeID names the change log entry being handled. A change that already
// issued tokens for the report is a redelivery and issues nothing; zero
// disables the check.
func (s *TokenIssuer) IssueTokens(ctx context.Context, reportID string, changeID int64) (int, error) {
	var pending []pendingReviewEmail
	report, err := s.reports.Update(ctx, reportID, repository.CauseTokenIssuance, func(r *repository.Report, now repository.Instant) error {
		pending = nil
		if r.Status != repository.StatusUnderReview {
			return repository.ErrNoChange
		}
		if changeID != 0 && r.TokenIssuanceChangeID == changeID {
			s.log.Info().
				Str("report_id", r.ID).
				Int64("change_id", changeID).
				Msg("Tokens already issued for change, skipping redelivery")
			return repository.ErrNoChange
		}

		for i := range r.Reviewers {
			rv := &r.Reviewers[i]
			email := strings.ToLower(strings.TrimSpace(rv.Email))
			if email == "" {
				continue
			}

			value, err := token.Issue()
			if err != nil {
				return errors.Internal(err, "failed to issue reviewer token")
			}

			r.Tokens.PurgeAll(rv.Token.Values())
			rv.Token = token.Reissue(rv.Token, value, now.Server)
			rv.Email = email
			if strings.TrimSpace(rv.Name) == "" {
				rv.Name = email
			}
			rv.Status = repository.ReviewerPending
			rv.Approved = false
			rv.Rejected = false
			rv.ApprovedAt = time.Time{}
			rv.RejectedAt = time.Time{}
			rv.RejectionComment = ""

			pending = append(pending, pendingReviewEmail{
				email: email,
				name:  rv.Name,
				link:  ApprovalLink(s.cfg.ApprovalURL, r.ID, value),
			})
		}
		if len(pending) == 0 {
			return repository.ErrNoChange
		}
		r.ReviewRequested = now.Server
		if changeID != 0 {
			r.TokenIssuanceChangeID = changeID
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("report_id", reportID).Msg("Failed to issue reviewer tokens")
		return 0, err
	}
	if len(pending) == 0 {
		s.log.Debug().Str("report_id", reportID).Msg("No reviewer tokens issued")
		return 0, nil
	}

	s.log.Info().
		Str("report_id", reportID).
		Int("reviewers", len(pending)).
		Int64("version", report.Version).
		Msg("Issued reviewer tokens")

	queued := 0
	for _, p := range pending {
		html, text, err := RenderReviewEmail(report, p.name, p.link, s.cfg.SenderName)
		if err != nil {
			s.log.Error().Err(err).Str("report_id", reportID).Msg("Failed to render review email")
			continue
		}
		msg := &repository.MailMessage{
			To:       []string{p.email},
			Subject:  ReviewEmailSubject(report.ReportDate),
			HTML:     html,
			Text:     text,
			ReportID: reportID,
		}
		if err := s.mail.Enqueue(ctx, msg); err != nil {
			s.log.Warn().Err(err).
				Str("report_id", reportID).
				Str("recipient", p.email).
				Msg("Failed to queue review email")
			continue
		}
		queued++
	}
	return queued, nil
}
