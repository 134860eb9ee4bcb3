package repository

import (
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

// Status is a report's lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ReviewerStatus is one reviewer's decision state.
type ReviewerStatus string

const (
	ReviewerPending  ReviewerStatus = "pending"
	ReviewerApproved ReviewerStatus = "approved"
	ReviewerRejected ReviewerStatus = "rejected"
)

// Decided reports whether the reviewer has approved or rejected.
func (s ReviewerStatus) Decided() bool {
	return s == ReviewerApproved || s == ReviewerRejected
}

// WriteCause tags a report write so triggers can tell who made it.
type WriteCause string

const (
	CauseClient          WriteCause = "client"
	CauseSubmission      WriteCause = "submission"
	CauseReviewAction    WriteCause = "review_action"
	CauseTokenIssuance   WriteCause = "token_issuance"
	CauseManagerDecision WriteCause = "manager_decision"
)

// Stamp pairs the server-authoritative time with the ISO string shown to
// users before the server value is known.
type Stamp struct {
	Server    time.Time
	ClientISO string
}

func (s Stamp) IsZero() bool {
	return s.Server.IsZero() && s.ClientISO == ""
}

// Instant is the time a write is applied at.
type Instant struct {
	Server    time.Time
	ClientISO string
}

// Stamp converts the instant into a stored stamp.
func (i Instant) Stamp() Stamp {
	return Stamp{Server: i.Server, ClientISO: i.ClientISO}
}

// NewInstant builds an Instant from a server time.
func NewInstant(server time.Time) Instant {
	server = server.UTC()
	return Instant{Server: server, ClientISO: server.Format("2006-01-02T15:04:05.000Z07:00")}
}

// Controller is an on-duty shift controller named on a report.
type Controller struct {
	UID  string
	Name string
}

// Reviewer is one approval obligation on a report.
type Reviewer struct {
	UID   string
	Email string
	Name  string

	Status   ReviewerStatus
	Approved bool
	Rejected bool
	Required bool

	Token token.Token

	ApprovedAt       time.Time
	RejectedAt       time.Time
	RejectionComment string

	raw map[string]any
}

// HasApproved reports whether the reviewer counts towards quorum.
func (r Reviewer) HasApproved() bool {
	return r.Status == ReviewerApproved || r.Approved
}

// ApprovalAction is the action recorded on an ApprovalEvent.
type ApprovalAction string

const (
	ActionApproved ApprovalAction = "approved"
	ActionRejected ApprovalAction = "rejected"
)

// ApprovalEvent is an immutable audit record on a report.
type ApprovalEvent struct {
	ApproverID   string
	ApproverName string
	Action       ApprovalAction
	Comment      string
	Timestamp    time.Time

	raw map[string]any
}

// Report is the shift report aggregate.
type Report struct {
	ID      string
	Version int64
	Status  Status
	// StatusMissing flags documents whose stored status was absent, null,
	// "pending" or unrecognised. They are handled as drafts.
	StatusMissing bool

	CreatedBy   string
	SubmittedBy string
	ApprovedBy  string

	Controller1    *Controller
	Controller2    *Controller
	ControllerUIDs []string

	SiteName   string
	ReportDate string
	ShiftType  string

	Reviewers       []Reviewer
	Approvals       []ApprovalEvent
	RejectionReason string

	Created         Stamp
	Updated         Stamp
	Submitted       Stamp
	Approved        Stamp
	Rejected        Stamp
	ReviewRequested time.Time
	// TokenIssuanceChangeID is the change log entry that last issued
	// reviewer tokens.
	TokenIssuanceChangeID int64

	Tokens token.Index

	raw map[string]any
}

// Controllers returns the named controllers in order.
func (r *Report) Controllers() []Controller {
	var out []Controller
	for _, c := range []*Controller{r.Controller1, r.Controller2} {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ControllerRecipients returns the distinct uids of the named controllers.
func (r *Report) ControllerRecipients() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range r.Controllers() {
		if c.UID != "" && !seen[c.UID] {
			seen[c.UID] = true
			out = append(out, c.UID)
		}
	}
	return out
}

// Submitter returns submittedBy, falling back to the first controller.
func (r *Report) Submitter() string {
	if r.SubmittedBy != "" {
		return r.SubmittedBy
	}
	if r.Controller1 != nil {
		return r.Controller1.UID
	}
	return ""
}

// FindReviewerByToken returns the index of the reviewer holding value, or -1.
func (r *Report) FindReviewerByToken(value string) int {
	for i := range r.Reviewers {
		if r.Reviewers[i].Token.Holds(value) {
			return i
		}
	}
	return -1
}

// FindReviewerBySpentToken returns the index of the reviewer that burned
// value, or -1.
func (r *Report) FindReviewerBySpentToken(value string) int {
	for i := range r.Reviewers {
		if r.Reviewers[i].Token.Spent(value) {
			return i
		}
	}
	return -1
}

// LastApproval returns the most recent approval event, if any.
func (r *Report) LastApproval() (ApprovalEvent, bool) {
	if len(r.Approvals) == 0 {
		return ApprovalEvent{}, false
	}
	return r.Approvals[len(r.Approvals)-1], true
}

// Clone returns a deep copy that can be mutated without affecting r.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Controller1 != nil {
		c := *r.Controller1
		cp.Controller1 = &c
	}
	if r.Controller2 != nil {
		c := *r.Controller2
		cp.Controller2 = &c
	}
	cp.ControllerUIDs = append([]string(nil), r.ControllerUIDs...)
	cp.Reviewers = make([]Reviewer, len(r.Reviewers))
	for i, rv := range r.Reviewers {
		rv.Token.Aliases = append([]string(nil), rv.Token.Aliases...)
		rv.Token.SpentHashes = append([]string(nil), rv.Token.SpentHashes...)
		rv.raw = cloneValue(rv.raw).(map[string]any)
		cp.Reviewers[i] = rv
	}
	cp.Approvals = make([]ApprovalEvent, len(r.Approvals))
	for i, ev := range r.Approvals {
		ev.raw = cloneValue(ev.raw).(map[string]any)
		cp.Approvals[i] = ev
	}
	cp.Tokens = r.Tokens.Clone()
	cp.raw = cloneValue(r.raw).(map[string]any)
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
