package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/middleware"
	"github.com/pesio-ai/be-shift-reviews/internal/service"
)

// TokenDecider decides a report with a reviewer token.
type TokenDecider interface {
	ApproveByToken(ctx context.Context, reportID, tok string) (*service.DecisionResult, error)
	RejectByToken(ctx context.Context, reportID, tok, comment string) (*service.DecisionResult, error)
}

// ReportLifecycle moves reports through submission and decisions.
type ReportLifecycle interface {
	SubmitReport(ctx context.Context, reportID string, actor service.Actor) (*service.ReportStatus, error)
	RequestReview(ctx context.Context, reportID string, actor service.Actor) (*service.ReportStatus, error)
	DecideAsApprover(ctx context.Context, reportID string, actor service.Actor, action, comment string) (*service.DecisionResult, error)
}

// AssigneeDirectory lists users who can be assigned to reports.
type AssigneeDirectory interface {
	ListForAssign(ctx context.Context, actor service.Actor, roles []string) ([]*service.Assignee, error)
}

// ReviewQueue lists reports awaiting review.
type ReviewQueue interface {
	ListPendingForReviewer(ctx context.Context, actor service.Actor, limit int) ([]*service.ReviewQueueEntry, error)
}

// Inbox reads a user's notifications.
type Inbox interface {
	ListInbox(ctx context.Context, actor service.Actor, limit int) (*service.InboxView, error)
	MarkInboxItemRead(ctx context.Context, actor service.Actor, itemID string) error
}

// Services bundles the operations exposed over HTTP and gRPC.
type Services struct {
	Approvals TokenDecider
	Reports   ReportLifecycle
	Users     AssigneeDirectory
	Queue     ReviewQueue
	Inbox     Inbox
}

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

// Routes mounts the API under r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reviewerApproveReport", h.ReviewerApproveReport)
		r.Post("/reviewerRejectReport", h.ReviewerRejectReport)
		r.Post("/users.listForAssign", h.ListForAssign)

		r.Get("/review-queue", h.ListReviewQueue)

		r.Route("/reports/{reportId}", func(r chi.Router) {
			r.Post("/submit", h.SubmitReport)
			r.Post("/request-review", h.RequestReview)
			r.Post("/decision", h.Decide)
		})

		r.Get("/inbox", h.ListInbox)
		r.Post("/inbox/items/{itemId}/read", h.MarkInboxItemRead)
	})
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Token-gated callables ────────────────────────────────────────────────────

type tokenDecisionRequest struct {
	ReportID string `json:"reportId"`
	Token    string `json:"token"`
	Comment  string `json:"comment"`
}

// ReviewerApproveReport handles reviewerApproveReport.
func (h *HTTPHandler) ReviewerApproveReport(w http.ResponseWriter, r *http.Request) {
	var req tokenDecisionRequest
	if !h.decodeCallable(w, r, &req) {
		return
	}
	res, err := h.svc.Approvals.ApproveByToken(r.Context(), req.ReportID, req.Token)
	h.respond(w, r, res, err)
}

// ReviewerRejectReport handles reviewerRejectReport.
func (h *HTTPHandler) ReviewerRejectReport(w http.ResponseWriter, r *http.Request) {
	var req tokenDecisionRequest
	if !h.decodeCallable(w, r, &req) {
		return
	}
	res, err := h.svc.Approvals.RejectByToken(r.Context(), req.ReportID, req.Token, req.Comment)
	h.respond(w, r, res, err)
}

// ── Signed-in operations ─────────────────────────────────────────────────────

type listForAssignRequest struct {
	Roles []string `json:"roles"`
}

// ListForAssign handles users.listForAssign.
func (h *HTTPHandler) ListForAssign(w http.ResponseWriter, r *http.Request) {
	var req listForAssignRequest
	if !h.decodeCallable(w, r, &req) {
		return
	}
	items, err := h.svc.Users.ListForAssign(r.Context(), middleware.ActorFromContext(r.Context()), req.Roles)
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	if items == nil {
		items = []*service.Assignee{}
	}
	h.respond(w, r, map[string]any{"items": items}, nil)
}

// ListReviewQueue returns the caller's pending reviews.
func (h *HTTPHandler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Queue.ListPendingForReviewer(r.Context(), middleware.ActorFromContext(r.Context()), queryInt(r, "limit"))
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	if entries == nil {
		entries = []*service.ReviewQueueEntry{}
	}
	h.respond(w, r, map[string]any{"items": entries}, nil)
}

// SubmitReport moves a draft to submitted.
func (h *HTTPHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reports.SubmitReport(r.Context(), chi.URLParam(r, "reportId"), middleware.ActorFromContext(r.Context()))
	h.respond(w, r, res, err)
}

// RequestReview sends a report out for reviewer sign-off.
func (h *HTTPHandler) RequestReview(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reports.RequestReview(r.Context(), chi.URLParam(r, "reportId"), middleware.ActorFromContext(r.Context()))
	h.respond(w, r, res, err)
}

type decisionRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// Decide records a signed-in approver's decision.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !h.decodeCallable(w, r, &req) {
		return
	}
	res, err := h.svc.Reports.DecideAsApprover(r.Context(), chi.URLParam(r, "reportId"), middleware.ActorFromContext(r.Context()), req.Action, req.Comment)
	h.respond(w, r, res, err)
}

// ListInbox returns the caller's inbox.
func (h *HTTPHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Inbox.ListInbox(r.Context(), middleware.ActorFromContext(r.Context()), queryInt(r, "limit"))
	h.respond(w, r, view, err)
}

// MarkInboxItemRead acknowledges one inbox item.
func (h *HTTPHandler) MarkInboxItemRead(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Inbox.MarkInboxItemRead(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "itemId"))
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	h.respond(w, r, map[string]bool{"ok": true}, nil)
}

// ── Envelope ─────────────────────────────────────────────────────────────────

type callableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// decodeCallable reads a {"data": {...}} body into dst. A bare object is
// accepted too, and an empty body leaves dst zeroed.
func (h *HTTPHandler) decodeCallable(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.respond(w, r, nil, errors.InvalidInput("body", "Invalid request body"))
		return false
	}
	if len(body) == 0 {
		return true
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.respond(w, r, nil, errors.InvalidInput("body", "Invalid request body"))
		return false
	}
	payload := body
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		payload = envelope.Data
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		h.respond(w, r, nil, errors.InvalidInput("body", "Invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, result any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
		return
	}

	code := errors.CodeOf(err)
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("Request failed")
	}
	writeJSON(w, code.HTTPStatus(), map[string]any{
		"error": callableError{Status: code.WireStatus(), Message: errors.PublicMessage(err)},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
