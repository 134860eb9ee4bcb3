package repository

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

// Token-bearing reviewer fields. The first three are written on issuance.
var (
	canonicalTokenFields = []string{"token", "reviewToken", "approvalToken"}
	legacyTokenField     = "linkToken"
)

// ParseStatus normalises a stored status. Absent, null, "pending" and
// unknown values map to draft with missing set.
func ParseStatus(v any) (status Status, missing bool) {
	s, ok := v.(string)
	if !ok {
		return StatusDraft, true
	}
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusDraft:
		return StatusDraft, false
	case StatusSubmitted:
		return StatusSubmitted, false
	case StatusUnderReview:
		return StatusUnderReview, false
	case StatusApproved:
		return StatusApproved, false
	case StatusRejected:
		return StatusRejected, false
	default:
		return StatusDraft, true
	}
}

func parseReviewerStatus(v any) ReviewerStatus {
	s, _ := v.(string)
	switch ReviewerStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ReviewerApproved:
		return ReviewerApproved
	case ReviewerRejected:
		return ReviewerRejected
	default:
		return ReviewerPending
	}
}

// DecodeReport builds a Report from a stored JSON document. Unknown fields
// are kept and written back untouched by EncodeReport.
func DecodeReport(id string, data []byte, version int64) (*Report, error) {
	raw := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode report document")
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	r := &Report{ID: id, Version: version, raw: raw}
	r.Status, r.StatusMissing = ParseStatus(raw["status"])

	r.CreatedBy = str(raw, "createdBy")
	r.SubmittedBy = str(raw, "submittedBy")
	r.ApprovedBy = str(raw, "approvedBy")

	r.Controller1 = decodeController(raw["controller1"], str(raw, "controller1Uid"), str(raw, "controller1Id"))
	r.Controller2 = decodeController(raw["controller2"], str(raw, "controller2Uid"), str(raw, "controller2Id"))
	r.ControllerUIDs = strList(raw["controllerUids"])

	r.SiteName = firstStr(raw, "siteName", "startingDestination")
	r.ReportDate = firstStr(raw, "reportDate", "shiftDate")
	r.ShiftType = str(raw, "shiftType")
	r.RejectionReason = str(raw, "rejectionReason")

	if list, ok := raw["reviewers"].([]any); ok {
		for _, entry := range list {
			if m, ok := entry.(map[string]any); ok {
				r.Reviewers = append(r.Reviewers, decodeReviewer(m))
			}
		}
	}
	if list, ok := raw["approvals"].([]any); ok {
		for _, entry := range list {
			if m, ok := entry.(map[string]any); ok {
				r.Approvals = append(r.Approvals, decodeApproval(m))
			}
		}
	}

	r.Created = decodeStamp(raw, "created")
	r.Updated = decodeStamp(raw, "updated")
	r.Submitted = decodeStamp(raw, "submitted")
	r.Approved = decodeStamp(raw, "approved")
	r.Rejected = decodeStamp(raw, "rejected")
	r.ReviewRequested = parseTime(raw["reviewRequestedAt"])
	r.TokenIssuanceChangeID, _ = number(raw["tokenIssuanceChangeId"])

	r.Tokens = token.IndexFromDocument(raw)
	return r, nil
}

// EncodeReport renders the report back into its stored JSON form.
func EncodeReport(r *Report) ([]byte, error) {
	data, err := json.Marshal(r.Document())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode report document")
	}
	return data, nil
}

// Document returns the stored document shape of r: the preserved source
// document with every canonical field overlaid.
func (r *Report) Document() map[string]any {
	doc := cloneValue(r.raw).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}

	doc["status"] = string(r.Status)
	doc["version"] = r.Version
	setOrKeep(doc, "createdBy", r.CreatedBy)
	setOrKeep(doc, "submittedBy", r.SubmittedBy)
	setOrKeep(doc, "approvedBy", r.ApprovedBy)
	if len(r.ControllerUIDs) > 0 {
		doc["controllerUids"] = toAnyList(r.ControllerUIDs)
	}
	setOrNull(doc, "rejectionReason", r.RejectionReason)
	if r.TokenIssuanceChangeID != 0 {
		doc["tokenIssuanceChangeId"] = r.TokenIssuanceChangeID
	}

	reviewers := make([]any, 0, len(r.Reviewers))
	for _, rv := range r.Reviewers {
		reviewers = append(reviewers, encodeReviewer(rv))
	}
	if len(reviewers) > 0 || doc["reviewers"] != nil {
		doc["reviewers"] = reviewers
	}

	if len(r.Approvals) > 0 {
		approvals := make([]any, 0, len(r.Approvals))
		for _, ev := range r.Approvals {
			approvals = append(approvals, encodeApproval(ev))
		}
		doc["approvals"] = approvals
	}

	encodeStamp(doc, "created", r.Created)
	encodeStamp(doc, "updated", r.Updated)
	encodeStamp(doc, "submitted", r.Submitted)
	encodeStamp(doc, "approved", r.Approved)
	encodeStamp(doc, "rejected", r.Rejected)
	if !r.ReviewRequested.IsZero() {
		doc["reviewRequestedAt"] = formatTime(r.ReviewRequested)
	}

	tokens := r.Tokens.Clone()
	tokens.Apply(doc)
	return doc
}

func decodeController(v any, uidField, idField string) *Controller {
	c := &Controller{}
	switch t := v.(type) {
	case map[string]any:
		c.UID = firstStr(t, "uid", "id")
		c.Name = firstStr(t, "name", "displayName")
	case string:
		c.Name = strings.TrimSpace(t)
	}
	if c.UID == "" {
		c.UID = uidField
	}
	if c.UID == "" {
		c.UID = idField
	}
	if c.UID == "" && c.Name == "" {
		return nil
	}
	return c
}

func decodeReviewer(m map[string]any) Reviewer {
	rv := Reviewer{
		UID:              str(m, "uid"),
		Email:            strings.ToLower(firstStr(m, "email", "reviewerEmail")),
		Name:             firstStr(m, "name", "reviewerName"),
		Status:           parseReviewerStatus(m["status"]),
		Approved:         m["approved"] == true,
		Rejected:         m["rejected"] == true,
		Required:         !(m["required"] == false || m["disabled"] == true || m["skip"] == true),
		ApprovedAt:       parseTime(m["approvedAt"]),
		RejectedAt:       parseTime(m["rejectedAt"]),
		RejectionComment: str(m, "rejectionComment"),
		raw:              m,
	}

	values := gatherTokenValues(m)
	if len(values) > 0 {
		rv.Token.Value = values[0]
		rv.Token.Aliases = values[1:]
	}
	rv.Token.Used = m["tokenUsed"] == true
	rv.Token.IssuedAt = parseTime(m["tokenIssuedAt"])
	rv.Token.InvalidatedAt = parseTime(m["tokenInvalidatedAt"])
	rv.Token.SpentHashes = strList(m["spentTokenHashes"])
	return rv
}

// gatherTokenValues collects every token string a reviewer record holds,
// canonical fields first, without duplicates.
func gatherTokenValues(m map[string]any) []string {
	var out []string
	add := func(v any) {
		s, ok := v.(string)
		if !ok {
			return
		}
		s = token.Normalize(s)
		if s == "" {
			return
		}
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}

	for _, f := range canonicalTokenFields {
		add(m[f])
	}
	add(m[legacyTokenField])
	if list, ok := m["tokens"].([]any); ok {
		for _, v := range list {
			add(v)
		}
	}
	if list, ok := m["links"].([]any); ok {
		for _, link := range list {
			switch l := link.(type) {
			case string:
				add(l)
			case map[string]any:
				add(l["token"])
			}
		}
	}
	return out
}

func encodeReviewer(rv Reviewer) map[string]any {
	m := cloneValue(rv.raw).(map[string]any)
	if m == nil {
		m = map[string]any{}
	}

	setOrKeep(m, "uid", rv.UID)
	setOrKeep(m, "email", rv.Email)
	setOrKeep(m, "name", rv.Name)
	m["status"] = string(rv.Status)
	m["approved"] = rv.Approved
	m["rejected"] = rv.Rejected
	if !rv.Required {
		_, hasRequired := m["required"]
		_, hasDisabled := m["disabled"]
		_, hasSkip := m["skip"]
		if !hasRequired && !hasDisabled && !hasSkip {
			m["required"] = false
		}
	}

	encodeTokenFields(m, rv.Token)

	setTimeOrNull(m, "approvedAt", rv.ApprovedAt)
	setTimeOrNull(m, "rejectedAt", rv.RejectedAt)
	setOrNull(m, "rejectionComment", rv.RejectionComment)
	return m
}

// encodeTokenFields writes the token back over every legacy location. A
// location keeps a string only while it is a live value of the token.
func encodeTokenFields(m map[string]any, t token.Token) {
	var live []string
	if !t.Used {
		live = t.Values()
	}
	isLive := func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		s = token.Normalize(s)
		for _, l := range live {
			if l == s {
				return true
			}
		}
		return false
	}
	current := ""
	if !t.Used {
		current = t.Value
	}

	for _, f := range canonicalTokenFields {
		v, present := m[f]
		switch {
		case isLive(v):
		case current != "":
			m[f] = current
		case present:
			m[f] = nil
		}
	}
	if v, present := m[legacyTokenField]; present && !isLive(v) {
		m[legacyTokenField] = nil
	}
	if list, ok := m["tokens"].([]any); ok {
		kept := make([]any, 0, len(list))
		for _, v := range list {
			if isLive(v) {
				kept = append(kept, v)
			}
		}
		m["tokens"] = kept
	}
	if list, ok := m["links"].([]any); ok {
		kept := make([]any, 0, len(list))
		for _, link := range list {
			switch l := link.(type) {
			case string:
				if isLive(l) {
					kept = append(kept, l)
				}
			case map[string]any:
				if _, has := l["token"]; has && !isLive(l["token"]) {
					l["token"] = nil
				}
				kept = append(kept, l)
			case nil:
			default:
				kept = append(kept, l)
			}
		}
		m["links"] = kept
	}

	m["tokenUsed"] = t.Used
	if !t.IssuedAt.IsZero() {
		m["tokenIssuedAt"] = formatTime(t.IssuedAt)
	}
	setTimeOrNull(m, "tokenInvalidatedAt", t.InvalidatedAt)
	if len(t.SpentHashes) > 0 {
		m["spentTokenHashes"] = toAnyList(t.SpentHashes)
	} else {
		delete(m, "spentTokenHashes")
	}
}

func decodeApproval(m map[string]any) ApprovalEvent {
	return ApprovalEvent{
		ApproverID:   str(m, "approverId"),
		ApproverName: str(m, "approverName"),
		Action:       ApprovalAction(strings.ToLower(str(m, "action"))),
		Comment:      str(m, "comment"),
		Timestamp:    parseTime(m["timestamp"]),
		raw:          m,
	}
}

func encodeApproval(ev ApprovalEvent) map[string]any {
	m := cloneValue(ev.raw).(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	m["approverId"] = ev.ApproverID
	m["approverName"] = ev.ApproverName
	m["action"] = string(ev.Action)
	m["comment"] = ev.Comment
	if !ev.Timestamp.IsZero() {
		m["timestamp"] = formatTime(ev.Timestamp)
	}
	return m
}

func decodeStamp(doc map[string]any, prefix string) Stamp {
	server := parseTime(doc[prefix+"AtServer"])
	if server.IsZero() {
		server = parseTime(doc[prefix+"At"])
	}
	return Stamp{Server: server, ClientISO: str(doc, prefix+"AtClientIso")}
}

func encodeStamp(doc map[string]any, prefix string, s Stamp) {
	if s.IsZero() {
		return
	}
	if !s.Server.IsZero() {
		doc[prefix+"At"] = formatTime(s.Server)
		doc[prefix+"AtServer"] = formatTime(s.Server)
	}
	if s.ClientISO != "" {
		doc[prefix+"AtClientIso"] = s.ClientISO
	}
}

// parseTime reads an RFC 3339 string or a {seconds, nanoseconds} object.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	case map[string]any:
		secs, ok := number(t["seconds"])
		if !ok {
			secs, ok = number(t["_seconds"])
		}
		if !ok {
			return time.Time{}
		}
		nanos, _ := number(t["nanoseconds"])
		if nanos == 0 {
			nanos, _ = number(t["_nanoseconds"])
		}
		return time.Unix(secs, nanos).UTC()
	default:
		return time.Time{}
	}
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

func strList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func toAnyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// setOrKeep writes value when non-empty and leaves the field alone otherwise.
func setOrKeep(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// setOrNull writes value when non-empty and nulls an existing field otherwise.
func setOrNull(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
		return
	}
	if _, ok := m[key]; ok {
		m[key] = nil
	}
}

func setTimeOrNull(m map[string]any, key string, t time.Time) {
	if !t.IsZero() {
		m[key] = formatTime(t)
		return
	}
	if _, ok := m[key]; ok {
		m[key] = nil
	}
}
