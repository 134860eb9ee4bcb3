package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

const legacyReport = `{
	"status": "Under_Review",
	"createdBy": "ctrl-1",
	"controller1": {"uid": "ctrl-1", "name": "Thandi"},
	"controller2": "Sipho",
	"controller2Uid": "ctrl-2",
	"controllerUids": ["ctrl-1", "ctrl-2"],
	"startingDestination": "North Gate",
	"shiftDate": "2025-03-01",
	"pdfUrl": "https://example.test/report.pdf",
	"reviewers": [
		{
			"uid": "rev-a",
			"reviewerEmail": "A@Example.com",
			"name": "Anele",
			"status": "PENDING",
			"token": "tok-a",
			"linkToken": "tok-a-link",
			"tokens": ["tok-a", "tok-a-old"],
			"links": [{"token": "tok-a-obj", "url": "x"}, "tok-a-str"],
			"custom": 42
		},
		{
			"email": "b@example.com",
			"status": "approved",
			"tokenUsed": true,
			"skip": true
		}
	],
	"reviewTokens": {"rev-a": "tok-a"}
}`

func TestDecodeReport(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)

	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, int64(3), r.Version)
	assert.Equal(t, StatusUnderReview, r.Status)
	assert.False(t, r.StatusMissing)
	assert.Equal(t, "North Gate", r.SiteName)
	assert.Equal(t, "2025-03-01", r.ReportDate)
	assert.Equal(t, &Controller{UID: "ctrl-1", Name: "Thandi"}, r.Controller1)
	assert.Equal(t, &Controller{UID: "ctrl-2", Name: "Sipho"}, r.Controller2)
	assert.Equal(t, []string{"ctrl-1", "ctrl-2"}, r.ControllerRecipients())

	require.Len(t, r.Reviewers, 2)
	a := r.Reviewers[0]
	assert.Equal(t, "a@example.com", a.Email)
	assert.Equal(t, ReviewerPending, a.Status)
	assert.True(t, a.Required)
	assert.Equal(t, "tok-a", a.Token.Value)
	assert.ElementsMatch(t, []string{"tok-a-link", "tok-a-old", "tok-a-obj", "tok-a-str"}, a.Token.Aliases)

	b := r.Reviewers[1]
	assert.False(t, b.Required)
	assert.True(t, b.Token.Used)
	assert.True(t, b.HasApproved())

	assert.Equal(t, 0, r.FindReviewerByToken(" tok-a-str "))
	assert.Equal(t, -1, r.FindReviewerByToken("nope"))
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in      any
		want    Status
		missing bool
	}{
		{nil, StatusDraft, true},
		{"pending", StatusDraft, true},
		{"", StatusDraft, true},
		{"archived", StatusDraft, true},
		{" SUBMITTED ", StatusSubmitted, false},
		{"approved", StatusApproved, false},
		{"draft", StatusDraft, false},
	}
	for _, tc := range cases {
		got, missing := ParseStatus(tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
		assert.Equal(t, tc.missing, missing, "%v", tc.in)
	}
}

func TestEncodeAfterInvalidateClearsEveryLocation(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r.Reviewers[0].Token = token.Invalidate(r.Reviewers[0].Token, at)
	r.Tokens.Purge("tok-a")

	doc := r.Document()
	rv := doc["reviewers"].([]any)[0].(map[string]any)

	assert.Nil(t, rv["token"])
	assert.Nil(t, rv["linkToken"])
	assert.NotContains(t, rv, "reviewToken", "absent canonical fields stay absent when nothing is live")
	assert.Equal(t, []any{}, rv["tokens"])
	assert.Equal(t, []any{map[string]any{"token": nil, "url": "x"}}, rv["links"])
	assert.Equal(t, true, rv["tokenUsed"])
	assert.Equal(t, "2025-03-01T09:00:00Z", rv["tokenInvalidatedAt"])
	assert.Len(t, rv["spentTokenHashes"], 5)
	assert.Equal(t, json.Number("42"), rv["custom"])

	assert.NotContains(t, doc, "reviewTokens")
	assert.Equal(t, "https://example.test/report.pdf", doc["pdfUrl"])
	assert.Equal(t, "under_review", doc["status"])
}

func TestEncodeRoundTripKeepsSpentTokens(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)
	r.Reviewers[0].Token = token.Invalidate(r.Reviewers[0].Token, time.Unix(10, 0))

	data, err := EncodeReport(r)
	require.NoError(t, err)
	again, err := DecodeReport("r1", data, 4)
	require.NoError(t, err)

	a := again.Reviewers[0]
	assert.True(t, a.Token.Used)
	assert.Empty(t, a.Token.Values())
	assert.True(t, a.Token.Spent("tok-a"))
	assert.Equal(t, -1, again.FindReviewerByToken("tok-a"))
	assert.Equal(t, 0, again.FindReviewerBySpentToken("tok-a"))
}

func TestEncodeReissueWritesCanonicalFields(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)

	r.Reviewers[0].Token = token.Reissue(r.Reviewers[0].Token, "fresh", time.Unix(20, 0))
	rv := r.Document()["reviewers"].([]any)[0].(map[string]any)

	assert.Equal(t, "fresh", rv["token"])
	assert.Equal(t, "fresh", rv["reviewToken"])
	assert.Equal(t, "fresh", rv["approvalToken"])
	assert.Nil(t, rv["linkToken"])
	assert.Equal(t, false, rv["tokenUsed"])
}

func TestEncodeStampsAndNewReport(t *testing.T) {
	now := NewInstant(time.Date(2025, 3, 2, 7, 30, 0, 0, time.UTC))
	r := &Report{
		ID:        "r2",
		Version:   1,
		Status:    StatusSubmitted,
		CreatedBy: "ctrl-1",
		Submitted: now.Stamp(),
		Reviewers: []Reviewer{{UID: "rev", Status: ReviewerPending, Required: false}},
	}

	doc := r.Document()

	assert.Equal(t, "submitted", doc["status"])
	assert.Equal(t, "2025-03-02T07:30:00Z", doc["submittedAt"])
	assert.Equal(t, "2025-03-02T07:30:00Z", doc["submittedAtServer"])
	assert.Equal(t, "2025-03-02T07:30:00.000Z", doc["submittedAtClientIso"])
	rv := doc["reviewers"].([]any)[0].(map[string]any)
	assert.Equal(t, false, rv["required"])
}

func TestCloneIsIndependent(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)

	cp := r.Clone()
	cp.Reviewers[0].Status = ReviewerApproved
	cp.Tokens.Clear()
	cp.raw["pdfUrl"] = "changed"

	assert.Equal(t, ReviewerPending, r.Reviewers[0].Status)
	assert.Contains(t, r.Document(), "reviewTokens")
	assert.Equal(t, "https://example.test/report.pdf", r.Document()["pdfUrl"])
}

func TestEncodeKeepsTokenIssuanceChangeID(t *testing.T) {
	r, err := DecodeReport("r1", []byte(legacyReport), 3)
	require.NoError(t, err)
	assert.Zero(t, r.TokenIssuanceChangeID)
	_, present := r.Document()["tokenIssuanceChangeId"]
	assert.False(t, present)

	r.TokenIssuanceChangeID = 17
	data, err := EncodeReport(r)
	require.NoError(t, err)
	again, err := DecodeReport("r1", data, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(17), again.TokenIssuanceChangeID)
}
