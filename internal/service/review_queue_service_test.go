package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

func queueReport(id, createdBy string, status repository.Status, controllers []string, submitted time.Time) *repository.Report {
	return &repository.Report{
		ID:             id,
		Status:         status,
		CreatedBy:      createdBy,
		ControllerUIDs: controllers,
		SiteName:       "Site " + id,
		Submitted:      repository.Stamp{Server: submitted},
	}
}

func newQueueFixture() *ReviewQueueService {
	store := newMemReportStore(
		queueReport("r1", "ctrl-1", repository.StatusSubmitted, []string{"ctrl-1", "ctrl-2"}, testNow.Add(-3*time.Hour)),
		queueReport("r2", "ctrl-3", repository.StatusSubmitted, []string{"ctrl-3", "ctrl-2"}, testNow.Add(-1*time.Hour)),
		queueReport("r3", "ctrl-3", repository.StatusSubmitted, []string{"ctrl-3", "ctrl-4"}, testNow.Add(-2*time.Hour)),
		queueReport("r4", "ctrl-3", repository.StatusUnderReview, []string{"ctrl-2"}, testNow),
		queueReport("r5", "ctrl-3", repository.StatusDraft, []string{"ctrl-2"}, time.Time{}),
	)
	users := newMemUsers(&repository.UserProfile{ID: "mgr-1", Role: repository.RoleManager})
	return NewReviewQueueService(store, users, logger.Nop())
}

func reportIDs(entries []*ReviewQueueEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ReportID)
	}
	return ids
}

func TestReviewQueueMemberSeesOwnControllerReports(t *testing.T) {
	svc := newQueueFixture()

	entries, err := svc.ListPendingForReviewer(context.Background(), Actor{UID: "ctrl-2", Role: repository.RoleController}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r1"}, reportIDs(entries))
}

func TestReviewQueueExcludesOwnReports(t *testing.T) {
	svc := newQueueFixture()

	entries, err := svc.ListPendingForReviewer(context.Background(), Actor{UID: "ctrl-3", Role: repository.RoleController}, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReviewQueueManagerSeesAllSubmitted(t *testing.T) {
	svc := newQueueFixture()

	entries, err := svc.ListPendingForReviewer(context.Background(), Actor{UID: "mgr-1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3", "r1"}, reportIDs(entries))

	entries, err = svc.ListPendingForReviewer(context.Background(), Actor{UID: "ctrl-1", Role: repository.RoleManager}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3"}, reportIDs(entries))
}

func TestReviewQueueRequiresCaller(t *testing.T) {
	_, err := newQueueFixture().ListPendingForReviewer(context.Background(), Actor{}, 0)
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
}
