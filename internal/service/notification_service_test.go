package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-shift-reviews/internal/client"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
)

type notificationFixture struct {
	svc    *NotificationService
	inbox  *memInbox
	users  *memUsers
	events *fakeEvents
	ids    *IdentityResolver
}

func newNotificationFixture() *notificationFixture {
	users := newMemUsers(
		&repository.UserProfile{ID: "ctrl-1", Email: "thabo@example.com", DisplayName: "Thabo Nkosi", Role: repository.RoleController},
		&repository.UserProfile{ID: "ctrl-2", Email: "lerato@example.com", DisplayName: "Lerato Dube", Role: repository.RoleController},
		&repository.UserProfile{ID: "mgr-1", Email: "naledi@example.com", DisplayName: "Naledi Khumalo", Role: repository.RoleManager,
			Permissions: map[string]bool{"canApprove": true}},
		&repository.UserProfile{ID: "mgr-2", Email: "sipho@example.com", DisplayName: "Sipho Mokoena", Role: repository.RoleManager,
			Permissions: map[string]bool{"canApprove": true}},
	)
	auth := newFakeAuth(&client.AuthRecord{UID: "rev-a", Email: "rev-a@example.com", DisplayName: "Ayanda Zulu"})
	inbox := newMemInbox()
	events := &fakeEvents{}
	return &notificationFixture{
		svc:    NewNotificationService(users, inbox, events, logger.Nop()),
		inbox:  inbox,
		users:  users,
		events: events,
		ids:    NewIdentityResolver(users, auth, NewIdentityCache(), logger.Nop()),
	}
}

func TestNotifyReviewRequestExplicitReviewers(t *testing.T) {
	f := newNotificationFixture()
	r := reviewReport("r1", tokenA, tokenB)

	n, err := f.svc.NotifyReviewRequest(context.Background(), r, f.ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := f.inbox.received("rev-a")
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, repository.InboxTypeReviewRequest, item.Type)
	assert.Equal(t, "Review requested", item.Title)
	assert.Equal(t, "A shift report requires your approval.", item.Body)
	assert.Equal(t, "ctrl-1", item.ActorID)
	assert.Equal(t, "Thabo Nkosi", item.ActorName)
	assert.Equal(t, "under_review", item.Status)
	assert.True(t, item.Unread)
	assert.Equal(t, "Durban Depot", item.SiteName)

	assert.Len(t, f.inbox.received("rev-b"), 1)
	assert.Len(t, f.events.events, 2)
}

func TestNotifyReviewRequestRoleFallback(t *testing.T) {
	f := newNotificationFixture()
	r := reviewReport("r1")
	r.SubmittedBy = "mgr-1"

	n, err := f.svc.NotifyReviewRequest(context.Background(), r, f.ids)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.inbox.received("mgr-1"))
	assert.Len(t, f.inbox.received("mgr-2"), 1)
}

func TestReviewerSourceFor(t *testing.T) {
	r := reviewReport("r1", tokenA, tokenB)
	r.Reviewers = append(r.Reviewers, repository.Reviewer{UID: "rev-a"}, repository.Reviewer{Email: "x@example.com"})

	src := ReviewerSourceFor(r)
	ids, err := src.Recipients(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rev-a", "rev-b"}, ids)

	r.Reviewers = []repository.Reviewer{{Email: "x@example.com"}}
	assert.Equal(t, RoleFallbackReviewers{Exclude: "ctrl-1"}, ReviewerSourceFor(r))
}

func TestNotifyDecisionFromApprovalEvent(t *testing.T) {
	f := newNotificationFixture()
	before := reviewReport("r1", tokenA)
	after := before.Clone()
	after.Status = repository.StatusApproved
	after.Approvals = []repository.ApprovalEvent{{ApproverID: "rev-a", ApproverName: "Reviewer A", Action: repository.ActionApproved}}

	n, err := f.svc.NotifyDecision(context.Background(), before, after, f.ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, uid := range []string{"ctrl-1", "ctrl-2"} {
		items := f.inbox.received(uid)
		require.Len(t, items, 1, uid)
		assert.Equal(t, "Report approved", items[0].Title)
		assert.Equal(t, "Reviewer A approved your report for Durban Depot on 13 May 2024.", items[0].Body)
		assert.Equal(t, "rev-a", items[0].ActorID)
		assert.Equal(t, repository.InboxTypeReviewDecision, items[0].Type)
	}
}

func TestNotifyDecisionActorFromReviewerDiff(t *testing.T) {
	f := newNotificationFixture()
	before := reviewReport("r1", tokenA, tokenB)
	after := before.Clone()
	after.Status = repository.StatusRejected
	after.Reviewers[0].Status = repository.ReviewerRejected
	after.Controller1, after.Controller2 = nil, nil
	after.SiteName = ""

	_, err := f.svc.NotifyDecision(context.Background(), before, after, f.ids)
	require.NoError(t, err)

	items := f.inbox.received("ctrl-1")
	require.Len(t, items, 1)
	assert.Equal(t, "Report rejected", items[0].Title)
	assert.Equal(t, "Reviewer A rejected your report for 13 May 2024.", items[0].Body)
	assert.Equal(t, "rev-a", items[0].ActorID)
}

func TestNotifyDecisionUnknownActorEmail(t *testing.T) {
	f := newNotificationFixture()
	before := reviewReport("r1", tokenA, tokenB)
	after := before.Clone()
	after.Status = repository.StatusRejected
	after.Reviewers[1].Status = repository.ReviewerRejected
	after.Reviewers[1].Name = ""

	_, err := f.svc.NotifyDecision(context.Background(), before, after, f.ids)
	require.NoError(t, err)

	items := f.inbox.received("ctrl-2")
	require.Len(t, items, 1)
	assert.Equal(t, "rev-b@example.com", items[0].ActorID)
	assert.Equal(t, "rev-b@example.com", items[0].ActorName)
}

func TestNotifyDecisionDefaultsToReviewTeam(t *testing.T) {
	f := newNotificationFixture()
	before := reviewReport("r1")
	after := before.Clone()
	after.Status = repository.StatusApproved

	_, err := f.svc.NotifyDecision(context.Background(), before, after, f.ids)
	require.NoError(t, err)

	items := f.inbox.received("ctrl-1")
	require.Len(t, items, 1)
	assert.Equal(t, "system", items[0].ActorID)
	assert.Equal(t, "Review Team approved your report for Durban Depot on 13 May 2024.", items[0].Body)
}

func TestHandleChangeRoutesTransitions(t *testing.T) {
	submitted := reviewReport("r1", tokenA)
	submitted.Status = repository.StatusSubmitted
	underReview := reviewReport("r1", tokenA)
	approved := reviewReport("r1", tokenA)
	approved.Status = repository.StatusApproved
	approved.ApprovedBy = "mgr-1"

	tests := []struct {
		name      string
		change    *repository.Change
		published int
	}{
		{"insert", &repository.Change{ReportID: "r1", After: underReview}, 0},
		{"entered review", &repository.Change{ReportID: "r1", Before: submitted, After: underReview}, 1},
		{"decision", &repository.Change{ReportID: "r1", Before: underReview, After: approved}, 2},
		{"no status change", &repository.Change{ReportID: "r1", Before: underReview, After: underReview}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNotificationFixture()
			require.NoError(t, f.svc.HandleChange(context.Background(), tt.change, f.ids))
			assert.Equal(t, tt.published, f.inbox.total())
		})
	}
}

func TestFanOutSurvivesRecipientFailure(t *testing.T) {
	f := newNotificationFixture()
	f.inbox.fail["rev-a"] = true

	n, err := f.svc.NotifyReviewRequest(context.Background(), reviewReport("r1", tokenA, tokenB), f.ids)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.inbox.received("rev-b"), 1)
}

func TestConcurrentPublishesKeepUnreadCountExact(t *testing.T) {
	f := newNotificationFixture()
	inboxSvc := NewInboxService(f.inbox, logger.Nop())
	ctx := context.Background()

	const publishers = 40
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := reviewReport(fmt.Sprintf("r%d", i), tokenA)
			_, err := f.svc.NotifyReviewRequest(ctx, r, NewIdentityResolver(f.users, newFakeAuth(), nil, logger.Nop()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := inboxSvc.ListInbox(ctx, Actor{UID: "rev-a"}, 100)
	require.NoError(t, err)
	assert.Len(t, view.Items, publishers)
	assert.Equal(t, publishers, view.UnreadCount)

	require.NoError(t, inboxSvc.MarkInboxItemRead(ctx, Actor{UID: "rev-a"}, view.Items[0].ID))
	require.NoError(t, inboxSvc.MarkInboxItemRead(ctx, Actor{UID: "rev-a"}, view.Items[0].ID))

	view, err = inboxSvc.ListInbox(ctx, Actor{UID: "rev-a"}, 100)
	require.NoError(t, err)
	assert.Equal(t, publishers-1, view.UnreadCount)
}

func TestBuildShiftSummary(t *testing.T) {
	assert.Equal(t, "Durban Depot on 13 May 2024", BuildShiftSummary("2024-05-13", " Durban Depot "))
	assert.Equal(t, "Durban Depot", BuildShiftSummary("", "Durban Depot"))
	assert.Equal(t, "night of the 13th", BuildShiftSummary("night of the 13th", ""))
	assert.Equal(t, "this shift", BuildShiftSummary("", ""))
}
