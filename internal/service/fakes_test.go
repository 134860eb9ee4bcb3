package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/client"
	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/repository"
	"github.com/pesio-ai/be-shift-reviews/internal/token"
)

var testNow = time.Date(2024, 5, 14, 8, 30, 0, 0, time.UTC)

// memReportStore applies mutations to a copy and only keeps it when the
// mutation succeeds, like the row-locked transaction does.
type memReportStore struct {
	mu     sync.Mutex
	docs   map[string]*repository.Report
	causes []repository.WriteCause
}

func newMemReportStore(reports ...*repository.Report) *memReportStore {
	s := &memReportStore{docs: make(map[string]*repository.Report)}
	for _, r := range reports {
		s.docs[r.ID] = r.Clone()
	}
	return s
}

func (s *memReportStore) Get(_ context.Context, id string) (*repository.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	return r.Clone(), nil
}

func (s *memReportStore) Update(_ context.Context, id string, cause repository.WriteCause, fn repository.MutateFunc) (*repository.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[id]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	working := current.Clone()
	now := repository.NewInstant(testNow)
	if err := fn(working, now); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	working.Version = current.Version + 1
	working.Updated = now.Stamp()
	s.docs[id] = working
	s.causes = append(s.causes, cause)
	return working.Clone(), nil
}

func (s *memReportStore) ListSubmitted(_ context.Context, filter repository.ReviewQueueFilter) ([]*repository.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Report
	for _, r := range s.docs {
		if r.Status != repository.StatusSubmitted {
			continue
		}
		if filter.ExcludeCreatedBy != "" && r.CreatedBy == filter.ExcludeCreatedBy {
			continue
		}
		if filter.ControllerUID != "" && !contains(r.ControllerUIDs, filter.ControllerUID) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.Server.After(out[j].Submitted.Server) })
	return out, nil
}

func (s *memReportStore) report(id string) *repository.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].Clone()
}

func (s *memReportStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.causes)
}

type memInbox struct {
	mu     sync.Mutex
	items  map[string][]*repository.InboxItem
	unread map[string]int
	fail   map[string]bool
}

func newMemInbox() *memInbox {
	return &memInbox{
		items:  make(map[string][]*repository.InboxItem),
		unread: make(map[string]int),
		fail:   make(map[string]bool),
	}
}

func (m *memInbox) Publish(_ context.Context, item *repository.InboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[item.UID] {
		return fmt.Errorf("inbox %s unavailable", item.UID)
	}
	if item.ID == "" {
		item.ID = fmt.Sprintf("%s-%d", item.UID, len(m.items[item.UID])+1)
	}
	cp := *item
	m.items[item.UID] = append(m.items[item.UID], &cp)
	if item.Unread {
		m.unread[item.UID]++
	}
	return nil
}

func (m *memInbox) Get(_ context.Context, uid string) (*repository.Inbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &repository.Inbox{UID: uid, UnreadCount: m.unread[uid]}, nil
}

func (m *memInbox) ListItems(_ context.Context, uid string, limit int) ([]*repository.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[uid]
	var out []*repository.InboxItem
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *items[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memInbox) MarkRead(_ context.Context, uid, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[uid] {
		if item.ID != itemID {
			continue
		}
		if item.Unread {
			item.Unread = false
			m.unread[uid] = max(m.unread[uid]-1, 0)
		}
		return nil
	}
	return errors.NotFound("inbox item", itemID)
}

func (m *memInbox) received(uid string) []*repository.InboxItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*repository.InboxItem(nil), m.items[uid]...)
}

func (m *memInbox) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, items := range m.items {
		n += len(items)
	}
	return n
}

type memMail struct {
	mu       sync.Mutex
	messages []*repository.MailMessage
	fail     bool
}

func (m *memMail) Enqueue(_ context.Context, msg *repository.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("mail queue unavailable")
	}
	m.messages = append(m.messages, msg)
	return nil
}

type memUsers struct {
	mu       sync.Mutex
	profiles map[string]*repository.UserProfile
	lookups  int
	fail     bool
}

func newMemUsers(profiles ...*repository.UserProfile) *memUsers {
	u := &memUsers{profiles: make(map[string]*repository.UserProfile)}
	for _, p := range profiles {
		u.profiles[p.ID] = p
	}
	return u
}

func (u *memUsers) GetByID(_ context.Context, id string) (*repository.UserProfile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lookups++
	if u.fail {
		return nil, fmt.Errorf("profile store unavailable")
	}
	p, ok := u.profiles[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return p, nil
}

func (u *memUsers) FindByEmail(_ context.Context, email string) (*repository.UserProfile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lookups++
	for _, p := range u.profiles {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, errors.NotFound("user", email)
}

func (u *memUsers) ListApproverIDs(context.Context) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var ids []string
	for id, p := range u.profiles {
		if p.CanApprove() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (u *memUsers) ListActiveByRoles(_ context.Context, roles []string, limit int) ([]*repository.UserProfile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []*repository.UserProfile
	for _, p := range u.profiles {
		if p.IsActive && contains(roles, p.Role) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (u *memUsers) lookupCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lookups
}

type fakeAuth struct {
	mu      sync.Mutex
	records map[string]*client.AuthRecord
	calls   int
}

func newFakeAuth(records ...*client.AuthRecord) *fakeAuth {
	a := &fakeAuth{records: make(map[string]*client.AuthRecord)}
	for _, r := range records {
		a.records[r.UID] = r
	}
	return a
}

func (a *fakeAuth) GetUser(_ context.Context, uid string) (*client.AuthRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if r, ok := a.records[uid]; ok {
		return r, nil
	}
	return nil, client.ErrAuthUserNotFound
}

func (a *fakeAuth) GetUserByEmail(_ context.Context, email string) (*client.AuthRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	for _, r := range a.records {
		if strings.EqualFold(r.Email, email) {
			return r, nil
		}
	}
	return nil, client.ErrAuthUserNotFound
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recordedEvent struct {
	eventType string
	reportID  string
	recipient string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) PublishInboxEvent(_ context.Context, eventType, _, reportID, _, recipient string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: eventType, reportID: reportID, recipient: recipient})
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// reviewReport builds a report under review with one reviewer per token.
func reviewReport(id string, tokens ...string) *repository.Report {
	r := &repository.Report{
		ID:             id,
		Version:        3,
		Status:         repository.StatusUnderReview,
		CreatedBy:      "ctrl-1",
		SubmittedBy:    "ctrl-1",
		Controller1:    &repository.Controller{UID: "ctrl-1", Name: "Thabo Nkosi"},
		Controller2:    &repository.Controller{UID: "ctrl-2", Name: "Lerato Dube"},
		ControllerUIDs: []string{"ctrl-1", "ctrl-2"},
		SiteName:       "Durban Depot",
		ReportDate:     "2024-05-13",
	}
	for i, tok := range tokens {
		n := string(rune('a' + i))
		r.Reviewers = append(r.Reviewers, repository.Reviewer{
			UID:      "rev-" + n,
			Email:    "rev-" + n + "@example.com",
			Name:     "Reviewer " + strings.ToUpper(n),
			Status:   repository.ReviewerPending,
			Required: true,
			Token:    token.Token{Value: tok, IssuedAt: testNow.Add(-time.Hour)},
		})
	}
	return r
}
