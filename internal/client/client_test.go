package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

func TestAuthProviderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.URL.Path == "/users/u1":
			json.NewEncoder(w).Encode(AuthRecord{UID: "u1", Email: "U1@example.com", DisplayName: "User One"})
		case r.URL.Path == "/users" && r.URL.Query().Get("email") == "u1@example.com":
			json.NewEncoder(w).Encode(AuthRecord{UID: "u1", Email: "u1@example.com"})
		case r.URL.Path == "/users/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAuthProviderClient(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	rec, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User One", rec.DisplayName)

	rec, err = c.GetUserByEmail(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UID)

	_, err = c.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, ErrAuthUserNotFound))

	_, err = c.GetUser(ctx, "broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthUserNotFound))
}

func TestAuthProviderClientUnconfigured(t *testing.T) {
	c := NewAuthProviderClient("", "", 0)

	_, err := c.GetUser(context.Background(), "u1")
	assert.True(t, errors.Is(err, ErrAuthUserNotFound))
}

type fakeStream struct {
	subjects []string
	payloads [][]byte
	fail     bool
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.fail {
		return nil, fmt.Errorf("no responders")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return &jetstream.PubAck{Stream: "NOTIFICATIONS"}, nil
}

func TestNotificationPublisher(t *testing.T) {
	stream := &fakeStream{}
	p := NewNotificationPublisher(stream, zerolog.Nop())

	p.PublishInboxEvent(context.Background(), "review_request", "item-1", "r1", "ctrl-1", "rev-1",
		map[string]any{"title": "Review requested"})

	require.Len(t, stream.subjects, 1)
	assert.Equal(t, "notifications.shift_reports.review_request", stream.subjects[0])

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(stream.payloads[0], &event))
	assert.Equal(t, []string{"rev-1"}, event.Recipients)
	assert.Equal(t, "r1", event.ResourceID)
	assert.True(t, event.IsActionable)
}

func TestNotificationPublisherSwallowsFailures(t *testing.T) {
	p := NewNotificationPublisher(&fakeStream{fail: true}, zerolog.Nop())
	assert.NotPanics(t, func() {
		p.PublishInboxEvent(context.Background(), "review_decision", "item-1", "r1", "a", "b", nil)
	})

	var nilPublisher *NotificationPublisher
	assert.NotPanics(t, func() {
		nilPublisher.PublishInboxEvent(context.Background(), "review_decision", "item-1", "r1", "a", "b", nil)
	})
}
