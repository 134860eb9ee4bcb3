package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// SubjectPrefix is the subject namespace for shift report notifications.
const SubjectPrefix = "notifications.shift_reports"

// eventStream is the subset of jetstream.JetStream the publisher uses.
type eventStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher mirrors committed inbox items to NATS JetStream so
// connected clients can refresh without polling.
//
// Subject convention: notifications.shift_reports.<event_type>
// Event types: review_request, review_decision
//
// Publishing is best-effort. Errors are logged and never returned, so a
// broker outage cannot affect the inbox write that already committed.
type NotificationPublisher struct {
	js  eventStream
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher on an existing stream handle.
// A nil handle yields a publisher that drops every event.
func NewNotificationPublisher(js eventStream, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// ConnectNotificationPublisher dials NATS and makes sure the stream exists.
// The returned close func drains the connection.
func ConnectNotificationPublisher(ctx context.Context, url, stream string, log zerolog.Logger) (*NotificationPublisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("be-shift-reviews"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("notification: failed to drain nats connection")
		}
	}
	return NewNotificationPublisher(js, log), closeFn, nil
}

// PublishInboxEvent publishes one committed inbox item. messageID is used
// for JetStream de-duplication, so re-publishing the same item is harmless.
func (p *NotificationPublisher) PublishInboxEvent(ctx context.Context, eventType, messageID, reportID, actorID, recipient string, payload map[string]any) {
	if p == nil || p.js == nil || recipient == "" {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   []string{recipient},
		ResourceType: "shift_report",
		ResourceID:   reportID,
		IsActionable: eventType == "review_request",
		Category:     "shift_review",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, eventType)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(messageID)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("report_id", reportID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("report_id", reportID).
		Str("recipient", recipient).
		Msg("notification: event published")
}
