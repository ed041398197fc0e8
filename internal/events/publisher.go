package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/roundtable-ai/roundtable/internal/chat"
)

// Stream names.
const (
	StreamMessages = "ROUNDTABLE_MESSAGES"
	StreamEvents   = "ROUNDTABLE_EVENTS"
)

// Subject constants.
const (
	SubjectMessage   = "roundtable.messages.room"
	SubjectPresence  = "roundtable.events.presence"
	SubjectDirective = "roundtable.events.directive"
)

// PresenceEvent marks a participant joining or leaving the room.
type PresenceEvent struct {
	Name      string    `json:"name"`
	IsAgent   bool      `json:"is_agent"`
	EventType string    `json:"event_type"` // "joined", "left"
	Timestamp time.Time `json:"timestamp"`
}

// DirectiveEvent mirrors an installed moderator directive.
type DirectiveEvent struct {
	NextTopic string    `json:"next_topic,omitempty"`
	Highlight string    `json:"highlight,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher provides typed methods for publishing room events to JetStream.
// A nil Publisher is valid and drops everything, so NATS stays optional.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishMessage mirrors a committed room message onto the message stream.
func (p *Publisher) PublishMessage(ctx context.Context, msg chat.Message) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, SubjectMessage, msg)
}

// PublishPresence publishes a join or leave event.
func (p *Publisher) PublishPresence(ctx context.Context, ev PresenceEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, SubjectPresence, ev)
}

// PublishDirective publishes a newly installed moderator directive.
func (p *Publisher) PublishDirective(ctx context.Context, ev DirectiveEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, SubjectDirective, ev)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
