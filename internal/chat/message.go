// Package chat holds the shared conversation data model: messages, mention
// scanning, and the message type taxonomy used across the engine.
package chat

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a stored message.
type MessageType string

const (
	TypeChat      MessageType = "chat"
	TypeSystem    MessageType = "system"
	TypeSummary   MessageType = "summary"
	TypeModerator MessageType = "moderator"
	TypeMinutes   MessageType = "minutes"
)

// Message is one utterance in the room. It is immutable once created;
// ReplyToID is resolved at append time by the history store.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
	Target    string      `json:"target,omitempty"`
	Type      MessageType `json:"type"`

	// FromHuman marks human-authored stimuli; selection scoring boosts them.
	FromHuman bool `json:"from_human,omitempty"`
	// Directive marks a moderator message re-emitted after directive
	// extraction; it widens fan-out and lowers the score threshold.
	Directive bool `json:"directive,omitempty"`
}

// New creates a chat message with a fresh ID and the current timestamp.
func New(from, content string, typ MessageType) Message {
	return Message{
		ID:        fmt.Sprintf("%s_%s", typ, uuid.New().String()),
		From:      from,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Type:      typ,
	}
}

var mentionRe = regexp.MustCompile(`@(\w+)`)

// Mentions returns every @name token in the content, in order.
func (m Message) Mentions() []string {
	matches := mentionRe.FindAllStringSubmatch(m.Content, -1)
	out := make([]string, 0, len(matches))
	for _, g := range matches {
		out = append(out, g[1])
	}
	return out
}

// FirstMention returns the first @name token, or "" if none.
func (m Message) FirstMention() string {
	if g := mentionRe.FindStringSubmatch(m.Content); g != nil {
		return g[1]
	}
	return ""
}

// ContainsQuestion reports whether the content asks a question; questions
// raise candidate scores during selection.
func ContainsQuestion(content string) bool {
	return strings.Contains(content, "?")
}

// MentionsName reports whether the content @mentions the given participant.
func (m Message) MentionsName(name string) bool {
	for _, mention := range m.Mentions() {
		if mention == name {
			return true
		}
	}
	return false
}
