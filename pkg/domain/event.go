package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Inbound events — normalized transport input
// ---------------------------------------------------------------------------

// EventKind classifies inbound occurrences.
type EventKind string

const (
	KindMessage   EventKind = "message"   // a chat message
	KindNotice    EventKind = "notice"    // a platform notification (join, leave, ...)
	KindRequest   EventKind = "request"   // something awaiting bot approval
	KindLifecycle EventKind = "lifecycle" // connect/disconnect of a transport
)

// Event is a normalized inbound occurrence. It is immutable once constructed;
// the dispatcher owns it for the duration of one dispatch pass.
type Event struct {
	// ID is a globally unique identifier assigned at normalization time.
	ID string `json:"id"`
	// Seq is a process-local monotonic sequence number assigned on ingress.
	Seq uint64 `json:"seq"`

	Kind     EventKind `json:"kind"`
	Scope    Scope     `json:"scope"`
	SenderID string    `json:"sender_id"`

	// Channel names the transport the event arrived on ("discord", "qq", ...).
	Channel string `json:"channel"`

	// Content is the plain-text rendering of the payload.
	Content string `json:"content"`
	// Raw carries transport-specific fields the adapter chose to preserve.
	Raw map[string]string `json:"raw,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// NewEvent builds a normalized event. Seq stays zero until the dispatcher
// admits the event.
func NewEvent(kind EventKind, scope Scope, senderID, channel, content string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Scope:      scope,
		SenderID:   senderID,
		Channel:    channel,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
}

// IsCommand reports whether the event content starts with the given prefix
// and, if so, returns the remainder with the prefix stripped.
func (e Event) IsCommand(prefix string) (rest string, ok bool) {
	if e.Kind != KindMessage {
		return "", false
	}
	if len(e.Content) < len(prefix) || e.Content[:len(prefix)] != prefix {
		return "", false
	}
	return e.Content[len(prefix):], true
}

// ---------------------------------------------------------------------------
// Outbound messages — handler output handed back to the transports
// ---------------------------------------------------------------------------

// SegmentType classifies a piece of outbound content.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
)

// Segment is one piece of an outbound message.
type Segment struct {
	Type SegmentType `json:"type"`
	// Text holds the content for text segments.
	Text string `json:"text,omitempty"`
	// URL references the content for image segments.
	URL string `json:"url,omitempty"`
}

// Message is an outbound delivery request addressed to a target scope on a
// named channel. ReplyTo optionally references the inbound event ID that the
// message answers.
type Message struct {
	Channel  string    `json:"channel"`
	Scope    Scope     `json:"scope"`
	Segments []Segment `json:"segments"`
	ReplyTo  string    `json:"reply_to,omitempty"`
}

// TextMessage builds a single-segment text message.
func TextMessage(channel string, scope Scope, text string) Message {
	return Message{
		Channel:  channel,
		Scope:    scope,
		Segments: []Segment{{Type: SegmentText, Text: text}},
	}
}

// PlainText concatenates all text segments.
func (m Message) PlainText() string {
	var out string
	for _, seg := range m.Segments {
		if seg.Type == SegmentText {
			out += seg.Text
		}
	}
	return out
}
