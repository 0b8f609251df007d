package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PendingIDPrefix marks locally created message IDs that have not been
// confirmed by the backing store yet.
const PendingIDPrefix = "pending-"

// Message is one chat event within a thread.
//
// ID is the server-assigned row identity and is zero for optimistic entries.
// MessageID is the externally meaningful identifier used for dedup and
// addressing; within a thread it is unique.
type Message struct {
	ID            int64
	MessageID     string
	ThreadID      int64
	Direction     Direction
	Text          string
	SpeechText    string
	SenderHandle  string
	SenderName    string
	Reaction      string
	CreatedAt     time.Time
	TeamMemberID  *int64
	CorrelationID string
	Attachments   []Attachment
}

// Attachment is a stored file linked to a message.
type Attachment struct {
	ID  int64
	URL string
}

// Body returns the display text: Text when present, otherwise the voice
// transcript.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.SpeechText
}

// Pending reports whether the message is an optimistic local entry awaiting
// server confirmation.
func (m *Message) Pending() bool {
	return strings.HasPrefix(m.MessageID, PendingIDPrefix)
}

// NewPendingID generates a temporary message ID for an optimistic entry.
func NewPendingID() string {
	return PendingIDPrefix + uuid.New().String()
}
