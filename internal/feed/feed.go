// Package feed connects to the backing store's realtime change feed and
// republishes change notifications on the in-process event bus. Two
// transports are provided: a websocket client and a redis pub/sub listener.
// Delivery is at-least-once in both cases; consumers merge idempotently.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/models"
)

// ChangeEvent is the wire shape of one change notification.
type ChangeEvent struct {
	Table    string       `json:"table"`
	Op       string       `json:"op"`
	ThreadID int64        `json:"thread_id"`
	Message  *WireMessage `json:"message,omitempty"`
}

// WireMessage is the message row as carried on the feed.
type WireMessage struct {
	ID            int64            `json:"id"`
	MessageID     string           `json:"message_id"`
	ThreadID      int64            `json:"thread_id"`
	Direction     string           `json:"direction"`
	Text          string           `json:"text"`
	SpeechText    string           `json:"speech_text"`
	SenderHandle  string           `json:"sender_handle"`
	SenderName    string           `json:"sender_name"`
	Reaction      string           `json:"reaction"`
	CorrelationID string           `json:"correlation_id"`
	TeamMemberID  *int64           `json:"team_member_id"`
	CreatedAt     time.Time        `json:"created_at"`
	Attachments   []WireAttachment `json:"attachments"`
}

// WireAttachment is an attachment row as carried on the feed.
type WireAttachment struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Decode parses a raw feed payload into a bus event. The second return is
// false for payloads this subsystem does not care about.
func Decode(data []byte) (events.Event, bool, error) {
	var change ChangeEvent
	if err := json.Unmarshal(data, &change); err != nil {
		return events.Event{}, false, fmt.Errorf("decode change event: %w", err)
	}

	switch {
	case change.Table == "messages" && change.Op == "insert":
		if change.Message == nil {
			return events.Event{}, false, fmt.Errorf("message insert without message payload")
		}
		msg := toModel(change.Message)
		return events.Event{
			Type:     events.EventMessageInserted,
			ThreadID: msg.ThreadID,
			Message:  msg,
		}, true, nil
	case change.Table == "threads":
		return events.Event{
			Type:     events.EventThreadChanged,
			ThreadID: change.ThreadID,
		}, true, nil
	default:
		return events.Event{}, false, nil
	}
}

func toModel(wire *WireMessage) *models.Message {
	msg := &models.Message{
		ID:            wire.ID,
		MessageID:     wire.MessageID,
		ThreadID:      wire.ThreadID,
		Direction:     models.Direction(wire.Direction),
		Text:          wire.Text,
		SpeechText:    wire.SpeechText,
		SenderHandle:  wire.SenderHandle,
		SenderName:    wire.SenderName,
		Reaction:      wire.Reaction,
		CorrelationID: wire.CorrelationID,
		TeamMemberID:  wire.TeamMemberID,
		CreatedAt:     wire.CreatedAt,
	}
	for _, att := range wire.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{ID: att.ID, URL: att.URL})
	}
	return msg
}
