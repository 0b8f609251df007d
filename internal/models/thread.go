// Package models defines the core domain types for opsinbox.
package models

import (
	"fmt"
	"time"
)

// Thread is a conversation channel between the operator and one external party.
type Thread struct {
	ID           int64
	GroupID      string
	Name         string
	ClientID     *int64
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastReadAt   *time.Time
}

// MessagePreview is the denormalized latest-message summary carried on a
// thread list row.
type MessagePreview struct {
	Text         string
	CreatedAt    time.Time
	SenderName   string
	SenderHandle string
}

// ThreadWithPreview is the shape returned by the threads-with-latest-messages
// aggregate query. It is a distinct type from Thread so store code never
// touches a preview that was not actually fetched.
type ThreadWithPreview struct {
	Thread
	LatestMessage *MessagePreview
}

// DisplayName returns the thread name, falling back to "Thread #<id>".
func (t *Thread) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("Thread #%d", t.ID)
}

// Activity returns the timestamp used for thread-list ordering: the latest
// message's creation time when a preview exists, otherwise UpdatedAt.
func (t *ThreadWithPreview) Activity() time.Time {
	if t.LatestMessage != nil {
		return t.LatestMessage.CreatedAt
	}
	return t.UpdatedAt
}

// Unread reports whether the thread has activity newer than the last read
// marker. A thread with no latest message is never unread.
func (t *ThreadWithPreview) Unread() bool {
	if t.LatestMessage == nil {
		return false
	}
	if t.LastReadAt == nil {
		return true
	}
	return t.LatestMessage.CreatedAt.After(*t.LastReadAt)
}
