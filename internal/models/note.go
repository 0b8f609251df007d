package models

import "time"

// ThreadNote is a durable AI-derived insight anchored to the last message of
// the conversation segment it was extracted from. Notes are created by the
// extraction pipeline and never edited or deleted by this subsystem.
type ThreadNote struct {
	ID         int64
	ThreadID   int64
	Content    string
	SourceText string
	// MessageID is the anchor: the MessageID of the segment's final message.
	// A segment whose final MessageID already appears as an anchor is skipped
	// on later extraction runs.
	MessageID string
	CreatedAt time.Time
}
