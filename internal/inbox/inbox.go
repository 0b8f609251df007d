// Package inbox is the synchronization engine for the operations inbox: the
// thread list, the open thread's message window, the realtime router, the
// optimistic send path, and in-thread search. Stores are safe for concurrent
// use; merges are idempotent because realtime delivery is at-least-once and
// unordered.
package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

const (
	// ThreadPageSize is the thread-list page size.
	ThreadPageSize = 100

	// MessagePageSize is the message-history page size.
	MessagePageSize = 50

	defaultTimeout = 15 * time.Second
)

// ThreadBackend is the thread-list query surface the store needs. The db
// package's ThreadRepository satisfies it.
type ThreadBackend interface {
	ListWithLatest(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error)
	ListPlain(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error)
	MarkRead(ctx context.Context, id int64, at time.Time) error
}

// MessageBackend is the message query surface the store and search need. The
// db package's MessageRepository satisfies it.
type MessageBackend interface {
	ListPage(ctx context.Context, threadID int64, page, pageSize int) ([]models.Message, error)
	Search(ctx context.Context, threadID int64, query string) ([]models.Message, error)
	AttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]models.Attachment, error)
}

// Validation errors, rejected before any side effect.
var (
	ErrEmptySend     = errors.New("message needs text or at least one image")
	ErrTooManyImages = errors.New("at most 3 images per message")
	ErrNotAnImage    = errors.New("attachment is not an image")
	ErrImageTooLarge = errors.New("image exceeds the 50MB limit")
	ErrNoThread      = errors.New("no thread selected")
)
