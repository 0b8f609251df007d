package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
)

// MessageStore holds the open thread's message window, ascending by time.
// Newer messages arrive only via AppendIncoming (the thread is live); older
// pages are prepended by LoadThread with increasing page numbers.
type MessageStore struct {
	backend MessageBackend
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu       sync.Mutex
	threadID int64
	messages []models.Message
	page     int
	hasMore  bool

	loadCancel context.CancelFunc
	loadGen    uint64
}

// MessageStoreOption configures a MessageStore.
type MessageStoreOption func(*MessageStore)

// WithMessageClock overrides the store's clock.
func WithMessageClock(now func() time.Time) MessageStoreOption {
	return func(s *MessageStore) { s.now = now }
}

// WithMessageTimeout sets the per-load timeout.
func WithMessageTimeout(d time.Duration) MessageStoreOption {
	return func(s *MessageStore) { s.timeout = d }
}

func NewMessageStore(backend MessageBackend, opts ...MessageStoreOption) *MessageStore {
	s := &MessageStore{
		backend: backend,
		logger:  logging.Component("inbox.messages"),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadThread fetches one page of the thread's history. Page 0 switches the
// store to threadID up front, so inserts delivered while the page is in
// flight are collected and merged behind it; later pages prepend older
// messages. Attachments for the page are resolved in one batched query. A
// load superseded by a newer one, or arriving after the selection moved to a
// different thread, discards its result.
func (s *MessageStore) LoadThread(ctx context.Context, threadID int64, page int) error {
	s.mu.Lock()
	if s.loadCancel != nil {
		s.loadCancel()
	}
	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.loadCancel = cancel
	s.loadGen++
	gen := s.loadGen
	if page == 0 {
		// Switch the window before the fetch so inserts that arrive while
		// the page is in flight land in it instead of being dropped.
		s.threadID = threadID
		s.messages = nil
	}
	s.mu.Unlock()
	defer cancel()

	fetched, err := s.backend.ListPage(loadCtx, threadID, page, MessagePageSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	// Fetched descending; reverse to ascending for the window.
	pageLen := len(fetched)
	for i, j := 0, len(fetched)-1; i < j; i, j = i+1, j-1 {
		fetched[i], fetched[j] = fetched[j], fetched[i]
	}

	if len(fetched) > 0 {
		ids := make([]int64, 0, len(fetched))
		for _, m := range fetched {
			ids = append(ids, m.ID)
		}
		attachments, err := s.backend.AttachmentsFor(loadCtx, ids)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for i := range fetched {
			fetched[i].Attachments = attachments[fetched[i].ID]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		return nil
	}
	if page == 0 {
		// Keep inserts that arrived during the fetch; they are newer than
		// anything in the page, so they follow it.
		inFetched := make(map[string]struct{}, len(fetched))
		for _, m := range fetched {
			inFetched[m.MessageID] = struct{}{}
		}
		for _, m := range s.messages {
			if _, ok := inFetched[m.MessageID]; !ok {
				fetched = append(fetched, m)
			}
		}
		s.messages = fetched
	} else {
		if s.threadID != threadID {
			// Stale response for a thread that is no longer open.
			return nil
		}
		s.messages = append(s.dedupAgainstLocked(fetched), s.messages...)
	}
	s.page = page
	s.hasMore = pageLen == MessagePageSize
	return nil
}

// dedupAgainstLocked drops fetched entries whose MessageID is already in the
// window, so overlapping pages never introduce duplicates.
func (s *MessageStore) dedupAgainstLocked(fetched []models.Message) []models.Message {
	present := make(map[string]struct{}, len(s.messages))
	for _, m := range s.messages {
		present[m.MessageID] = struct{}{}
	}
	out := fetched[:0]
	for _, m := range fetched {
		if _, ok := present[m.MessageID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// AppendIncoming is the single reconciliation point for realtime inserts and
// send confirmations. Dedup by MessageID; otherwise a confirmed outbound
// message replaces its matching optimistic entry in place (by echoed
// correlation id when present, else oldest unconfirmed entry with the same
// body); otherwise it is appended.
func (s *MessageStore) AppendIncoming(msg *models.Message) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ThreadID != s.threadID {
		return
	}

	for i := range s.messages {
		if s.messages[i].MessageID == msg.MessageID {
			s.messages[i] = *msg
			return
		}
	}

	if idx := s.matchOptimisticLocked(msg); idx >= 0 {
		s.messages[idx] = *msg
		return
	}
	s.messages = append(s.messages, *msg)
}

func (s *MessageStore) matchOptimisticLocked(msg *models.Message) int {
	if msg.Direction != models.DirectionOutbound {
		return -1
	}
	if msg.CorrelationID != "" {
		for i := range s.messages {
			if s.messages[i].Pending() && s.messages[i].CorrelationID == msg.CorrelationID {
				return i
			}
		}
	}
	// The feed may not echo the correlation id; fall back to matching the
	// oldest unconfirmed entry with identical text.
	for i := range s.messages {
		if s.messages[i].Pending() && s.messages[i].Body() == msg.Body() {
			return i
		}
	}
	return -1
}

// SendOptimistic appends a provisional outbound entry and returns it. The
// caller removes it via RemoveOptimistic if the send fails; on success it is
// replaced in place by the confirming realtime event.
func (s *MessageStore) SendOptimistic(threadID int64, text string, attachmentURLs []string, senderName string, teamMemberID *int64) models.Message {
	msg := models.Message{
		MessageID:     models.NewPendingID(),
		ThreadID:      threadID,
		Direction:     models.DirectionOutbound,
		Text:          text,
		SenderName:    senderName,
		TeamMemberID:  teamMemberID,
		CorrelationID: uuid.New().String(),
		CreatedAt:     s.now(),
	}
	for _, url := range attachmentURLs {
		msg.Attachments = append(msg.Attachments, models.Attachment{URL: url})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID == s.threadID {
		s.messages = append(s.messages, msg)
	}
	return msg
}

// RemoveOptimistic deletes a provisional entry after a failed send.
func (s *MessageStore) RemoveOptimistic(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].MessageID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the current window.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Contains reports whether the window holds the given MessageID.
func (s *MessageStore) Contains(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.MessageID == messageID {
			return true
		}
	}
	return false
}

// ThreadID returns the open thread's id, 0 when none.
func (s *MessageStore) ThreadID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// HasMore reports whether an older page is expected.
func (s *MessageStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Page returns the last loaded page index.
func (s *MessageStore) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}
