package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
)

// ThreadStore holds the paginated, activity-sorted thread list. A newer
// LoadPage supersedes any in-flight one; the superseded load's result is
// discarded and never mutates the list.
type ThreadStore struct {
	backend ThreadBackend
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	threads []models.ThreadWithPreview
	page    int
	hasMore bool

	loadCancel context.CancelFunc
	loadGen    uint64
}

// ThreadStoreOption configures a ThreadStore.
type ThreadStoreOption func(*ThreadStore)

// WithThreadClock overrides the store's clock.
func WithThreadClock(now func() time.Time) ThreadStoreOption {
	return func(s *ThreadStore) { s.now = now }
}

// WithThreadTimeout sets the per-load timeout.
func WithThreadTimeout(d time.Duration) ThreadStoreOption {
	return func(s *ThreadStore) { s.timeout = d }
}

func NewThreadStore(backend ThreadBackend, opts ...ThreadStoreOption) *ThreadStore {
	s := &ThreadStore{
		backend: backend,
		logger:  logging.Component("inbox.threads"),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPage fetches one page of threads, activity-descending. Page 0 replaces
// the list, later pages append. Falls back to the plain thread query when the
// aggregate query fails.
func (s *ThreadStore) LoadPage(ctx context.Context, page int) error {
	s.mu.Lock()
	if s.loadCancel != nil {
		s.loadCancel()
	}
	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.loadCancel = cancel
	s.loadGen++
	gen := s.loadGen
	s.mu.Unlock()
	defer cancel()

	threads, err := s.backend.ListWithLatest(loadCtx, page, ThreadPageSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		s.logger.Warn().Err(err).Msg("aggregate thread query failed, using plain fallback")
		threads, err = s.backend.ListPlain(loadCtx, page, ThreadPageSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		// A newer load superseded this one.
		return nil
	}
	if page == 0 {
		s.threads = threads
	} else {
		s.threads = append(s.threads, threads...)
	}
	s.page = page
	s.hasMore = len(threads) == ThreadPageSize
	s.sortLocked()
	return nil
}

// ApplyIncoming folds a newly observed message into the owning thread's
// preview and re-sorts. Returns false when the thread is not in the list, in
// which case the caller should refresh. Idempotent under duplicate delivery.
func (s *ThreadStore) ApplyIncoming(msg *models.Message) bool {
	if msg == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.threads {
		thread := &s.threads[i]
		if thread.ID != msg.ThreadID {
			continue
		}
		if thread.LatestMessage != nil && msg.CreatedAt.Before(thread.LatestMessage.CreatedAt) {
			// Out-of-order delivery of an older insert; the preview
			// already reflects something newer.
			return true
		}
		thread.LatestMessage = &models.MessagePreview{
			Text:         msg.Body(),
			CreatedAt:    msg.CreatedAt,
			SenderName:   msg.SenderName,
			SenderHandle: msg.SenderHandle,
		}
		if msg.CreatedAt.After(thread.UpdatedAt) {
			thread.UpdatedAt = msg.CreatedAt
		}
		s.sortLocked()
		return true
	}
	return false
}

// MarkRead sets the thread's read marker to now locally, then issues the
// backend call. Read state is best-effort: a backend failure is logged, the
// local marker stays.
func (s *ThreadStore) MarkRead(ctx context.Context, threadID int64) {
	at := s.now()

	s.mu.Lock()
	for i := range s.threads {
		if s.threads[i].ID == threadID {
			t := at
			s.threads[i].LastReadAt = &t
			break
		}
	}
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.MarkRead(callCtx, threadID, at); err != nil {
		s.logger.Warn().Err(err).Int64("thread_id", threadID).Msg("mark read failed")
	}
}

// Threads returns a copy of the current list.
func (s *ThreadStore) Threads() []models.ThreadWithPreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ThreadWithPreview, len(s.threads))
	copy(out, s.threads)
	return out
}

// Get returns the thread with the given id, if present.
func (s *ThreadStore) Get(threadID int64) (models.ThreadWithPreview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.ID == threadID {
			return t, true
		}
	}
	return models.ThreadWithPreview{}, false
}

// HasMore reports whether another page is expected.
func (s *ThreadStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Page returns the last loaded page index.
func (s *ThreadStore) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *ThreadStore) sortLocked() {
	sort.SliceStable(s.threads, func(i, j int) bool {
		return s.threads[i].Activity().After(s.threads[j].Activity())
	})
}
