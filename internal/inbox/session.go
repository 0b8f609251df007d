package inbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
	"github.com/tOgg1/opsinbox/internal/settings"
)

// Session is the realtime router for one open dashboard session. It holds
// the two bus subscriptions for its whole lifetime; thread relevance is
// decided per event against the selection read at dispatch time, never
// captured at subscription time.
type Session struct {
	threads  *ThreadStore
	messages *MessageStore
	search   *SearchController
	bus      events.Publisher
	settings *settings.Manager
	logger   zerolog.Logger

	baseCtx context.Context

	mu       sync.Mutex
	selected int64
	subIDs   []string
	closed   bool

	onAlert  func()
	onScroll func(threadID int64)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAlertHook registers the sound-alert side effect, fired once per
// inbound insert when alerts are enabled.
func WithAlertHook(fn func()) SessionOption {
	return func(s *Session) { s.onAlert = fn }
}

// WithScrollHook registers the end-of-list scroll request for inserts on the
// open thread.
func WithScrollHook(fn func(threadID int64)) SessionOption {
	return func(s *Session) { s.onScroll = fn }
}

func NewSession(threads *ThreadStore, messages *MessageStore, search *SearchController, bus events.Publisher, state *settings.Manager, opts ...SessionOption) (*Session, error) {
	if threads == nil || messages == nil {
		return nil, fmt.Errorf("session: thread and message stores are required")
	}
	if bus == nil {
		return nil, fmt.Errorf("session: bus is required")
	}
	s := &Session{
		threads:  threads,
		messages: messages,
		search:   search,
		bus:      bus,
		settings: state,
		logger:   logging.Component("inbox.session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start loads the first thread page and establishes the subscriptions. ctx
// outlives Start: it bounds the backend calls made from event handlers.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session: already closed")
	}
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.threads.LoadPage(ctx, 0); err != nil {
		return fmt.Errorf("initial thread load: %w", err)
	}

	threadSub := "session-threads-" + uuid.New().String()
	if err := s.bus.Subscribe(threadSub, events.Filter{
		EventTypes: []events.EventType{events.EventThreadChanged},
	}, s.handleThreadChanged); err != nil {
		return fmt.Errorf("subscribe threads: %w", err)
	}

	messageSub := "session-messages-" + uuid.New().String()
	if err := s.bus.Subscribe(messageSub, events.Filter{
		EventTypes: []events.EventType{events.EventMessageInserted},
	}, s.handleMessageInserted); err != nil {
		s.bus.Unsubscribe(threadSub)
		return fmt.Errorf("subscribe messages: %w", err)
	}

	s.mu.Lock()
	s.subIDs = []string{threadSub, messageSub}
	s.mu.Unlock()

	if s.settings != nil {
		if last := s.settings.LastThreadID(); last > 0 {
			if _, ok := s.threads.Get(last); ok {
				if err := s.Select(ctx, last); err != nil {
					s.logger.Warn().Err(err).Int64("thread_id", last).Msg("restoring last thread failed")
				}
			}
		}
	}
	return nil
}

// Select opens a thread: clears search state, marks the thread read, and
// loads its most recent history page.
func (s *Session) Select(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	s.selected = threadID
	s.mu.Unlock()

	if s.search != nil {
		s.search.Clear()
	}
	s.threads.MarkRead(ctx, threadID)
	if err := s.messages.LoadThread(ctx, threadID, 0); err != nil {
		return err
	}
	if s.settings != nil {
		s.settings.SetLastThreadID(threadID)
	}
	return nil
}

// SaveDraft stores the compose box contents for the open thread so the text
// survives switching threads and restarts. An empty body removes the draft.
func (s *Session) SaveDraft(body string) {
	if s.settings == nil {
		return
	}
	threadID := s.Selected()
	if threadID == 0 {
		return
	}
	s.settings.SetDraft(settings.Draft{ThreadID: threadID, Body: body})
}

// Draft returns the saved compose box contents for the open thread.
func (s *Session) Draft() (string, bool) {
	if s.settings == nil {
		return "", false
	}
	threadID := s.Selected()
	if threadID == 0 {
		return "", false
	}
	draft, ok := s.settings.Draft(threadID)
	if !ok {
		return "", false
	}
	return draft.Body, true
}

// Selected returns the open thread's id, 0 when none.
func (s *Session) Selected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Session) handleThreadChanged(event events.Event) {
	ctx := s.handlerContext()
	if ctx == nil {
		return
	}
	// Thread-table changes are low frequency; refetching beats patching.
	if err := s.threads.LoadPage(ctx, 0); err != nil {
		s.logger.Warn().Err(err).Msg("thread refresh failed")
	}
}

func (s *Session) handleMessageInserted(event events.Event) {
	msg := event.Message
	if msg == nil {
		return
	}
	selected := s.Selected()

	if !s.threads.ApplyIncoming(msg) {
		// Message for a thread outside the loaded list; refresh.
		if ctx := s.handlerContext(); ctx != nil {
			if err := s.threads.LoadPage(ctx, 0); err != nil {
				s.logger.Warn().Err(err).Msg("thread refresh failed")
			}
		}
	}

	if msg.ThreadID == selected {
		s.messages.AppendIncoming(msg)
		if s.onScroll != nil {
			s.onScroll(msg.ThreadID)
		}
	}

	if msg.Direction == models.DirectionInbound && s.alertsEnabled(msg.ThreadID) && s.onAlert != nil {
		s.onAlert()
	}
}

func (s *Session) alertsEnabled(threadID int64) bool {
	if s.settings == nil {
		return false
	}
	return s.settings.Preferences().SoundAlerts && !s.settings.Muted(threadID)
}

func (s *Session) handlerContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.baseCtx
}

// Close releases the subscriptions. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subIDs := s.subIDs
	s.subIDs = nil
	s.mu.Unlock()

	for _, id := range subIDs {
		if err := s.bus.Unsubscribe(id); err != nil {
			s.logger.Debug().Err(err).Str("subscription", id).Msg("unsubscribe failed")
		}
	}
}
