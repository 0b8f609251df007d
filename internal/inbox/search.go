package inbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
)

// NavigateDirection selects where the search cursor moves.
type NavigateDirection int

const (
	NavigateNext NavigateDirection = iota
	NavigatePrev
)

// SearchController runs server-backed substring search over the open thread
// and a wrap-around cursor over the results. Navigating to a hit outside the
// loaded message window pulls older pages in until the hit is present.
type SearchController struct {
	backend  MessageBackend
	messages *MessageStore
	logger   zerolog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	threadID int64
	query    string
	results  []models.Message
	index    int
}

func NewSearchController(backend MessageBackend, messages *MessageStore) *SearchController {
	return &SearchController{
		backend:  backend,
		messages: messages,
		logger:   logging.Component("inbox.search"),
		timeout:  defaultTimeout,
	}
}

// Search runs a case-insensitive substring query over the thread's text and
// transcript fields, ordered by time. An empty query clears the state.
// Returns the number of hits.
func (c *SearchController) Search(ctx context.Context, threadID int64, query string) (int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.Clear()
		return 0, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	results, err := c.backend.Search(callCtx, threadID, query)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = threadID
	c.query = query
	c.results = results
	c.index = 0
	return len(results), nil
}

// Navigate moves the cursor with wrap-around and returns the hit it lands
// on, after making sure the hit is inside the loaded message window (loading
// older pages as needed). Returns nil when there are no results.
func (c *SearchController) Navigate(ctx context.Context, dir NavigateDirection) (*models.Message, error) {
	c.mu.Lock()
	if len(c.results) == 0 {
		c.mu.Unlock()
		return nil, nil
	}
	switch dir {
	case NavigatePrev:
		c.index--
		if c.index < 0 {
			c.index = len(c.results) - 1
		}
	default:
		c.index++
		if c.index >= len(c.results) {
			c.index = 0
		}
	}
	target := c.results[c.index]
	threadID := c.threadID
	c.mu.Unlock()

	if err := c.ensureLoaded(ctx, threadID, target.MessageID); err != nil {
		return nil, err
	}
	return &target, nil
}

// ensureLoaded pulls older history pages until the target is in the window
// or no older page remains.
func (c *SearchController) ensureLoaded(ctx context.Context, threadID int64, messageID string) error {
	for !c.messages.Contains(messageID) {
		if !c.messages.HasMore() || c.messages.ThreadID() != threadID {
			c.logger.Debug().Str("message_id", messageID).Msg("search hit not reachable in window")
			return nil
		}
		if err := c.messages.LoadThread(ctx, threadID, c.messages.Page()+1); err != nil {
			return err
		}
	}
	return nil
}

// Index returns the current cursor position and result count.
func (c *SearchController) Index() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index, len(c.results)
}

// Query returns the active query, empty when cleared.
func (c *SearchController) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Clear drops query, results, and cursor. Called on thread switch and when
// the search surface closes.
func (c *SearchController) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = 0
	c.query = ""
	c.results = nil
	c.index = 0
}
