package inbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tOgg1/opsinbox/internal/carrier"
	"github.com/tOgg1/opsinbox/internal/models"
)

// fakeThreadBackend serves a fixed thread list with optional aggregate-query
// failure and records mark-read calls.
type fakeThreadBackend struct {
	mu           sync.Mutex
	threads      []models.ThreadWithPreview
	aggregateErr error
	markReadErr  error
	markReadIDs  []int64
}

func (f *fakeThreadBackend) ListWithLatest(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aggregateErr != nil {
		return nil, f.aggregateErr
	}
	return f.pageLocked(page, pageSize), nil
}

func (f *fakeThreadBackend) ListPlain(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stripped := f.pageLocked(page, pageSize)
	for i := range stripped {
		stripped[i].LatestMessage = nil
	}
	return stripped, nil
}

func (f *fakeThreadBackend) pageLocked(page, pageSize int) []models.ThreadWithPreview {
	sorted := make([]models.ThreadWithPreview, len(f.threads))
	copy(sorted, f.threads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Activity().After(sorted[j].Activity())
	})
	start := page * pageSize
	if start >= len(sorted) {
		return nil
	}
	end := start + pageSize
	if end > len(sorted) {
		end = len(sorted)
	}
	out := make([]models.ThreadWithPreview, end-start)
	copy(out, sorted[start:end])
	return out
}

func (f *fakeThreadBackend) MarkRead(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadIDs = append(f.markReadIDs, id)
	return f.markReadErr
}

// fakeMessageBackend serves per-thread ascending histories the way the
// repository does: descending pages with limit/offset.
type fakeMessageBackend struct {
	mu          sync.Mutex
	byThread    map[int64][]models.Message
	attachments map[int64][]models.Attachment

	// listHook runs at the start of ListPage, before the snapshot is taken.
	listHook func(threadID int64, page int)
}

func newFakeMessageBackend() *fakeMessageBackend {
	return &fakeMessageBackend{
		byThread:    make(map[int64][]models.Message),
		attachments: make(map[int64][]models.Attachment),
	}
}

func (f *fakeMessageBackend) add(threadID int64, msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ThreadID = threadID
	f.byThread[threadID] = append(f.byThread[threadID], msg)
}

func (f *fakeMessageBackend) ListPage(ctx context.Context, threadID int64, page, pageSize int) ([]models.Message, error) {
	if f.listHook != nil {
		f.listHook(threadID, page)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	desc := make([]models.Message, len(f.byThread[threadID]))
	copy(desc, f.byThread[threadID])
	sort.SliceStable(desc, func(i, j int) bool {
		return desc[i].CreatedAt.After(desc[j].CreatedAt)
	})
	start := page * pageSize
	if start >= len(desc) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(desc) {
		end = len(desc)
	}
	out := make([]models.Message, end-start)
	copy(out, desc[start:end])
	return out, nil
}

func (f *fakeMessageBackend) Search(ctx context.Context, threadID int64, query string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	needle := strings.ToLower(query)
	for _, m := range f.byThread[threadID] {
		if strings.Contains(strings.ToLower(m.Text), needle) || strings.Contains(strings.ToLower(m.SpeechText), needle) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeMessageBackend) AttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64][]models.Attachment)
	for _, id := range messageIDs {
		if atts, ok := f.attachments[id]; ok {
			out[id] = atts
		}
	}
	return out, nil
}

// fakeUploader returns deterministic URLs, failing after failAfter uploads
// when failAfter >= 0.
type fakeUploader struct {
	mu        sync.Mutex
	uploaded  []string
	failAfter int
}

func (f *fakeUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.uploaded) >= f.failAfter {
		return "", fmt.Errorf("storage unavailable")
	}
	f.uploaded = append(f.uploaded, name)
	return "https://cdn.example.com/" + name, nil
}

// fakeCarrier records send requests and optionally fails.
type fakeCarrier struct {
	mu       sync.Mutex
	requests []carrier.SendRequest
	err      error
}

func (f *fakeCarrier) Send(ctx context.Context, req carrier.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func seedThreadPreview(id int64, name string, updatedAt time.Time) models.ThreadWithPreview {
	return models.ThreadWithPreview{
		Thread: models.Thread{
			ID:        id,
			GroupID:   fmt.Sprintf("group-%d", id),
			Name:      name,
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		},
	}
}

func seedMessage(id int64, messageID, text string, dir models.Direction, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		MessageID: messageID,
		Direction: dir,
		Text:      text,
		CreatedAt: at,
	}
}
