package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/ai"
	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
)

const (
	noInsightsSentinel = "NO_INSIGHTS"
	maxSourceExcerpt   = 500

	extractionPrompt = `You analyze chat transcripts between a creator and their management team.
Extract durable insights about the creator: preferences, boundaries, schedule constraints, personal details, and commitments.
Return one insight per line with no numbering or bullets.
If the transcript contains no durable insight, reply with exactly NO_INSIGHTS.`
)

// Validation errors for Evaluate, raised before any side effect.
var (
	ErrNoCreator      = errors.New("thread has no linked creator")
	ErrNoCreatorPhone = errors.New("linked creator has no phone number")
)

// ThreadGetter resolves a thread row.
type ThreadGetter interface {
	Get(ctx context.Context, id int64) (*models.Thread, error)
}

// CreatorGetter resolves a creator row.
type CreatorGetter interface {
	Get(ctx context.Context, id int64) (*models.Creator, error)
}

// MessageHistory loads a thread's full ascending history.
type MessageHistory interface {
	ListAll(ctx context.Context, threadID int64) ([]models.Message, error)
}

// NoteStore persists notes and exposes the processed-segment anchor set.
type NoteStore interface {
	Insert(ctx context.Context, note *models.ThreadNote) error
	AnchorIDs(ctx context.Context, threadID int64) (map[string]struct{}, error)
}

// Progress reports incremental evaluation state so a caller can render a
// progress indicator.
type Progress func(processed, total, notesCreated int)

// Evaluator runs the extraction pipeline: segment the history, skip segments
// already anchored by a note, send the rest to the AI endpoint, persist each
// insight as a ThreadNote. An AI failure degrades to one fallback note per
// segment and never aborts later segments.
type Evaluator struct {
	threads   ThreadGetter
	creators  CreatorGetter
	messages  MessageHistory
	notes     NoteStore
	completer ai.Completer
	segmenter Segmenter
	logger    zerolog.Logger
	now       func() time.Time
}

// EvaluatorConfig wires an Evaluator's collaborators.
type EvaluatorConfig struct {
	Threads   ThreadGetter
	Creators  CreatorGetter
	Messages  MessageHistory
	Notes     NoteStore
	Completer ai.Completer
	Segmenter Segmenter
	Now       func() time.Time
}

func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Threads == nil || cfg.Creators == nil || cfg.Messages == nil || cfg.Notes == nil {
		return nil, fmt.Errorf("evaluator: repositories are required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("evaluator: completer is required")
	}
	segmenter := cfg.Segmenter
	if segmenter == nil {
		segmenter = NewTopicSegmenter()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{
		threads:   cfg.Threads,
		creators:  cfg.Creators,
		messages:  cfg.Messages,
		notes:     cfg.Notes,
		completer: cfg.Completer,
		segmenter: segmenter,
		logger:    logging.Component("notes"),
		now:       now,
	}, nil
}

// Evaluate processes a thread and returns the number of notes created.
func (e *Evaluator) Evaluate(ctx context.Context, threadID int64, progress Progress) (int, error) {
	thread, err := e.threads.Get(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("load thread %d: %w", threadID, err)
	}
	if thread.ClientID == nil {
		return 0, ErrNoCreator
	}
	creator, err := e.creators.Get(ctx, *thread.ClientID)
	if err != nil {
		return 0, fmt.Errorf("load creator %d: %w", *thread.ClientID, err)
	}
	if strings.TrimSpace(creator.Phone) == "" {
		return 0, ErrNoCreatorPhone
	}

	history, err := e.messages.ListAll(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	anchors, err := e.notes.AnchorIDs(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("load note anchors: %w", err)
	}

	var pending []Segment
	for _, seg := range e.segmenter.Segment(history) {
		if _, done := anchors[seg.LastMessageID()]; done {
			continue
		}
		pending = append(pending, seg)
	}

	total := len(pending)
	created := 0
	for i, seg := range pending {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		n, err := e.processSegment(ctx, threadID, creator, seg)
		if err != nil {
			// Segment-level failure never aborts the batch.
			e.logger.Warn().Err(err).Int64("thread_id", threadID).Msg("segment processing failed")
		}
		created += n
		if progress != nil {
			progress(i+1, total, created)
		}
	}
	return created, nil
}

func (e *Evaluator) processSegment(ctx context.Context, threadID int64, creator *models.Creator, seg Segment) (int, error) {
	creatorText := creatorText(seg, creator)
	if creatorText == "" {
		// Nothing attributed to the creator; no insight to extract.
		return 0, nil
	}

	insights, err := e.extract(ctx, seg)
	if err != nil {
		e.logger.Warn().Err(err).Msg("extraction call failed, writing fallback note")
		fallback := &models.ThreadNote{
			ThreadID:   threadID,
			Content:    fmt.Sprintf("Unprocessed conversation excerpt from %s: %s", creator.Name, truncate(creatorText, maxSourceExcerpt)),
			SourceText: truncate(creatorText, maxSourceExcerpt),
			MessageID:  seg.LastMessageID(),
			CreatedAt:  e.now(),
		}
		if err := e.notes.Insert(ctx, fallback); err != nil {
			return 0, fmt.Errorf("insert fallback note: %w", err)
		}
		return 1, nil
	}

	created := 0
	for _, insight := range insights {
		note := &models.ThreadNote{
			ThreadID:   threadID,
			Content:    insight,
			SourceText: truncate(creatorText, maxSourceExcerpt),
			MessageID:  seg.LastMessageID(),
			CreatedAt:  e.now(),
		}
		if err := e.notes.Insert(ctx, note); err != nil {
			return created, fmt.Errorf("insert note: %w", err)
		}
		created++
	}
	return created, nil
}

func (e *Evaluator) extract(ctx context.Context, seg Segment) ([]string, error) {
	response, err := e.completer.Complete(ctx, extractionPrompt, transcript(seg))
	if err != nil {
		return nil, err
	}
	response = strings.TrimSpace(response)
	if response == "" || strings.EqualFold(response, noInsightsSentinel) {
		return nil, nil
	}

	var insights []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, noInsightsSentinel) {
			continue
		}
		insights = append(insights, line)
	}
	return insights, nil
}

// transcript renders the segment as "sender: body" lines for the AI call.
func transcript(seg Segment) string {
	var b strings.Builder
	for _, msg := range seg.Messages {
		body := msg.Body()
		if body == "" {
			continue
		}
		name := msg.SenderName
		if name == "" {
			name = msg.SenderHandle
		}
		if name == "" {
			name = string(msg.Direction)
		}
		fmt.Fprintf(&b, "%s: %s\n", name, body)
	}
	return b.String()
}

// creatorText concatenates the segment's messages attributed to the creator.
func creatorText(seg Segment, creator *models.Creator) string {
	var parts []string
	for _, msg := range seg.Messages {
		if msg.Direction != models.DirectionInbound {
			continue
		}
		if msg.SenderHandle != creator.Phone {
			continue
		}
		if body := msg.Body(); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
