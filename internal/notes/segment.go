// Package notes turns raw thread history into durable insight notes: a
// heuristic segmenter splits the history into topical exchanges, and the
// evaluator runs an AI extraction pass over segments that have not produced
// notes yet.
package notes

import (
	"strings"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

// Segment is a contiguous run of messages judged to belong to one exchange.
type Segment struct {
	Messages []models.Message
}

// LastMessageID is the segment's anchor: once a note carries it, the segment
// is considered processed.
func (s Segment) LastMessageID() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].MessageID
}

// Segmenter partitions a chronologically ordered history into segments.
// Pluggable so the heuristic can be swapped for a model-based strategy.
type Segmenter interface {
	Segment(messages []models.Message) []Segment
}

// TopicSegmenter is the default heuristic. A boundary opens between two
// adjacent messages when the next one starts with a topic-shift phrase, the
// time gap exceeds maxGap, or an inbound message is answered by an outbound
// question.
type TopicSegmenter struct {
	maxGap time.Duration
}

func NewTopicSegmenter() *TopicSegmenter {
	return &TopicSegmenter{maxGap: time.Hour}
}

var topicShiftPhrases = []string{
	"hey",
	"hi ",
	"hi!",
	"hello",
	"good morning",
	"good afternoon",
	"good evening",
	"by the way",
	"btw",
	"one more thing",
	"anyway",
	"quick question",
	"changing the subject",
	"on another note",
	"so,",
}

var interrogatives = []string{
	"who", "what", "when", "where", "why", "how",
	"do", "does", "did", "can", "could", "would", "will",
	"is", "are", "should",
}

func (s *TopicSegmenter) Segment(messages []models.Message) []Segment {
	if len(messages) == 0 {
		return nil
	}

	var segments []Segment
	current := Segment{Messages: []models.Message{messages[0]}}
	for i := 1; i < len(messages); i++ {
		prev := &messages[i-1]
		next := &messages[i]
		if s.boundary(prev, next) {
			segments = append(segments, current)
			current = Segment{}
		}
		current.Messages = append(current.Messages, *next)
	}
	return append(segments, current)
}

func (s *TopicSegmenter) boundary(prev, next *models.Message) bool {
	if startsWithTopicShift(next.Body()) {
		return true
	}
	if next.CreatedAt.Sub(prev.CreatedAt) > s.maxGap {
		return true
	}
	if prev.Direction == models.DirectionInbound && next.Direction == models.DirectionOutbound && questionLike(next.Body()) {
		return true
	}
	return false
}

func startsWithTopicShift(body string) bool {
	body = strings.ToLower(strings.TrimSpace(body))
	if body == "" {
		return false
	}
	for _, phrase := range topicShiftPhrases {
		if strings.HasPrefix(body, phrase) {
			return true
		}
	}
	// Bare greetings without trailing text.
	return body == "hi"
}

func questionLike(body string) bool {
	body = strings.ToLower(strings.TrimSpace(body))
	if body == "" {
		return false
	}
	if strings.Contains(body, "?") {
		return true
	}
	first := body
	if idx := strings.IndexAny(body, " \t"); idx > 0 {
		first = body[:idx]
	}
	first = strings.Trim(first, ",.!")
	for _, word := range interrogatives {
		if first == word {
			return true
		}
	}
	return false
}
