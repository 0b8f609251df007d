package notes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsinbox/internal/models"
)

var segBase = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, dir models.Direction, text string, at time.Time) models.Message {
	return models.Message{MessageID: id, Direction: dir, Text: text, CreatedAt: at}
}

func TestTopicSegmenter_TimeGap(t *testing.T) {
	seg := NewTopicSegmenter()

	apart := seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "still thinking about the schedule", segBase),
		msg("b", models.DirectionInbound, "ok back now", segBase.Add(2*time.Hour)),
	})
	require.Len(t, apart, 2)

	together := seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "still thinking about the schedule", segBase),
		msg("b", models.DirectionInbound, "leaning towards tuesday", segBase.Add(5*time.Minute)),
	})
	require.Len(t, together, 1)
	require.Len(t, together[0].Messages, 2)
}

func TestTopicSegmenter_TopicShiftPhrase(t *testing.T) {
	seg := NewTopicSegmenter()

	segments := seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "the shoot went fine", segBase),
		msg("b", models.DirectionInbound, "by the way, I moved apartments", segBase.Add(time.Minute)),
	})
	require.Len(t, segments, 2)
	require.Equal(t, "a", segments[0].LastMessageID())
	require.Equal(t, "b", segments[1].LastMessageID())
}

func TestTopicSegmenter_QuestionTransition(t *testing.T) {
	seg := NewTopicSegmenter()

	segments := seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "I'm done for today", segBase),
		msg("b", models.DirectionOutbound, "when are you free next week?", segBase.Add(time.Minute)),
	})
	require.Len(t, segments, 2)

	// Outbound non-question stays in the same segment.
	segments = seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "I'm done for today", segBase),
		msg("b", models.DirectionOutbound, "sounds good, rest up", segBase.Add(time.Minute)),
	})
	require.Len(t, segments, 1)
}

func TestTopicSegmenter_VoiceTranscriptBody(t *testing.T) {
	seg := NewTopicSegmenter()

	voice := models.Message{
		MessageID:  "b",
		Direction:  models.DirectionInbound,
		SpeechText: "hey so about tomorrow",
		CreatedAt:  segBase.Add(time.Minute),
	}
	segments := seg.Segment([]models.Message{
		msg("a", models.DirectionInbound, "wrapping up", segBase),
		voice,
	})
	require.Len(t, segments, 2)
}

func TestTopicSegmenter_Empty(t *testing.T) {
	require.Nil(t, NewTopicSegmenter().Segment(nil))
}
