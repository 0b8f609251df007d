package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsinbox/internal/models"
)

func TestSearchController_WrapNavigation(t *testing.T) {
	backend := newFakeMessageBackend()
	for i := 0; i < 3; i++ {
		backend.add(1, seedMessage(int64(i+1), fmt.Sprintf("m-%d", i), fmt.Sprintf("foo %d", i),
			models.DirectionInbound, base.Add(time.Duration(i)*time.Minute)))
	}

	messages := NewMessageStore(backend)
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))
	search := NewSearchController(backend, messages)

	count, err := search.Search(context.Background(), 1, "foo")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	idx, total := search.Index()
	require.Equal(t, 0, idx)
	require.Equal(t, 3, total)

	hit, err := search.Navigate(context.Background(), NavigatePrev)
	require.NoError(t, err)
	require.Equal(t, "m-2", hit.MessageID)
	idx, _ = search.Index()
	require.Equal(t, 2, idx)

	hit, err = search.Navigate(context.Background(), NavigateNext)
	require.NoError(t, err)
	require.Equal(t, "m-0", hit.MessageID)
	idx, _ = search.Index()
	require.Equal(t, 0, idx)
}

func TestSearchController_NavigateLoadsOlderPages(t *testing.T) {
	backend := newFakeMessageBackend()
	total := MessagePageSize*2 + 10
	for i := 0; i < total; i++ {
		text := fmt.Sprintf("msg %d", i)
		if i == 0 {
			text = "needle from the very beginning"
		}
		backend.add(1, seedMessage(int64(i+1), fmt.Sprintf("m-%03d", i), text,
			models.DirectionInbound, base.Add(time.Duration(i)*time.Minute)))
	}

	messages := NewMessageStore(backend)
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))
	require.False(t, messages.Contains("m-000"))

	search := NewSearchController(backend, messages)
	count, err := search.Search(context.Background(), 1, "needle")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	hit, err := search.Navigate(context.Background(), NavigateNext)
	require.NoError(t, err)
	require.Equal(t, "m-000", hit.MessageID)
	require.True(t, messages.Contains("m-000"))
	require.Len(t, messages.Messages(), total)
}

func TestSearchController_EmptyQueryClears(t *testing.T) {
	backend := newFakeMessageBackend()
	backend.add(1, seedMessage(1, "m-1", "foo", models.DirectionInbound, base))

	messages := NewMessageStore(backend)
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))
	search := NewSearchController(backend, messages)

	_, err := search.Search(context.Background(), 1, "foo")
	require.NoError(t, err)
	require.Equal(t, "foo", search.Query())

	count, err := search.Search(context.Background(), 1, "  ")
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, search.Query())

	hit, err := search.Navigate(context.Background(), NavigateNext)
	require.NoError(t, err)
	require.Nil(t, hit)
}

func TestSearchController_MatchesSpeechText(t *testing.T) {
	backend := newFakeMessageBackend()
	voice := seedMessage(1, "m-1", "", models.DirectionInbound, base)
	voice.SpeechText = "transcribed FOO here"
	backend.add(1, voice)

	messages := NewMessageStore(backend)
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))
	search := NewSearchController(backend, messages)

	count, err := search.Search(context.Background(), 1, "foo")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
