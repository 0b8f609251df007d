package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsinbox/internal/models"
)

var base = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func TestThreadStore_LoadPageReplacesAndAppends(t *testing.T) {
	backend := &fakeThreadBackend{}
	for i := 1; i <= ThreadPageSize+5; i++ {
		backend.threads = append(backend.threads,
			seedThreadPreview(int64(i), fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	store := NewThreadStore(backend)
	require.NoError(t, store.LoadPage(context.Background(), 0))
	require.Len(t, store.Threads(), ThreadPageSize)
	require.True(t, store.HasMore())

	require.NoError(t, store.LoadPage(context.Background(), 1))
	require.Len(t, store.Threads(), ThreadPageSize+5)
	require.False(t, store.HasMore())

	// Reloading page 0 replaces rather than appends.
	require.NoError(t, store.LoadPage(context.Background(), 0))
	require.Len(t, store.Threads(), ThreadPageSize)
}

func TestThreadStore_FallsBackToPlainQuery(t *testing.T) {
	backend := &fakeThreadBackend{aggregateErr: fmt.Errorf("procedure missing")}
	preview := seedThreadPreview(1, "ops", base)
	preview.LatestMessage = &models.MessagePreview{Text: "hi", CreatedAt: base}
	backend.threads = []models.ThreadWithPreview{preview}

	store := NewThreadStore(backend)
	require.NoError(t, store.LoadPage(context.Background(), 0))

	threads := store.Threads()
	require.Len(t, threads, 1)
	require.Nil(t, threads[0].LatestMessage)
}

func TestThreadStore_ApplyIncomingReordersByActivity(t *testing.T) {
	t1 := base
	t2 := base.Add(time.Hour)
	t3 := base.Add(2 * time.Hour)

	backend := &fakeThreadBackend{threads: []models.ThreadWithPreview{
		seedThreadPreview(1, "a", t1),
		seedThreadPreview(2, "b", t2),
	}}
	store := NewThreadStore(backend)
	require.NoError(t, store.LoadPage(context.Background(), 0))
	require.Equal(t, int64(2), store.Threads()[0].ID)

	msg := seedMessage(10, "m-10", "new activity", models.DirectionInbound, t3)
	msg.ThreadID = 1
	require.True(t, store.ApplyIncoming(&msg))

	threads := store.Threads()
	require.Equal(t, int64(1), threads[0].ID)
	require.Equal(t, int64(2), threads[1].ID)
	require.Equal(t, "new activity", threads[0].LatestMessage.Text)
}

func TestThreadStore_ApplyIncomingIdempotent(t *testing.T) {
	backend := &fakeThreadBackend{threads: []models.ThreadWithPreview{
		seedThreadPreview(1, "a", base),
	}}
	store := NewThreadStore(backend)
	require.NoError(t, store.LoadPage(context.Background(), 0))

	msg := seedMessage(10, "m-10", "hello", models.DirectionInbound, base.Add(time.Minute))
	msg.ThreadID = 1
	require.True(t, store.ApplyIncoming(&msg))
	first := store.Threads()

	require.True(t, store.ApplyIncoming(&msg))
	require.Equal(t, first, store.Threads())
}

func TestThreadStore_ApplyIncomingIgnoresStaleOlderInsert(t *testing.T) {
	backend := &fakeThreadBackend{threads: []models.ThreadWithPreview{
		seedThreadPreview(1, "a", base),
	}}
	store := NewThreadStore(backend)
	require.NoError(t, store.LoadPage(context.Background(), 0))

	newer := seedMessage(11, "m-11", "newer", models.DirectionInbound, base.Add(2*time.Minute))
	newer.ThreadID = 1
	older := seedMessage(10, "m-10", "older", models.DirectionInbound, base.Add(time.Minute))
	older.ThreadID = 1

	require.True(t, store.ApplyIncoming(&newer))
	require.True(t, store.ApplyIncoming(&older))
	require.Equal(t, "newer", store.Threads()[0].LatestMessage.Text)
}

func TestThreadStore_ApplyIncomingUnknownThread(t *testing.T) {
	store := NewThreadStore(&fakeThreadBackend{})
	msg := seedMessage(1, "m-1", "hi", models.DirectionInbound, base)
	msg.ThreadID = 42
	require.False(t, store.ApplyIncoming(&msg))
}

func TestThreadStore_MarkReadIsOptimistic(t *testing.T) {
	backend := &fakeThreadBackend{
		threads:     []models.ThreadWithPreview{seedThreadPreview(1, "a", base)},
		markReadErr: fmt.Errorf("backend down"),
	}
	now := base.Add(time.Hour)
	store := NewThreadStore(backend, WithThreadClock(func() time.Time { return now }))
	require.NoError(t, store.LoadPage(context.Background(), 0))

	store.MarkRead(context.Background(), 1)

	thread, ok := store.Get(1)
	require.True(t, ok)
	require.NotNil(t, thread.LastReadAt)
	require.Equal(t, now, *thread.LastReadAt)
	require.Equal(t, []int64{1}, backend.markReadIDs)
}

func TestThreadWithPreview_Unread(t *testing.T) {
	readAt := func(ts time.Time) *time.Time { return &ts }
	latest := &models.MessagePreview{CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	cases := []struct {
		name   string
		thread models.ThreadWithPreview
		unread bool
	}{
		{"read marker before latest", models.ThreadWithPreview{
			Thread:        models.Thread{LastReadAt: readAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
			LatestMessage: latest,
		}, true},
		{"read marker after latest", models.ThreadWithPreview{
			Thread:        models.Thread{LastReadAt: readAt(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))},
			LatestMessage: latest,
		}, false},
		{"no read marker", models.ThreadWithPreview{LatestMessage: latest}, true},
		{"no latest message", models.ThreadWithPreview{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.unread, tc.thread.Unread())
		})
	}
}
