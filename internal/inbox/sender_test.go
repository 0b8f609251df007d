package inbox

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsinbox/internal/models"
	"github.com/tOgg1/opsinbox/internal/settings"
)

func newSendFixture(t *testing.T, uploader *fakeUploader, proxy *fakeCarrier) (*Sender, *MessageStore, *ThreadStore) {
	t.Helper()

	threadBackend := &fakeThreadBackend{threads: []models.ThreadWithPreview{
		seedThreadPreview(1, "ops", base),
	}}
	threads := NewThreadStore(threadBackend)
	require.NoError(t, threads.LoadPage(context.Background(), 0))

	messages := NewMessageStore(newFakeMessageBackend())
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))

	memberID := int64(3)
	sender, err := NewSender(SenderConfig{
		Messages:     messages,
		Threads:      threads,
		Uploader:     uploader,
		Carrier:      proxy,
		SenderName:   "Alex",
		TeamMemberID: &memberID,
	})
	require.NoError(t, err)
	return sender, messages, threads
}

func openThread() *models.Thread {
	return &models.Thread{ID: 1, GroupID: "group-1"}
}

func TestSender_RejectsEmptySend(t *testing.T) {
	sender, messages, _ := newSendFixture(t, &fakeUploader{failAfter: -1}, &fakeCarrier{})

	err := sender.Send(context.Background(), openThread(), "   ", nil)
	require.ErrorIs(t, err, ErrEmptySend)
	require.Empty(t, messages.Messages())
}

func TestSender_RejectsBadImages(t *testing.T) {
	sender, messages, _ := newSendFixture(t, &fakeUploader{failAfter: -1}, &fakeCarrier{})

	imgs := []Image{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "c.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "d.jpg", ContentType: "image/jpeg", Data: []byte("x")},
	}
	require.ErrorIs(t, sender.Send(context.Background(), openThread(), "", imgs), ErrTooManyImages)

	pdf := []Image{{Name: "doc.pdf", ContentType: "application/pdf", Data: []byte("x")}}
	require.ErrorIs(t, sender.Send(context.Background(), openThread(), "", pdf), ErrNotAnImage)

	huge := []Image{{Name: "big.png", ContentType: "image/png", Data: bytes.Repeat([]byte("x"), maxImageBytes+1)}}
	require.ErrorIs(t, sender.Send(context.Background(), openThread(), "", huge), ErrImageTooLarge)

	require.Empty(t, messages.Messages())
}

func TestSender_UploadFailureAbortsBeforeOptimisticMutation(t *testing.T) {
	uploader := &fakeUploader{failAfter: 1}
	proxy := &fakeCarrier{}
	sender, messages, threads := newSendFixture(t, uploader, proxy)

	imgs := []Image{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("x")},
	}
	err := sender.Send(context.Background(), openThread(), "pics", imgs)
	require.Error(t, err)
	require.Empty(t, messages.Messages())
	require.Empty(t, proxy.requests)
	thread, _ := threads.Get(1)
	require.Nil(t, thread.LatestMessage)
}

func TestSender_ProxyFailureRemovesOptimisticEntry(t *testing.T) {
	proxy := &fakeCarrier{err: fmt.Errorf("carrier 502")}
	sender, messages, _ := newSendFixture(t, &fakeUploader{failAfter: -1}, proxy)

	err := sender.Send(context.Background(), openThread(), "hi", nil)
	require.Error(t, err)
	require.Empty(t, messages.Messages())
}

func TestSender_SuccessLeavesOptimisticEntryForConfirmation(t *testing.T) {
	proxy := &fakeCarrier{}
	sender, messages, threads := newSendFixture(t, &fakeUploader{failAfter: -1}, proxy)

	require.NoError(t, sender.Send(context.Background(), openThread(), "hi", nil))

	msgs := messages.Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Pending())
	require.Equal(t, models.DirectionOutbound, msgs[0].Direction)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, "Alex", msgs[0].SenderName)

	thread, _ := threads.Get(1)
	require.NotNil(t, thread.LatestMessage)
	require.Equal(t, "hi", thread.LatestMessage.Text)

	require.Len(t, proxy.requests, 1)
	req := proxy.requests[0]
	require.Equal(t, "group-1", req.GroupID)
	require.Equal(t, msgs[0].CorrelationID, req.CorrelationID)

	// Confirming realtime event replaces in place.
	confirm := seedMessage(42, "m-42", "hi", models.DirectionOutbound, base.Add(time.Second))
	confirm.ThreadID = 1
	confirm.CorrelationID = req.CorrelationID
	messages.AppendIncoming(&confirm)

	msgs = messages.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m-42", msgs[0].MessageID)
	require.False(t, msgs[0].Pending())
}

func TestSender_UploadsSequentiallyAndForwardsURLs(t *testing.T) {
	uploader := &fakeUploader{failAfter: -1}
	proxy := &fakeCarrier{}
	sender, _, _ := newSendFixture(t, uploader, proxy)

	imgs := []Image{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "b.png", ContentType: "image/png", Data: []byte("y")},
	}
	require.NoError(t, sender.Send(context.Background(), openThread(), "", imgs))

	require.Equal(t, []string{"a.jpg", "b.png"}, uploader.uploaded)
	require.Len(t, proxy.requests, 1)
	require.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.png",
	}, proxy.requests[0].Attachments)
}

func newDraftSendFixture(t *testing.T, proxy *fakeCarrier) (*Sender, *settings.Manager) {
	t.Helper()

	threadBackend := &fakeThreadBackend{threads: []models.ThreadWithPreview{
		seedThreadPreview(1, "ops", base),
	}}
	threads := NewThreadStore(threadBackend)
	require.NoError(t, threads.LoadPage(context.Background(), 0))

	messages := NewMessageStore(newFakeMessageBackend())
	require.NoError(t, messages.LoadThread(context.Background(), 1, 0))

	state := settings.New(filepath.Join(t.TempDir(), "settings.json"))
	state.SetDraft(settings.Draft{ThreadID: 1, Body: "hi"})

	sender, err := NewSender(SenderConfig{
		Messages:   messages,
		Threads:    threads,
		Uploader:   &fakeUploader{failAfter: -1},
		Carrier:    proxy,
		State:      state,
		SenderName: "Alex",
	})
	require.NoError(t, err)
	return sender, state
}

func TestSender_ClearsDraftOnSuccessfulSend(t *testing.T) {
	sender, state := newDraftSendFixture(t, &fakeCarrier{})

	require.NoError(t, sender.Send(context.Background(), openThread(), "hi", nil))

	_, ok := state.Draft(1)
	require.False(t, ok)
}

func TestSender_KeepsDraftWhenProxyFails(t *testing.T) {
	sender, state := newDraftSendFixture(t, &fakeCarrier{err: fmt.Errorf("carrier 502")})

	require.Error(t, sender.Send(context.Background(), openThread(), "hi", nil))

	draft, ok := state.Draft(1)
	require.True(t, ok)
	require.Equal(t, "hi", draft.Body)
}
