package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestThreadRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	repo := NewThreadRepository(database)

	clientID := int64(7)
	thread := &models.Thread{
		GroupID:      "grp-1",
		Name:         "Avery",
		ClientID:     &clientID,
		Participants: []string{"+15550001", "+15550002"},
	}
	if err := repo.Create(ctx, thread); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if thread.ID == 0 {
		t.Fatal("Create did not set thread ID")
	}

	got, err := repo.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.GroupID != "grp-1" || got.Name != "Avery" {
		t.Fatalf("unexpected thread: %+v", got)
	}
	if got.ClientID == nil || *got.ClientID != 7 {
		t.Fatalf("unexpected client id: %v", got.ClientID)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("unexpected participants: %v", got.Participants)
	}

	byGroup, err := repo.GetByGroupID(ctx, "grp-1")
	if err != nil {
		t.Fatalf("GetByGroupID: %v", err)
	}
	if byGroup.ID != thread.ID {
		t.Fatalf("expected thread %d, got %d", thread.ID, byGroup.ID)
	}

	if _, err := repo.Get(ctx, 999); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestThreadRepositoryListWithLatestOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	threads := NewThreadRepository(database)
	messages := NewMessageRepository(database)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	quiet := &models.Thread{GroupID: "grp-quiet", CreatedAt: base, UpdatedAt: base.Add(time.Minute)}
	busy := &models.Thread{GroupID: "grp-busy", CreatedAt: base, UpdatedAt: base}
	for _, thread := range []*models.Thread{quiet, busy} {
		if err := threads.Create(ctx, thread); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// busy gets a message newer than quiet's updated_at.
	_, err := messages.Insert(ctx, &models.Message{
		MessageID: "m1",
		ThreadID:  busy.ID,
		Direction: models.DirectionInbound,
		Text:      "hey",
		CreatedAt: base.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	page, err := threads.ListWithLatest(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListWithLatest: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(page))
	}
	if page[0].GroupID != "grp-busy" {
		t.Fatalf("expected grp-busy first, got %s", page[0].GroupID)
	}
	if page[0].LatestMessage == nil || page[0].LatestMessage.Text != "hey" {
		t.Fatalf("unexpected preview: %+v", page[0].LatestMessage)
	}
	if page[1].LatestMessage != nil {
		t.Fatalf("expected no preview on quiet thread, got %+v", page[1].LatestMessage)
	}
}

func TestThreadRepositoryListPlainFallback(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	repo := NewThreadRepository(database)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := &models.Thread{GroupID: "grp-a", CreatedAt: base, UpdatedAt: base}
	newer := &models.Thread{GroupID: "grp-b", CreatedAt: base, UpdatedAt: base.Add(time.Hour)}
	for _, thread := range []*models.Thread{older, newer} {
		if err := repo.Create(ctx, thread); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := repo.ListPlain(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListPlain: %v", err)
	}
	if len(page) != 2 || page[0].GroupID != "grp-b" {
		t.Fatalf("unexpected order: %+v", page)
	}
	for _, twp := range page {
		if twp.LatestMessage != nil {
			t.Fatalf("plain list should not carry previews: %+v", twp)
		}
	}
}

func TestThreadRepositoryMarkRead(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	repo := NewThreadRepository(database)

	thread := &models.Thread{GroupID: "grp-1"}
	if err := repo.Create(ctx, thread); err != nil {
		t.Fatalf("Create: %v", err)
	}

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if err := repo.MarkRead(ctx, thread.ID, at); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	got, err := repo.Get(ctx, thread.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastReadAt == nil || !got.LastReadAt.Equal(at) {
		t.Fatalf("unexpected last read: %v", got.LastReadAt)
	}

	if err := repo.MarkRead(ctx, 999, at); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}
