package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

// ErrInvalidNote is returned for notes missing required fields.
var ErrInvalidNote = errors.New("invalid note")

// NoteRepository handles thread note persistence. Notes are append-only.
type NoteRepository struct {
	db *DB
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(db *DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Insert persists a note and assigns its ID.
func (r *NoteRepository) Insert(ctx context.Context, note *models.ThreadNote) error {
	if note == nil || note.ThreadID == 0 || note.Content == "" {
		return ErrInvalidNote
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO thread_notes (thread_id, content, source_text, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		note.ThreadID,
		note.Content,
		note.SourceText,
		note.MessageID,
		note.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("note id: %w", err)
	}
	note.ID = id
	return nil
}

// AnchorIDs returns the set of message IDs already used as segment anchors
// for a thread.
func (r *NoteRepository) AnchorIDs(ctx context.Context, threadID int64) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT message_id FROM thread_notes WHERE thread_id = ? AND message_id != ''`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("query note anchors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ListByThread returns a thread's notes in creation order.
func (r *NoteRepository) ListByThread(ctx context.Context, threadID int64) ([]models.ThreadNote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, content, source_text, message_id, created_at
		FROM thread_notes
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []models.ThreadNote
	for rows.Next() {
		var (
			note      models.ThreadNote
			createdAt string
		)
		if err := rows.Scan(&note.ID, &note.ThreadID, &note.Content, &note.SourceText, &note.MessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		var err error
		if note.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, rows.Err()
}
