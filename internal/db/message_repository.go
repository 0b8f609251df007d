package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

// Message repository errors.
var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMessageNotFound = errors.New("message not found")
)

// MessageRepository handles message and attachment persistence.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, message_id, thread_id, direction, text, speech_text,
	sender_handle, sender_name, reaction, correlation_id, team_member_id, created_at`

// Insert persists a message. Inserting the same (thread_id, message_id) twice
// is a no-op that reports inserted=false, so webhook redelivery stays
// idempotent.
func (r *MessageRepository) Insert(ctx context.Context, msg *models.Message) (bool, error) {
	return r.insertWithExecer(ctx, r.db, msg)
}

// InsertWithTx persists a message inside an existing transaction.
func (r *MessageRepository) InsertWithTx(ctx context.Context, tx *sql.Tx, msg *models.Message) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	return r.insertWithExecer(ctx, tx, msg)
}

func (r *MessageRepository) insertWithExecer(ctx context.Context, ex execer, msg *models.Message) (bool, error) {
	if msg == nil || msg.MessageID == "" || msg.ThreadID == 0 {
		return false, ErrInvalidMessage
	}
	if msg.Direction != models.DirectionInbound && msg.Direction != models.DirectionOutbound {
		return false, ErrInvalidMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var teamMemberID any
	if msg.TeamMemberID != nil {
		teamMemberID = *msg.TeamMemberID
	}

	res, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (
			message_id, thread_id, direction, text, speech_text,
			sender_handle, sender_name, reaction, correlation_id, team_member_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.MessageID,
		msg.ThreadID,
		string(msg.Direction),
		msg.Text,
		msg.SpeechText,
		msg.SenderHandle,
		msg.SenderName,
		msg.Reaction,
		msg.CorrelationID,
		teamMemberID,
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id

	for i := range msg.Attachments {
		attRes, err := ex.ExecContext(ctx,
			`INSERT INTO attachments (message_id, url) VALUES (?, ?)`,
			msg.ID, msg.Attachments[i].URL)
		if err != nil {
			return false, fmt.Errorf("insert attachment: %w", err)
		}
		attID, err := attRes.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("attachment id: %w", err)
		}
		msg.Attachments[i].ID = attID
	}
	return true, nil
}

// ListPage returns one page of a thread's messages, newest first. Page 0 is
// the most recent window; callers reverse for display.
func (r *MessageRepository) ListPage(ctx context.Context, threadID int64, page, pageSize int) ([]models.Message, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, threadID, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListAll returns a thread's full history in ascending order.
func (r *MessageRepository) ListAll(ctx context.Context, threadID int64) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Search performs a case-insensitive substring match over text and speech
// text within one thread, ordered by time ascending.
func (r *MessageRepository) Search(ctx context.Context, threadID int64, query string) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		  AND (lower(text) LIKE ? ESCAPE '\' OR lower(speech_text) LIKE ? ESCAPE '\')
		ORDER BY created_at ASC, id ASC
	`, threadID, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AttachmentsFor fetches attachments for a batch of message row IDs in one
// query, keyed by message ID.
func (r *MessageRepository) AttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(messageIDs)), ", ")
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, message_id, url FROM attachments WHERE message_id IN (`+placeholders+`) ORDER BY id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]models.Attachment)
	for rows.Next() {
		var (
			att   models.Attachment
			msgID int64
		)
		if err := rows.Scan(&att.ID, &msgID, &att.URL); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out[msgID] = append(out[msgID], att)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var (
			msg          models.Message
			direction    string
			teamMemberID sql.NullInt64
			createdAt    string
		)
		if err := rows.Scan(
			&msg.ID, &msg.MessageID, &msg.ThreadID, &direction, &msg.Text, &msg.SpeechText,
			&msg.SenderHandle, &msg.SenderName, &msg.Reaction, &msg.CorrelationID,
			&teamMemberID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Direction = models.Direction(direction)
		if teamMemberID.Valid {
			v := teamMemberID.Int64
			msg.TeamMemberID = &v
		}
		var err error
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
