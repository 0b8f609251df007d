package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/opsinbox/internal/models"
)

// Thread repository errors.
var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrInvalidThread  = errors.New("invalid thread")
)

// timeFormat is fixed-width: all timestamps are stored UTC with padded
// nanoseconds so the column's lexical (memcmp) order equals time order.
// time.RFC3339Nano drops trailing zeros, which would sort a whole-second
// value after a later sub-second value in the same second.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ThreadRepository handles thread persistence.
type ThreadRepository struct {
	db *DB
}

// NewThreadRepository creates a new ThreadRepository.
func NewThreadRepository(db *DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// ListWithLatest returns one page of threads joined with their latest message
// preview, ordered by activity descending. Activity is the latest message's
// creation time when one exists, otherwise the thread's updated_at.
func (r *ThreadRepository) ListWithLatest(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.group_id, t.name, t.client_id, t.participants_json,
		       t.created_at, t.updated_at, t.last_read_at,
		       m.text, m.speech_text, m.sender_name, m.sender_handle, m.created_at
		FROM threads t
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE thread_id = t.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		ORDER BY COALESCE(m.created_at, t.updated_at) DESC, t.id DESC
		LIMIT ? OFFSET ?
	`, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query threads with latest: %w", err)
	}
	defer rows.Close()

	var out []models.ThreadWithPreview
	for rows.Next() {
		var (
			twp          models.ThreadWithPreview
			clientID     sql.NullInt64
			participants string
			createdAt    string
			updatedAt    string
			lastReadAt   sql.NullString
			pvText       sql.NullString
			pvSpeech     sql.NullString
			pvSender     sql.NullString
			pvHandle     sql.NullString
			pvCreatedAt  sql.NullString
		)
		if err := rows.Scan(
			&twp.ID, &twp.GroupID, &twp.Name, &clientID, &participants,
			&createdAt, &updatedAt, &lastReadAt,
			&pvText, &pvSpeech, &pvSender, &pvHandle, &pvCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		if err := fillThread(&twp.Thread, clientID, participants, createdAt, updatedAt, lastReadAt); err != nil {
			return nil, err
		}
		if pvCreatedAt.Valid {
			created, err := parseTime(pvCreatedAt.String)
			if err != nil {
				return nil, err
			}
			text := pvText.String
			if text == "" {
				text = pvSpeech.String
			}
			twp.LatestMessage = &models.MessagePreview{
				Text:         text,
				CreatedAt:    created,
				SenderName:   pvSender.String,
				SenderHandle: pvHandle.String,
			}
		}
		out = append(out, twp)
	}
	return out, rows.Err()
}

// ListPlain returns one page of threads without previews, ordered by
// updated_at descending. It is the degraded path used when the aggregate
// query fails.
func (r *ThreadRepository) ListPlain(ctx context.Context, page, pageSize int) ([]models.ThreadWithPreview, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, name, client_id, participants_json,
		       created_at, updated_at, last_read_at
		FROM threads
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []models.ThreadWithPreview
	for rows.Next() {
		var (
			twp          models.ThreadWithPreview
			clientID     sql.NullInt64
			participants string
			createdAt    string
			updatedAt    string
			lastReadAt   sql.NullString
		)
		if err := rows.Scan(&twp.ID, &twp.GroupID, &twp.Name, &clientID, &participants, &createdAt, &updatedAt, &lastReadAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		if err := fillThread(&twp.Thread, clientID, participants, createdAt, updatedAt, lastReadAt); err != nil {
			return nil, err
		}
		out = append(out, twp)
	}
	return out, rows.Err()
}

// Get retrieves a thread by ID.
func (r *ThreadRepository) Get(ctx context.Context, id int64) (*models.Thread, error) {
	return r.getWhere(ctx, "id = ?", id)
}

// GetByGroupID retrieves a thread by its external group identifier.
func (r *ThreadRepository) GetByGroupID(ctx context.Context, groupID string) (*models.Thread, error) {
	return r.getWhere(ctx, "group_id = ?", groupID)
}

func (r *ThreadRepository) getWhere(ctx context.Context, where string, arg any) (*models.Thread, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, group_id, name, client_id, participants_json,
		       created_at, updated_at, last_read_at
		FROM threads WHERE `+where, arg)

	var (
		thread       models.Thread
		clientID     sql.NullInt64
		participants string
		createdAt    string
		updatedAt    string
		lastReadAt   sql.NullString
	)
	err := row.Scan(&thread.ID, &thread.GroupID, &thread.Name, &clientID, &participants, &createdAt, &updatedAt, &lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	if err := fillThread(&thread, clientID, participants, createdAt, updatedAt, lastReadAt); err != nil {
		return nil, err
	}
	return &thread, nil
}

// Create inserts a new thread and assigns its ID.
func (r *ThreadRepository) Create(ctx context.Context, thread *models.Thread) error {
	return r.createWithExecer(ctx, r.db, thread)
}

// CreateWithTx inserts a new thread using an existing transaction.
func (r *ThreadRepository) CreateWithTx(ctx context.Context, tx *sql.Tx, thread *models.Thread) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	return r.createWithExecer(ctx, tx, thread)
}

type execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func (r *ThreadRepository) createWithExecer(ctx context.Context, ex execer, thread *models.Thread) error {
	if thread == nil || thread.GroupID == "" {
		return ErrInvalidThread
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = thread.CreatedAt
	}

	participants, err := json.Marshal(thread.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	var clientID any
	if thread.ClientID != nil {
		clientID = *thread.ClientID
	}
	var lastReadAt any
	if thread.LastReadAt != nil {
		lastReadAt = thread.LastReadAt.UTC().Format(timeFormat)
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO threads (group_id, name, client_id, participants_json, created_at, updated_at, last_read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		thread.GroupID,
		thread.Name,
		clientID,
		string(participants),
		thread.CreatedAt.UTC().Format(timeFormat),
		thread.UpdatedAt.UTC().Format(timeFormat),
		lastReadAt,
	)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("thread id: %w", err)
	}
	thread.ID = id
	return nil
}

// Touch bumps a thread's updated_at.
func (r *ThreadRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return r.TouchWithTx(ctx, nil, id, at)
}

// TouchWithTx bumps updated_at using an existing transaction when tx is
// non-nil.
func (r *ThreadRepository) TouchWithTx(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return requireAffected(res)
}

// MarkRead records the last-read marker for a thread.
func (r *ThreadRepository) MarkRead(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET last_read_at = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("mark thread read: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func fillThread(thread *models.Thread, clientID sql.NullInt64, participantsJSON, createdAt, updatedAt string, lastReadAt sql.NullString) error {
	if clientID.Valid {
		v := clientID.Int64
		thread.ClientID = &v
	}
	if participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &thread.Participants); err != nil {
			return fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	var err error
	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if thread.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return err
	}
	if lastReadAt.Valid {
		t, err := parseTime(lastReadAt.String)
		if err != nil {
			return err
		}
		thread.LastReadAt = &t
	}
	return nil
}

func parseTime(value string) (time.Time, error) {
	// Lenient on read: accepts any RFC3339 precision.
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}
