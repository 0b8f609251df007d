package carrier

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/db"
	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/models"
)

// WebhookServer receives carrier-delivered messages, persists them, and
// publishes the resulting insert events. This insert is what the realtime
// router observes.
type WebhookServer struct {
	database *db.DB
	threads  *db.ThreadRepository
	messages *db.MessageRepository
	bus      events.Publisher
	logger   zerolog.Logger
	router   chi.Router
}

// NewWebhookServer wires the webhook routes.
func NewWebhookServer(database *db.DB, bus events.Publisher, logger zerolog.Logger) *WebhookServer {
	s := &WebhookServer{
		database: database,
		threads:  db.NewThreadRepository(database),
		messages: db.NewMessageRepository(database),
		bus:      bus,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhook/messages", s.handleMessage)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler for the webhook server.
func (s *WebhookServer) Handler() http.Handler {
	return s.router
}

type messagePayload struct {
	GroupID       string    `json:"group_id"`
	GroupName     string    `json:"group_name"`
	MessageID     string    `json:"message_id"`
	Direction     string    `json:"direction"`
	Body          string    `json:"body"`
	SpeechText    string    `json:"speech_text"`
	Sender        string    `json:"sender"`
	SenderName    string    `json:"sender_name"`
	CorrelationID string    `json:"correlation_id"`
	Participants  []string  `json:"participants"`
	Attachments   []string  `json:"attachments"`
	CreatedAt     time.Time `json:"created_at"`
}

type messageResponse struct {
	OK        bool   `json:"ok"`
	ThreadID  int64  `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *WebhookServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respond(w, http.StatusBadRequest, messageResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(payload.GroupID) == "" || strings.TrimSpace(payload.MessageID) == "" {
		s.respond(w, http.StatusBadRequest, messageResponse{Error: "group_id and message_id are required"})
		return
	}

	direction := models.DirectionInbound
	if payload.Direction == string(models.DirectionOutbound) {
		direction = models.DirectionOutbound
	}
	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ctx := r.Context()
	thread, err := s.resolveThread(r, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("group_id", payload.GroupID).Msg("resolve thread")
		s.respond(w, http.StatusInternalServerError, messageResponse{Error: "thread resolution failed"})
		return
	}

	msg := &models.Message{
		MessageID:     payload.MessageID,
		ThreadID:      thread.ID,
		Direction:     direction,
		Text:          payload.Body,
		SpeechText:    payload.SpeechText,
		SenderHandle:  payload.Sender,
		SenderName:    payload.SenderName,
		CorrelationID: payload.CorrelationID,
		CreatedAt:     createdAt,
	}
	for _, url := range payload.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{URL: url})
	}

	inserted := false
	err = s.database.Transaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		inserted, txErr = s.messages.InsertWithTx(ctx, tx, msg)
		if txErr != nil {
			return txErr
		}
		if inserted {
			return s.threads.TouchWithTx(ctx, tx, thread.ID, createdAt)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("persist message")
		s.respond(w, http.StatusInternalServerError, messageResponse{Error: "message persistence failed"})
		return
	}

	if inserted {
		s.bus.Publish(events.Event{
			Type:     events.EventMessageInserted,
			ThreadID: thread.ID,
			Message:  msg,
		})
	}

	s.respond(w, http.StatusOK, messageResponse{
		OK:        true,
		ThreadID:  thread.ID,
		MessageID: payload.MessageID,
		Duplicate: !inserted,
	})
}

func (s *WebhookServer) resolveThread(r *http.Request, payload messagePayload) (*models.Thread, error) {
	ctx := r.Context()
	thread, err := s.threads.GetByGroupID(ctx, payload.GroupID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, db.ErrThreadNotFound) {
		return nil, err
	}

	created := &models.Thread{
		GroupID:      payload.GroupID,
		Name:         payload.GroupName,
		Participants: payload.Participants,
	}
	if err := s.threads.Create(ctx, created); err != nil {
		// Another delivery may have created it concurrently.
		if existing, getErr := s.threads.GetByGroupID(ctx, payload.GroupID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	s.bus.Publish(events.Event{Type: events.EventThreadChanged, ThreadID: created.ID})
	return created, nil
}

func (s *WebhookServer) respond(w http.ResponseWriter, status int, body messageResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode webhook response")
	}
}
