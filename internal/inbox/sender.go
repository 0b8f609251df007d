package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/carrier"
	"github.com/tOgg1/opsinbox/internal/logging"
	"github.com/tOgg1/opsinbox/internal/models"
	"github.com/tOgg1/opsinbox/internal/settings"
	"github.com/tOgg1/opsinbox/internal/uploads"
)

const (
	maxImagesPerSend = 3
	maxImageBytes    = 50 << 20
)

// Image is one attachment selected for sending.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Sender runs the outbound send path: validate, upload attachments, append
// an optimistic entry, call the carrier proxy, and roll the entry back on
// failure. Uploads are all-or-nothing: the first failure aborts the send
// before any store mutation.
type Sender struct {
	messages *MessageStore
	threads  *ThreadStore
	uploader uploads.Uploader
	carrier  carrier.Sender
	state    *settings.Manager
	logger   zerolog.Logger
	timeout  time.Duration

	senderName   string
	teamMemberID *int64
}

// SenderConfig wires a Sender's collaborators and attribution.
type SenderConfig struct {
	Messages     *MessageStore
	Threads      *ThreadStore
	Uploader     uploads.Uploader
	Carrier      carrier.Sender
	State        *settings.Manager
	SenderName   string
	TeamMemberID *int64
	Timeout      time.Duration
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Messages == nil || cfg.Threads == nil {
		return nil, fmt.Errorf("sender: message and thread stores are required")
	}
	if cfg.Carrier == nil {
		return nil, fmt.Errorf("sender: carrier client is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		messages:     cfg.Messages,
		threads:      cfg.Threads,
		uploader:     cfg.Uploader,
		carrier:      cfg.Carrier,
		state:        cfg.State,
		logger:       logging.Component("inbox.send"),
		timeout:      timeout,
		senderName:   cfg.SenderName,
		teamMemberID: cfg.TeamMemberID,
	}, nil
}

// Send delivers text and/or images to the thread's external group. On proxy
// failure the optimistic entry is removed and the error returned; on success
// the entry stays until the confirming realtime event replaces it.
func (s *Sender) Send(ctx context.Context, thread *models.Thread, text string, images []Image) error {
	if thread == nil || thread.ID == 0 {
		return ErrNoThread
	}
	text = strings.TrimSpace(text)
	if err := validateImages(text, images); err != nil {
		return err
	}

	urls, err := s.uploadAll(ctx, images)
	if err != nil {
		return err
	}

	pending := s.messages.SendOptimistic(thread.ID, text, urls, s.senderName, s.teamMemberID)
	s.threads.ApplyIncoming(&pending)

	var memberID int64
	if s.teamMemberID != nil {
		memberID = *s.teamMemberID
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.carrier.Send(callCtx, carrier.SendRequest{
		GroupID:       thread.GroupID,
		Content:       text,
		SenderName:    s.senderName,
		TeamMemberID:  memberID,
		CorrelationID: pending.CorrelationID,
		Attachments:   urls,
	})
	if err != nil {
		s.messages.RemoveOptimistic(pending.MessageID)
		s.logger.Warn().Err(err).Int64("thread_id", thread.ID).Msg("send failed")
		return fmt.Errorf("send to group %s: %w", thread.GroupID, err)
	}
	if s.state != nil {
		s.state.DeleteDraft(thread.ID)
	}
	return nil
}

func validateImages(text string, images []Image) error {
	if text == "" && len(images) == 0 {
		return ErrEmptySend
	}
	if len(images) > maxImagesPerSend {
		return ErrTooManyImages
	}
	for _, img := range images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			return fmt.Errorf("%w: %s", ErrNotAnImage, img.Name)
		}
		if len(img.Data) > maxImageBytes {
			return fmt.Errorf("%w: %s", ErrImageTooLarge, img.Name)
		}
	}
	return nil
}

func (s *Sender) uploadAll(ctx context.Context, images []Image) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("no uploader configured for image send")
	}
	urls := make([]string, 0, len(images))
	for _, img := range images {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		url, err := s.uploader.Upload(callCtx, img.Name, img.ContentType, img.Data)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", img.Name, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}
