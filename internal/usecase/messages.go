package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"quote-archiver/internal/archive"
	"quote-archiver/internal/domain"
)

// MessageStore is the live-store surface used by the message operations.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, quoteRequestID string, from, to time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, messageID, identity string) error
}

type NewMessageInput struct {
	QuoteRequestID string
	Text           string
	SenderIdentity string
	SenderUnit     string
	Files          []domain.Attachment
}

type MessageService struct {
	store MessageStore
	now   func() time.Time
}

func NewMessageService(store MessageStore, now func() time.Time) (*MessageService, error) {
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &MessageService{store: store, now: now}, nil
}

func (s *MessageService) CreateMessage(ctx context.Context, in NewMessageInput) (domain.Message, error) {
	msg := domain.Message{
		ID:             newUUID(),
		QuoteRequestID: strings.TrimSpace(in.QuoteRequestID),
		Text:           strings.TrimSpace(in.Text),
		SenderIdentity: strings.TrimSpace(in.SenderIdentity),
		SenderUnit:     strings.TrimSpace(in.SenderUnit),
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
		Files:          in.Files,
	}
	if err := msg.Validate(); err != nil {
		if errors.Is(err, domain.ErrEmptyMessage) {
			return domain.Message{}, newError(ErrorInvalidInput, "empty_message", err)
		}
		return domain.Message{}, newError(ErrorInvalidInput, "invalid_message", err)
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the live messages of a tenant with from <= createdAt < to.
// A zero to leaves the range open-ended.
func (s *MessageService) ListMessages(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Message, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := archive.ValidateTenantID(tenantID); err != nil {
		return nil, newError(ErrorInvalidInput, "invalid_tenant_id", err)
	}
	// The store keeps millisecond timestamps, so the range must span at
	// least one millisecond.
	if !to.IsZero() && from.UnixMilli() >= to.UnixMilli() {
		return nil, newError(ErrorInvalidInput, "invalid_range", nil)
	}
	msgs, err := s.store.ListMessages(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (s *MessageService) MarkRead(ctx context.Context, messageID, identity string) error {
	messageID = strings.TrimSpace(messageID)
	identity = strings.TrimSpace(identity)
	if messageID == "" {
		return newError(ErrorInvalidInput, "missing_message_id", nil)
	}
	if identity == "" {
		return newError(ErrorInvalidInput, "missing_identity", nil)
	}
	if err := s.store.MarkRead(ctx, messageID, identity); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return newError(ErrorNotFound, "message_not_found", err)
		}
		return err
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
