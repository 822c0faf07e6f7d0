package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyMessage is returned when a message carries neither text nor files.
	ErrEmptyMessage = errors.New("domain: message must carry text or at least one file")
	// ErrNotFound is returned by stores when the addressed record does not exist.
	ErrNotFound = errors.New("domain: not found")
)

// Attachment describes a file uploaded alongside a message.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Message is a single communication unit inside a quote-request conversation.
// QuoteRequestID is the tenant key used for partitioning.
type Message struct {
	ID             string       `json:"id"`
	QuoteRequestID string       `json:"quoteRequestId"`
	Text           string       `json:"text"`
	SenderIdentity string       `json:"senderIdentity"`
	SenderUnit     string       `json:"senderUnit"`
	CreatedAt      time.Time    `json:"createdAt"`
	Files          []Attachment `json:"files"`
	ReadBy         []string     `json:"readBy"`
	// ArchivedAt is only set on records read back from the cold store.
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// Validate checks the creation-time invariants of a message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.QuoteRequestID) == "" {
		return errors.New("domain: message quoteRequestId is required")
	}
	if strings.TrimSpace(m.SenderIdentity) == "" {
		return errors.New("domain: message senderIdentity is required")
	}
	if strings.TrimSpace(m.Text) == "" && len(m.Files) == 0 {
		return ErrEmptyMessage
	}
	for _, f := range m.Files {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.URL) == "" {
			return errors.New("domain: attachment name and url are required")
		}
		if f.Size < 0 {
			return errors.New("domain: attachment size must not be negative")
		}
	}
	return nil
}

// PageCursor marks the position of the last record of a page in a
// createdAt-ordered scan. The zero value means "start from the beginning".
type PageCursor struct {
	ID        string
	CreatedAt time.Time
}

// IsZero reports whether the cursor points at the start of the scan.
func (c PageCursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}
