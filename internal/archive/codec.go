package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quote-archiver/internal/domain"
)

// TimestampLayout is the ISO-8601 form used for timestamps in part-files.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// fallbackLayouts are tried, in order, when reading a createdAt written by
// another producer.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// record is the on-disk shape of one archived message line.
type record struct {
	ID             string              `json:"id"`
	QuoteRequestID string              `json:"quoteRequestId"`
	Text           string              `json:"text"`
	SenderIdentity string              `json:"senderIdentity"`
	SenderUnit     string              `json:"senderUnit"`
	CreatedAt      json.RawMessage     `json:"createdAt"`
	Files          []domain.Attachment `json:"files"`
	ReadBy         []string            `json:"readBy"`
	ArchivedAt     string              `json:"archivedAt"`
}

// EncodeLines serializes msgs as newline-separated JSON objects stamped with
// archivedAt. The output ends with a trailing newline.
func EncodeLines(msgs []domain.Message, archivedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	stamp := archivedAt.UTC().Format(TimestampLayout)
	for _, m := range msgs {
		createdAt, err := json.Marshal(m.CreatedAt.UTC().Format(TimestampLayout))
		if err != nil {
			return nil, fmt.Errorf("archive: encode createdAt for %s: %w", m.ID, err)
		}
		rec := record{
			ID:             m.ID,
			QuoteRequestID: m.QuoteRequestID,
			Text:           m.Text,
			SenderIdentity: m.SenderIdentity,
			SenderUnit:     m.SenderUnit,
			CreatedAt:      createdAt,
			Files:          m.Files,
			ReadBy:         m.ReadBy,
			ArchivedAt:     stamp,
		}
		if rec.Files == nil {
			rec.Files = []domain.Attachment{}
		}
		if rec.ReadBy == nil {
			rec.ReadBy = []string{}
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("archive: encode message %s: %w", m.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeLines parses a part-file. Blank lines are ignored; lines that are not
// valid records are skipped and their 1-based line numbers returned.
func DecodeLines(data []byte) (msgs []domain.Message, skipped []int) {
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		m, ok := decodeLine(line)
		if !ok {
			skipped = append(skipped, i+1)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, skipped
}

func decodeLine(line []byte) (domain.Message, bool) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return domain.Message{}, false
	}
	if rec.ID == "" {
		return domain.Message{}, false
	}

	m := domain.Message{
		ID:             rec.ID,
		QuoteRequestID: rec.QuoteRequestID,
		Text:           rec.Text,
		SenderIdentity: rec.SenderIdentity,
		SenderUnit:     rec.SenderUnit,
		CreatedAt:      parseCreatedAt(rec.CreatedAt),
	}
	if len(rec.Files) > 0 {
		m.Files = rec.Files
	}
	if len(rec.ReadBy) > 0 {
		m.ReadBy = rec.ReadBy
	}
	if t, ok := parseTimestamp(rec.ArchivedAt); ok {
		m.ArchivedAt = &t
	}
	return m, true
}

// parseCreatedAt accepts an ISO-8601 string or epoch milliseconds. Anything
// else yields the zero time; the record is still kept.
func parseCreatedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, ok := parseTimestamp(s); ok {
			return t
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
