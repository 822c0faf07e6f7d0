package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"quote-archiver/internal/archive"
	"quote-archiver/internal/domain"
)

// ObjectReader lists and downloads part-files from the cold store.
type ObjectReader interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

type HistoryService struct {
	cold   ObjectReader
	logger *slog.Logger
}

func NewHistoryService(cold ObjectReader, logger *slog.Logger) (*HistoryService, error) {
	if cold == nil {
		return nil, errors.New("usecase: cold store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryService{cold: cold, logger: logger}, nil
}

// LoadHistory returns the archived messages of one tenant and month, oldest
// first. A month without part-files yields an empty slice.
func (s *HistoryService) LoadHistory(ctx context.Context, tenantID, yearMonth string) ([]domain.Message, error) {
	tenantID = strings.TrimSpace(tenantID)
	yearMonth = strings.TrimSpace(yearMonth)
	if err := archive.ValidateTenantID(tenantID); err != nil {
		return nil, newError(ErrorInvalidInput, "invalid_tenant_id", err)
	}
	if _, err := archive.ParseYearMonth(yearMonth); err != nil {
		return nil, newError(ErrorInvalidInput, "invalid_year_month", err)
	}

	keys, err := s.cold.List(ctx, archive.Prefix(tenantID, yearMonth))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Message)
	for _, key := range keys {
		if !archive.IsPartPath(key) {
			continue
		}
		data, err := s.cold.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		msgs, skipped := archive.DecodeLines(data)
		if len(skipped) > 0 {
			s.logger.Debug("skipped malformed archive lines", "key", key, "lines", skipped)
		}
		for _, m := range msgs {
			// A record archived twice was still live after the first copy was
			// written; the latest copy is the one deleted from the live store.
			if prev, ok := byID[m.ID]; ok && !archivedAfter(m, prev) {
				continue
			}
			byID[m.ID] = m
		}
	}

	out := make([]domain.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func archivedAfter(a, b domain.Message) bool {
	if a.ArchivedAt == nil {
		return false
	}
	if b.ArchivedAt == nil {
		return true
	}
	return a.ArchivedAt.After(*b.ArchivedAt)
}
