// Package archive defines the cold-storage layout for archived messages:
// partition keys, object paths and the line-delimited JSON record format.
package archive

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"quote-archiver/internal/domain"
)

const (
	rootPrefix      = "messages"
	yearMonthLayout = "2006-01"
	runStampLayout  = "20060102T150405Z"

	// ContentType is the MIME type of every part-file.
	ContentType = "application/x-ndjson"
	partSuffix  = ".jsonl"
)

// PartitionKey identifies a logical archive partition.
type PartitionKey struct {
	TenantID  string
	YearMonth string
}

func (k PartitionKey) String() string {
	return k.TenantID + "/" + k.YearMonth
}

// KeyFor returns the partition a message belongs to, derived from its
// createdAt in UTC.
func KeyFor(m domain.Message) PartitionKey {
	return PartitionKey{TenantID: m.QuoteRequestID, YearMonth: YearMonth(m.CreatedAt)}
}

// YearMonth formats t as YYYY-MM in UTC.
func YearMonth(t time.Time) string {
	return t.UTC().Format(yearMonthLayout)
}

// ParseYearMonth validates a YYYY-MM month key.
func ParseYearMonth(s string) (time.Time, error) {
	t, err := time.Parse(yearMonthLayout, s)
	if err != nil || t.Format(yearMonthLayout) != s {
		return time.Time{}, fmt.Errorf("archive: invalid year-month %q, want YYYY-MM", s)
	}
	return t, nil
}

// Prefix returns the object prefix holding every part-file of a partition.
func Prefix(tenantID, yearMonth string) string {
	return rootPrefix + "/" + url.PathEscape(tenantID) + "/" + yearMonth + "/"
}

// PartPath returns the object key for the part-file written by run for the
// given page. Keys are unique per (partition, run, page) so part-files are
// never overwritten.
func PartPath(k PartitionKey, runID string, page int) string {
	return fmt.Sprintf("%s%s-p%05d%s", Prefix(k.TenantID, k.YearMonth), runID, page, partSuffix)
}

// IsPartPath reports whether an object key looks like a part-file.
func IsPartPath(key string) bool {
	return strings.HasPrefix(key, rootPrefix+"/") && strings.HasSuffix(key, partSuffix)
}

// RunID builds a run identifier from the run start time and a random suffix.
func RunID(startedAt time.Time, suffix string) string {
	return startedAt.UTC().Format(runStampLayout) + "-" + suffix
}

// Group partitions messages by PartitionKey. Messages keep their relative
// order inside a group; the returned keys are sorted for deterministic output.
func Group(msgs []domain.Message) ([]PartitionKey, map[PartitionKey][]domain.Message) {
	groups := make(map[PartitionKey][]domain.Message)
	for _, m := range msgs {
		k := KeyFor(m)
		groups[k] = append(groups[k], m)
	}
	keys := make([]PartitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TenantID != keys[j].TenantID {
			return keys[i].TenantID < keys[j].TenantID
		}
		return keys[i].YearMonth < keys[j].YearMonth
	})
	return keys, groups
}

// ValidateTenantID rejects tenant ids that cannot address a partition.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.New("archive: tenant id is required")
	}
	return nil
}
