package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"trumi/inventory/internal/domain"
)

// SummaryCache stores computed summary tables. Any ledger or catalog write
// must call Invalidate so stale tables are never served.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.Summary, bool, error)
	Set(ctx context.Context, key string, value *domain.Summary, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.Summary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.Summary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context) error {
	return nil
}

// SummaryKey is the cache key for one set of summary options.
func SummaryKey(opts domain.SummaryOptions) string {
	parts := []string{
		"c=" + opts.CategoryID,
		"i=" + opts.ItemID,
		"s=" + opts.SubItemID,
		"from=" + dayOrEmpty(opts.Window.Start),
		"to=" + dayOrEmpty(opts.Window.End),
		"idle=" + strconv.FormatBool(opts.IncludeIdle),
	}
	if opts.ReorderThreshold != nil {
		parts = append(parts, "reorder="+strconv.Itoa(*opts.ReorderThreshold))
	}
	return strings.Join(parts, "|")
}

func dayOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return domain.FormatDay(*t)
}
