package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/domain"
)

func TestSummaryKeyDistinguishesOptions(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	threshold := 3

	base := SummaryKey(domain.SummaryOptions{})
	windowed := SummaryKey(domain.SummaryOptions{Window: domain.DateRange{Start: &start}})
	reorder := SummaryKey(domain.SummaryOptions{ReorderThreshold: &threshold})
	filtered := SummaryKey(domain.SummaryOptions{CategoryID: "cat-1"})

	assert.NotEqual(t, base, windowed)
	assert.NotEqual(t, base, reorder)
	assert.NotEqual(t, base, filtered)
	assert.Equal(t, windowed, SummaryKey(domain.SummaryOptions{Window: domain.DateRange{Start: &start}}))
	assert.Contains(t, windowed, "from=2026-03-01")
}

func TestNoopSummaryCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c SummaryCache = NoopSummaryCache{}

	require.NoError(t, c.Set(ctx, "k", &domain.Summary{}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx))
}

func TestRedisSummaryCacheInvalidate(t *testing.T) {
	addr := os.Getenv("TRUMI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TRUMI_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisSummaryCache(addr, "", 0)
	c.prefix = "trumi-test:" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	summary := &domain.Summary{TotalSpend: decimal.RequireFromString("12.5"), Rows: []domain.SummaryRow{}}
	require.NoError(t, c.Set(ctx, "all", summary, time.Minute))

	got, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, summary.TotalSpend.Equal(got.TotalSpend))

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx, "all")
	require.NoError(t, err)
	assert.False(t, ok)
}
