package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"trumi/inventory/internal/cache"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/reconcile"
)

// SummaryOptions validates a raw summary request.
func SummaryOptions(req domain.SummaryRequest) (domain.SummaryOptions, error) {
	window, err := ParseWindow(req.Start, req.End)
	if err != nil {
		return domain.SummaryOptions{}, err
	}
	if req.ReorderThreshold != nil && *req.ReorderThreshold < 0 {
		return domain.SummaryOptions{}, fieldError("reorder_threshold", "gte")
	}
	return domain.SummaryOptions{
		CategoryID:       req.CategoryID,
		ItemID:           req.ItemID,
		SubItemID:        req.SubItemID,
		Window:           window,
		ReorderThreshold: req.ReorderThreshold,
		IncludeIdle:      req.IncludeIdle,
	}, nil
}

// Reconcile builds the per-sub-item summary table. Results are cached until
// the next catalog or ledger write.
func (s *Service) Reconcile(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	opts, err := SummaryOptions(req)
	if err != nil {
		return domain.Summary{}, err
	}

	key := cache.SummaryKey(opts)
	cached, hit, err := s.summary.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("summary cache read failed")
	}
	if hit && cached != nil {
		return *cached, nil
	}

	snap, err := s.repo.LedgerSnapshot(ctx, opts.Window)
	if err != nil {
		return domain.Summary{}, err
	}
	summary := reconcile.Build(snap, opts, s.now())

	if err := s.summary.Set(ctx, key, &summary, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("summary cache write failed")
	}
	return summary, nil
}
