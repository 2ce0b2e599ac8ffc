package service

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/importer"
	"trumi/inventory/internal/store"
)

// Import loads a CSV sheet into target (catalog, purchases or sales). With
// dryRun set the rows are resolved against the current catalog and reported
// as planned, and nothing is written.
func (s *Service) Import(ctx context.Context, target string, r io.Reader, dryRun bool) (domain.ImportReport, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ImportReport{}, err
	}

	var report domain.ImportReport
	switch target {
	case importer.TargetCatalog:
		rows, err := importer.ParseCatalog(r)
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
		}
		if dryRun {
			snap, err := s.catalogSnapshot(ctx)
			if err != nil {
				return domain.ImportReport{}, err
			}
			report = importer.PlanCatalog(snap, rows, s.now())
		} else {
			report = importer.ImportCatalog(ctx, s.repo, rows)
		}
	default:
		kind, err := importer.KindForTarget(target)
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
		}
		rows, err := importer.ParseLedger(r, kind)
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
		}
		if dryRun {
			snap, err := s.catalogSnapshot(ctx)
			if err != nil {
				return domain.ImportReport{}, err
			}
			report = importer.PlanLedger(snap, kind, rows, s.now())
		} else {
			report = importer.ImportLedger(ctx, s.repo, kind, rows)
		}
	}

	if dryRun {
		return report, nil
	}
	detail := fmt.Sprintf("imported=%d,skipped=%d,failed=%d", report.Imported, report.Skipped, report.Failed)
	if report.Imported > 0 || report.CreatedCategories+report.CreatedItems+report.CreatedSubItems > 0 {
		s.changed(ctx, actor, "import_"+target, "", detail)
	} else {
		log.Info().Str("actor", actor.Username).Str("action", "import_"+target).Str("detail", detail).Msg("import wrote nothing")
	}
	return report, nil
}

// ImportTemplate returns an empty upload sheet for target.
func (s *Service) ImportTemplate(target string, localized bool) ([]byte, error) {
	raw, err := importer.Template(target, localized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
	}
	return raw, nil
}

func (s *Service) catalogSnapshot(ctx context.Context) (catalog.Snapshot, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	items, err := s.repo.ListItems(ctx, "")
	if err != nil {
		return catalog.Snapshot{}, err
	}
	subItems, err := s.repo.ListSubItems(ctx, "")
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return catalog.NewSnapshot(categories, items, subItems), nil
}
