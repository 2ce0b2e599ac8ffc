package importer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
)

// Writer is the slice of the repository an import needs.
type Writer interface {
	ResolveOrCreatePath(ctx context.Context, path domain.CatalogPath) (domain.ResolvedPath, error)
	RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	UpdateItemSeries(ctx context.Context, itemID string, series string) (*domain.Item, error)
	UpdateSubItemImage(ctx context.Context, subItemID string, imageRef string) (*domain.SubItem, error)
}

const (
	reasonNoQuantity   = "quantity is zero or negative"
	reasonMissingNames = "category, item and sub-item are all required"
	reasonNoCategory   = "category is required"
	reasonSubNoItem    = "sub-item given without an item"
)

// ImportLedger records each row against the catalog, creating missing
// catalog levels by name. Rows with a non-positive quantity or an incomplete
// path are skipped; any other problem fails the row and processing moves on.
func ImportLedger(ctx context.Context, w Writer, kind domain.TransactionKind, rows []domain.ImportRow) domain.ImportReport {
	report := newReport(targetFor(kind), false, len(rows))
	for _, row := range rows {
		if v, reason := checkLedgerRow(row); !report.admit(row.Line, v, reason) {
			continue
		}
		date, err := rowDate(row)
		if err != nil {
			report.fail(row.Line, err)
			continue
		}

		path, err := w.ResolveOrCreatePath(ctx, pathOf(row))
		if err != nil {
			report.fail(row.Line, err)
			continue
		}
		report.countCreated(path)

		tx, err := w.RecordTransaction(ctx, domain.Transaction{
			Kind:      kind,
			SubItemID: path.SubItemID,
			Quantity:  row.Quantity,
			UnitPrice: row.UnitPrice,
			Date:      date,
		})
		if err != nil {
			report.fail(row.Line, err)
			continue
		}
		report.imported(domain.ImportRowResult{Line: row.Line, SubItemID: path.SubItemID, TransactionID: tx.ID})
	}
	return report.ImportReport
}

// ImportCatalog creates whichever levels each row names and applies the
// optional series and image columns.
func ImportCatalog(ctx context.Context, w Writer, rows []domain.ImportRow) domain.ImportReport {
	report := newReport(TargetCatalog, false, len(rows))
	for _, row := range rows {
		if v, reason := checkCatalogRow(row); !report.admit(row.Line, v, reason) {
			continue
		}

		path, err := w.ResolveOrCreatePath(ctx, pathOf(row))
		if err != nil {
			report.fail(row.Line, err)
			continue
		}
		report.countCreated(path)

		if row.Series != "" && path.ItemID != "" {
			if _, err := w.UpdateItemSeries(ctx, path.ItemID, row.Series); err != nil {
				report.fail(row.Line, err)
				continue
			}
		}
		if row.ImageRef != "" && path.SubItemID != "" {
			if _, err := w.UpdateSubItemImage(ctx, path.SubItemID, row.ImageRef); err != nil {
				report.fail(row.Line, err)
				continue
			}
		}
		report.imported(domain.ImportRowResult{Line: row.Line, SubItemID: path.SubItemID})
	}
	return report.ImportReport
}

// PlanLedger is the dry-run form of ImportLedger. It resolves every row
// against snap, threading the snapshot so later rows see nodes planned by
// earlier ones, and writes nothing.
func PlanLedger(snap catalog.Snapshot, kind domain.TransactionKind, rows []domain.ImportRow, now time.Time) domain.ImportReport {
	report := newReport(targetFor(kind), true, len(rows))
	ids := planIDs()
	for _, row := range rows {
		if v, reason := checkLedgerRow(row); !report.admit(row.Line, v, reason) {
			continue
		}
		if _, err := rowDate(row); err != nil {
			report.fail(row.Line, err)
			continue
		}
		next, res, err := catalog.Resolve(snap, pathOf(row), ids, now)
		if err != nil {
			report.fail(row.Line, err)
			continue
		}
		snap = next
		report.countCreated(res.Path)
		report.planned(domain.ImportRowResult{Line: row.Line, SubItemID: res.Path.SubItemID})
	}
	return report.ImportReport
}

// PlanCatalog is the dry-run form of ImportCatalog.
func PlanCatalog(snap catalog.Snapshot, rows []domain.ImportRow, now time.Time) domain.ImportReport {
	report := newReport(TargetCatalog, true, len(rows))
	ids := planIDs()
	for _, row := range rows {
		if v, reason := checkCatalogRow(row); !report.admit(row.Line, v, reason) {
			continue
		}
		next, res, err := catalog.Resolve(snap, pathOf(row), ids, now)
		if err != nil {
			report.fail(row.Line, err)
			continue
		}
		snap = next
		report.countCreated(res.Path)
		report.planned(domain.ImportRowResult{Line: row.Line, SubItemID: res.Path.SubItemID})
	}
	return report.ImportReport
}

type verdict int

const (
	accept verdict = iota
	skip
	reject
)

// checkLedgerRow decides whether a ledger row may be written. Undecodable
// rows are rejected; empty or incomplete rows are skipped.
func checkLedgerRow(row domain.ImportRow) (verdict, string) {
	switch {
	case row.ParseError != "":
		return reject, row.ParseError
	case row.Quantity <= 0:
		return skip, reasonNoQuantity
	case row.Category == "" || row.Item == "" || row.SubItem == "":
		return skip, reasonMissingNames
	}
	return accept, ""
}

func checkCatalogRow(row domain.ImportRow) (verdict, string) {
	switch {
	case row.ParseError != "":
		return reject, row.ParseError
	case row.Category == "":
		return skip, reasonNoCategory
	case row.SubItem != "" && row.Item == "":
		return skip, reasonSubNoItem
	}
	return accept, ""
}

func rowDate(row domain.ImportRow) (time.Time, error) {
	if row.Date == "" {
		return time.Time{}, nil
	}
	return domain.ParseDay(row.Date)
}

func pathOf(row domain.ImportRow) domain.CatalogPath {
	return domain.CatalogPath{Category: row.Category, Item: row.Item, SubItem: row.SubItem}
}

func targetFor(kind domain.TransactionKind) string {
	if kind == domain.KindSale {
		return TargetSales
	}
	return TargetPurchases
}

// planIDs hands out placeholder ids for nodes a dry run would create.
func planIDs() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return "planned-" + prefix + "-" + strconv.Itoa(n)
	}
}

type reportBuilder struct {
	domain.ImportReport
}

func newReport(target string, dryRun bool, size int) *reportBuilder {
	return &reportBuilder{ImportReport: domain.ImportReport{
		Target: target,
		DryRun: dryRun,
		Rows:   make([]domain.ImportRowResult, 0, size),
	}}
}

func (b *reportBuilder) admit(line int, v verdict, reason string) bool {
	switch v {
	case skip:
		b.Skipped++
		b.Rows = append(b.Rows, domain.ImportRowResult{Line: line, Status: domain.ImportStatusSkipped, Reason: reason})
		return false
	case reject:
		b.Failed++
		b.Rows = append(b.Rows, domain.ImportRowResult{Line: line, Status: domain.ImportStatusFailed, Reason: reason})
		return false
	}
	return true
}

func (b *reportBuilder) fail(line int, err error) {
	b.Failed++
	b.Rows = append(b.Rows, domain.ImportRowResult{Line: line, Status: domain.ImportStatusFailed, Reason: describe(err)})
}

func (b *reportBuilder) imported(res domain.ImportRowResult) {
	b.Imported++
	res.Status = domain.ImportStatusImported
	b.Rows = append(b.Rows, res)
}

func (b *reportBuilder) planned(res domain.ImportRowResult) {
	b.Imported++
	res.Status = domain.ImportStatusPlanned
	b.Rows = append(b.Rows, res)
}

func (b *reportBuilder) countCreated(path domain.ResolvedPath) {
	if path.CategoryCreated {
		b.CreatedCategories++
	}
	if path.ItemCreated {
		b.CreatedItems++
	}
	if path.SubItemCreated {
		b.CreatedSubItems++
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidQuantity):
		return reasonNoQuantity
	case errors.Is(err, store.ErrInvalidTransaction):
		return "invalid row"
	default:
		return err.Error()
	}
}
