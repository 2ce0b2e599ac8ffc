// Package importer turns uploaded CSV sheets into catalog and ledger writes.
//
// Sheets may use English headers or the shop's original Chinese headers
// (類別, 品項, 細項, 買入數量, ...). Rows are processed one by one and a bad row
// never aborts the file.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"trumi/inventory/internal/domain"
)

const (
	TargetCatalog   = "catalog"
	TargetPurchases = "purchases"
	TargetSales     = "sales"
)

var (
	ErrUnknownTarget = errors.New("unknown import target")
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyFile     = errors.New("file has no header row")
)

const utf8BOM = "\ufeff"

type column int

const (
	colCategory column = iota
	colItem
	colSubItem
	colQuantity
	colUnitPrice
	colDate
	colSeries
	colImage
)

var sharedAliases = map[string]column{
	"category":  colCategory,
	"類別":        colCategory,
	"item":      colItem,
	"品項":        colItem,
	"sub_item":  colSubItem,
	"subitem":   colSubItem,
	"sub-item":  colSubItem,
	"細項":        colSubItem,
	"date":      colDate,
	"日期":        colDate,
	"series":    colSeries,
	"系列":        colSeries,
	"image":     colImage,
	"image_ref": colImage,
	"圖片":        colImage,
}

var ledgerAliases = map[string]column{
	"quantity":   colQuantity,
	"qty":        colQuantity,
	"unit_price": colUnitPrice,
	"price":      colUnitPrice,
}

var kindAliases = map[domain.TransactionKind]map[string]column{
	domain.KindPurchase: {"買入數量": colQuantity, "買入單價": colUnitPrice},
	domain.KindSale:     {"賣出數量": colQuantity, "賣出單價": colUnitPrice},
}

// KindForTarget maps a ledger target name to its transaction kind.
func KindForTarget(target string) (domain.TransactionKind, error) {
	switch target {
	case TargetPurchases:
		return domain.KindPurchase, nil
	case TargetSales:
		return domain.KindSale, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
}

// ParseLedger reads a purchase or sale sheet. Header problems fail the whole
// file; value problems are attached to the row as ParseError.
func ParseLedger(r io.Reader, kind domain.TransactionKind) ([]domain.ImportRow, error) {
	aliases := mergeAliases(sharedAliases, ledgerAliases, kindAliases[kind])
	return parse(r, aliases, []column{colCategory, colItem, colSubItem, colQuantity, colUnitPrice}, true)
}

// ParseCatalog reads a master-data sheet with at least a category column.
func ParseCatalog(r io.Reader) ([]domain.ImportRow, error) {
	return parse(r, sharedAliases, []column{colCategory}, false)
}

func mergeAliases(sets ...map[string]column) map[string]column {
	merged := make(map[string]column)
	for _, set := range sets {
		for k, v := range set {
			merged[k] = v
		}
	}
	return merged
}

func parse(r io.Reader, aliases map[string]column, required []column, ledger bool) ([]domain.ImportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, err
	}

	index := make(map[column]int)
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		col, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, seen := index[col]; !seen {
			index[col] = i
		}
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnName(col))
		}
	}

	rows := make([]domain.ImportRow, 0, 64)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rows = append(rows, domain.ImportRow{Line: line, ParseError: parseErr.Err.Error()})
				continue
			}
			return nil, err
		}
		if blank(record) {
			continue
		}

		field := func(col column) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		row := domain.ImportRow{
			Line:     line,
			Category: field(colCategory),
			Item:     field(colItem),
			SubItem:  field(colSubItem),
			Series:   field(colSeries),
			ImageRef: field(colImage),
			Date:     field(colDate),
		}
		if ledger {
			qty, err := parseQuantity(field(colQuantity))
			if err != nil {
				row.ParseError = err.Error()
			}
			row.Quantity = qty
			price, err := parsePrice(field(colUnitPrice))
			if err != nil && row.ParseError == "" {
				row.ParseError = err.Error()
			}
			row.UnitPrice = price
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// maxQuantity bounds a single sheet row so the conversion to int is exact.
var maxQuantity = decimal.NewFromInt(math.MaxInt32)

// parseQuantity accepts whole numbers, including spreadsheet renderings such
// as "3.0". An empty cell reads as zero.
func parseQuantity(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("quantity %q is not a number", raw)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("quantity %q is not a whole number", raw)
	}
	if d.Abs().GreaterThan(maxQuantity) {
		return 0, fmt.Errorf("quantity %q is out of range", raw)
	}
	return int(d.IntPart()), nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("unit price %q is not a number", raw)
	}
	return d, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func columnName(col column) string {
	switch col {
	case colCategory:
		return "category"
	case colItem:
		return "item"
	case colSubItem:
		return "sub_item"
	case colQuantity:
		return "quantity"
	case colUnitPrice:
		return "unit_price"
	case colDate:
		return "date"
	case colSeries:
		return "series"
	default:
		return "image"
	}
}
