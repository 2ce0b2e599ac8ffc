// Package export renders summary tables and ledgers as CSV and markdown.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"trumi/inventory/internal/domain"
)

var ErrUnknownCurrency = errors.New("unknown currency")

const utf8BOM = "\ufeff"

// Formatter prints amounts with the fraction digits of one ISO 4217 currency.
type Formatter struct {
	currency *money.Currency
}

func NewFormatter(code string) (Formatter, error) {
	cur := money.GetCurrency(strings.ToUpper(strings.TrimSpace(code)))
	if cur == nil {
		return Formatter{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return Formatter{currency: cur}, nil
}

func (f Formatter) Code() string {
	return f.currency.Code
}

// Amount is the plain decimal form used in CSV cells, e.g. "1234.50".
func (f Formatter) Amount(d decimal.Decimal) string {
	return d.StringFixed(int32(f.currency.Fraction))
}

// Display is the human form with grouping and symbol, e.g. "$1,234.50".
func (f Formatter) Display(d decimal.Decimal) string {
	minor := d.Shift(int32(f.currency.Fraction)).Round(0).IntPart()
	return f.currency.Formatter().Format(minor)
}

var summaryHeader = []string{
	"category", "item", "series", "sub_item",
	"purchased_qty", "avg_purchase_price", "spend",
	"sold_qty", "avg_sale_price", "revenue",
	"stock", "inventory_value", "oversold", "below_reorder",
}

// SummaryCSV writes the summary table followed by a totals line. The file
// starts with a UTF-8 byte order mark for spreadsheet programs.
func SummaryCSV(w io.Writer, summary domain.Summary, f Formatter) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}

	stock := 0
	for _, row := range summary.Rows {
		stock += row.Stock
		if err := cw.Write([]string{
			row.Category, row.Item, row.Series, row.SubItem,
			strconv.Itoa(row.PurchasedQty), f.Amount(row.AvgPurchasePrice), f.Amount(row.Spend),
			strconv.Itoa(row.SoldQty), f.Amount(row.AvgSalePrice), f.Amount(row.Revenue),
			strconv.Itoa(row.Stock), f.Amount(row.InventoryValue),
			strconv.FormatBool(row.Oversold), strconv.FormatBool(row.BelowReorder),
		}); err != nil {
			return err
		}
	}

	if err := cw.Write([]string{
		"TOTAL", "", "", "",
		"", "", f.Amount(summary.TotalSpend),
		"", "", f.Amount(summary.TotalRevenue),
		strconv.Itoa(stock), f.Amount(summary.TotalInventoryValue),
		strconv.Itoa(summary.OversoldCount), strconv.Itoa(summary.BelowReorderCount),
	}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

var transactionHeader = []string{"id", "date", "category", "item", "sub_item", "quantity", "unit_price", "total_price"}

// TransactionsCSV writes one ledger as it would be listed by the API.
func TransactionsCSV(w io.Writer, views []domain.TransactionView, f Formatter) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(transactionHeader); err != nil {
		return err
	}
	for _, v := range views {
		if err := cw.Write([]string{
			v.ID,
			domain.FormatDay(v.Date),
			v.CategoryName,
			v.ItemName,
			v.SubItemName,
			strconv.Itoa(v.Quantity),
			f.Amount(v.UnitPrice),
			f.Amount(v.TotalPrice),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
