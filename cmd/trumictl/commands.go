package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/export"
)

type importCmd struct {
	target string
	dryRun bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import a purchases, sales or catalog sheet" }
func (*importCmd) Usage() string {
	return `trumictl import -target <purchases|sales|catalog> [-dry-run] <file.csv>

  Reads a CSV sheet (English or Chinese headers) and prints the import report
  as JSON. With -dry-run nothing is written.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.target, "target", "purchases", "Sheet kind: purchases, sales or catalog")
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what would be imported without writing")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one sheet file is required")
		return subcommands.ExitUsageError
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return err
		}
		defer file.Close()

		report, err := s.svc.Import(ctx, c.target, file, c.dryRun)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
}

type templateCmd struct {
	target    string
	localized bool
}

func (*templateCmd) Name() string     { return "template" }
func (*templateCmd) Synopsis() string { return "print an empty import sheet" }
func (*templateCmd) Usage() string {
	return `trumictl template -target <purchases|sales|catalog> [-zh]
`
}

func (c *templateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.target, "target", "purchases", "Sheet kind: purchases, sales or catalog")
	f.BoolVar(&c.localized, "zh", false, "Use the Chinese column headers")
}

func (c *templateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(ctx, func(_ context.Context, s *session) error {
		raw, err := s.svc.ImportTemplate(c.target, c.localized)
		if err != nil {
			return err
		}
		_, err = stdout.Write(raw)
		return err
	})
}

type recordCmd struct {
	kind     domain.TransactionKind
	path     string
	quantity int
	price    string
	date     string
}

func (c *recordCmd) Name() string { return string(c.kind) }
func (c *recordCmd) Synopsis() string {
	return fmt.Sprintf("record a %s line, creating catalog levels as needed", c.kind)
}
func (c *recordCmd) Usage() string {
	return fmt.Sprintf(`trumictl %s -path "Category/Item/Sub-item" -qty <n> -price <unit> [-d <YYYY-MM-DD>]
`, c.kind)
}

func (c *recordCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.path, "path", "", "Catalog path as Category/Item/Sub-item")
	f.IntVar(&c.quantity, "qty", 0, "Quantity, must be positive")
	f.StringVar(&c.price, "price", "0", "Unit price")
	f.StringVar(&c.date, "d", "", "Transaction date (defaults to today)")
}

func (c *recordCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	parts := strings.Split(c.path, "/")
	if len(parts) != 3 {
		fmt.Fprintln(os.Stderr, "Error: -path must be Category/Item/Sub-item")
		return subcommands.ExitUsageError
	}
	price, err := decimal.NewFromString(strings.TrimSpace(c.price))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -price: %v\n", err)
		return subcommands.ExitUsageError
	}

	return withSession(ctx, func(ctx context.Context, s *session) error {
		resolved, err := s.svc.ResolvePath(ctx, domain.CatalogPath{Category: parts[0], Item: parts[1], SubItem: parts[2]})
		if err != nil {
			return err
		}
		tx, err := s.svc.RecordTransaction(ctx, c.kind, domain.TransactionCreateRequest{
			SubItemID: resolved.SubItemID,
			Quantity:  c.quantity,
			UnitPrice: price,
			Date:      c.date,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s %s %s x%d @ %s = %s\n",
			tx.ID, domain.FormatDay(tx.Date), c.path, tx.Quantity, s.money.Display(tx.UnitPrice), s.money.Display(tx.TotalPrice))
		return err
	})
}

type transactionsCmd struct {
	kind  string
	start string
	end   string
}

func (*transactionsCmd) Name() string     { return "transactions" }
func (*transactionsCmd) Synopsis() string { return "export one ledger as CSV" }
func (*transactionsCmd) Usage() string {
	return `trumictl transactions [-kind purchase|sale] [-start <date>] [-end <date>]
`
}

func (c *transactionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "kind", string(domain.KindSale), "Ledger: purchase or sale")
	f.StringVar(&c.start, "start", "", "First day, inclusive")
	f.StringVar(&c.end, "end", "", "Last day, inclusive")
}

func (c *transactionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind := domain.TransactionKind(c.kind)
	if !kind.Valid() {
		fmt.Fprintf(os.Stderr, "Error: unknown ledger %q\n", c.kind)
		return subcommands.ExitUsageError
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		views, err := s.svc.ListTransactions(ctx, kind, c.start, c.end)
		if err != nil {
			return err
		}
		return export.TransactionsCSV(stdout, views, s.money)
	})
}

type summaryCmd struct {
	start     string
	end       string
	threshold int
	idle      bool
	format    string
	plain     bool
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "print stock, average cost and valuation per sub-item" }
func (*summaryCmd) Usage() string {
	return `trumictl summary [-start <date>] [-end <date>] [-reorder <n>] [-idle] [-format markdown|csv|json]
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "start", "", "First day, inclusive")
	f.StringVar(&c.end, "end", "", "Last day, inclusive")
	f.IntVar(&c.threshold, "reorder", -1, "Flag rows whose stock is below this level")
	f.BoolVar(&c.idle, "idle", false, "Include sub-items without transactions")
	f.StringVar(&c.format, "format", "markdown", "Output format: markdown, csv or json")
	f.BoolVar(&c.plain, "plain", false, "Print markdown without terminal styling")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req := domain.SummaryRequest{Start: c.start, End: c.end, IncludeIdle: c.idle}
	if c.threshold >= 0 {
		threshold := c.threshold
		req.ReorderThreshold = &threshold
	}

	return withSession(ctx, func(ctx context.Context, s *session) error {
		summary, err := s.svc.Reconcile(ctx, req)
		if err != nil {
			return err
		}
		switch c.format {
		case "markdown":
			return printMarkdown(stdout, export.SummaryMarkdown(summary, s.money), c.plain)
		case "csv":
			return export.SummaryCSV(stdout, summary, s.money)
		case "json":
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			_, err := stdout.Write(buf.Bytes())
			return err
		default:
			return errors.New("unknown -format " + c.format)
		}
	})
}
