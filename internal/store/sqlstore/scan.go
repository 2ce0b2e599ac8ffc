package sqlstore

import (
	"fmt"
	"time"

	"trumi/inventory/internal/domain"
)

// TimestampLayout is a fixed-width layout so text timestamps sort correctly.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timeLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	domain.DateLayout,
}

// timeValue scans TIMESTAMPTZ/DATE values from pgx and text columns from
// SQLite into the same time.Time.
type timeValue struct {
	dst *time.Time
}

func (v timeValue) Scan(src any) error {
	switch val := src.(type) {
	case nil:
		*v.dst = time.Time{}
		return nil
	case time.Time:
		*v.dst = val.UTC()
		return nil
	case string:
		return v.parse(val)
	case []byte:
		return v.parse(string(val))
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (v timeValue) parse(raw string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*v.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised time %q", raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `e.id, e.kind, e.category_id, e.item_id, e.sub_item_id, e.quantity,
	e.unit_price, e.total_price, e.tx_date, e.version, e.created_at, e.updated_at`

func scanTransaction(row rowScanner, extra ...any) (domain.Transaction, error) {
	var (
		tx   domain.Transaction
		kind string
	)
	dest := []any{
		&tx.ID, &kind, &tx.CategoryID, &tx.ItemID, &tx.SubItemID, &tx.Quantity,
		&tx.UnitPrice, &tx.TotalPrice, timeValue{&tx.Date}, &tx.Version,
		timeValue{&tx.CreatedAt}, timeValue{&tx.UpdatedAt},
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Transaction{}, err
	}
	tx.Kind = domain.TransactionKind(kind)
	tx.Date = domain.Day(tx.Date)
	return tx, nil
}
