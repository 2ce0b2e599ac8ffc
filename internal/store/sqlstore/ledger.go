package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
	"trumi/inventory/internal/xid"
)

func (s *Store) RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	now := s.now()
	if tx.Date.IsZero() {
		tx.Date = now
	}
	tx.Date = domain.Day(tx.Date)
	if err := store.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	err := s.inTx(ctx, s.dialect.WriteTx, func(sqlTx *sql.Tx) error {
		anc, err := s.ancestry(ctx, sqlTx, tx.SubItemID)
		if err != nil {
			return err
		}
		tx.ID = xid.New(idPrefix(tx.Kind))
		tx.CategoryID = anc.CategoryID
		tx.ItemID = anc.ItemID
		tx.Version = 1
		tx.CreatedAt = now
		tx.UpdatedAt = now
		tx = store.TotalPrice(tx)

		_, err = sqlTx.ExecContext(ctx, s.q(`
			INSERT INTO ledger_entries (
				id, kind, category_id, item_id, sub_item_id, quantity,
				unit_price, total_price, tx_date, version, created_at, updated_at
			)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		`), tx.ID, string(tx.Kind), tx.CategoryID, tx.ItemID, tx.SubItemID, tx.Quantity,
			tx.UnitPrice, tx.TotalPrice, domain.FormatDay(tx.Date), tx.Version,
			s.dialect.timestamp(tx.CreatedAt), s.dialect.timestamp(tx.UpdatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// EditTransaction locks the line, applies the patch and writes it back only
// if nobody bumped the version in between.
func (s *Store) EditTransaction(ctx context.Context, kind domain.TransactionKind, id string, patch domain.TransactionPatch) (*domain.Transaction, error) {
	if !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}

	var updated domain.Transaction
	err := s.inTx(ctx, s.dialect.WriteTx, func(sqlTx *sql.Tx) error {
		current, err := scanTransaction(sqlTx.QueryRowContext(ctx, s.q(`
			SELECT `+transactionColumns+`
			FROM ledger_entries e
			WHERE e.id = ? AND e.kind = ?`+s.dialect.ForUpdate), id, string(kind)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		updated, err = store.ApplyPatch(current, patch, s.now())
		if err != nil {
			return err
		}
		res, err := sqlTx.ExecContext(ctx, s.q(`
			UPDATE ledger_entries
			SET quantity = ?, unit_price = ?, total_price = ?, tx_date = ?, version = ?, updated_at = ?
			WHERE id = ? AND kind = ? AND version = ?
		`), updated.Quantity, updated.UnitPrice, updated.TotalPrice, domain.FormatDay(updated.Date),
			updated.Version, s.dialect.timestamp(updated.UpdatedAt), id, string(kind), current.Version)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetTransaction(ctx context.Context, kind domain.TransactionKind, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+transactionColumns+`
		FROM ledger_entries e
		WHERE e.id = ? AND e.kind = ?
	`), id, string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, kind domain.TransactionKind, window domain.DateRange) ([]domain.TransactionView, error) {
	if !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if window.Inverted() {
		return nil, store.ErrInvalidDateRange
	}

	where, args := windowClause(kind, window)
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+transactionColumns+`, c.name, i.name, s.name
		FROM ledger_entries e
		JOIN sub_items s ON s.id = e.sub_item_id
		JOIN items i ON i.id = s.item_id
		JOIN categories c ON c.id = i.category_id
		WHERE `+where+`
		ORDER BY e.tx_date, e.created_at, e.id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]domain.TransactionView, 0, 128)
	for rows.Next() {
		var view domain.TransactionView
		tx, err := scanTransaction(rows, &view.CategoryName, &view.ItemName, &view.SubItemName)
		if err != nil {
			return nil, err
		}
		view.Transaction = tx
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, kind domain.TransactionKind, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM ledger_entries WHERE id = ? AND kind = ?`), id, string(kind))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteTransactions(ctx context.Context, kind domain.TransactionKind, ids []string) (int, error) {
	if !kind.Valid() {
		return 0, store.ErrInvalidTransaction
	}

	deleted := 0
	err := s.inTx(ctx, s.dialect.WriteTx, func(sqlTx *sql.Tx) error {
		for _, id := range ids {
			res, err := sqlTx.ExecContext(ctx, s.q(`DELETE FROM ledger_entries WHERE id = ? AND kind = ?`), id, string(kind))
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) DeleteAllTransactions(ctx context.Context, kind domain.TransactionKind) (int, error) {
	if !kind.Valid() {
		return 0, store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM ledger_entries WHERE kind = ?`), string(kind))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// LedgerSnapshot reads the catalog and both ledgers inside one read
// transaction so the summary never mixes states.
func (s *Store) LedgerSnapshot(ctx context.Context, window domain.DateRange) (domain.LedgerSnapshot, error) {
	if window.Inverted() {
		return domain.LedgerSnapshot{}, store.ErrInvalidDateRange
	}

	var snap domain.LedgerSnapshot
	err := s.inTx(ctx, s.dialect.ReadTx, func(sqlTx *sql.Tx) error {
		var err error
		snap.Categories, snap.Items, snap.SubItems, err = s.loadNodes(ctx, sqlTx)
		if err != nil {
			return err
		}
		if snap.Purchases, err = s.windowed(ctx, sqlTx, domain.KindPurchase, window); err != nil {
			return err
		}
		snap.Sales, err = s.windowed(ctx, sqlTx, domain.KindSale, window)
		return err
	})
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	return snap, nil
}

func (s *Store) windowed(ctx context.Context, q queryer, kind domain.TransactionKind, window domain.DateRange) ([]domain.Transaction, error) {
	where, args := windowClause(kind, window)
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT `+transactionColumns+`
		FROM ledger_entries e
		WHERE `+where+`
		ORDER BY e.tx_date, e.created_at, e.id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, 256)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func windowClause(kind domain.TransactionKind, window domain.DateRange) (string, []any) {
	conds := []string{"e.kind = ?"}
	args := []any{string(kind)}
	if window.Start != nil {
		conds = append(conds, "e.tx_date >= ?")
		args = append(args, domain.FormatDay(*window.Start))
	}
	if window.End != nil {
		conds = append(conds, "e.tx_date <= ?")
		args = append(args, domain.FormatDay(*window.End))
	}
	return strings.Join(conds, " AND "), args
}

func idPrefix(kind domain.TransactionKind) string {
	if kind == domain.KindSale {
		return "sale"
	}
	return "pur"
}
