// Package sqlstore implements store.Repository on database/sql. The postgres
// and sqlite packages open the connection and supply a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
	"trumi/inventory/internal/xid"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates missing tables and indexes. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidTransaction
	}

	category := domain.Category{ID: xid.New("cat"), Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO categories (id, name, created_at)
		VALUES (?,?,?)
	`), category.ID, category.Name, s.dialect.timestamp(category.CreatedAt))
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM categories
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, timeValue{&c.CreatedAt}); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	item.Name = strings.TrimSpace(item.Name)
	item.Series = strings.TrimSpace(item.Series)
	if item.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	item.ID = xid.New("item")
	item.CreatedAt = s.now()

	err := s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, `SELECT id FROM categories WHERE id = ?`, item.CategoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrParentNotFound
			}
			return err
		}
		return s.insertItem(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) insertItem(ctx context.Context, q queryer, item domain.Item) error {
	_, err := q.ExecContext(ctx, s.q(`
		INSERT INTO items (id, category_id, name, series, created_at)
		VALUES (?,?,?,?,?)
	`), item.ID, item.CategoryID, item.Name, item.Series, s.dialect.timestamp(item.CreatedAt))
	return err
}

func (s *Store) ListItems(ctx context.Context, categoryID string) ([]domain.Item, error) {
	return s.listItems(ctx, s.db, categoryID)
}

func (s *Store) listItems(ctx context.Context, q queryer, categoryID string) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT id, category_id, name, series, created_at
		FROM items
		WHERE (? = '' OR category_id = ?)
		ORDER BY name, id
	`), categoryID, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.CategoryID, &item.Name, &item.Series, timeValue{&item.CreatedAt}); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateItemSeries(ctx context.Context, itemID string, series string) (*domain.Item, error) {
	var item domain.Item
	err := s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE items SET series = ? WHERE id = ?`), strings.TrimSpace(series), itemID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.q(`
			SELECT id, category_id, name, series, created_at
			FROM items
			WHERE id = ?
		`), itemID).Scan(&item.ID, &item.CategoryID, &item.Name, &item.Series, timeValue{&item.CreatedAt})
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateSubItem(ctx context.Context, sub domain.SubItem) (*domain.SubItem, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.ImageRef = strings.TrimSpace(sub.ImageRef)
	if sub.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	sub.ID = xid.New("sub")
	sub.CreatedAt = s.now()

	err := s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, `SELECT id FROM items WHERE id = ?`, sub.ItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrParentNotFound
			}
			return err
		}
		return s.insertSubItem(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) insertSubItem(ctx context.Context, q queryer, sub domain.SubItem) error {
	_, err := q.ExecContext(ctx, s.q(`
		INSERT INTO sub_items (id, item_id, name, image_ref, created_at)
		VALUES (?,?,?,?,?)
	`), sub.ID, sub.ItemID, sub.Name, sub.ImageRef, s.dialect.timestamp(sub.CreatedAt))
	return err
}

func (s *Store) ListSubItems(ctx context.Context, itemID string) ([]domain.SubItem, error) {
	return s.listSubItems(ctx, s.db, itemID)
}

func (s *Store) listSubItems(ctx context.Context, q queryer, itemID string) ([]domain.SubItem, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT id, item_id, name, image_ref, created_at
		FROM sub_items
		WHERE (? = '' OR item_id = ?)
		ORDER BY name, id
	`), itemID, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subItems := make([]domain.SubItem, 0, 128)
	for rows.Next() {
		var sub domain.SubItem
		if err := rows.Scan(&sub.ID, &sub.ItemID, &sub.Name, &sub.ImageRef, timeValue{&sub.CreatedAt}); err != nil {
			return nil, err
		}
		subItems = append(subItems, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subItems, nil
}

func (s *Store) UpdateSubItemImage(ctx context.Context, subItemID string, imageRef string) (*domain.SubItem, error) {
	var sub domain.SubItem
	err := s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE sub_items SET image_ref = ? WHERE id = ?`), strings.TrimSpace(imageRef), subItemID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.q(`
			SELECT id, item_id, name, image_ref, created_at
			FROM sub_items
			WHERE id = ?
		`), subItemID).Scan(&sub.ID, &sub.ItemID, &sub.Name, &sub.ImageRef, timeValue{&sub.CreatedAt})
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetAncestry(ctx context.Context, subItemID string) (domain.Ancestry, error) {
	return s.ancestry(ctx, s.db, subItemID)
}

func (s *Store) ancestry(ctx context.Context, q queryer, subItemID string) (domain.Ancestry, error) {
	var anc domain.Ancestry
	err := q.QueryRowContext(ctx, s.q(`
		SELECT c.id, c.name, i.id, i.name, s.id, s.name
		FROM sub_items s
		JOIN items i ON i.id = s.item_id
		JOIN categories c ON c.id = i.category_id
		WHERE s.id = ?
	`), subItemID).Scan(&anc.CategoryID, &anc.CategoryName, &anc.ItemID, &anc.ItemName, &anc.SubItemID, &anc.SubItemName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ancestry{}, store.ErrSubItemNotFound
		}
		return domain.Ancestry{}, err
	}
	return anc, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string, cascade bool) error {
	return s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, `SELECT id FROM categories WHERE id = ?`+s.dialect.ForUpdate, id); err != nil {
			return err
		}
		children, err := s.count(ctx, tx, `SELECT COUNT(*) FROM items WHERE category_id = ?`, id)
		if err != nil {
			return err
		}
		if children > 0 && !cascade {
			return store.ErrCascadeConflict
		}

		for _, stmt := range []string{
			`DELETE FROM ledger_entries WHERE sub_item_id IN (
				SELECT s.id FROM sub_items s JOIN items i ON i.id = s.item_id WHERE i.category_id = ?
			)`,
			`DELETE FROM sub_items WHERE item_id IN (SELECT id FROM items WHERE category_id = ?)`,
			`DELETE FROM items WHERE category_id = ?`,
			`DELETE FROM categories WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteItem(ctx context.Context, id string, cascade bool) error {
	return s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, `SELECT id FROM items WHERE id = ?`+s.dialect.ForUpdate, id); err != nil {
			return err
		}
		children, err := s.count(ctx, tx, `SELECT COUNT(*) FROM sub_items WHERE item_id = ?`, id)
		if err != nil {
			return err
		}
		if children > 0 && !cascade {
			return store.ErrCascadeConflict
		}

		for _, stmt := range []string{
			`DELETE FROM ledger_entries WHERE sub_item_id IN (SELECT id FROM sub_items WHERE item_id = ?)`,
			`DELETE FROM sub_items WHERE item_id = ?`,
			`DELETE FROM items WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteSubItem(ctx context.Context, id string, cascade bool) error {
	return s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, `SELECT id FROM sub_items WHERE id = ?`+s.dialect.ForUpdate, id); err != nil {
			return err
		}
		lines, err := s.count(ctx, tx, `SELECT COUNT(*) FROM ledger_entries WHERE sub_item_id = ?`, id)
		if err != nil {
			return err
		}
		if lines > 0 && !cascade {
			return store.ErrCascadeConflict
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM ledger_entries WHERE sub_item_id = ?`), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`DELETE FROM sub_items WHERE id = ?`), id)
		return err
	})
}

// ResolveOrCreatePath loads the catalog inside a write transaction, resolves
// the path against it and inserts whatever levels were missing.
func (s *Store) ResolveOrCreatePath(ctx context.Context, path domain.CatalogPath) (domain.ResolvedPath, error) {
	var resolved domain.ResolvedPath
	err := s.inTx(ctx, s.dialect.WriteTx, func(tx *sql.Tx) error {
		snap, err := s.loadCatalog(ctx, tx)
		if err != nil {
			return err
		}
		_, res, err := catalog.Resolve(snap, path, xid.New, s.now())
		if err != nil {
			return err
		}

		if res.Category != nil {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO categories (id, name, created_at)
				VALUES (?,?,?)
			`), res.Category.ID, res.Category.Name, s.dialect.timestamp(res.Category.CreatedAt))
			if err != nil {
				if s.dialect.uniqueViolation(err) {
					return store.ErrDuplicateName
				}
				return err
			}
		}
		if res.Item != nil {
			if err := s.insertItem(ctx, tx, *res.Item); err != nil {
				return err
			}
		}
		if res.SubItem != nil {
			if err := s.insertSubItem(ctx, tx, *res.SubItem); err != nil {
				return err
			}
		}
		resolved = res.Path
		return nil
	})
	if err != nil {
		return domain.ResolvedPath{}, err
	}
	return resolved, nil
}

func (s *Store) loadCatalog(ctx context.Context, q queryer) (catalog.Snapshot, error) {
	categories, items, subItems, err := s.loadNodes(ctx, q)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return catalog.NewSnapshot(categories, items, subItems), nil
}

// loadNodes returns every catalog node in creation order, which keeps name
// lookups stable when siblings share a name.
func (s *Store) loadNodes(ctx context.Context, q queryer) ([]domain.Category, []domain.Item, []domain.SubItem, error) {
	catRows, err := q.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, nil, err
	}
	categories := make([]domain.Category, 0, 32)
	for catRows.Next() {
		var c domain.Category
		if err := catRows.Scan(&c.ID, &c.Name, timeValue{&c.CreatedAt}); err != nil {
			_ = catRows.Close()
			return nil, nil, nil, err
		}
		categories = append(categories, c)
	}
	if err := catRows.Err(); err != nil {
		_ = catRows.Close()
		return nil, nil, nil, err
	}
	_ = catRows.Close()

	itemRows, err := q.QueryContext(ctx, `SELECT id, category_id, name, series, created_at FROM items ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, nil, err
	}
	items := make([]domain.Item, 0, 64)
	for itemRows.Next() {
		var item domain.Item
		if err := itemRows.Scan(&item.ID, &item.CategoryID, &item.Name, &item.Series, timeValue{&item.CreatedAt}); err != nil {
			_ = itemRows.Close()
			return nil, nil, nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, nil, nil, err
	}
	_ = itemRows.Close()

	subRows, err := q.QueryContext(ctx, `SELECT id, item_id, name, image_ref, created_at FROM sub_items ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, nil, err
	}
	subItems := make([]domain.SubItem, 0, 128)
	for subRows.Next() {
		var sub domain.SubItem
		if err := subRows.Scan(&sub.ID, &sub.ItemID, &sub.Name, &sub.ImageRef, timeValue{&sub.CreatedAt}); err != nil {
			_ = subRows.Close()
			return nil, nil, nil, err
		}
		subItems = append(subItems, sub)
	}
	if err := subRows.Err(); err != nil {
		_ = subRows.Close()
		return nil, nil, nil, err
	}
	_ = subRows.Close()

	return categories, items, subItems, nil
}

func (s *Store) requireRow(ctx context.Context, q queryer, query string, args ...any) error {
	var id string
	err := q.QueryRowContext(ctx, s.q(query), args...).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) count(ctx context.Context, q queryer, query string, args ...any) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
