package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"trumi/inventory/internal/store/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	NumberedParams:    true,
	ForUpdate:         " FOR UPDATE",
	WriteTx:           &sql.TxOptions{Isolation: sql.LevelSerializable},
	ReadTx:            &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	IsUniqueViolation: isUniqueViolation,
	Schema:            schema,
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES categories(id),
		name TEXT NOT NULL,
		series TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS items_category_name_idx ON items (category_id, name)`,
	`CREATE TABLE IF NOT EXISTS sub_items (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		name TEXT NOT NULL,
		image_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sub_items_item_name_idx ON sub_items (item_id, name)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('purchase', 'sale')),
		category_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		sub_item_id TEXT NOT NULL REFERENCES sub_items(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC NOT NULL CHECK (unit_price >= 0),
		total_price NUMERIC NOT NULL,
		tx_date DATE NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE items DROP CONSTRAINT IF EXISTS items_category_id_name_key`,
	`ALTER TABLE sub_items DROP CONSTRAINT IF EXISTS sub_items_item_id_name_key`,
	`ALTER TABLE ledger_entries ALTER COLUMN unit_price TYPE NUMERIC, ALTER COLUMN total_price TYPE NUMERIC`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_kind_date_idx ON ledger_entries (kind, tx_date)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_sub_item_idx ON ledger_entries (sub_item_id)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := sqlstore.New(db, Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
