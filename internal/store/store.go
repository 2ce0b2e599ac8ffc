package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trumi/inventory/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrParentNotFound     = errors.New("parent not found")
	ErrSubItemNotFound    = errors.New("sub-item not found")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
	ErrInvalidDateRange   = errors.New("start date is after end date")
	ErrCascadeConflict    = errors.New("node has live descendants")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// CatalogRepository holds the category -> item -> sub-item hierarchy.
type CatalogRepository interface {
	CreateCategory(ctx context.Context, name string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListItems(ctx context.Context, categoryID string) ([]domain.Item, error)
	UpdateItemSeries(ctx context.Context, itemID string, series string) (*domain.Item, error)
	CreateSubItem(ctx context.Context, sub domain.SubItem) (*domain.SubItem, error)
	ListSubItems(ctx context.Context, itemID string) ([]domain.SubItem, error)
	UpdateSubItemImage(ctx context.Context, subItemID string, imageRef string) (*domain.SubItem, error)
	GetAncestry(ctx context.Context, subItemID string) (domain.Ancestry, error)
	DeleteCategory(ctx context.Context, id string, cascade bool) error
	DeleteItem(ctx context.Context, id string, cascade bool) error
	DeleteSubItem(ctx context.Context, id string, cascade bool) error
	ResolveOrCreatePath(ctx context.Context, path domain.CatalogPath) (domain.ResolvedPath, error)
}

// LedgerRepository holds purchase and sale records. Implementations derive
// CategoryID and ItemID from SubItemID and compute TotalPrice themselves.
type LedgerRepository interface {
	RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	EditTransaction(ctx context.Context, kind domain.TransactionKind, id string, patch domain.TransactionPatch) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, kind domain.TransactionKind, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, kind domain.TransactionKind, window domain.DateRange) ([]domain.TransactionView, error)
	DeleteTransaction(ctx context.Context, kind domain.TransactionKind, id string) error
	DeleteTransactions(ctx context.Context, kind domain.TransactionKind, ids []string) (int, error)
	DeleteAllTransactions(ctx context.Context, kind domain.TransactionKind) (int, error)
	LedgerSnapshot(ctx context.Context, window domain.DateRange) (domain.LedgerSnapshot, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CatalogRepository
	LedgerRepository
	UserRepository
}

// TotalPrice is quantity x unit price; stored totals are always derived here.
func TotalPrice(tx domain.Transaction) domain.Transaction {
	tx.TotalPrice = tx.UnitPrice.Mul(decimal.NewFromInt(int64(tx.Quantity)))
	return tx
}

// ValidateTransaction checks the invariants every stored line must hold.
func ValidateTransaction(tx domain.Transaction) error {
	if !tx.Kind.Valid() {
		return ErrInvalidTransaction
	}
	if tx.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if tx.UnitPrice.IsNegative() {
		return ErrInvalidTransaction
	}
	if tx.SubItemID == "" {
		return ErrSubItemNotFound
	}
	return nil
}

// ApplyPatch folds a partial edit into tx and recomputes its total.
func ApplyPatch(tx domain.Transaction, patch domain.TransactionPatch, at time.Time) (domain.Transaction, error) {
	if patch.Quantity != nil {
		tx.Quantity = *patch.Quantity
	}
	if patch.UnitPrice != nil {
		tx.UnitPrice = *patch.UnitPrice
	}
	if patch.Date != nil {
		tx.Date = domain.Day(*patch.Date)
	}
	if err := ValidateTransaction(tx); err != nil {
		return domain.Transaction{}, err
	}
	tx.Version++
	tx.UpdatedAt = at
	return TotalPrice(tx), nil
}
