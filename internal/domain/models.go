package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for ledger dates.
const DateLayout = "2006-01-02"

type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindSale     TransactionKind = "sale"
)

func (k TransactionKind) Valid() bool {
	return k == KindPurchase || k == KindSale
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id"`
	Name       string    `json:"name"`
	Series     string    `json:"series,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type SubItem struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	ImageRef  string    `json:"image_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ancestry is the resolved position of a sub-item in the catalog.
type Ancestry struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ItemID       string `json:"item_id"`
	ItemName     string `json:"item_name"`
	SubItemID    string `json:"sub_item_id"`
	SubItemName  string `json:"sub_item_name"`
}

// Transaction is a purchase or sale line. CategoryID and ItemID are copies of
// the sub-item's ancestry taken at write time.
type Transaction struct {
	ID         string          `json:"id"`
	Kind       TransactionKind `json:"kind"`
	CategoryID string          `json:"category_id"`
	ItemID     string          `json:"item_id"`
	SubItemID  string          `json:"sub_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Date       time.Time       `json:"date"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TransactionView is a ledger line joined with catalog display names.
type TransactionView struct {
	Transaction
	CategoryName string `json:"category_name"`
	ItemName     string `json:"item_name"`
	SubItemName  string `json:"sub_item_name"`
}

type CategoryCreateRequest struct {
	Name string `json:"name" validate:"required"`
}

type ItemCreateRequest struct {
	CategoryID string `json:"category_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Series     string `json:"series"`
}

type ItemUpdateRequest struct {
	Series *string `json:"series,omitempty"`
}

type SubItemCreateRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	ImageRef string `json:"image_ref"`
}

type SubItemUpdateRequest struct {
	ImageRef *string `json:"image_ref,omitempty"`
}

// CatalogPath names a position in the catalog. Item and SubItem may be empty
// for master-data imports that only create upper levels.
type CatalogPath struct {
	Category string `json:"category"`
	Item     string `json:"item"`
	SubItem  string `json:"sub_item"`
}

type ResolvedPath struct {
	CategoryID      string `json:"category_id"`
	ItemID          string `json:"item_id,omitempty"`
	SubItemID       string `json:"sub_item_id,omitempty"`
	CategoryCreated bool   `json:"category_created"`
	ItemCreated     bool   `json:"item_created"`
	SubItemCreated  bool   `json:"sub_item_created"`
}

type TransactionCreateRequest struct {
	SubItemID string          `json:"sub_item_id" validate:"required"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Date      string          `json:"date,omitempty"`
}

// TransactionUpdateRequest is a partial edit; nil fields are left unchanged.
type TransactionUpdateRequest struct {
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	Date      *string          `json:"date,omitempty"`
}

// TransactionPatch is the validated form of TransactionUpdateRequest.
type TransactionPatch struct {
	Quantity  *int
	UnitPrice *decimal.Decimal
	Date      *time.Time
}

type BatchDeleteRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

type BatchDeleteResponse struct {
	Kind    TransactionKind `json:"kind"`
	Deleted int             `json:"deleted"`
}

// DateRange is an inclusive window on transaction dates. Nil bounds are open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (r DateRange) Contains(day time.Time) bool {
	if r.Start != nil && day.Before(*r.Start) {
		return false
	}
	if r.End != nil && day.After(*r.End) {
		return false
	}
	return true
}

func (r DateRange) Inverted() bool {
	return r.Start != nil && r.End != nil && r.Start.After(*r.End)
}

// LedgerSnapshot is a consistent read of the catalog and both ledgers.
type LedgerSnapshot struct {
	Categories []Category
	Items      []Item
	SubItems   []SubItem
	Purchases  []Transaction
	Sales      []Transaction
}

// SummaryRequest is the raw query a caller sends; dates use DateLayout.
type SummaryRequest struct {
	CategoryID       string
	ItemID           string
	SubItemID        string
	Start            string
	End              string
	ReorderThreshold *int
	IncludeIdle      bool
}

type SummaryOptions struct {
	CategoryID       string
	ItemID           string
	SubItemID        string
	Window           DateRange
	ReorderThreshold *int
	IncludeIdle      bool
}

type SummaryRow struct {
	CategoryID       string          `json:"category_id"`
	Category         string          `json:"category"`
	ItemID           string          `json:"item_id"`
	Item             string          `json:"item"`
	Series           string          `json:"series,omitempty"`
	SubItemID        string          `json:"sub_item_id"`
	SubItem          string          `json:"sub_item"`
	PurchasedQty     int             `json:"purchased_qty"`
	AvgPurchasePrice decimal.Decimal `json:"avg_purchase_price"`
	Spend            decimal.Decimal `json:"spend"`
	SoldQty          int             `json:"sold_qty"`
	AvgSalePrice     decimal.Decimal `json:"avg_sale_price"`
	Revenue          decimal.Decimal `json:"revenue"`
	Stock            int             `json:"stock"`
	InventoryValue   decimal.Decimal `json:"inventory_value"`
	Oversold         bool            `json:"oversold"`
	BelowReorder     bool            `json:"below_reorder"`
}

type Summary struct {
	Rows                []SummaryRow    `json:"rows"`
	TotalSpend          decimal.Decimal `json:"total_spend"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	NetProfit           decimal.Decimal `json:"net_profit"`
	TotalInventoryValue decimal.Decimal `json:"total_inventory_value"`
	OversoldCount       int             `json:"oversold_count"`
	BelowReorderCount   int             `json:"below_reorder_count"`
	ReorderThreshold    *int            `json:"reorder_threshold,omitempty"`
	Start               string          `json:"start,omitempty"`
	End                 string          `json:"end,omitempty"`
	GeneratedAt         string          `json:"generated_at"`
}

// ImportRow is one parsed line of a bulk upload.
type ImportRow struct {
	Line      int
	Category  string
	Item      string
	SubItem   string
	Series    string
	ImageRef  string
	Quantity  int
	UnitPrice decimal.Decimal
	Date      string
	// ParseError is set when the line could not be decoded; the row is then
	// reported as failed without touching the store.
	ParseError string
}

const (
	ImportStatusImported = "imported"
	ImportStatusSkipped  = "skipped"
	ImportStatusFailed   = "failed"
	ImportStatusPlanned  = "planned"
)

// ImportRowResult reports one input line. Dry runs use ImportStatusPlanned
// for rows that would be imported.
type ImportRowResult struct {
	Line          int    `json:"line"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	SubItemID     string `json:"sub_item_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type ImportReport struct {
	Target            string            `json:"target"`
	DryRun            bool              `json:"dry_run"`
	Imported          int               `json:"imported"`
	Skipped           int               `json:"skipped"`
	Failed            int               `json:"failed"`
	CreatedCategories int               `json:"created_categories"`
	CreatedItems      int               `json:"created_items"`
	CreatedSubItems   int               `json:"created_sub_items"`
	Rows              []ImportRowResult `json:"rows"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
