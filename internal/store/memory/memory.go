package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
	"trumi/inventory/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	categories      []domain.Category
	items           []domain.Item
	subItems        []domain.SubItem
	ledgers         map[domain.TransactionKind]map[string]domain.Transaction
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

func New() *Store {
	return &Store{
		ledgers: map[domain.TransactionKind]map[string]domain.Transaction{
			domain.KindPurchase: make(map[string]domain.Transaction),
			domain.KindSale:     make(map[string]domain.Transaction),
		},
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with demo accounts and a small jewelry catalog for
// local runs without a database. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_VIEWER_PASSWORD, falling back to dev defaults.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers(s.now())

	for _, path := range []domain.CatalogPath{
		{Category: "Rings", Item: "Band", SubItem: "Gold 18k"},
		{Category: "Rings", Item: "Band", SubItem: "Silver 925"},
		{Category: "Necklaces", Item: "Chain", SubItem: "Rose Gold"},
		{Category: "Earrings", Item: "Stud", SubItem: "Pearl"},
	} {
		// Seed paths are well formed, Resolve cannot fail on them.
		_, _ = s.ResolveOrCreatePath(context.Background(), path)
	}
	return s
}

func seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	viewerPwd := envOr("SEED_VIEWER_PASSWORD", "viewer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_VIEWER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_VIEWER_PASSWORD to override")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"viewer", viewerPwd, domain.RoleViewer},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot() catalog.Snapshot {
	return catalog.NewSnapshot(s.categories, s.items, s.subItems)
}

func (s *Store) CreateCategory(_ context.Context, name string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.snapshot().CategoryByName(name); exists {
		return nil, store.ErrDuplicateName
	}

	category := domain.Category{ID: xid.New("cat"), Name: name, CreatedAt: s.now()}
	s.categories = append(s.categories, category)
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := append([]domain.Category(nil), s.categories...)
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.Name = strings.TrimSpace(item.Name)
	item.Series = strings.TrimSpace(item.Series)
	if item.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	snap := s.snapshot()
	if _, ok := snap.Category(item.CategoryID); !ok {
		return nil, store.ErrParentNotFound
	}

	item.ID = xid.New("item")
	item.CreatedAt = s.now()
	s.items = append(s.items, item)
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, categoryID string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if categoryID != "" && item.CategoryID != categoryID {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) UpdateItemSeries(_ context.Context, itemID string, series string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID != itemID {
			continue
		}
		s.items[i].Series = strings.TrimSpace(series)
		updated := s.items[i]
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateSubItem(_ context.Context, sub domain.SubItem) (*domain.SubItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Name = strings.TrimSpace(sub.Name)
	sub.ImageRef = strings.TrimSpace(sub.ImageRef)
	if sub.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	snap := s.snapshot()
	if _, ok := snap.Item(sub.ItemID); !ok {
		return nil, store.ErrParentNotFound
	}

	sub.ID = xid.New("sub")
	sub.CreatedAt = s.now()
	s.subItems = append(s.subItems, sub)
	return &sub, nil
}

func (s *Store) ListSubItems(_ context.Context, itemID string) ([]domain.SubItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subItems := make([]domain.SubItem, 0, len(s.subItems))
	for _, sub := range s.subItems {
		if itemID != "" && sub.ItemID != itemID {
			continue
		}
		subItems = append(subItems, sub)
	}
	slices.SortFunc(subItems, func(a, b domain.SubItem) int {
		return cmpString(a.Name, b.Name)
	})
	return subItems, nil
}

func (s *Store) UpdateSubItemImage(_ context.Context, subItemID string, imageRef string) (*domain.SubItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subItems {
		if s.subItems[i].ID != subItemID {
			continue
		}
		s.subItems[i].ImageRef = strings.TrimSpace(imageRef)
		updated := s.subItems[i]
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetAncestry(_ context.Context, subItemID string) (domain.Ancestry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anc, ok := s.snapshot().Ancestry(subItemID)
	if !ok {
		return domain.Ancestry{}, store.ErrSubItemNotFound
	}
	return anc, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshot().Category(id); !ok {
		return store.ErrNotFound
	}
	itemIDs := make(map[string]bool)
	for _, item := range s.items {
		if item.CategoryID == id {
			itemIDs[item.ID] = true
		}
	}
	if len(itemIDs) > 0 && !cascade {
		return store.ErrCascadeConflict
	}

	s.removeItems(itemIDs)
	s.categories = slices.DeleteFunc(s.categories, func(c domain.Category) bool { return c.ID == id })
	return nil
}

func (s *Store) DeleteItem(_ context.Context, id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshot().Item(id); !ok {
		return store.ErrNotFound
	}
	for _, sub := range s.subItems {
		if sub.ItemID == id && !cascade {
			return store.ErrCascadeConflict
		}
	}

	s.removeItems(map[string]bool{id: true})
	return nil
}

func (s *Store) DeleteSubItem(_ context.Context, id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshot().SubItem(id); !ok {
		return store.ErrNotFound
	}
	subItemIDs := map[string]bool{id: true}
	if s.countTransactions(subItemIDs) > 0 && !cascade {
		return store.ErrCascadeConflict
	}

	s.removeSubItems(subItemIDs)
	return nil
}

// removeItems drops the given items, their sub-items and every ledger line
// that references them. Callers hold s.mu.
func (s *Store) removeItems(itemIDs map[string]bool) {
	if len(itemIDs) == 0 {
		return
	}
	subItemIDs := make(map[string]bool)
	for _, sub := range s.subItems {
		if itemIDs[sub.ItemID] {
			subItemIDs[sub.ID] = true
		}
	}
	s.removeSubItems(subItemIDs)
	s.items = slices.DeleteFunc(s.items, func(item domain.Item) bool { return itemIDs[item.ID] })
}

func (s *Store) removeSubItems(subItemIDs map[string]bool) {
	if len(subItemIDs) == 0 {
		return
	}
	for _, ledger := range s.ledgers {
		for id, tx := range ledger {
			if subItemIDs[tx.SubItemID] {
				delete(ledger, id)
			}
		}
	}
	s.subItems = slices.DeleteFunc(s.subItems, func(sub domain.SubItem) bool { return subItemIDs[sub.ID] })
}

func (s *Store) countTransactions(subItemIDs map[string]bool) int {
	count := 0
	for _, ledger := range s.ledgers {
		for _, tx := range ledger {
			if subItemIDs[tx.SubItemID] {
				count++
			}
		}
	}
	return count
}

func (s *Store) ResolveOrCreatePath(_ context.Context, path domain.CatalogPath) (domain.ResolvedPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, res, err := catalog.Resolve(s.snapshot(), path, xid.New, s.now())
	if err != nil {
		return domain.ResolvedPath{}, err
	}
	if res.Category != nil {
		s.categories = append(s.categories, *res.Category)
	}
	if res.Item != nil {
		s.items = append(s.items, *res.Item)
	}
	if res.SubItem != nil {
		s.subItems = append(s.subItems, *res.SubItem)
	}
	return res.Path, nil
}

func (s *Store) RecordTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if tx.Date.IsZero() {
		tx.Date = now
	}
	tx.Date = domain.Day(tx.Date)
	if err := store.ValidateTransaction(tx); err != nil {
		return nil, err
	}
	anc, ok := s.snapshot().Ancestry(tx.SubItemID)
	if !ok {
		return nil, store.ErrSubItemNotFound
	}

	tx.ID = xid.New(idPrefix(tx.Kind))
	tx.CategoryID = anc.CategoryID
	tx.ItemID = anc.ItemID
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx = store.TotalPrice(tx)
	s.ledgers[tx.Kind][tx.ID] = tx
	return &tx, nil
}

func (s *Store) EditTransaction(_ context.Context, kind domain.TransactionKind, id string, patch domain.TransactionPatch) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[kind]
	if !ok {
		return nil, store.ErrInvalidTransaction
	}
	current, exists := ledger[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	updated, err := store.ApplyPatch(current, patch, s.now())
	if err != nil {
		return nil, err
	}
	ledger[id] = updated
	return &updated, nil
}

func (s *Store) GetTransaction(_ context.Context, kind domain.TransactionKind, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.ledgers[kind][id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, kind domain.TransactionKind, window domain.DateRange) ([]domain.TransactionView, error) {
	if !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if window.Inverted() {
		return nil, store.ErrInvalidDateRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot()
	result := make([]domain.TransactionView, 0, len(s.ledgers[kind]))
	for _, tx := range s.ledgers[kind] {
		if !window.Contains(tx.Date) {
			continue
		}
		view := domain.TransactionView{Transaction: tx}
		if anc, ok := snap.Ancestry(tx.SubItemID); ok {
			view.CategoryName = anc.CategoryName
			view.ItemName = anc.ItemName
			view.SubItemName = anc.SubItemName
		}
		result = append(result, view)
	}
	slices.SortFunc(result, func(a, b domain.TransactionView) int {
		return compareTransactions(a.Transaction, b.Transaction)
	})
	return result, nil
}

func (s *Store) DeleteTransaction(_ context.Context, kind domain.TransactionKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgers[kind]
	if _, exists := ledger[id]; !exists {
		return store.ErrNotFound
	}
	delete(ledger, id)
	return nil
}

// DeleteTransactions removes the listed lines and reports how many existed.
// Unknown ids are ignored.
func (s *Store) DeleteTransactions(_ context.Context, kind domain.TransactionKind, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[kind]
	if !ok {
		return 0, store.ErrInvalidTransaction
	}
	deleted := 0
	for _, id := range ids {
		if _, exists := ledger[id]; exists {
			delete(ledger, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) DeleteAllTransactions(_ context.Context, kind domain.TransactionKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[kind]
	if !ok {
		return 0, store.ErrInvalidTransaction
	}
	deleted := len(ledger)
	s.ledgers[kind] = make(map[string]domain.Transaction)
	return deleted, nil
}

func (s *Store) LedgerSnapshot(_ context.Context, window domain.DateRange) (domain.LedgerSnapshot, error) {
	if window.Inverted() {
		return domain.LedgerSnapshot{}, store.ErrInvalidDateRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.LedgerSnapshot{
		Categories: append([]domain.Category(nil), s.categories...),
		Items:      append([]domain.Item(nil), s.items...),
		SubItems:   append([]domain.SubItem(nil), s.subItems...),
		Purchases:  s.windowed(domain.KindPurchase, window),
		Sales:      s.windowed(domain.KindSale, window),
	}, nil
}

func (s *Store) windowed(kind domain.TransactionKind, window domain.DateRange) []domain.Transaction {
	result := make([]domain.Transaction, 0, len(s.ledgers[kind]))
	for _, tx := range s.ledgers[kind] {
		if window.Contains(tx.Date) {
			result = append(result, tx)
		}
	}
	slices.SortFunc(result, compareTransactions)
	return result
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicateName
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func idPrefix(kind domain.TransactionKind) string {
	if kind == domain.KindSale {
		return "sale"
	}
	return "pur"
}

func compareTransactions(a, b domain.Transaction) int {
	if !a.Date.Equal(b.Date) {
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
