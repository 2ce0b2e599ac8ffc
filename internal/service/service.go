package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trumi/inventory/internal/cache"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
)

var (
	ErrForbidden            = errors.New("admin role required")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ValidationError lists the request fields that failed validation, keyed by
// their JSON name. It matches store.ErrInvalidTransaction under errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidTransaction
}

func fieldError(field string, tag string) error {
	return &ValidationError{Fields: map[string]string{field: tag}}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	summary  cache.SummaryCache
	cacheTTL time.Duration
	validate *validator.Validate
	now      func() time.Time
}

func New(repo store.Repository, summaryCache cache.SummaryCache, cacheTTL time.Duration) *Service {
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		summary:  summaryCache,
		cacheTTL: cacheTTL,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Compare decimals numerically so gte/gt tags work on prices.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, req.Name)
	if err != nil {
		return domain.Category{}, err
	}
	s.changed(ctx, actor, "category_create", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListItems(ctx context.Context, categoryID string) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, strings.TrimSpace(categoryID))
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		CategoryID: strings.TrimSpace(req.CategoryID),
		Name:       req.Name,
		Series:     req.Series,
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.changed(ctx, actor, "item_create", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if req.Series == nil {
		return domain.Item{}, fieldError("series", "required")
	}

	updated, err := s.repo.UpdateItemSeries(ctx, strings.TrimSpace(id), *req.Series)
	if err != nil {
		return domain.Item{}, err
	}
	s.changed(ctx, actor, "item_update", updated.ID, "series="+updated.Series)
	return *updated, nil
}

func (s *Service) ListSubItems(ctx context.Context, itemID string) ([]domain.SubItem, error) {
	return s.repo.ListSubItems(ctx, strings.TrimSpace(itemID))
}

// GetSubItem returns the sub-item together with its category and item.
func (s *Service) GetSubItem(ctx context.Context, id string) (domain.Ancestry, error) {
	return s.repo.GetAncestry(ctx, strings.TrimSpace(id))
}

func (s *Service) CreateSubItem(ctx context.Context, req domain.SubItemCreateRequest) (domain.SubItem, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.SubItem{}, err
	}
	if err := s.check(req); err != nil {
		return domain.SubItem{}, err
	}

	created, err := s.repo.CreateSubItem(ctx, domain.SubItem{
		ItemID:   strings.TrimSpace(req.ItemID),
		Name:     req.Name,
		ImageRef: req.ImageRef,
	})
	if err != nil {
		return domain.SubItem{}, err
	}
	s.changed(ctx, actor, "sub_item_create", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateSubItem(ctx context.Context, id string, req domain.SubItemUpdateRequest) (domain.SubItem, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.SubItem{}, err
	}
	if req.ImageRef == nil {
		return domain.SubItem{}, fieldError("image_ref", "required")
	}

	updated, err := s.repo.UpdateSubItemImage(ctx, strings.TrimSpace(id), *req.ImageRef)
	if err != nil {
		return domain.SubItem{}, err
	}
	s.changed(ctx, actor, "sub_item_update", updated.ID, "image_ref="+updated.ImageRef)
	return *updated, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string, cascade bool) error {
	return s.deleteNode(ctx, "category_delete", id, cascade, s.repo.DeleteCategory)
}

func (s *Service) DeleteItem(ctx context.Context, id string, cascade bool) error {
	return s.deleteNode(ctx, "item_delete", id, cascade, s.repo.DeleteItem)
}

func (s *Service) DeleteSubItem(ctx context.Context, id string, cascade bool) error {
	return s.deleteNode(ctx, "sub_item_delete", id, cascade, s.repo.DeleteSubItem)
}

func (s *Service) deleteNode(ctx context.Context, action string, id string, cascade bool, del func(context.Context, string, bool) error) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fieldError("id", "required")
	}
	if err := del(ctx, id, cascade); err != nil {
		return err
	}
	s.changed(ctx, actor, action, id, fmt.Sprintf("cascade=%t", cascade))
	return nil
}

// ResolvePath finds or creates each level of path by name.
func (s *Service) ResolvePath(ctx context.Context, path domain.CatalogPath) (domain.ResolvedPath, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ResolvedPath{}, err
	}

	resolved, err := s.repo.ResolveOrCreatePath(ctx, path)
	if err != nil {
		return domain.ResolvedPath{}, err
	}
	if resolved.CategoryCreated || resolved.ItemCreated || resolved.SubItemCreated {
		s.changed(ctx, actor, "catalog_resolve", resolved.CategoryID, path.Category+"/"+path.Item+"/"+path.SubItem)
	}
	return resolved, nil
}

func (s *Service) RecordTransaction(ctx context.Context, kind domain.TransactionKind, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !kind.Valid() {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	if err := s.check(req); err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		Kind:      kind,
		SubItemID: strings.TrimSpace(req.SubItemID),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	}
	if strings.TrimSpace(req.Date) != "" {
		day, err := domain.ParseDay(req.Date)
		if err != nil {
			return domain.Transaction{}, fieldError("date", "date")
		}
		tx.Date = day
	}

	saved, err := s.repo.RecordTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.changed(ctx, actor, string(kind)+"_record", saved.ID, fmt.Sprintf("sub_item=%s,qty=%d,unit_price=%s", saved.SubItemID, saved.Quantity, saved.UnitPrice))
	return *saved, nil
}

func (s *Service) EditTransaction(ctx context.Context, kind domain.TransactionKind, id string, req domain.TransactionUpdateRequest) (domain.Transaction, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !kind.Valid() {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	if err := s.check(req); err != nil {
		return domain.Transaction{}, err
	}

	patch := domain.TransactionPatch{Quantity: req.Quantity, UnitPrice: req.UnitPrice}
	if req.Date != nil {
		day, err := domain.ParseDay(*req.Date)
		if err != nil {
			return domain.Transaction{}, fieldError("date", "date")
		}
		patch.Date = &day
	}

	saved, err := s.repo.EditTransaction(ctx, kind, strings.TrimSpace(id), patch)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.changed(ctx, actor, string(kind)+"_edit", saved.ID, fmt.Sprintf("qty=%d,unit_price=%s,version=%d", saved.Quantity, saved.UnitPrice, saved.Version))
	return *saved, nil
}

func (s *Service) GetTransaction(ctx context.Context, kind domain.TransactionKind, id string) (domain.Transaction, error) {
	if !kind.Valid() {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.GetTransaction(ctx, kind, strings.TrimSpace(id))
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// ListTransactions returns one ledger, optionally limited to the inclusive
// window [start, end]. Either bound may be empty.
func (s *Service) ListTransactions(ctx context.Context, kind domain.TransactionKind, start string, end string) ([]domain.TransactionView, error) {
	if !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	window, err := ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, kind, window)
}

func (s *Service) DeleteTransaction(ctx context.Context, kind domain.TransactionKind, id string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if !kind.Valid() {
		return store.ErrInvalidTransaction
	}
	if err := s.repo.DeleteTransaction(ctx, kind, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.changed(ctx, actor, string(kind)+"_delete", id, "")
	return nil
}

// DeleteTransactions removes the listed lines in one atomic step. Unknown ids
// are ignored; the response carries how many lines were actually removed.
func (s *Service) DeleteTransactions(ctx context.Context, kind domain.TransactionKind, req domain.BatchDeleteRequest) (domain.BatchDeleteResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	if !kind.Valid() {
		return domain.BatchDeleteResponse{}, store.ErrInvalidTransaction
	}
	if !req.Confirm {
		return domain.BatchDeleteResponse{}, ErrConfirmationRequired
	}
	if len(req.IDs) == 0 {
		return domain.BatchDeleteResponse{}, fieldError("ids", "required")
	}

	deleted, err := s.repo.DeleteTransactions(ctx, kind, req.IDs)
	if err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	s.changed(ctx, actor, string(kind)+"_batch_delete", "", fmt.Sprintf("requested=%d,deleted=%d", len(req.IDs), deleted))
	return domain.BatchDeleteResponse{Kind: kind, Deleted: deleted}, nil
}

func (s *Service) DeleteAllTransactions(ctx context.Context, kind domain.TransactionKind, confirm bool) (domain.BatchDeleteResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	if !kind.Valid() {
		return domain.BatchDeleteResponse{}, store.ErrInvalidTransaction
	}
	if !confirm {
		return domain.BatchDeleteResponse{}, ErrConfirmationRequired
	}

	deleted, err := s.repo.DeleteAllTransactions(ctx, kind)
	if err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	s.changed(ctx, actor, string(kind)+"_clear", "", fmt.Sprintf("deleted=%d", deleted))
	return domain.BatchDeleteResponse{Kind: kind, Deleted: deleted}, nil
}

// ParseWindow turns optional YYYY-MM-DD bounds into a DateRange.
func ParseWindow(start string, end string) (domain.DateRange, error) {
	var window domain.DateRange
	if strings.TrimSpace(start) != "" {
		day, err := domain.ParseDay(start)
		if err != nil {
			return domain.DateRange{}, fieldError("start", "date")
		}
		window.Start = &day
	}
	if strings.TrimSpace(end) != "" {
		day, err := domain.ParseDay(end)
		if err != nil {
			return domain.DateRange{}, fieldError("end", "date")
		}
		window.End = &day
	}
	if window.Inverted() {
		return domain.DateRange{}, store.ErrInvalidDateRange
	}
	return window, nil
}

// changed logs a successful write and drops every cached summary table.
func (s *Service) changed(ctx context.Context, actor domain.Actor, action string, entityID string, detail string) {
	log.Info().
		Str("actor", actor.Username).
		Str("role", actor.Role).
		Str("action", action).
		Str("entity_id", entityID).
		Str("detail", detail).
		Msg("inventory change")

	if err := s.summary.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to invalidate summary cache")
	}
}
