package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/export"
	"trumi/inventory/internal/service"
	"trumi/inventory/internal/store"
)

const maxUploadBytes = 10 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	money         export.Formatter
	allowedOrigin string
	logins        *loginThrottle
	csrf          *csrfSigner
}

func New(svc *service.Service, auth *AuthManager, money export.Formatter, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		money:         money,
		allowedOrigin: allowedOrigin,
		logins:        newLoginThrottle(5, time.Minute),
		csrf:          newCSRFSigner(time.Hour),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/categories/", a.requireAuth(a.handleCategoryActions, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/sub-items", a.requireAuth(a.handleSubItems, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/sub-items/", a.requireAuth(a.handleSubItemActions, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/catalog/resolve", a.requireAuth(a.handleResolve, domain.RoleAdmin))

	for _, kind := range []domain.TransactionKind{domain.KindPurchase, domain.KindSale} {
		base := "/api/v1/" + ledgerPath(kind)
		mux.HandleFunc(base, a.requireAuth(a.handleLedger(kind), domain.RoleViewer, domain.RoleAdmin))
		mux.HandleFunc(base+"/", a.requireAuth(a.handleLedgerActions(kind), domain.RoleViewer, domain.RoleAdmin))
	}

	mux.HandleFunc("/api/v1/imports/", a.requireAuth(a.handleImport, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/import-templates/", a.requireAuth(a.handleImportTemplate, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/summary", a.requireAuth(a.handleSummary, domain.RoleViewer, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func ledgerPath(kind domain.TransactionKind) string {
	if kind == domain.KindSale {
		return "sales"
	}
	return "purchases"
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.logins.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := a.service.ListCategories(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
	case http.MethodPost:
		var req domain.CategoryCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		category, err := a.service.CreateCategory(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"category": category})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCategoryActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/categories/")
	if !ok {
		return
	}
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteCategory(r.Context(), id, queryBool(r, "cascade")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context(), r.URL.Query().Get("category_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/items/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req domain.ItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateItem(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodDelete:
		if err := a.service.DeleteItem(r.Context(), id, queryBool(r, "cascade")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSubItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subItems, err := a.service.ListSubItems(r.Context(), r.URL.Query().Get("item_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub_items": subItems})
	case http.MethodPost:
		var req domain.SubItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sub, err := a.service.CreateSubItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sub_item": sub})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSubItemActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/sub-items/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		ancestry, err := a.service.GetSubItem(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub_item": ancestry})
	case http.MethodPatch:
		var req domain.SubItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sub, err := a.service.UpdateSubItem(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub_item": sub})
	case http.MethodDelete:
		if err := a.service.DeleteSubItem(r.Context(), id, queryBool(r, "cascade")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CatalogPath
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resolved, err := a.service.ResolvePath(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (a *API) handleLedger(kind domain.TransactionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			views, err := a.service.ListTransactions(r.Context(), kind, query.Get("start"), query.Get("end"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if query.Get("format") == "csv" {
				var buf bytes.Buffer
				if err := export.TransactionsCSV(&buf, views, a.money); err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeFile(w, "text/csv; charset=utf-8", ledgerPath(kind)+".csv", buf.Bytes())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "transactions": views})
		case http.MethodPost:
			var req domain.TransactionCreateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			tx, err := a.service.RecordTransaction(r.Context(), kind, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
		case http.MethodDelete:
			if queryBool(r, "all") {
				resp, err := a.service.DeleteAllTransactions(r.Context(), kind, queryBool(r, "confirm"))
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, resp)
				return
			}
			var req domain.BatchDeleteRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			resp, err := a.service.DeleteTransactions(r.Context(), kind, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleLedgerActions(kind domain.TransactionKind) http.HandlerFunc {
	prefix := "/api/v1/" + ledgerPath(kind) + "/"
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, prefix)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			tx, err := a.service.GetTransaction(r.Context(), kind, id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
		case http.MethodPatch:
			var req domain.TransactionUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			tx, err := a.service.EditTransaction(r.Context(), kind, id, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
		case http.MethodDelete:
			if err := a.service.DeleteTransaction(r.Context(), kind, id); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w)
		}
	}
}

// handleImport accepts a CSV sheet either as the raw request body or as the
// "file" field of a multipart form.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	target, ok := pathID(w, r, "/api/v1/imports/")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var body io.Reader = r.Body
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, errUploadTooLarge)
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("file field required: %w", err))
			return
		}
		defer file.Close()
		body = file
	}

	report, err := a.service.Import(r.Context(), target, body, queryBool(r, "dry_run"))
	if err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, errUploadTooLarge)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

var errUploadTooLarge = errors.New("upload too large")

func tooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes) || errors.Is(err, multipart.ErrMessageTooLarge)
}

func (a *API) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	target, ok := pathID(w, r, "/api/v1/import-templates/")
	if !ok {
		return
	}
	localized := r.URL.Query().Get("lang") == "zh"
	raw, err := a.service.ImportTemplate(target, localized)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeFile(w, "text/csv; charset=utf-8", target+"_template.csv", raw)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	req := domain.SummaryRequest{
		CategoryID:  strings.TrimSpace(query.Get("category_id")),
		ItemID:      strings.TrimSpace(query.Get("item_id")),
		SubItemID:   strings.TrimSpace(query.Get("sub_item_id")),
		Start:       query.Get("start"),
		End:         query.Get("end"),
		IncludeIdle: queryBool(r, "include_idle"),
	}
	if raw := strings.TrimSpace(query.Get("reorder_threshold")); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("reorder_threshold must be an integer"))
			return
		}
		req.ReorderThreshold = &threshold
	}

	summary, err := a.service.Reconcile(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch query.Get("format") {
	case "csv":
		var buf bytes.Buffer
		if err := export.SummaryCSV(&buf, summary, a.money); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeFile(w, "text/csv; charset=utf-8", "summary.csv", buf.Bytes())
	case "markdown":
		writeFile(w, "text/markdown; charset=utf-8", "summary.md", []byte(export.SummaryMarkdown(summary, a.money)))
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errUserExists) || errors.Is(err, store.ErrDuplicateName) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

// pathID extracts the single path segment after prefix.
func pathID(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" || strings.Contains(tail, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid resource path"))
		return "", false
	}
	return tail, true
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrParentNotFound),
		errors.Is(err, store.ErrSubItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrCascadeConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrConfirmationRequired),
		errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidDateRange),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
		return
	}
	writeError(w, statusFor(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal details; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFile(w http.ResponseWriter, contentType string, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
