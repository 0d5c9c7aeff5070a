package tenants

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/peopleops/portal/pkg/audit"
	"github.com/peopleops/portal/pkg/httputil"
)

// Handler exposes tenant administration over HTTP
type Handler struct {
	service Service
}

// NewHandler creates the tenant HTTP handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers tenant administration routes. The read and
// admin middlewares gate the routes; nil means ungated.
func (h *Handler) RegisterRoutes(r *mux.Router, requireRead, requireAdmin func(http.Handler) http.Handler) {
	if requireRead == nil {
		requireRead = passthrough
	}
	if requireAdmin == nil {
		requireAdmin = passthrough
	}

	r.Handle("/tenants", requireRead(http.HandlerFunc(h.ListTenants))).Methods(http.MethodGet)
	r.Handle("/tenants", requireAdmin(http.HandlerFunc(h.CreateTenant))).Methods(http.MethodPost)
	r.Handle("/tenants/slug/{slug}", requireRead(http.HandlerFunc(h.GetTenantBySlug))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID}", requireRead(http.HandlerFunc(h.GetTenant))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID}", requireAdmin(http.HandlerFunc(h.UpdateTenant))).Methods(http.MethodPut)
	r.Handle("/tenants/{tenantID}", requireAdmin(http.HandlerFunc(h.SuspendTenant))).Methods(http.MethodDelete)
}

func passthrough(next http.Handler) http.Handler { return next }

func writeTenantError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrTenantNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}

// ListTenants returns all active tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTenants()
	if err != nil {
		writeTenantError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tenants": list})
}

type createTenantRequest struct {
	Name     string            `json:"name"`
	Settings map[string]string `json:"settings,omitempty"`
}

// CreateTenant provisions a new tenant
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant := &Tenant{Name: req.Name, Settings: req.Settings}
	if err := h.service.CreateTenant(tenant); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			writeTenantError(w, err)
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	_ = audit.LogTenantChange(r.Context(), audit.EventTenantCreated, tenant.ID, tenant.Name)
	httputil.WriteCreated(w, tenant)
}

// GetTenant returns one tenant by ID
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	tenant, err := h.service.GetTenant(tenantID)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// GetTenantBySlug returns one tenant by its URL slug
func (h *Handler) GetTenantBySlug(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	tenant, err := h.service.GetTenantBySlug(slug)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// UpdateTenant updates a tenant's name or settings
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.UpdateTenant(tenantID, &req); err != nil {
		writeTenantError(w, err)
		return
	}

	tenant, err := h.service.GetTenant(tenantID)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// SuspendTenant marks a tenant suspended. Suspension is soft: the data
// stays, the tenant drops out of active listings.
func (h *Handler) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	if err := h.service.SuspendTenant(tenantID); err != nil {
		writeTenantError(w, err)
		return
	}

	_ = audit.LogTenantChange(r.Context(), audit.EventTenantSuspended, tenantID, "")
	httputil.WriteNoContent(w)
}
