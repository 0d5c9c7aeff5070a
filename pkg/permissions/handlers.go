package permissions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/peopleops/portal/pkg/audit"
	"github.com/peopleops/portal/pkg/httputil"
	"github.com/peopleops/portal/pkg/middleware"
	"github.com/peopleops/portal/pkg/observability"
)

// Handler exposes the permission engine over HTTP
type Handler struct {
	store  *Store
	cache  *ResolvedSetCache
	bus    Bus
	demo   *DemoTable
	logger *observability.Logger
}

// NewHandler creates the permission HTTP handler
func NewHandler(store *Store, cache *ResolvedSetCache, bus Bus, demo *DemoTable, logger *observability.Logger) *Handler {
	return &Handler{
		store:  store,
		cache:  cache,
		bus:    bus,
		demo:   demo,
		logger: logger,
	}
}

// RegisterRoutes registers the permission engine routes. Administrative
// routes are gated by the guard on the caller's own role permissions; the
// /me routes only need a session.
func (h *Handler) RegisterRoutes(r *mux.Router, guard *Guard) {
	readRoles := guard.RequireResource(ResourceRole, ActionRead, ScopeCompany)
	createRoles := guard.RequireResource(ResourceRole, ActionCreate, ScopeCompany)
	updateRoles := guard.RequireResource(ResourceRole, ActionUpdate, ScopeCompany)
	deleteRoles := guard.RequireResource(ResourceRole, ActionDelete, ScopeCompany)
	assignRoles := guard.RequireResource(ResourceRole, ActionAssign, ScopeCompany)

	// Catalog
	r.Handle("/permissions", readRoles(http.HandlerFunc(h.ListCatalog))).Methods(http.MethodGet)

	// Roles
	r.Handle("/tenants/{tenantID}/roles", readRoles(http.HandlerFunc(h.ListRoles))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID}/roles", createRoles(http.HandlerFunc(h.CreateRole))).Methods(http.MethodPost)
	r.Handle("/tenants/{tenantID}/roles/{roleID}", updateRoles(http.HandlerFunc(h.UpdateRole))).Methods(http.MethodPut)
	r.Handle("/tenants/{tenantID}/roles/{roleID}", deleteRoles(http.HandlerFunc(h.DeleteRole))).Methods(http.MethodDelete)
	r.Handle("/tenants/{tenantID}/roles/{roleID}/permissions", readRoles(http.HandlerFunc(h.GetRolePermissions))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID}/roles/{roleID}/permissions", updateRoles(http.HandlerFunc(h.ReplaceRolePermissions))).Methods(http.MethodPut)

	// Membership
	r.Handle("/tenants/{tenantID}/users", readRoles(http.HandlerFunc(h.ListMembers))).Methods(http.MethodGet)

	// Role assignments
	r.Handle("/tenants/{tenantID}/users/{userID}/roles", assignRoles(http.HandlerFunc(h.AssignRole))).Methods(http.MethodPost)
	r.Handle("/tenants/{tenantID}/users/{userID}/roles/{roleID}", assignRoles(http.HandlerFunc(h.RevokeRole))).Methods(http.MethodDelete)

	// Overrides
	r.Handle("/tenants/{tenantID}/users/{userID}/overrides", readRoles(http.HandlerFunc(h.ListUserOverrides))).Methods(http.MethodGet)
	r.Handle("/tenants/{tenantID}/users/{userID}/overrides", assignRoles(http.HandlerFunc(h.CreateOverride))).Methods(http.MethodPost)
	r.Handle("/tenants/{tenantID}/users/{userID}/overrides/{overrideID}", assignRoles(http.HandlerFunc(h.DeleteOverride))).Methods(http.MethodDelete)

	// Resolution
	r.Handle("/tenants/{tenantID}/users/{userID}/permissions", readRoles(http.HandlerFunc(h.GetUserPermissions))).Methods(http.MethodGet)
	r.HandleFunc("/me/permissions", h.GetMyPermissions).Methods(http.MethodGet)
	r.HandleFunc("/me/permissions/check", h.CheckMyPermissions).Methods(http.MethodPost)
}

// writeEngineError maps engine sentinels to HTTP statuses
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httputil.WriteServiceUnavailable(w, "store unavailable")
	default:
		httputil.WriteInternalError(w, err)
	}
}

// ListCatalog returns the full permission catalog
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

// ListRoles returns system roles plus the tenant's custom roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

type createRoleRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Ordering    int    `json:"ordering"`
}

// CreateRole creates a custom role scoped to the tenant
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &Role{
		Code:        req.Code,
		DisplayName: req.DisplayName,
		Description: req.Description,
		TenantID:    &tenantID,
		Ordering:    req.Ordering,
	}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRoleCreated, tenantID, role.Code, "custom role created")
	httputil.WriteCreated(w, role)
}

type updateRoleRequest struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Ordering    int    `json:"ordering"`
}

// UpdateRole updates a role's display fields
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	role.DisplayName = req.DisplayName
	role.Description = req.Description
	role.Ordering = req.Ordering
	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRoleUpdated, tenantID, role.Code, "role updated")
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a custom role and everything assigned through it.
// System roles are rejected with 403.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := h.store.DeleteRole(r.Context(), roleID); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRoleDeleted, tenantID, role.Code, "role deleted")
	h.invalidate(r, Invalidation{TenantID: tenantID})
	httputil.WriteNoContent(w)
}

// GetRolePermissions returns a role's assigned permissions
func (h *Handler) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	perms, err := h.store.GetRolePermissions(r.Context(), roleID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

type replacePermissionsRequest struct {
	PermissionCodes []string `json:"permission_codes"`
}

// ReplaceRolePermissions atomically replaces a role's permission set
func (h *Handler) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	var req replacePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permissionIDs := make([]int64, 0, len(req.PermissionCodes))
	for _, code := range req.PermissionCodes {
		perm, err := h.store.GetPermissionByCode(r.Context(), code)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		permissionIDs = append(permissionIDs, perm.ID)
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := h.store.ReplaceRolePermissions(r.Context(), roleID, permissionIDs); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRolePermissionsReplaced, tenantID, role.Code, "role permission set replaced")
	h.invalidate(r, Invalidation{TenantID: tenantID})
	httputil.WriteNoContent(w)
}

// ListMembers returns the users holding roles in the tenant
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	members, err := h.store.ListMembers(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

// AssignRole grants a role to a user within the tenant
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.AssignRoleToUser(r.Context(), userID, tenantID, req.RoleID, actorID(r)); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRoleAssigned, tenantID, userID, "role granted")
	h.invalidate(r, Invalidation{TenantID: tenantID, UserID: userID})
	httputil.WriteNoContent(w)
}

// RevokeRole removes a user's role grant
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	if err := h.store.RevokeRoleFromUser(r.Context(), userID, tenantID, roleID); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogRoleChange(r.Context(), audit.EventRoleRevoked, tenantID, userID, "role revoked")
	h.invalidate(r, Invalidation{TenantID: tenantID, UserID: userID})
	httputil.WriteNoContent(w)
}

// ListUserOverrides returns all of a user's overrides in the tenant
func (h *Handler) ListUserOverrides(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	overrides, err := h.store.ListOverrides(r.Context(), userID, tenantID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"overrides": overrides})
}

type createOverrideRequest struct {
	PermissionCode string     `json:"permission_code"`
	Effect         string     `json:"effect"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CreateOverride records a per-user grant or deny
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	var req createOverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.store.GetPermissionByCode(r.Context(), req.PermissionCode)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	override := &Override{
		UserID:       userID,
		TenantID:     tenantID,
		PermissionID: perm.ID,
		Effect:       OverrideEffect(req.Effect),
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    actorID(r),
	}
	if err := h.store.CreateOverride(r.Context(), override); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogOverrideChange(r.Context(), audit.EventOverrideCreated, tenantID, userID, perm.Code)
	h.invalidate(r, Invalidation{TenantID: tenantID, UserID: userID})
	httputil.WriteCreated(w, override)
}

// DeleteOverride removes an override. The path's userID and tenantID
// must both own it.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	overrideID, ok := httputil.ParsePathStringOrError(w, r, "overrideID")
	if !ok {
		return
	}

	if err := h.store.DeleteOverride(r.Context(), overrideID, userID, tenantID); err != nil {
		writeEngineError(w, err)
		return
	}

	_ = audit.LogOverrideChange(r.Context(), audit.EventOverrideDeleted, tenantID, userID, overrideID)
	h.invalidate(r, Invalidation{TenantID: tenantID, UserID: userID})
	httputil.WriteNoContent(w)
}

// resolvedSetResponse is the wire shape of a resolved set
type resolvedSetResponse struct {
	UserID      string   `json:"user_id,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Permissions []string `json:"permissions"`
	MenuKeys    []string `json:"menu_keys"`
	ResolvedAt  string   `json:"resolved_at"`
}

func toResolvedSetResponse(set *ResolvedSet) resolvedSetResponse {
	return resolvedSetResponse{
		UserID:      set.UserID,
		TenantID:    set.TenantID,
		Permissions: set.Codes(),
		MenuKeys:    set.MenuKeys(),
		ResolvedAt:  set.ResolvedAt.UTC().Format(time.RFC3339),
	}
}

// GetUserPermissions resolves the effective set for an arbitrary user,
// for administrative inspection.
func (h *Handler) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	set, err := h.cache.GetOrResolve(r.Context(), userID, tenantID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, toResolvedSetResponse(set))
}

// GetMyPermissions resolves the caller's own effective set
func (h *Handler) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r)
	if session == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var set *ResolvedSet
	var err error
	if session.IsDemo() {
		set, err = h.demo.Resolve(session.DemoRole)
	} else {
		set, err = h.cache.GetOrResolve(r.Context(), session.UserID, session.TenantID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteSuccess(w, toResolvedSetResponse(set))
}

type checkRequest struct {
	Codes []string `json:"codes"`
}

// CheckMyPermissions evaluates permission codes against the caller's set.
// Codes are checked with scope containment; on resolution failure every
// code reads as denied.
func (h *Handler) CheckMyPermissions(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r)
	if session == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var set *ResolvedSet
	if session.IsDemo() {
		set, _ = h.demo.Resolve(session.DemoRole)
	} else {
		var err error
		set, err = h.cache.GetOrResolve(r.Context(), session.UserID, session.TenantID)
		if err != nil {
			// Fail closed: report every code as denied rather than erroring
			// into the caller's render path.
			set = nil
		}
	}

	results := make(map[string]bool, len(req.Codes))
	for _, code := range req.Codes {
		resource, action, scope, err := ParseCode(code)
		if err != nil {
			results[code] = false
			continue
		}
		results[code] = set.HasResource(resource, action, scope)
	}
	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}

// actorID returns the calling user's ID, empty when unauthenticated
func actorID(r *http.Request) string {
	if session := middleware.GetSession(r); session != nil {
		return session.UserID
	}
	return ""
}

// invalidate applies and broadcasts a cache invalidation
func (h *Handler) invalidate(r *http.Request, inv Invalidation) {
	if err := h.bus.PublishInvalidation(r.Context(), inv); err != nil {
		h.logger.WithError(err).Warn("failed to broadcast cache invalidation")
	}
}
