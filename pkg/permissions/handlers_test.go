package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/peopleops/portal/pkg/middleware"
)

func newTestAPI(t *testing.T) (*Store, *ResolvedSetCache, http.Handler) {
	t.Helper()

	store := NewTestStore(t)
	resolver := NewResolver(store, nil, nil)
	cache := NewResolvedSetCache(resolver, 128, time.Minute, nil)
	demo := NewDemoTable()
	handler := NewHandler(store, cache, NewLocalBus(cache), demo, testLogger())
	guard := NewGuard(cache, demo, testLogger(), nil)

	// The "admin" caller used by doJSON holds the system admin role.
	grantSystemRole(t, store, "admin", "acme", RoleSystemAdmin)

	router := mux.NewRouter()
	handler.RegisterRoutes(router, guard)

	session := middleware.NewSessionMiddleware(true)
	return store, cache, session.Handler(router)
}

// doJSON performs a request as an authenticated acme admin
func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(middleware.UserHeader, "admin")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandlerListCatalog(t *testing.T) {
	_, _, api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/permissions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Permissions []Permission `json:"permissions"`
	}
	decodeBody(t, rec, &body)
	if len(body.Permissions) != len(DefaultCatalog()) {
		t.Errorf("expected %d catalog entries, got %d", len(DefaultCatalog()), len(body.Permissions))
	}
}

func TestHandlerRoleLifecycle(t *testing.T) {
	_, _, api := newTestAPI(t)

	// Create.
	rec := doJSON(t, api, http.MethodPost, "/tenants/acme/roles", map[string]interface{}{
		"code":         "auditor",
		"display_name": "Auditor",
		"ordering":     50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var role Role
	decodeBody(t, rec, &role)
	if role.ID == 0 || role.TenantID == nil || *role.TenantID != "acme" {
		t.Fatalf("unexpected created role: %+v", role)
	}

	// Validation failure surfaces as 400.
	rec = doJSON(t, api, http.MethodPost, "/tenants/acme/roles", map[string]interface{}{
		"code": "nameless",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create: expected 400, got %d", rec.Code)
	}

	// Replace the permission set.
	rec = doJSON(t, api, http.MethodPut, fmt.Sprintf("/tenants/acme/roles/%d/permissions", role.ID), map[string]interface{}{
		"permission_codes": []string{
			Code(ResourceReport, ActionRead, ScopeCompany),
			Code(ResourceReport, ActionExport, ScopeCompany),
		},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("replace: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, fmt.Sprintf("/tenants/acme/roles/%d/permissions", role.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get permissions: expected 200, got %d", rec.Code)
	}
	var perms struct {
		Permissions []Permission `json:"permissions"`
	}
	decodeBody(t, rec, &perms)
	if len(perms.Permissions) != 2 {
		t.Errorf("expected 2 role permissions, got %d", len(perms.Permissions))
	}

	// Unknown code in the replacement list is a 404, set unchanged.
	rec = doJSON(t, api, http.MethodPut, fmt.Sprintf("/tenants/acme/roles/%d/permissions", role.ID), map[string]interface{}{
		"permission_codes": []string{"report:launch:company"},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("bad code: expected 404, got %d", rec.Code)
	}

	// Update.
	rec = doJSON(t, api, http.MethodPut, fmt.Sprintf("/tenants/acme/roles/%d", role.ID), map[string]interface{}{
		"display_name": "External Auditor",
		"ordering":     60,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated Role
	decodeBody(t, rec, &updated)
	if updated.DisplayName != "External Auditor" {
		t.Errorf("update not applied: %+v", updated)
	}

	// Delete.
	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/tenants/acme/roles/%d", role.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/tenants/acme/roles/%d", role.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete: expected 404, got %d", rec.Code)
	}
}

func TestHandlerSystemRoleDeleteForbidden(t *testing.T) {
	store, _, api := newTestAPI(t)

	admin, err := store.GetRoleByCode(context.Background(), RoleSystemAdmin, nil)
	if err != nil {
		t.Fatalf("Failed to load admin role: %v", err)
	}

	rec := doJSON(t, api, http.MethodDelete, fmt.Sprintf("/tenants/acme/roles/%d", admin.ID), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerCrossTenantAdminForbidden(t *testing.T) {
	store, cache, api := newTestAPI(t)

	// An acme admin cannot create roles in another tenant.
	rec := doJSON(t, api, http.MethodPost, "/tenants/globex/roles", map[string]interface{}{
		"code":         "intruder",
		"display_name": "Intruder",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant role create: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	// Nor grant overrides to that tenant's users.
	rec = doJSON(t, api, http.MethodPost, "/tenants/globex/users/victim/overrides", map[string]interface{}{
		"permission_code": Code(ResourcePayroll, ActionRead, ScopeCompany),
		"effect":          "grant",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant override create: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	// The addressed user's resolution is untouched.
	set, err := cache.GetOrResolve(context.Background(), "victim", "globex")
	if err != nil {
		t.Fatalf("Failed to resolve victim: %v", err)
	}
	if set.Has(Code(ResourcePayroll, ActionRead, ScopeCompany)) {
		t.Error("cross-tenant override must not take effect")
	}

	// Reads are tenant-bound as well.
	rec = doJSON(t, api, http.MethodGet, "/tenants/globex/roles", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant role list: expected 403, got %d", rec.Code)
	}

	// Another tenant's override cannot be deleted through its own path
	// either; the guard stops the request before the store is reached.
	override := addOverride(t, store, "victim", "globex", Code(ResourceLeave, ActionRead, ScopeOwn), EffectGrant, nil)
	rec = doJSON(t, api, http.MethodDelete, "/tenants/globex/users/victim/overrides/"+override.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant override delete: expected 403, got %d", rec.Code)
	}
	if _, err := store.GetOverride(context.Background(), override.ID); err != nil {
		t.Errorf("override should survive the rejected delete: %v", err)
	}
}

func TestHandlerAssignmentAndResolution(t *testing.T) {
	store, _, api := newTestAPI(t)

	employee, err := store.GetRoleByCode(context.Background(), RoleSystemEmployee, nil)
	if err != nil {
		t.Fatalf("Failed to load employee role: %v", err)
	}

	// Grant the role.
	rec := doJSON(t, api, http.MethodPost, "/tenants/acme/users/u1/roles", map[string]interface{}{
		"role_id": employee.ID,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// The resolved set reflects the grant.
	rec = doJSON(t, api, http.MethodGet, "/tenants/acme/users/u1/permissions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rec.Code)
	}
	var resolved resolvedSetResponse
	decodeBody(t, rec, &resolved)
	if !contains(resolved.Permissions, Code(ResourceLeave, ActionRead, ScopeOwn)) {
		t.Errorf("expected leave:read:own in resolved set, got %v", resolved.Permissions)
	}
	if !contains(resolved.MenuKeys, MenuLeave) {
		t.Errorf("expected leave menu key, got %v", resolved.MenuKeys)
	}

	// A deny override invalidates the cache and wins on re-resolution.
	rec = doJSON(t, api, http.MethodPost, "/tenants/acme/users/u1/overrides", map[string]interface{}{
		"permission_code": Code(ResourceLeave, ActionRead, ScopeOwn),
		"effect":          "deny",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("override: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var override Override
	decodeBody(t, rec, &override)

	rec = doJSON(t, api, http.MethodGet, "/tenants/acme/users/u1/permissions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &resolved)
	if contains(resolved.Permissions, Code(ResourceLeave, ActionRead, ScopeOwn)) {
		t.Error("denied permission still present after override")
	}

	// Deleting through the wrong user is rejected.
	rec = doJSON(t, api, http.MethodDelete, "/tenants/acme/users/u2/overrides/"+override.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong owner: expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodDelete, "/tenants/acme/users/u1/overrides/"+override.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete override: expected 204, got %d", rec.Code)
	}

	// Revoke the role.
	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/tenants/acme/users/u1/roles/%d", employee.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/tenants/acme/users/u1/permissions", nil)
	decodeBody(t, rec, &resolved)
	if len(resolved.Permissions) != 0 {
		t.Errorf("expected empty set after revoke, got %v", resolved.Permissions)
	}
}

func TestHandlerMyPermissions(t *testing.T) {
	store, _, api := newTestAPI(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemManager)

	req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resolved resolvedSetResponse
	decodeBody(t, rec, &resolved)
	if !contains(resolved.Permissions, Code(ResourceLeave, ActionApprove, ScopeTeam)) {
		t.Errorf("expected manager permission, got %v", resolved.Permissions)
	}
}

func TestHandlerMyPermissionsDemo(t *testing.T) {
	_, _, api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req.Header.Set(middleware.DemoRoleHeader, DemoRoleEmployee)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resolved resolvedSetResponse
	decodeBody(t, rec, &resolved)
	if !contains(resolved.Permissions, Code(ResourcePayroll, ActionRead, ScopeOwn)) {
		t.Errorf("expected demo employee permission, got %v", resolved.Permissions)
	}
	if contains(resolved.Permissions, Code(ResourcePayroll, ActionRead, ScopeCompany)) {
		t.Error("demo employee must not hold company payroll")
	}
}

func TestHandlerCheck(t *testing.T) {
	store, _, api := newTestAPI(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemHR)

	body := map[string]interface{}{
		"codes": []string{
			Code(ResourcePayroll, ActionRead, ScopeCompany), // held
			Code(ResourcePayroll, ActionRead, ScopeTeam),    // by containment
			Code(ResourceRole, ActionCreate, ScopeCompany),  // not held
			"not-a-code", // malformed reads as denied
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("Failed to encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/me/permissions/check", &buf)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Results map[string]bool `json:"results"`
	}
	decodeBody(t, rec, &out)

	if !out.Results[Code(ResourcePayroll, ActionRead, ScopeCompany)] {
		t.Error("held permission should check true")
	}
	if !out.Results[Code(ResourcePayroll, ActionRead, ScopeTeam)] {
		t.Error("containment should check true")
	}
	if out.Results[Code(ResourceRole, ActionCreate, ScopeCompany)] {
		t.Error("unheld permission should check false")
	}
	if out.Results["not-a-code"] {
		t.Error("malformed code should check false")
	}
}

func TestHandlerListMembers(t *testing.T) {
	store, _, api := newTestAPI(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)

	rec := doJSON(t, api, http.MethodGet, "/tenants/acme/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Members []Membership `json:"members"`
	}
	decodeBody(t, rec, &body)

	// The admin fixture user plus u1.
	if len(body.Members) != 2 {
		t.Fatalf("expected 2 members, got %d: %+v", len(body.Members), body.Members)
	}
	var found bool
	for _, m := range body.Members {
		if m.UserID == "u1" {
			found = contains(m.RoleCodes, RoleSystemEmployee)
		}
	}
	if !found {
		t.Errorf("u1 should appear with the employee role: %+v", body.Members)
	}
}

func TestHandlerAdminRoutesGated(t *testing.T) {
	store, _, api := newTestAPI(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)

	// An employee session cannot touch role administration.
	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/roles", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("employee on admin route: expected 403, got %d", rec.Code)
	}

	// But can still read their own permissions.
	req = httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/me/permissions: expected 200, got %d", rec.Code)
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
