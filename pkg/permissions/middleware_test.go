package permissions

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"

	"github.com/peopleops/portal/pkg/middleware"
)

func newGuardServer(t *testing.T, guard *Guard, requireCode string, demoEnabled bool) http.Handler {
	t.Helper()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	session := middleware.NewSessionMiddleware(demoEnabled)
	return session.Handler(guard.Require(requireCode)(ok))
}

func TestGuardRejectsMissingSession(t *testing.T) {
	_, cache := newTestCache(t)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, Code(ResourceLeave, ActionRead, ScopeOwn), false)

	req := httptest.NewRequest(http.MethodGet, "/leave", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestGuardAllowsHeldPermission(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, Code(ResourceLeave, ActionRead, ScopeOwn), false)

	req := httptest.NewRequest(http.MethodGet, "/leave", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestGuardDeniesMissingPermission(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, Code(ResourcePayroll, ActionUpdate, ScopeCompany), false)

	req := httptest.NewRequest(http.MethodPost, "/payroll", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestGuardScopeContainment(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "hr1", "acme", RoleSystemHR)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	// HR holds payroll:read:company; the route asks for team scope.
	handler := newGuardServer(t, guard, Code(ResourcePayroll, ActionRead, ScopeTeam), false)

	req := httptest.NewRequest(http.MethodGet, "/payroll/team", nil)
	req.Header.Set(middleware.UserHeader, "hr1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("broader scope should pass a narrower check, got %d", rec.Code)
	}
}

func TestGuardDemoSession(t *testing.T) {
	_, cache := newTestCache(t)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, Code(ResourcePayroll, ActionRead, ScopeCompany), true)

	// Demo HR passes.
	req := httptest.NewRequest(http.MethodGet, "/payroll", nil)
	req.Header.Set(middleware.DemoRoleHeader, DemoRoleHR)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("demo HR: expected 200, got %d", rec.Code)
	}

	// Demo employee is denied.
	req = httptest.NewRequest(http.MethodGet, "/payroll", nil)
	req.Header.Set(middleware.DemoRoleHeader, DemoRoleEmployee)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("demo employee: expected 403, got %d", rec.Code)
	}

	// Unknown demo role fails closed.
	req = httptest.NewRequest(http.MethodGet, "/payroll", nil)
	req.Header.Set(middleware.DemoRoleHeader, "demo:ceo")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unknown demo role: expected 403, got %d", rec.Code)
	}
}

func TestGuardFailsClosedOnStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("FROM roles").WillReturnError(errors.New("connection refused"))

	cache := NewResolvedSetCache(NewResolver(NewStore(db), nil, nil), 16, time.Minute, nil)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, Code(ResourceLeave, ActionRead, ScopeOwn), false)

	req := httptest.NewRequest(http.MethodGet, "/leave", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("store failure must deny, got %d", rec.Code)
	}
}

func TestGuardDeniesCrossTenantPath(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemAdmin)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	router := mux.NewRouter()
	router.Handle("/tenants/{tenantID}/roles",
		guard.RequireResource(ResourceRole, ActionRead, ScopeCompany)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))).Methods(http.MethodGet)
	handler := middleware.NewSessionMiddleware(false).Handler(router)

	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/roles", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("own tenant: expected 200, got %d", rec.Code)
	}

	// Held permissions grant nothing in another tenant's routes.
	req = httptest.NewRequest(http.MethodGet, "/tenants/globex/roles", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign tenant: expected 403, got %d", rec.Code)
	}
}

func TestGuardRequireAny(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	session := middleware.NewSessionMiddleware(false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Employee holds leave:read:own but not payroll:update:company.
	handler := session.Handler(guard.RequireAny(
		Code(ResourcePayroll, ActionUpdate, ScopeCompany),
		Code(ResourceLeave, ActionRead, ScopeOwn),
	)(ok))

	req := httptest.NewRequest(http.MethodGet, "/either", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("one held code should pass, got %d", rec.Code)
	}

	handler = session.Handler(guard.RequireAny(
		Code(ResourcePayroll, ActionUpdate, ScopeCompany),
		Code(ResourceRole, ActionCreate, ScopeCompany),
	)(ok))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no held code should deny, got %d", rec.Code)
	}

	// Any malformed code in the list denies everything.
	handler = session.Handler(guard.RequireAny(
		Code(ResourceLeave, ActionRead, ScopeOwn),
		"not-a-code",
	)(ok))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("malformed code should deny, got %d", rec.Code)
	}
}

func TestGuardRequireAll(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemEmployee)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	session := middleware.NewSessionMiddleware(false)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := session.Handler(guard.RequireAll(
		Code(ResourceLeave, ActionRead, ScopeOwn),
		Code(ResourceAttendance, ActionRead, ScopeOwn),
	)(ok))

	req := httptest.NewRequest(http.MethodGet, "/both", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("all held codes should pass, got %d", rec.Code)
	}

	handler = session.Handler(guard.RequireAll(
		Code(ResourceLeave, ActionRead, ScopeOwn),
		Code(ResourcePayroll, ActionUpdate, ScopeCompany),
	)(ok))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("one missing code should deny, got %d", rec.Code)
	}

	// An empty code list grants nothing.
	handler = session.Handler(guard.RequireAll()(ok))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("empty code list should deny, got %d", rec.Code)
	}
}

func TestGuardMalformedCodeDeniesEverything(t *testing.T) {
	store, cache := newTestCache(t)
	grantSystemRole(t, store, "u1", "acme", RoleSystemAdmin)
	guard := NewGuard(cache, NewDemoTable(), testLogger(), nil)

	handler := newGuardServer(t, guard, "not-a-code", false)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.UserHeader, "u1")
	req.Header.Set(middleware.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("malformed route code must deny even admins, got %d", rec.Code)
	}
}
