package permissions

import (
	"errors"
	"testing"
	"time"
)

func TestScopeSatisfies(t *testing.T) {
	tests := []struct {
		held      Scope
		requested Scope
		want      bool
	}{
		{ScopeOwn, ScopeOwn, true},
		{ScopeOwn, ScopeTeam, false},
		{ScopeOwn, ScopeCompany, false},
		{ScopeTeam, ScopeOwn, true},
		{ScopeTeam, ScopeTeam, true},
		{ScopeTeam, ScopeCompany, false},
		{ScopeCompany, ScopeOwn, true},
		{ScopeCompany, ScopeTeam, true},
		{ScopeCompany, ScopeCompany, true},
	}

	for _, tt := range tests {
		if got := tt.held.Satisfies(tt.requested); got != tt.want {
			t.Errorf("Scope(%s).Satisfies(%s) = %v, want %v", tt.held, tt.requested, got, tt.want)
		}
	}

	if Scope("global").Satisfies(ScopeOwn) {
		t.Error("unknown held scope should not satisfy anything")
	}
	if ScopeCompany.Satisfies(Scope("global")) {
		t.Error("unknown requested scope should never be satisfied")
	}
}

func TestParseCode(t *testing.T) {
	resource, action, scope, err := ParseCode("leave:approve:team")
	if err != nil {
		t.Fatalf("ParseCode failed: %v", err)
	}
	if resource != ResourceLeave || action != ActionApprove || scope != ScopeTeam {
		t.Errorf("got (%s, %s, %s)", resource, action, scope)
	}

	for _, bad := range []string{"", "leave", "leave:approve", "leave:approve:galaxy", "::", "a:b:c:d"} {
		if _, _, _, err := ParseCode(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseCode(%q) = %v, want ErrInvalidArgument", bad, err)
		}
	}
}

func TestOverrideExpired(t *testing.T) {
	now := time.Now().UTC()

	o := &Override{}
	if o.Expired(now) {
		t.Error("override without expiry should never expire")
	}

	past := now.Add(-time.Minute)
	o.ExpiresAt = &past
	if !o.Expired(now) {
		t.Error("override with past expiry should be expired")
	}

	future := now.Add(time.Minute)
	o.ExpiresAt = &future
	if o.Expired(now) {
		t.Error("override with future expiry should not be expired")
	}
}

func TestResolvedSetMenuKeys(t *testing.T) {
	ownView := Permission{
		Code:     Code(ResourceLeave, ActionView, ScopeOwn),
		Resource: ResourceLeave, Action: ActionView, Scope: ScopeOwn,
		Category: CategoryMenu, MenuKey: MenuLeave,
	}
	teamView := Permission{
		Code:     Code(ResourceLeave, ActionView, ScopeTeam),
		Resource: ResourceLeave, Action: ActionView, Scope: ScopeTeam,
		Category: CategoryMenu, MenuKey: MenuLeave,
	}

	set := NewResolvedSet("u1", "t1", []Permission{ownView, teamView})
	if !set.HasMenu(MenuLeave) {
		t.Fatal("expected leave menu to be visible")
	}

	// Two permissions expose the key; removing one keeps it visible.
	set.remove(teamView.Code)
	if !set.HasMenu(MenuLeave) {
		t.Error("menu key should survive while another permission exposes it")
	}

	set.remove(ownView.Code)
	if set.HasMenu(MenuLeave) {
		t.Error("menu key should disappear with its last permission")
	}
}

func TestResolvedSetHasResource(t *testing.T) {
	set := NewResolvedSet("u1", "t1", []Permission{
		{
			Code:     Code(ResourceAttendance, ActionRead, ScopeTeam),
			Resource: ResourceAttendance, Action: ActionRead, Scope: ScopeTeam,
			Category: CategoryFeature,
		},
	})

	// Held at team: covers own and team, never company.
	if !set.HasResource(ResourceAttendance, ActionRead, ScopeOwn) {
		t.Error("team scope should satisfy an own request")
	}
	if !set.HasResource(ResourceAttendance, ActionRead, ScopeTeam) {
		t.Error("team scope should satisfy a team request")
	}
	if set.HasResource(ResourceAttendance, ActionRead, ScopeCompany) {
		t.Error("team scope must not satisfy a company request")
	}
	if set.HasResource(ResourceAttendance, ActionUpdate, ScopeOwn) {
		t.Error("different action must not match")
	}
	if set.HasResource(ResourceLeave, ActionRead, ScopeOwn) {
		t.Error("different resource must not match")
	}
}

func TestResolvedSetNilSafe(t *testing.T) {
	var set *ResolvedSet

	if set.Has("employee:read:own") {
		t.Error("nil set must deny Has")
	}
	if set.HasResource(ResourceEmployee, ActionRead, ScopeOwn) {
		t.Error("nil set must deny HasResource")
	}
	if set.HasMenu(MenuEmployees) {
		t.Error("nil set must deny HasMenu")
	}
	if set.Len() != 0 {
		t.Error("nil set must report zero length")
	}
	if set.Codes() != nil || set.MenuKeys() != nil {
		t.Error("nil set must enumerate nothing")
	}
}

func TestDefaultCatalogCodesUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for _, entry := range DefaultCatalog() {
		code := entry.Code()
		if _, dup := seen[code]; dup {
			t.Errorf("duplicate catalog code %s", code)
		}
		seen[code] = struct{}{}
	}
}

func TestSystemRolesReferenceKnownCodes(t *testing.T) {
	known := make(map[string]struct{})
	for _, entry := range DefaultCatalog() {
		known[entry.Code()] = struct{}{}
	}

	for _, role := range SystemRoles() {
		if len(role.PermissionCodes) == 0 {
			t.Errorf("system role %s has no permissions", role.Code)
		}
		for _, code := range role.PermissionCodes {
			if _, ok := known[code]; !ok {
				t.Errorf("system role %s references unknown code %s", role.Code, code)
			}
		}
	}
}
