package permissions

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resource represents a resource type in the portal
type Resource string

const (
	ResourceEmployee   Resource = "employee"
	ResourceAttendance Resource = "attendance"
	ResourceLeave      Resource = "leave"
	ResourcePayroll    Resource = "payroll"
	ResourceOnboarding Resource = "onboarding"
	ResourceAsset      Resource = "asset"
	ResourceReport     Resource = "report"
	ResourceRole       Resource = "role"
	ResourceSettings   Resource = "settings"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionView    Action = "view"
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionExport  Action = "export"
	ActionAssign  Action = "assign"
	ActionManage  Action = "manage"
)

// Scope represents the breadth of a permission over data ownership
type Scope string

const (
	ScopeOwn     Scope = "own"     // The caller's own records
	ScopeTeam    Scope = "team"    // Direct reports / department
	ScopeCompany Scope = "company" // Tenant-wide
)

// Containment order. A broader scope satisfies a narrower request for the
// same resource and action; never the reverse.
var scopeRank = map[Scope]int{
	ScopeOwn:     0,
	ScopeTeam:    1,
	ScopeCompany: 2,
}

// Valid reports whether the scope is one of the known values
func (s Scope) Valid() bool {
	_, ok := scopeRank[s]
	return ok
}

// Satisfies reports whether a permission held at scope s covers a request
// at the given scope.
func (s Scope) Satisfies(requested Scope) bool {
	held, ok := scopeRank[s]
	if !ok {
		return false
	}
	want, ok := scopeRank[requested]
	if !ok {
		return false
	}
	return held >= want
}

// Category distinguishes navigation-visibility permissions from
// operation-gating permissions.
type Category string

const (
	CategoryMenu    Category = "menu"
	CategoryFeature Category = "feature"
)

// Permission is a catalog entry identified by its resource:action:scope code
type Permission struct {
	ID          int64    `json:"id"`
	Code        string   `json:"code"`
	Resource    Resource `json:"resource"`
	Action      Action   `json:"action"`
	Scope       Scope    `json:"scope"`
	Category    Category `json:"category"`
	MenuKey     string   `json:"menu_key,omitempty"`
	Description string   `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Code builds the canonical permission code for a triple
func Code(resource Resource, action Action, scope Scope) string {
	return string(resource) + ":" + string(action) + ":" + string(scope)
}

// ParseCode splits a permission code into its triple.
// Returns ErrInvalidArgument for anything that is not resource:action:scope.
func ParseCode(code string) (Resource, Action, Scope, error) {
	parts := strings.Split(code, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", invalidArgument(fmt.Sprintf("malformed permission code %q", code))
	}
	scope := Scope(parts[2])
	if !scope.Valid() {
		return "", "", "", invalidArgument(fmt.Sprintf("unknown scope %q", parts[2]))
	}
	return Resource(parts[0]), Action(parts[1]), scope, nil
}

// Role is a named bundle of permissions. System roles are a fixed baseline
// shared by every tenant; custom roles belong to exactly one tenant.
type Role struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description,omitempty"`
	TenantID    *string `json:"tenant_id,omitempty"` // nil for system roles
	IsSystem    bool    `json:"is_system"`
	Ordering    int     `json:"ordering"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OverrideEffect is what an override does to the resolved set
type OverrideEffect string

const (
	EffectGrant OverrideEffect = "grant"
	EffectDeny  OverrideEffect = "deny"
)

// Valid reports whether the effect is grant or deny
func (e OverrideEffect) Valid() bool {
	return e == EffectGrant || e == EffectDeny
}

// Override is a per-user exception applied after role union. It always wins
// over role-derived inclusion or exclusion of the same permission.
type Override struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	TenantID     string         `json:"tenant_id"`
	PermissionID int64          `json:"permission_id"`
	Effect       OverrideEffect `json:"effect"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	// Permission is populated on reads that join the catalog
	Permission *Permission `json:"permission,omitempty"`
}

// Expired reports whether the override has lapsed as of now
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// ResolvedSet is the materialized effective permission set for one
// (user, tenant) pair. It is ephemeral: recomputed on demand and
// invalidated whenever roles, overrides or the catalog change.
type ResolvedSet struct {
	UserID     string
	TenantID   string
	ResolvedAt time.Time

	perms    map[string]Permission
	menuKeys map[string]struct{}
}

// NewResolvedSet builds a resolved set from the given permissions
func NewResolvedSet(userID, tenantID string, perms []Permission) *ResolvedSet {
	rs := &ResolvedSet{
		UserID:     userID,
		TenantID:   tenantID,
		ResolvedAt: time.Now().UTC(),
		perms:      make(map[string]Permission, len(perms)),
		menuKeys:   make(map[string]struct{}),
	}
	for _, p := range perms {
		rs.add(p)
	}
	return rs
}

func (rs *ResolvedSet) add(p Permission) {
	rs.perms[p.Code] = p
	if p.Category == CategoryMenu && p.MenuKey != "" {
		rs.menuKeys[p.MenuKey] = struct{}{}
	}
}

func (rs *ResolvedSet) remove(code string) {
	p, ok := rs.perms[code]
	if !ok {
		return
	}
	delete(rs.perms, code)
	if p.Category == CategoryMenu && p.MenuKey != "" {
		// Another permission may still expose the same menu key.
		still := false
		for _, other := range rs.perms {
			if other.Category == CategoryMenu && other.MenuKey == p.MenuKey {
				still = true
				break
			}
		}
		if !still {
			delete(rs.menuKeys, p.MenuKey)
		}
	}
}

// Has reports whether the exact permission code is in the set
func (rs *ResolvedSet) Has(code string) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.perms[code]
	return ok
}

// HasResource reports whether the set satisfies (resource, action, scope),
// applying scope containment: a held permission at a broader scope covers
// a narrower request on the same resource and action.
func (rs *ResolvedSet) HasResource(resource Resource, action Action, scope Scope) bool {
	if rs == nil {
		return false
	}
	for _, p := range rs.perms {
		if p.Resource == resource && p.Action == action && p.Scope.Satisfies(scope) {
			return true
		}
	}
	return false
}

// HasMenu reports whether a menu-category permission exposes the key
func (rs *ResolvedSet) HasMenu(menuKey string) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.menuKeys[menuKey]
	return ok
}

// Codes returns the permission codes in the set, sorted
func (rs *ResolvedSet) Codes() []string {
	if rs == nil {
		return nil
	}
	codes := make([]string, 0, len(rs.perms))
	for code := range rs.perms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// MenuKeys returns the visible menu keys, sorted
func (rs *ResolvedSet) MenuKeys() []string {
	if rs == nil {
		return nil
	}
	keys := make([]string, 0, len(rs.menuKeys))
	for key := range rs.menuKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of permissions in the set
func (rs *ResolvedSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.perms)
}
