// Package tenants manages the companies registered on the portal.
//
// Every tenant is an isolated company workspace. Custom roles and permission
// overrides are scoped to a tenant; deactivating a tenant hides it from all
// lookups without destroying its data.
package tenants

import (
	"errors"
	"time"
)

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Tenant represents a company workspace on the portal
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Slug      string            `json:"slug"`
	Status    TenantStatus      `json:"status"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsActive reports whether the tenant can be served
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// UpdateTenantRequest carries a partial tenant update
type UpdateTenantRequest struct {
	Name     *string           `json:"name,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// ErrTenantNotFound is returned when no tenant matches the lookup
var ErrTenantNotFound = errors.New("tenant not found")

// Service defines tenant registry operations
type Service interface {
	CreateTenant(tenant *Tenant) error
	GetTenant(id string) (*Tenant, error)
	GetTenantBySlug(slug string) (*Tenant, error)
	ListTenants() ([]*Tenant, error)
	UpdateTenant(id string, updates *UpdateTenantRequest) error
	SuspendTenant(id string) error
}
