package tenants

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *PostgresService {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return NewPostgresService(db)
}

func TestCreateAndGetTenant(t *testing.T) {
	svc := newTestService(t)

	tenant := &Tenant{Name: "Acme Corp"}
	require.NoError(t, svc.CreateTenant(tenant))
	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "acme-corp", tenant.Slug)
	assert.Equal(t, TenantStatusActive, tenant.Status)

	got, err := svc.GetTenant(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.True(t, got.IsActive())

	bySlug, err := svc.GetTenantBySlug("acme-corp")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, bySlug.ID)
}

func TestCreateTenantRequiresName(t *testing.T) {
	svc := newTestService(t)
	err := svc.CreateTenant(&Tenant{})
	assert.Error(t, err)
}

func TestGetTenantNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetTenant("missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestUpdateTenant(t *testing.T) {
	svc := newTestService(t)

	tenant := &Tenant{Name: "Acme Corp"}
	require.NoError(t, svc.CreateTenant(tenant))

	newName := "Acme Corporation"
	err := svc.UpdateTenant(tenant.ID, &UpdateTenantRequest{
		Name:     &newName,
		Settings: map[string]string{"locale": "en-GB"},
	})
	require.NoError(t, err)

	got, err := svc.GetTenant(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", got.Name)
	assert.Equal(t, "en-GB", got.Settings["locale"])

	// No-op update succeeds.
	assert.NoError(t, svc.UpdateTenant(tenant.ID, &UpdateTenantRequest{}))

	assert.ErrorIs(t, svc.UpdateTenant("missing", &UpdateTenantRequest{Name: &newName}), ErrTenantNotFound)
}

func TestSuspendTenant(t *testing.T) {
	svc := newTestService(t)

	tenant := &Tenant{Name: "Acme Corp"}
	require.NoError(t, svc.CreateTenant(tenant))

	other := &Tenant{Name: "Globex"}
	require.NoError(t, svc.CreateTenant(other))

	require.NoError(t, svc.SuspendTenant(tenant.ID))

	active, err := svc.ListTenants()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.ID, active[0].ID)

	got, err := svc.GetTenant(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, TenantStatusSuspended, got.Status)
	assert.False(t, got.IsActive())

	assert.ErrorIs(t, svc.SuspendTenant("missing"), ErrTenantNotFound)
}
