package permissions

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testSchema mirrors the production migrations for sqlite-backed tests
const testSchema = `
	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		resource TEXT NOT NULL,
		action TEXT NOT NULL,
		scope TEXT NOT NULL,
		category TEXT NOT NULL,
		menu_key TEXT,
		description TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		display_name TEXT NOT NULL,
		description TEXT,
		tenant_id TEXT,
		is_system BOOLEAN NOT NULL DEFAULT 0,
		ordering INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(code, tenant_id)
	);

	CREATE TABLE role_permissions (
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		PRIMARY KEY (role_id, permission_id)
	);

	CREATE TABLE user_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		granted_by TEXT,
		granted_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, tenant_id, role_id)
	);

	CREATE TABLE permission_overrides (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		effect TEXT NOT NULL,
		expires_at TIMESTAMP,
		created_by TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, tenant_id, permission_id)
	);
`

// NewTestDB creates an in-memory sqlite database with the engine schema
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return db
}

// NewTestStore creates a store over an in-memory database seeded with the
// default catalog and system roles.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(NewTestDB(t))
	ctx := context.Background()
	if err := InitializeCatalog(ctx, store); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	if err := InitializeSystemRoles(ctx, store); err != nil {
		t.Fatalf("failed to seed system roles: %v", err)
	}
	return store
}
