package permissions

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission engine migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(255) NOT NULL UNIQUE,
					resource VARCHAR(64) NOT NULL,
					action VARCHAR(64) NOT NULL,
					scope VARCHAR(16) NOT NULL,
					category VARCHAR(16) NOT NULL,
					menu_key VARCHAR(64),
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_permissions_resource_action ON permissions(resource, action);
				CREATE INDEX idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					tenant_id VARCHAR(64),
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					ordering INT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(code, tenant_id)
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX idx_roles_is_system ON roles(is_system);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_by VARCHAR(64),
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, tenant_id, role_id)
				);

				CREATE INDEX idx_user_roles_user_tenant ON user_roles(user_id, tenant_id);
				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create permission_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_overrides (
					id VARCHAR(36) PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					effect VARCHAR(8) NOT NULL,
					expires_at TIMESTAMP,
					created_by VARCHAR(64),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, tenant_id, permission_id)
				);

				CREATE INDEX idx_overrides_user_tenant ON permission_overrides(user_id, tenant_id);
				CREATE INDEX idx_overrides_expires_at ON permission_overrides(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portal_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM portal_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO portal_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// InitializeCatalog seeds the permission catalog, skipping entries that
// already exist.
func InitializeCatalog(ctx context.Context, store *Store) error {
	for _, entry := range DefaultCatalog() {
		existing, err := store.GetPermissionByCode(ctx, entry.Code())
		if err == nil && existing != nil {
			continue
		}

		perm := &Permission{
			Code:        entry.Code(),
			Resource:    entry.Resource,
			Action:      entry.Action,
			Scope:       entry.Scope,
			Category:    entry.Category,
			MenuKey:     entry.MenuKey,
			Description: entry.Description,
		}
		if err := store.CreatePermission(ctx, perm); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", entry.Code(), err)
		}
	}
	return nil
}

// InitializeSystemRoles creates the baseline roles and their assignments if
// they don't exist. Safe to call on every startup.
func InitializeSystemRoles(ctx context.Context, store *Store) error {
	for _, seed := range SystemRoles() {
		role, err := store.GetRoleByCode(ctx, seed.Code, nil)
		if err != nil {
			role = &Role{
				Code:        seed.Code,
				DisplayName: seed.DisplayName,
				Description: seed.Description,
				IsSystem:    true,
				Ordering:    seed.Ordering,
			}
			if err := store.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("failed to create system role %s: %w", seed.Code, err)
			}
		}

		permissionIDs := make([]int64, 0, len(seed.PermissionCodes))
		for _, code := range seed.PermissionCodes {
			perm, err := store.GetPermissionByCode(ctx, code)
			if err != nil {
				return fmt.Errorf("system role %s references unknown permission %s: %w", seed.Code, code, err)
			}
			permissionIDs = append(permissionIDs, perm.ID)
		}

		if err := store.ReplaceRolePermissions(ctx, role.ID, permissionIDs); err != nil {
			return fmt.Errorf("failed to seed permissions for role %s: %w", seed.Code, err)
		}
	}
	return nil
}
