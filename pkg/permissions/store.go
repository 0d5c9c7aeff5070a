package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store handles permission engine persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Catalog ---

// CreatePermission adds a permission definition to the catalog
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.Code == "" {
		perm.Code = Code(perm.Resource, perm.Action, perm.Scope)
	}
	if !perm.Scope.Valid() {
		return invalidArgument(fmt.Sprintf("unknown scope %q", perm.Scope))
	}
	if perm.Category != CategoryMenu && perm.Category != CategoryFeature {
		return invalidArgument(fmt.Sprintf("unknown category %q", perm.Category))
	}

	query := `
		INSERT INTO permissions (code, resource, action, scope, category, menu_key, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	perm.CreatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		perm.Code, perm.Resource, perm.Action, perm.Scope,
		perm.Category, nullString(perm.MenuKey), perm.Description, perm.CreatedAt,
	)
	if err != nil {
		return storeUnavailable("create permission", err)
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		perm.ID = id
	} else {
		// Drivers without LastInsertId support fall back to a lookup.
		stored, err := s.GetPermissionByCode(ctx, perm.Code)
		if err != nil {
			return err
		}
		perm.ID = stored.ID
	}

	return nil
}

const permissionColumns = `id, code, resource, action, scope, category, menu_key, description, created_at`

// GetPermissionByCode retrieves a catalog entry by its code
func (s *Store) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE code = $1`
	perm, err := scanPermission(s.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, notFound(fmt.Sprintf("permission %s", code))
	}
	if err != nil {
		return nil, storeUnavailable("get permission", err)
	}
	return perm, nil
}

// GetPermission retrieves a catalog entry by ID
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`
	perm, err := scanPermission(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound(fmt.Sprintf("permission %d", id))
	}
	if err != nil {
		return nil, storeUnavailable("get permission", err)
	}
	return perm, nil
}

// ListPermissions lists the whole catalog, ordered by code
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY code ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeUnavailable("list permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, storeUnavailable("scan permission", err)
		}
		perms = append(perms, *perm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("list permissions", err)
	}
	return perms, nil
}

// --- Roles ---

// CreateRole creates a role. Custom roles must carry a tenant ID; system
// roles must not.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Code == "" {
		return invalidArgument("role code is required")
	}
	if role.DisplayName == "" {
		return invalidArgument("role display name is required")
	}
	if role.IsSystem && role.TenantID != nil {
		return invalidArgument("system roles are not tenant-scoped")
	}
	if !role.IsSystem && (role.TenantID == nil || *role.TenantID == "") {
		return invalidArgument("custom roles require a tenant")
	}

	query := `
		INSERT INTO roles (code, display_name, description, tenant_id, is_system, ordering, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		role.Code, role.DisplayName, role.Description,
		role.TenantID, role.IsSystem, role.Ordering, now, now,
	)
	if err != nil {
		return storeUnavailable("create role", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		role.ID = id
	} else {
		stored, err := s.GetRoleByCode(ctx, role.Code, role.TenantID)
		if err != nil {
			return err
		}
		role.ID = stored.ID
	}

	return nil
}

const roleColumns = `id, code, display_name, description, tenant_id, is_system, ordering, created_at, updated_at`

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, notFound(fmt.Sprintf("role %d", roleID))
	}
	if err != nil {
		return nil, storeUnavailable("get role", err)
	}
	return role, nil
}

// GetRoleByCode retrieves a role by code. System roles have a nil tenant.
func (s *Store) GetRoleByCode(ctx context.Context, code string, tenantID *string) (*Role, error) {
	var row *sql.Row
	if tenantID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE code = $1 AND tenant_id IS NULL`, code)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE code = $1 AND tenant_id = $2`, code, *tenantID)
	}

	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, notFound(fmt.Sprintf("role %s", code))
	}
	if err != nil {
		return nil, storeUnavailable("get role", err)
	}
	return role, nil
}

// ListRoles lists the system roles plus the tenant's custom roles
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE is_system = TRUE OR tenant_id = $1
		ORDER BY ordering ASC, code ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, storeUnavailable("list roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storeUnavailable("scan role", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("list roles", err)
	}
	return roles, nil
}

// UpdateRole updates a role's display name, description and ordering
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET display_name = $1, description = $2, ordering = $3, updated_at = $4
		WHERE id = $5
	`

	role.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		role.DisplayName, role.Description, role.Ordering, role.UpdatedAt, role.ID,
	)
	if err != nil {
		return storeUnavailable("update role", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeUnavailable("update role", err)
	}
	if rowsAffected == 0 {
		return notFound(fmt.Sprintf("role %d", role.ID))
	}
	return nil
}

// DeleteRole deletes a custom role and cascades its permission assignments
// and user grants in one transaction. System roles are never deletable.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role %s cannot be deleted", ErrForbidden, role.Code)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable("delete role", err)
	}
	defer tx.Rollback()

	// Children first, then the role itself.
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return storeUnavailable("delete role assignments", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return storeUnavailable("delete role grants", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return storeUnavailable("delete role", err)
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable("delete role", err)
	}
	return nil
}

// ReplaceRolePermissions atomically replaces a role's permission set.
// Concurrent readers see either the old set or the new set, never a
// partial one.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable("replace role permissions", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return storeUnavailable("replace role permissions", err)
	}

	for _, permissionID := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			roleID, permissionID,
		); err != nil {
			return storeUnavailable("replace role permissions", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable("replace role permissions", err)
	}
	return nil
}

// GetRolePermissions returns a role's assigned permissions
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.GetPermissionsForRoles(ctx, []int64{roleID})
}

// GetPermissionsForRoles returns the union of permissions assigned to the
// given roles, deduplicated by code.
func (s *Store) GetPermissionsForRoles(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT p.id, p.code, p.resource, p.action, p.scope, p.category, p.menu_key, p.description, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON p.id = rp.permission_id
		WHERE rp.role_id IN (%s)
		ORDER BY p.code ASC
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeUnavailable("get role permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, storeUnavailable("scan permission", err)
		}
		perms = append(perms, *perm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("get role permissions", err)
	}
	return perms, nil
}

// --- Role assignments ---

// AssignRoleToUser grants a role to a user within a tenant
func (s *Store) AssignRoleToUser(ctx context.Context, userID, tenantID string, roleID int64, grantedBy string) error {
	if userID == "" || tenantID == "" {
		return invalidArgument("user and tenant are required")
	}
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	// A custom role from one tenant must not be granted in another.
	if role.TenantID != nil && *role.TenantID != tenantID {
		return fmt.Errorf("%w: role %s belongs to a different tenant", ErrForbidden, role.Code)
	}

	query := `
		INSERT INTO user_roles (user_id, tenant_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, userID, tenantID, roleID, nullString(grantedBy), time.Now().UTC()); err != nil {
		return storeUnavailable("assign role", err)
	}
	return nil
}

// RevokeRoleFromUser removes a role grant
func (s *Store) RevokeRoleFromUser(ctx context.Context, userID, tenantID string, roleID int64) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND tenant_id = $2 AND role_id = $3`
	result, err := s.db.ExecContext(ctx, query, userID, tenantID, roleID)
	if err != nil {
		return storeUnavailable("revoke role", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeUnavailable("revoke role", err)
	}
	if rowsAffected == 0 {
		return notFound(fmt.Sprintf("role grant %d for user %s", roleID, userID))
	}
	return nil
}

// GetUserRoles returns the roles granted to a user within a tenant
func (s *Store) GetUserRoles(ctx context.Context, userID, tenantID string) ([]Role, error) {
	query := `
		SELECT r.id, r.code, r.display_name, r.description, r.tenant_id, r.is_system, r.ordering, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.tenant_id = $2
		ORDER BY r.ordering ASC, r.code ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, storeUnavailable("get user roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storeUnavailable("scan role", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("get user roles", err)
	}
	return roles, nil
}

// Membership is one user's role grants within a tenant
type Membership struct {
	UserID    string    `json:"user_id"`
	RoleCodes []string  `json:"role_codes"`
	JoinedAt  time.Time `json:"joined_at"`
}

// ListMembers returns every user holding at least one role in the tenant,
// with the codes of the roles they hold. JoinedAt is the earliest grant.
func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]Membership, error) {
	if tenantID == "" {
		return nil, invalidArgument("tenant is required")
	}

	query := `
		SELECT ur.user_id, r.code, ur.granted_at
		FROM user_roles ur
		JOIN roles r ON ur.role_id = r.id
		WHERE ur.tenant_id = $1
		ORDER BY ur.user_id ASC, r.ordering ASC, r.code ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, storeUnavailable("list members", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var userID, code string
		var grantedAt time.Time
		if err := rows.Scan(&userID, &code, &grantedAt); err != nil {
			return nil, storeUnavailable("scan member", err)
		}

		if len(members) == 0 || members[len(members)-1].UserID != userID {
			members = append(members, Membership{UserID: userID, JoinedAt: grantedAt})
		}
		m := &members[len(members)-1]
		m.RoleCodes = append(m.RoleCodes, code)
		if grantedAt.Before(m.JoinedAt) {
			m.JoinedAt = grantedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("list members", err)
	}
	return members, nil
}

// --- Overrides ---

// CreateOverride records a per-user grant or deny. The permission must
// exist in the catalog; the expiry, if set, must be in the future.
func (s *Store) CreateOverride(ctx context.Context, override *Override) error {
	if override.UserID == "" || override.TenantID == "" {
		return invalidArgument("user and tenant are required")
	}
	if !override.Effect.Valid() {
		return invalidArgument(fmt.Sprintf("unknown override effect %q", override.Effect))
	}
	now := time.Now().UTC()
	if override.ExpiresAt != nil && !override.ExpiresAt.After(now) {
		return invalidArgument("override expiry must be in the future")
	}
	if _, err := s.GetPermission(ctx, override.PermissionID); err != nil {
		return err
	}

	if override.ID == "" {
		override.ID = uuid.New().String()
	}
	override.CreatedAt = now

	query := `
		INSERT INTO permission_overrides (id, user_id, tenant_id, permission_id, effect, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		override.ID, override.UserID, override.TenantID, override.PermissionID,
		override.Effect, override.ExpiresAt, nullString(override.CreatedBy), override.CreatedAt,
	); err != nil {
		return storeUnavailable("create override", err)
	}
	return nil
}

// GetOverride retrieves an override by ID
func (s *Store) GetOverride(ctx context.Context, overrideID string) (*Override, error) {
	query := `
		SELECT id, user_id, tenant_id, permission_id, effect, expires_at, created_by, created_at
		FROM permission_overrides
		WHERE id = $1
	`
	override, err := scanOverride(s.db.QueryRowContext(ctx, query, overrideID))
	if err == sql.ErrNoRows {
		return nil, notFound(fmt.Sprintf("override %s", overrideID))
	}
	if err != nil {
		return nil, storeUnavailable("get override", err)
	}
	return override, nil
}

// DeleteOverride removes an override. The override must belong to the
// addressed user and tenant or the deletion is rejected before any
// mutation.
func (s *Store) DeleteOverride(ctx context.Context, overrideID, userID, tenantID string) error {
	override, err := s.GetOverride(ctx, overrideID)
	if err != nil {
		return err
	}
	if override.TenantID != tenantID {
		return fmt.Errorf("%w: override %s does not belong to tenant %s", ErrForbidden, overrideID, tenantID)
	}
	if override.UserID != userID {
		return fmt.Errorf("%w: override %s does not belong to user %s", ErrForbidden, overrideID, userID)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM permission_overrides WHERE id = $1`, overrideID); err != nil {
		return storeUnavailable("delete override", err)
	}
	return nil
}

// GetActiveOverrides returns the user's non-expired overrides within a
// tenant, with catalog entries joined in.
func (s *Store) GetActiveOverrides(ctx context.Context, userID, tenantID string) ([]Override, error) {
	query := `
		SELECT o.id, o.user_id, o.tenant_id, o.permission_id, o.effect, o.expires_at, o.created_by, o.created_at,
		       p.id, p.code, p.resource, p.action, p.scope, p.category, p.menu_key, p.description, p.created_at
		FROM permission_overrides o
		JOIN permissions p ON o.permission_id = p.id
		WHERE o.user_id = $1 AND o.tenant_id = $2
		  AND (o.expires_at IS NULL OR o.expires_at > $3)
		ORDER BY o.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, tenantID, time.Now().UTC())
	if err != nil {
		return nil, storeUnavailable("get overrides", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var o Override
		var p Permission
		var oExpiresAt sql.NullTime
		var oCreatedBy, pMenuKey sql.NullString

		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TenantID, &o.PermissionID, &o.Effect, &oExpiresAt, &oCreatedBy, &o.CreatedAt,
			&p.ID, &p.Code, &p.Resource, &p.Action, &p.Scope, &p.Category, &pMenuKey, &p.Description, &p.CreatedAt,
		); err != nil {
			return nil, storeUnavailable("scan override", err)
		}

		if oExpiresAt.Valid {
			t := oExpiresAt.Time
			o.ExpiresAt = &t
		}
		o.CreatedBy = oCreatedBy.String
		p.MenuKey = pMenuKey.String
		o.Permission = &p

		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("get overrides", err)
	}
	return overrides, nil
}

// ListOverrides returns all of a user's overrides within a tenant,
// including expired ones, for administrative views.
func (s *Store) ListOverrides(ctx context.Context, userID, tenantID string) ([]Override, error) {
	query := `
		SELECT id, user_id, tenant_id, permission_id, effect, expires_at, created_by, created_at
		FROM permission_overrides
		WHERE user_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, storeUnavailable("list overrides", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		override, err := scanOverride(rows)
		if err != nil {
			return nil, storeUnavailable("scan override", err)
		}
		overrides = append(overrides, *override)
	}
	if err := rows.Err(); err != nil {
		return nil, storeUnavailable("list overrides", err)
	}
	return overrides, nil
}

// PurgeExpiredOverrides deletes overrides whose expiry has passed and
// returns how many were removed.
func (s *Store) PurgeExpiredOverrides(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_overrides WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, storeUnavailable("purge expired overrides", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, storeUnavailable("purge expired overrides", err)
	}
	return purged, nil
}

// --- Scanning helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(row rowScanner) (*Permission, error) {
	var p Permission
	var menuKey sql.NullString
	if err := row.Scan(
		&p.ID, &p.Code, &p.Resource, &p.Action, &p.Scope,
		&p.Category, &menuKey, &p.Description, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.MenuKey = menuKey.String
	return &p, nil
}

func scanRole(row rowScanner) (*Role, error) {
	var r Role
	var tenantID sql.NullString
	if err := row.Scan(
		&r.ID, &r.Code, &r.DisplayName, &r.Description,
		&tenantID, &r.IsSystem, &r.Ordering, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if tenantID.Valid {
		t := tenantID.String
		r.TenantID = &t
	}
	return &r, nil
}

func scanOverride(row rowScanner) (*Override, error) {
	var o Override
	var expiresAt sql.NullTime
	var createdBy sql.NullString
	if err := row.Scan(
		&o.ID, &o.UserID, &o.TenantID, &o.PermissionID,
		&o.Effect, &expiresAt, &createdBy, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	o.CreatedBy = createdBy.String
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
