package tenants

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// Migrate creates the tenants table if it does not exist
func Migrate(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			settings TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tenants table: %w", err)
	}
	return nil
}

// CreateTenant creates a new tenant
func (s *PostgresService) CreateTenant(tenant *Tenant) error {
	if tenant.Name == "" {
		return fmt.Errorf("tenant name is required")
	}
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.Slug == "" {
		tenant.Slug = generateSlug(tenant.Name)
	}
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	settingsJSON, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, slug, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.Exec(query, tenant.ID, tenant.Name, tenant.Slug,
		tenant.Status, string(settingsJSON), tenant.CreatedAt, tenant.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(id string) (*Tenant, error) {
	return s.getTenant(`WHERE id = $1`, id)
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(slug string) (*Tenant, error) {
	return s.getTenant(`WHERE slug = $1`, slug)
}

func (s *PostgresService) getTenant(where string, arg interface{}) (*Tenant, error) {
	query := `
		SELECT id, name, slug, status, settings, created_at, updated_at
		FROM tenants ` + where

	tenant := &Tenant{}
	var settingsJSON []byte
	err := s.db.QueryRow(query, arg).Scan(
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status,
		&settingsJSON, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return tenant, nil
}

// ListTenants lists all active tenants
func (s *PostgresService) ListTenants() ([]*Tenant, error) {
	query := `
		SELECT id, name, slug, status, settings, created_at, updated_at
		FROM tenants
		WHERE status = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(query, TenantStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var result []*Tenant
	for rows.Next() {
		tenant := &Tenant{}
		var settingsJSON []byte
		if err := rows.Scan(
			&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status,
			&settingsJSON, &tenant.CreatedAt, &tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
			}
		}
		result = append(result, tenant)
	}
	return result, rows.Err()
}

// UpdateTenant applies a partial update to a tenant
func (s *PostgresService) UpdateTenant(id string, updates *UpdateTenantRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Settings != nil {
		settingsJSON, err := json.Marshal(updates.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, string(settingsJSON))
		argPos++
	}

	if len(setClauses) == 0 {
		return nil // Nothing to update
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tenants SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// SuspendTenant marks a tenant as suspended, hiding it from lookups
func (s *PostgresService) SuspendTenant(id string) error {
	query := `UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.Exec(query, TenantStatusSuspended, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to suspend tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
