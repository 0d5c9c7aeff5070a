package permissions

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/peopleops/portal/pkg/observability"
)

// Demo role names offered on the public demo
const (
	DemoRoleHR       = "demo:hr"
	DemoRoleManager  = "demo:manager"
	DemoRoleEmployee = "demo:employee"
)

// DemoTable maps a small fixed set of role names to permission codes. It
// backs unauthenticated demo sessions, where no real tenant or user
// context exists, and bypasses the resolver entirely.
type DemoTable struct {
	mu    sync.RWMutex
	roles map[string][]string
}

// demoFixture is the YAML shape of an on-disk demo role table
type demoFixture struct {
	Roles map[string][]string `yaml:"roles"`
}

// NewDemoTable creates a table with the built-in role fixtures, derived
// from the corresponding system roles.
func NewDemoTable() *DemoTable {
	byCode := map[string][]string{}
	for _, role := range SystemRoles() {
		byCode[role.Code] = role.PermissionCodes
	}

	return &DemoTable{
		roles: map[string][]string{
			DemoRoleHR:       byCode[RoleSystemHR],
			DemoRoleManager:  byCode[RoleSystemManager],
			DemoRoleEmployee: byCode[RoleSystemEmployee],
		},
	}
}

// LoadFile replaces the table with the roles from a YAML fixture.
// Unknown permission codes in the fixture are rejected.
func (d *DemoTable) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read demo fixture: %w", err)
	}

	var fixture demoFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("failed to parse demo fixture: %w", err)
	}
	if len(fixture.Roles) == 0 {
		return fmt.Errorf("demo fixture %s defines no roles", path)
	}

	known := make(map[string]struct{})
	for _, entry := range DefaultCatalog() {
		known[entry.Code()] = struct{}{}
	}
	for role, codes := range fixture.Roles {
		for _, code := range codes {
			if _, ok := known[code]; !ok {
				return fmt.Errorf("demo role %s references unknown permission %s", role, code)
			}
		}
	}

	d.mu.Lock()
	d.roles = fixture.Roles
	d.mu.Unlock()
	return nil
}

// Watch reloads the fixture whenever the file changes, until ctx is done.
// Reload failures keep the previous table and are logged.
func (d *DemoTable) Watch(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fixture watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch demo fixture: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.LoadFile(path); err != nil {
					logger.WithError(err).Warn("demo fixture reload failed, keeping previous table")
					continue
				}
				logger.WithField("path", path).Info("demo fixture reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("demo fixture watcher error")
			}
		}
	}()

	return nil
}

// Roles returns the demo role names currently offered
func (d *DemoTable) Roles() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.roles))
	for name := range d.roles {
		names = append(names, name)
	}
	return names
}

// Resolve builds a resolved set for the demo role from the static table.
// Unknown roles resolve to ErrNotFound.
func (d *DemoTable) Resolve(role string) (*ResolvedSet, error) {
	d.mu.RLock()
	codes, ok := d.roles[role]
	d.mu.RUnlock()
	if !ok {
		return nil, notFound(fmt.Sprintf("demo role %s", role))
	}

	index := make(map[string]CatalogEntry)
	for _, entry := range DefaultCatalog() {
		index[entry.Code()] = entry
	}

	perms := make([]Permission, 0, len(codes))
	for _, code := range codes {
		entry, ok := index[code]
		if !ok {
			continue
		}
		perms = append(perms, Permission{
			Code:        code,
			Resource:    entry.Resource,
			Action:      entry.Action,
			Scope:       entry.Scope,
			Category:    entry.Category,
			MenuKey:     entry.MenuKey,
			Description: entry.Description,
		})
	}

	return NewResolvedSet("", "", perms), nil
}
