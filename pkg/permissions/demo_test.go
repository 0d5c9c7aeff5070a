package permissions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDemoTableBuiltinRoles(t *testing.T) {
	table := NewDemoTable()

	roles := table.Roles()
	if len(roles) != 3 {
		t.Fatalf("expected 3 built-in demo roles, got %d", len(roles))
	}

	hr, err := table.Resolve(DemoRoleHR)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !hr.Has(Code(ResourcePayroll, ActionRead, ScopeCompany)) {
		t.Error("demo HR should read company payroll")
	}
	if !hr.HasMenu(MenuPayroll) {
		t.Error("demo HR should see the payroll menu")
	}

	emp, err := table.Resolve(DemoRoleEmployee)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if emp.Has(Code(ResourcePayroll, ActionRead, ScopeCompany)) {
		t.Error("demo employee must not read company payroll")
	}
	if !emp.Has(Code(ResourcePayroll, ActionRead, ScopeOwn)) {
		t.Error("demo employee should read own payslips")
	}
}

func TestDemoTableUnknownRole(t *testing.T) {
	table := NewDemoTable()
	if _, err := table.Resolve("demo:ceo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDemoTableLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	fixture := `roles:
  demo:viewer:
    - employee:view:own
    - employee:read:own
`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	table := NewDemoTable()
	if err := table.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	set, err := table.Resolve("demo:viewer")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !set.Has("employee:read:own") {
		t.Error("fixture permission missing from resolved set")
	}

	// The fixture replaces the table wholesale.
	if _, err := table.Resolve(DemoRoleHR); !errors.Is(err, ErrNotFound) {
		t.Errorf("built-in role should be gone after load, got %v", err)
	}
}

func TestDemoTableLoadFileRejectsUnknownCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	fixture := `roles:
  demo:viewer:
    - employee:teleport:own
`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	table := NewDemoTable()
	if err := table.LoadFile(path); err == nil {
		t.Fatal("expected error for unknown permission code")
	}

	// The previous table survives a failed load.
	if _, err := table.Resolve(DemoRoleHR); err != nil {
		t.Errorf("built-in roles should survive a failed load: %v", err)
	}
}

func TestDemoTableLoadFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	if err := os.WriteFile(path, []byte("roles: {}\n"), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	table := NewDemoTable()
	if err := table.LoadFile(path); err == nil {
		t.Fatal("expected error for fixture with no roles")
	}
}
