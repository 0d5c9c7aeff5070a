package permissions

// Menu keys used by the navigation sidebar
const (
	MenuEmployees  = "employees"
	MenuAttendance = "attendance"
	MenuLeave      = "leave"
	MenuPayroll    = "payroll"
	MenuOnboarding = "onboarding"
	MenuAssets     = "assets"
	MenuReports    = "reports"
	MenuSettings   = "settings"
)

// System role codes. These exist as a baseline across all tenants and are
// never deletable.
const (
	RoleSystemAdmin    = "system:admin"
	RoleSystemHR       = "system:hr"
	RoleSystemManager  = "system:manager"
	RoleSystemEmployee = "system:employee"
)

// CatalogEntry is a permission definition seeded into the store
type CatalogEntry struct {
	Resource    Resource
	Action      Action
	Scope       Scope
	Category    Category
	MenuKey     string
	Description string
}

// Code returns the canonical code for the entry
func (e CatalogEntry) Code() string {
	return Code(e.Resource, e.Action, e.Scope)
}

func menu(resource Resource, scope Scope, menuKey, description string) CatalogEntry {
	return CatalogEntry{
		Resource:    resource,
		Action:      ActionView,
		Scope:       scope,
		Category:    CategoryMenu,
		MenuKey:     menuKey,
		Description: description,
	}
}

func feature(resource Resource, action Action, scope Scope, description string) CatalogEntry {
	return CatalogEntry{
		Resource:    resource,
		Action:      action,
		Scope:       scope,
		Category:    CategoryFeature,
		Description: description,
	}
}

// DefaultCatalog returns the portal's permission definitions
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		// Menu visibility
		menu(ResourceEmployee, ScopeOwn, MenuEmployees, "See own profile in the directory"),
		menu(ResourceEmployee, ScopeCompany, MenuEmployees, "See the full employee directory"),
		menu(ResourceAttendance, ScopeOwn, MenuAttendance, "See own attendance"),
		menu(ResourceAttendance, ScopeTeam, MenuAttendance, "See team attendance"),
		menu(ResourceAttendance, ScopeCompany, MenuAttendance, "See company attendance"),
		menu(ResourceLeave, ScopeOwn, MenuLeave, "See own leave"),
		menu(ResourceLeave, ScopeTeam, MenuLeave, "See team leave"),
		menu(ResourceLeave, ScopeCompany, MenuLeave, "See company leave"),
		menu(ResourcePayroll, ScopeOwn, MenuPayroll, "See own payslips"),
		menu(ResourcePayroll, ScopeCompany, MenuPayroll, "See company payroll"),
		menu(ResourceOnboarding, ScopeCompany, MenuOnboarding, "See onboarding pipeline"),
		menu(ResourceAsset, ScopeOwn, MenuAssets, "See own assigned assets"),
		menu(ResourceAsset, ScopeCompany, MenuAssets, "See the asset register"),
		menu(ResourceReport, ScopeTeam, MenuReports, "See team reports"),
		menu(ResourceReport, ScopeCompany, MenuReports, "See company reports"),
		menu(ResourceSettings, ScopeCompany, MenuSettings, "See tenant settings"),

		// Employee directory
		feature(ResourceEmployee, ActionRead, ScopeOwn, "Read own employee record"),
		feature(ResourceEmployee, ActionRead, ScopeTeam, "Read direct reports' records"),
		feature(ResourceEmployee, ActionRead, ScopeCompany, "Read any employee record"),
		feature(ResourceEmployee, ActionCreate, ScopeCompany, "Create employee records"),
		feature(ResourceEmployee, ActionUpdate, ScopeOwn, "Update own profile"),
		feature(ResourceEmployee, ActionUpdate, ScopeCompany, "Update any employee record"),
		feature(ResourceEmployee, ActionDelete, ScopeCompany, "Remove employee records"),
		feature(ResourceEmployee, ActionExport, ScopeCompany, "Export the directory"),

		// Attendance
		feature(ResourceAttendance, ActionRead, ScopeOwn, "Read own attendance"),
		feature(ResourceAttendance, ActionRead, ScopeTeam, "Read team attendance"),
		feature(ResourceAttendance, ActionRead, ScopeCompany, "Read company attendance"),
		feature(ResourceAttendance, ActionCreate, ScopeOwn, "Clock in and out"),
		feature(ResourceAttendance, ActionUpdate, ScopeTeam, "Correct team attendance entries"),
		feature(ResourceAttendance, ActionApprove, ScopeTeam, "Approve team attendance corrections"),
		feature(ResourceAttendance, ActionExport, ScopeCompany, "Export attendance data"),

		// Leave
		feature(ResourceLeave, ActionRead, ScopeOwn, "Read own leave requests"),
		feature(ResourceLeave, ActionRead, ScopeTeam, "Read team leave requests"),
		feature(ResourceLeave, ActionRead, ScopeCompany, "Read all leave requests"),
		feature(ResourceLeave, ActionCreate, ScopeOwn, "Request leave"),
		feature(ResourceLeave, ActionApprove, ScopeTeam, "Approve team leave requests"),
		feature(ResourceLeave, ActionApprove, ScopeCompany, "Approve any leave request"),
		feature(ResourceLeave, ActionExport, ScopeCompany, "Export leave data"),

		// Payroll
		feature(ResourcePayroll, ActionRead, ScopeOwn, "Read own payslips"),
		feature(ResourcePayroll, ActionRead, ScopeCompany, "Read company payroll"),
		feature(ResourcePayroll, ActionUpdate, ScopeCompany, "Run payroll adjustments"),
		feature(ResourcePayroll, ActionExport, ScopeCompany, "Export payroll data"),

		// Onboarding
		feature(ResourceOnboarding, ActionRead, ScopeCompany, "Read onboarding pipelines"),
		feature(ResourceOnboarding, ActionCreate, ScopeCompany, "Start onboarding for a hire"),
		feature(ResourceOnboarding, ActionUpdate, ScopeCompany, "Advance onboarding steps"),

		// Assets
		feature(ResourceAsset, ActionRead, ScopeOwn, "Read own assigned assets"),
		feature(ResourceAsset, ActionRead, ScopeCompany, "Read the asset register"),
		feature(ResourceAsset, ActionAssign, ScopeCompany, "Assign assets to employees"),
		feature(ResourceAsset, ActionUpdate, ScopeCompany, "Update asset records"),

		// Reports
		feature(ResourceReport, ActionRead, ScopeTeam, "Read team reports"),
		feature(ResourceReport, ActionRead, ScopeCompany, "Read company reports"),
		feature(ResourceReport, ActionExport, ScopeCompany, "Export reports"),

		// Role administration
		feature(ResourceRole, ActionRead, ScopeCompany, "List roles and assignments"),
		feature(ResourceRole, ActionCreate, ScopeCompany, "Create custom roles"),
		feature(ResourceRole, ActionUpdate, ScopeCompany, "Edit custom roles"),
		feature(ResourceRole, ActionDelete, ScopeCompany, "Delete custom roles"),
		feature(ResourceRole, ActionAssign, ScopeCompany, "Assign roles and overrides"),

		// Tenant settings
		feature(ResourceSettings, ActionRead, ScopeCompany, "Read tenant settings"),
		feature(ResourceSettings, ActionUpdate, ScopeCompany, "Update tenant settings"),
	}
}

// SystemRole pairs a baseline role with its permission codes
type SystemRole struct {
	Code            string
	DisplayName     string
	Description     string
	Ordering        int
	PermissionCodes []string
}

// SystemRoles returns the baseline roles shared by every tenant
func SystemRoles() []SystemRole {
	allCodes := make([]string, 0)
	for _, entry := range DefaultCatalog() {
		allCodes = append(allCodes, entry.Code())
	}

	return []SystemRole{
		{
			Code:            RoleSystemAdmin,
			DisplayName:     "Administrator",
			Description:     "Full access to every portal feature",
			Ordering:        0,
			PermissionCodes: allCodes,
		},
		{
			Code:        RoleSystemHR,
			DisplayName: "HR",
			Description: "Company-wide people operations",
			Ordering:    10,
			PermissionCodes: []string{
				Code(ResourceEmployee, ActionView, ScopeCompany),
				Code(ResourceEmployee, ActionRead, ScopeCompany),
				Code(ResourceEmployee, ActionCreate, ScopeCompany),
				Code(ResourceEmployee, ActionUpdate, ScopeCompany),
				Code(ResourceEmployee, ActionExport, ScopeCompany),
				Code(ResourceAttendance, ActionView, ScopeCompany),
				Code(ResourceAttendance, ActionRead, ScopeCompany),
				Code(ResourceAttendance, ActionExport, ScopeCompany),
				Code(ResourceLeave, ActionView, ScopeCompany),
				Code(ResourceLeave, ActionRead, ScopeCompany),
				Code(ResourceLeave, ActionApprove, ScopeCompany),
				Code(ResourceLeave, ActionExport, ScopeCompany),
				Code(ResourcePayroll, ActionView, ScopeCompany),
				Code(ResourcePayroll, ActionRead, ScopeCompany),
				Code(ResourcePayroll, ActionExport, ScopeCompany),
				Code(ResourceOnboarding, ActionView, ScopeCompany),
				Code(ResourceOnboarding, ActionRead, ScopeCompany),
				Code(ResourceOnboarding, ActionCreate, ScopeCompany),
				Code(ResourceOnboarding, ActionUpdate, ScopeCompany),
				Code(ResourceAsset, ActionView, ScopeCompany),
				Code(ResourceAsset, ActionRead, ScopeCompany),
				Code(ResourceAsset, ActionAssign, ScopeCompany),
				Code(ResourceReport, ActionView, ScopeCompany),
				Code(ResourceReport, ActionRead, ScopeCompany),
				Code(ResourceSettings, ActionView, ScopeCompany),
				Code(ResourceSettings, ActionRead, ScopeCompany),
			},
		},
		{
			Code:        RoleSystemManager,
			DisplayName: "Manager",
			Description: "Team oversight plus self service",
			Ordering:    20,
			PermissionCodes: []string{
				Code(ResourceEmployee, ActionView, ScopeOwn),
				Code(ResourceEmployee, ActionRead, ScopeTeam),
				Code(ResourceEmployee, ActionUpdate, ScopeOwn),
				Code(ResourceAttendance, ActionView, ScopeTeam),
				Code(ResourceAttendance, ActionRead, ScopeTeam),
				Code(ResourceAttendance, ActionCreate, ScopeOwn),
				Code(ResourceAttendance, ActionUpdate, ScopeTeam),
				Code(ResourceAttendance, ActionApprove, ScopeTeam),
				Code(ResourceLeave, ActionView, ScopeTeam),
				Code(ResourceLeave, ActionRead, ScopeTeam),
				Code(ResourceLeave, ActionCreate, ScopeOwn),
				Code(ResourceLeave, ActionApprove, ScopeTeam),
				Code(ResourcePayroll, ActionView, ScopeOwn),
				Code(ResourcePayroll, ActionRead, ScopeOwn),
				Code(ResourceAsset, ActionView, ScopeOwn),
				Code(ResourceAsset, ActionRead, ScopeOwn),
				Code(ResourceReport, ActionView, ScopeTeam),
				Code(ResourceReport, ActionRead, ScopeTeam),
			},
		},
		{
			Code:        RoleSystemEmployee,
			DisplayName: "Employee",
			Description: "Self service only",
			Ordering:    30,
			PermissionCodes: []string{
				Code(ResourceEmployee, ActionView, ScopeOwn),
				Code(ResourceEmployee, ActionRead, ScopeOwn),
				Code(ResourceEmployee, ActionUpdate, ScopeOwn),
				Code(ResourceAttendance, ActionView, ScopeOwn),
				Code(ResourceAttendance, ActionRead, ScopeOwn),
				Code(ResourceAttendance, ActionCreate, ScopeOwn),
				Code(ResourceLeave, ActionView, ScopeOwn),
				Code(ResourceLeave, ActionRead, ScopeOwn),
				Code(ResourceLeave, ActionCreate, ScopeOwn),
				Code(ResourcePayroll, ActionView, ScopeOwn),
				Code(ResourcePayroll, ActionRead, ScopeOwn),
				Code(ResourceAsset, ActionView, ScopeOwn),
				Code(ResourceAsset, ActionRead, ScopeOwn),
			},
		},
	}
}
