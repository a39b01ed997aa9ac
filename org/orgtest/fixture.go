// Package orgtest provides a shared organisation fixture for tests.
//
//	ROOT (administration)
//	├── DIR (directorate)
//	│   └── DIR-A (department)
//	│       └── DIR-A-1 (department)
//	├── HR (department)
//	├── KEDASY (support-center)
//	│   ├── KEDASY-U (delegated-unit)
//	│   └── KEDASY-X (department)
//	├── THEMATIC (thematic-center)
//	└── EMPTY (department, no manager)
package orgtest

import (
	"testing"

	"github.com/apettas/adeies/org"
)

const (
	Root     org.DepartmentID = "ROOT"
	Dir      org.DepartmentID = "DIR"
	DirA     org.DepartmentID = "DIR-A"
	DirA1    org.DepartmentID = "DIR-A-1"
	HR       org.DepartmentID = "HR"
	Kedasy   org.DepartmentID = "KEDASY"
	KedasyU  org.DepartmentID = "KEDASY-U"
	KedasyX  org.DepartmentID = "KEDASY-X"
	Thematic org.DepartmentID = "THEMATIC"
	Empty    org.DepartmentID = "EMPTY"
)

const (
	RootManager     org.UserID = "u-root-mgr"
	RootEmployee    org.UserID = "u-root-emp"
	DirManager      org.UserID = "u-dir-mgr"
	DirEmployee     org.UserID = "u-dir-emp"
	AManager        org.UserID = "u-a-mgr"
	AEmployee       org.UserID = "u-a-emp"
	A1Manager       org.UserID = "u-a1-mgr"
	A1Employee      org.UserID = "u-a1-emp"
	HRManager       org.UserID = "u-hr-mgr"
	HREmployee      org.UserID = "u-hr-emp"
	Handler         org.UserID = "u-handler"
	HRInactive      org.UserID = "u-hr-inactive"
	KedasyManager   org.UserID = "u-kd-mgr"
	KedasyEmployee  org.UserID = "u-kd-emp"
	KedasySecretary org.UserID = "u-kd-sec"
	UnitManager     org.UserID = "u-kdu-mgr"
	UnitEmployee    org.UserID = "u-kdu-emp"
	KedasyXEmployee org.UserID = "u-kdx-emp"
	ThematicManager org.UserID = "u-th-mgr"
	ThematicEmp     org.UserID = "u-th-emp"
	EmptyEmployee   org.UserID = "u-empty-emp"
	NoDepartment    org.UserID = "u-nodept"
)

// Config is the escalation configuration matching the fixture tree.
func Config() org.Config {
	cfg := org.DefaultConfig()
	cfg.RootDepartmentID = Root
	cfg.DirectorateID = Dir
	return cfg
}

func Departments() []org.Department {
	d := func(id org.DepartmentID, cat org.Category, parent org.DepartmentID) org.Department {
		dep := org.Department{ID: id, Name: string(id), Category: cat, Active: true}
		if parent != "" {
			dep.ParentID = org.DeptPtr(parent)
		}
		return dep
	}
	return []org.Department{
		d(Root, org.CategoryAdministration, ""),
		d(Dir, org.CategoryDirectorate, Root),
		d(DirA, org.CategoryDepartment, Dir),
		d(DirA1, org.CategoryDepartment, DirA),
		d(HR, org.CategoryDepartment, Root),
		d(Kedasy, org.CategorySupportCenter, Root),
		d(KedasyU, org.CategoryDelegatedUnit, Kedasy),
		d(KedasyX, org.CategoryDepartment, Kedasy),
		d(Thematic, org.CategoryThematicCenter, Root),
		d(Empty, org.CategoryDepartment, Root),
	}
}

// Users returns every fixture user with 25 days entitlement, 5 carried over and
// 25 for the current year.
func Users() []org.User {
	emp := org.NewRoleSet(org.RoleEmployee)
	mgr := org.NewRoleSet(org.RoleEmployee, org.RoleManager)
	u := func(id org.UserID, dept org.DepartmentID, roles org.RoleSet) org.User {
		user := org.User{
			ID:                id,
			Name:              string(id),
			Email:             string(id) + "@example.org",
			Roles:             roles,
			Active:            true,
			AnnualEntitlement: 25,
			CarryoverDays:     5,
			CurrentYearDays:   25,
			TotalBalance:      30,
		}
		if dept != "" {
			user.DepartmentID = org.DeptPtr(dept)
		}
		return user
	}
	inactive := u(HRInactive, HR, emp)
	inactive.Active = false
	return []org.User{
		u(RootManager, Root, mgr),
		u(RootEmployee, Root, emp),
		u(DirManager, Dir, mgr),
		u(DirEmployee, Dir, emp),
		u(AManager, DirA, mgr),
		u(AEmployee, DirA, emp),
		u(A1Manager, DirA1, mgr),
		u(A1Employee, DirA1, emp),
		u(HRManager, HR, mgr),
		u(HREmployee, HR, emp),
		u(Handler, HR, org.NewRoleSet(org.RoleEmployee, org.RoleLeaveHandler)),
		inactive,
		u(KedasyManager, Kedasy, mgr),
		u(KedasyEmployee, Kedasy, emp),
		u(KedasySecretary, Kedasy, org.NewRoleSet(org.RoleEmployee, org.RoleSecretary)),
		u(UnitManager, KedasyU, mgr),
		u(UnitEmployee, KedasyU, emp),
		u(KedasyXEmployee, KedasyX, emp),
		u(ThematicManager, Thematic, mgr),
		u(ThematicEmp, Thematic, emp),
		u(EmptyEmployee, Empty, emp),
		u(NoDepartment, "", emp),
	}
}

// Resolver builds the fixture resolver or fails the test.
func Resolver(t testing.TB) *org.Resolver {
	t.Helper()
	r, err := org.Build(Departments(), Users(), Config())
	if err != nil {
		t.Fatalf("build fixture resolver: %v", err)
	}
	return r
}

// User looks up a fixture user or fails the test.
func User(t testing.TB, r *org.Resolver, id org.UserID) org.User {
	t.Helper()
	u, err := r.User(id)
	if err != nil {
		t.Fatalf("fixture user %s: %v", id, err)
	}
	return u
}
