/*
Package org models the department hierarchy and resolves who approves whose leave.

PURPOSE:
  Departments form a forest: every department has an optional parent and a
  category tag. Users belong to at most one department and hold a set of roles.
  From this reference data the package answers three questions:
  - Who approves this user's next leave request?
  - Who are this manager's subordinates?
  - May this user request leave at all?

KEY CONCEPTS IN THIS FILE (types.go):
  - DepartmentID / UserID: Type-safe identifiers
  - Category: Closed set of department types
  - Role / RoleSet: Closed set of roles with set-membership tests
  - Department / User: Reference records

DESIGN PRINCIPLES:
  1. Closed variants: categories and roles are enums, never free strings
  2. Data-driven escalation: special departments come from Config, not literals
  3. Read-mostly: a Resolver is immutable once built and may be cached freely

SEE ALSO:
  - tree.go: Department arena and traversal
  - resolver.go: Approver resolution and subordinate views
  - config.go: OrgConfig (root, directorate, secretarial categories)
*/
package org

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DepartmentID string
type UserID string

// =============================================================================
// CATEGORY - Department type tag
// =============================================================================

// Category is the department type. The set is closed; an unknown code found in
// stored data is an integrity fault, not a user error.
type Category string

const (
	CategoryAdministration Category = "administration"  // organisation root type
	CategoryDirectorate    Category = "directorate"     // semi-autonomous directorate
	CategoryDepartment     Category = "department"      // ordinary department
	CategorySupportCenter  Category = "support-center"  // regional support center (disability / special education)
	CategoryThematicCenter Category = "thematic-center" // thematic counterpart of support centers
	CategoryDelegatedUnit  Category = "delegated-unit"  // delegated operational unit attached to a center
	CategorySchool         Category = "school"
)

var categories = map[Category]bool{
	CategoryAdministration: true,
	CategoryDirectorate:    true,
	CategoryDepartment:     true,
	CategorySupportCenter:  true,
	CategoryThematicCenter: true,
	CategoryDelegatedUnit:  true,
	CategorySchool:         true,
}

// ParseCategory maps a stored code to a Category.
func ParseCategory(code string) (Category, error) {
	c := Category(strings.TrimSpace(code))
	if !categories[c] {
		return "", &CategoryError{Code: code}
	}
	return c, nil
}

func (c Category) Valid() bool { return categories[c] }

// =============================================================================
// ROLE - Closed role variant
// =============================================================================

type Role uint8

const (
	RoleEmployee Role = iota + 1
	RoleManager
	RoleLeaveHandler
	RoleSecretary
	RoleAdministrator
)

var roleCodes = map[Role]string{
	RoleEmployee:      "employee",
	RoleManager:       "manager",
	RoleLeaveHandler:  "leave-handler",
	RoleSecretary:     "secretary",
	RoleAdministrator: "administrator",
}

func (r Role) String() string {
	if code, ok := roleCodes[r]; ok {
		return code
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole maps a stable role code to a Role.
func ParseRole(code string) (Role, error) {
	code = strings.TrimSpace(code)
	for r, c := range roleCodes {
		if c == code {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", code)
}

// RoleSet is a set of roles. The zero value is the empty set.
type RoleSet uint32

func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

func (s RoleSet) Has(r Role) bool { return s&(1<<r) != 0 }
func (s RoleSet) With(r Role) RoleSet { return s | (1 << r) }
func (s RoleSet) IsEmpty() bool { return s == 0 }

// Roles returns the members in a stable order.
func (s RoleSet) Roles() []Role {
	var out []Role
	for r := RoleEmployee; r <= RoleAdministrator; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Codes returns the stable codes of the members, sorted.
func (s RoleSet) Codes() []string {
	var out []string
	for _, r := range s.Roles() {
		out = append(out, r.String())
	}
	sort.Strings(out)
	return out
}

// ParseRoleSet builds a RoleSet from role codes.
func ParseRoleSet(codes []string) (RoleSet, error) {
	var s RoleSet
	for _, c := range codes {
		r, err := ParseRole(c)
		if err != nil {
			return 0, err
		}
		s = s.With(r)
	}
	return s, nil
}

// =============================================================================
// REFERENCE RECORDS
// =============================================================================

type Department struct {
	ID       DepartmentID
	Name     string
	Category Category
	ParentID *DepartmentID
	Active   bool
}

// HasParent reports whether the department's parent is p.
func (d Department) HasParent(p DepartmentID) bool {
	return d.ParentID != nil && *d.ParentID == p
}

// User is a directory entry. Balance fields are owned by the ledger package and
// are only read here.
type User struct {
	ID           UserID
	Name         string
	Email        string
	DepartmentID *DepartmentID
	Roles        RoleSet
	Active       bool

	AnnualEntitlement int
	CarryoverDays     int
	CurrentYearDays   int
	TotalBalance      int
}

func (u User) Has(r Role) bool { return u.Roles.Has(r) }

// InDepartment reports whether the user is assigned to d.
func (u User) InDepartment(d DepartmentID) bool {
	return u.DepartmentID != nil && *u.DepartmentID == d
}

// IsManagerOf reports whether the user holds the manager role in department d.
func (u User) IsManagerOf(d DepartmentID) bool {
	return u.Has(RoleManager) && u.InDepartment(d)
}

func DeptPtr(id DepartmentID) *DepartmentID { return &id }
