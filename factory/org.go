/*
Package factory converts YAML organisation definitions into directory records.

PURPOSE:
  Deployments describe their departments, users, leave types and the org
  configuration in one YAML document. The factory parses it, fills defaults,
  checks it builds a valid org.Resolver, and writes it through a store.Seeder.
  Demo scenarios in the api package are definitions of this same shape.

YAML SCHEMA:
  org:
    root_department_id: central
    directorate_id: primary
  departments:
    - id: central
      name: Regional Directorate
      category: administration
    - id: hr
      name: Human Resources
      category: department
      parent: central
  users:
    - id: maria
      name: Maria P.
      email: maria@example.org
      department: hr
      roles: [employee, manager]
      entitlement: 25
      carryover: 5          # default 0
      current_year: 25      # default entitlement
  leave_types:
    - id: regular
      name: Regular leave
      deductible: true

DEFAULTS:
  - active: true for departments, users and leave types
  - org section: org.DefaultConfig() categories
  - leave type code: the id

Every user needs at least one role.

SEE ALSO:
  - org/config.go: Config fields
  - store/store.go: Seeder
  - api/scenarios.go: embedded definitions
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

type OrgYAML struct {
	Org         *org.Config      `yaml:"org"`
	Departments []DepartmentYAML `yaml:"departments"`
	Users       []UserYAML       `yaml:"users"`
	LeaveTypes  []LeaveTypeYAML  `yaml:"leave_types"`
}

type DepartmentYAML struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Parent   string `yaml:"parent,omitempty"`
	Active   *bool  `yaml:"active,omitempty"`
}

type UserYAML struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Department  string   `yaml:"department,omitempty"`
	Roles       []string `yaml:"roles"`
	Active      *bool    `yaml:"active,omitempty"`
	Entitlement int      `yaml:"entitlement"`
	Carryover   int      `yaml:"carryover,omitempty"`
	CurrentYear *int     `yaml:"current_year,omitempty"`
}

type LeaveTypeYAML struct {
	ID         string `yaml:"id"`
	Code       string `yaml:"code,omitempty"`
	Name       string `yaml:"name"`
	Deductible bool   `yaml:"deductible"`
	Active     *bool  `yaml:"active,omitempty"`
}

// =============================================================================
// DEFINITION
// =============================================================================

// Definition is a parsed, validated organisation ready to seed.
type Definition struct {
	Org         org.Config
	Departments []org.Department
	Users       []org.User
	LeaveTypes  []workflow.LeaveType
}

// Resolver builds the organisation snapshot the definition describes.
func (d *Definition) Resolver() (*org.Resolver, error) {
	return org.Build(d.Departments, d.Users, d.Org)
}

// Apply writes every record through s. Records are upserted, so applying the
// same definition twice is harmless.
func (d *Definition) Apply(ctx context.Context, s store.Seeder) error {
	for _, dept := range d.Departments {
		if err := s.SaveDepartment(ctx, dept); err != nil {
			return fmt.Errorf("save department %s: %w", dept.ID, err)
		}
	}
	for _, u := range d.Users {
		if err := s.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
	}
	for _, lt := range d.LeaveTypes {
		if err := s.SaveLeaveType(ctx, lt); err != nil {
			return fmt.Errorf("save leave type %s: %w", lt.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

var ErrInvalidDefinition = errors.New("invalid organisation definition")

// LoadFile reads and parses a definition from disk.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organisation definition: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and converts it with FromYAML.
func Parse(data []byte) (*Definition, error) {
	var oy OrgYAML
	if err := yaml.Unmarshal(data, &oy); err != nil {
		return nil, fmt.Errorf("failed to parse organisation YAML: %w", err)
	}
	return FromYAML(oy)
}

// FromYAML converts the schema types and checks the result builds a resolver.
func FromYAML(oy OrgYAML) (*Definition, error) {
	def := &Definition{Org: org.DefaultConfig()}
	if oy.Org != nil {
		def.Org = mergeConfig(def.Org, *oy.Org)
	}

	var errs []error
	seen := map[string]bool{}
	for _, dy := range oy.Departments {
		dept, err := parseDepartment(dy)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		def.Departments = append(def.Departments, dept)
	}
	for _, uy := range oy.Users {
		if seen["user:"+uy.ID] {
			errs = append(errs, fmt.Errorf("user %s: defined twice", uy.ID))
			continue
		}
		seen["user:"+uy.ID] = true
		u, err := parseUser(uy)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		def.Users = append(def.Users, u)
	}
	for _, ly := range oy.LeaveTypes {
		if ly.ID == "" {
			errs = append(errs, errors.New("leave type: id is required"))
			continue
		}
		if seen["type:"+ly.ID] {
			errs = append(errs, fmt.Errorf("leave type %s: defined twice", ly.ID))
			continue
		}
		seen["type:"+ly.ID] = true
		def.LeaveTypes = append(def.LeaveTypes, parseLeaveType(ly))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(errs...))
	}

	if _, err := def.Resolver(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := def.checkUserDepartments(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return def, nil
}

// mergeConfig overlays the non-empty fields of c on base.
func mergeConfig(base, c org.Config) org.Config {
	base.RootDepartmentID = c.RootDepartmentID
	base.DirectorateID = c.DirectorateID
	if c.SecretarialCategories != nil {
		base.SecretarialCategories = c.SecretarialCategories
	}
	if c.SupportCenterCategory != "" {
		base.SupportCenterCategory = c.SupportCenterCategory
	}
	if c.DelegatedUnitCategory != "" {
		base.DelegatedUnitCategory = c.DelegatedUnitCategory
	}
	if c.RootVisibility != "" {
		base.RootVisibility = c.RootVisibility
	}
	return base
}

func parseDepartment(dy DepartmentYAML) (org.Department, error) {
	if dy.ID == "" {
		return org.Department{}, errors.New("department: id is required")
	}
	cat, err := org.ParseCategory(dy.Category)
	if err != nil {
		return org.Department{}, fmt.Errorf("department %s: %w", dy.ID, err)
	}
	dept := org.Department{
		ID:       org.DepartmentID(dy.ID),
		Name:     dy.Name,
		Category: cat,
		Active:   boolOr(dy.Active, true),
	}
	if dy.Parent != "" {
		dept.ParentID = org.DeptPtr(org.DepartmentID(dy.Parent))
	}
	return dept, nil
}

func parseUser(uy UserYAML) (org.User, error) {
	if uy.ID == "" {
		return org.User{}, errors.New("user: id is required")
	}
	roles, err := org.ParseRoleSet(uy.Roles)
	if err != nil {
		return org.User{}, fmt.Errorf("user %s: %w", uy.ID, err)
	}
	if roles.IsEmpty() {
		return org.User{}, fmt.Errorf("user %s: at least one role is required", uy.ID)
	}
	current := uy.Entitlement
	if uy.CurrentYear != nil {
		current = *uy.CurrentYear
	}
	if uy.Entitlement < 0 || uy.Carryover < 0 || current < 0 {
		return org.User{}, fmt.Errorf("user %s: balances must not be negative", uy.ID)
	}
	u := org.User{
		ID:                org.UserID(uy.ID),
		Name:              uy.Name,
		Email:             uy.Email,
		Roles:             roles,
		Active:            boolOr(uy.Active, true),
		AnnualEntitlement: uy.Entitlement,
		CarryoverDays:     uy.Carryover,
		CurrentYearDays:   current,
		TotalBalance:      uy.Carryover + current,
	}
	if uy.Department != "" {
		u.DepartmentID = org.DeptPtr(org.DepartmentID(uy.Department))
	}
	return u, nil
}

func parseLeaveType(ly LeaveTypeYAML) workflow.LeaveType {
	code := ly.Code
	if code == "" {
		code = ly.ID
	}
	return workflow.LeaveType{
		ID:         workflow.LeaveTypeID(ly.ID),
		Code:       code,
		Name:       ly.Name,
		Deductible: ly.Deductible,
		Active:     boolOr(ly.Active, true),
	}
}

// checkUserDepartments rejects users assigned to departments nobody defined.
func (d *Definition) checkUserDepartments() error {
	known := make(map[org.DepartmentID]bool, len(d.Departments))
	for _, dept := range d.Departments {
		known[dept.ID] = true
	}
	var errs []error
	for _, u := range d.Users {
		if u.DepartmentID != nil && !known[*u.DepartmentID] {
			errs = append(errs, fmt.Errorf("user %s: %w: %s", u.ID, org.ErrDepartmentNotFound, *u.DepartmentID))
		}
	}
	return errors.Join(errs...)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
