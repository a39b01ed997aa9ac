/*
resolver.go - Approver resolution and subordinate views

PURPOSE:
  Computes, for any user, the single user who approves their next leave
  request. Ordinary departments use a flat "member → department manager" rule.
  The semi-autonomous directorate and the organisation root carry a fixed
  three-level escalation ceiling:

      department ──▶ directorate ──▶ root ──▶ (none)

RULES (ordered, first match wins):
  1. Parent is the directorate, user is not a manager there → that department's manager
  2. Parent is the directorate, user manages that department → directorate manager
  3. Department is the directorate, user is its manager      → root manager
  4. Department is the root, user is its manager             → none (cannot request leave)
  5. User manages any other department                       → directorate manager when the
                                                                department sits below the
                                                                directorate, root manager otherwise
  6. Everyone else                                           → own department manager

  This is deliberately NOT "walk up until a manager is found": such a walk would
  let an employee of a directorate child department skip their own manager.

SUBORDINATES:
  - Ordinary manager:       active non-managers of the same department
  - Directorate manager:    non-managers of the directorate plus everyone in
                            any descendant department (their managers included)
  - Support center manager: ordinary rule plus everyone in delegated-unit
                            descendants of the center
  - Root manager:           ordinary rule, or the whole tree when
                            Config.RootVisibility is "transitive"

SEE ALSO:
  - tree.go: Descendants
  - roster.go: Manager lookup ("first" = lowest user id)
  - workflow/guards.go: Uses ResolveApprover as the manager-decision guard
*/
package org

import (
	"fmt"
	"sort"
)

// Resolver is an immutable snapshot of the organisation: tree, users and the
// escalation configuration. Safe for concurrent use.
type Resolver struct {
	tree   *Tree
	roster *Roster
	cfg    Config
}

// NewResolver checks that the configured special departments exist in tree.
func NewResolver(tree *Tree, roster *Roster, cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := tree.Department(cfg.RootDepartmentID); !ok {
		return nil, fmt.Errorf("%w: root %s", ErrDepartmentNotFound, cfg.RootDepartmentID)
	}
	if cfg.DirectorateID != "" {
		if _, ok := tree.Department(cfg.DirectorateID); !ok {
			return nil, fmt.Errorf("%w: directorate %s", ErrDepartmentNotFound, cfg.DirectorateID)
		}
	}
	if cfg.RootVisibility == "" {
		cfg.RootVisibility = RootVisibilityDirect
	}
	return &Resolver{tree: tree, roster: roster, cfg: cfg}, nil
}

// Build constructs a Resolver straight from records.
func Build(departments []Department, users []User, cfg Config) (*Resolver, error) {
	tree, err := NewTree(departments)
	if err != nil {
		return nil, err
	}
	return NewResolver(tree, NewRoster(users), cfg)
}

func (r *Resolver) Tree() *Tree     { return r.tree }
func (r *Resolver) Roster() *Roster { return r.roster }
func (r *Resolver) Config() Config  { return r.cfg }

// User looks up a user by id.
func (r *Resolver) User(id UserID) (User, error) {
	u, ok := r.roster.User(id)
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

// Manager returns the manager of department d, or nil when it has none.
func (r *Resolver) Manager(d DepartmentID) *User {
	return r.roster.Manager(d)
}

// Department returns the department a user is assigned to.
func (r *Resolver) Department(u User) (Department, bool) {
	if u.DepartmentID == nil {
		return Department{}, false
	}
	return r.tree.Department(*u.DepartmentID)
}

// =============================================================================
// APPROVER RESOLUTION
// =============================================================================

// ResolveApprover returns who approves u's next leave request. A nil user with a
// nil error means there is no approver: u is the root's manager, u has no
// department, or the relevant department has no manager.
func (r *Resolver) ResolveApprover(u User) (*User, error) {
	if u.DepartmentID == nil {
		return nil, nil
	}
	dept, ok := r.tree.Department(*u.DepartmentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s (user %s)", ErrDepartmentNotFound, *u.DepartmentID, u.ID)
	}

	manages := u.IsManagerOf(dept.ID)
	underDirectorate := r.cfg.DirectorateID != "" && dept.HasParent(r.cfg.DirectorateID)

	var approver *User
	switch {
	case underDirectorate && !manages:
		approver = r.roster.Manager(dept.ID)
	case underDirectorate && manages:
		approver = r.roster.Manager(r.cfg.DirectorateID)
	case dept.ID == r.cfg.DirectorateID && manages:
		approver = r.roster.Manager(r.cfg.RootDepartmentID)
	case dept.ID == r.cfg.RootDepartmentID && manages:
		return nil, nil
	case manages && r.belowDirectorate(dept.ID):
		approver = r.roster.Manager(r.cfg.DirectorateID)
	case manages:
		if center, ok := r.supportCenterOf(dept); ok {
			if approver = r.roster.Manager(center); approver != nil {
				break
			}
		}
		approver = r.roster.Manager(r.cfg.RootDepartmentID)
	default:
		approver = r.roster.Manager(dept.ID)
	}

	if approver != nil && approver.ID == u.ID {
		return nil, nil
	}
	return approver, nil
}

// supportCenterOf returns the parent support center of a delegated unit.
func (r *Resolver) supportCenterOf(d Department) (DepartmentID, bool) {
	if d.Category != r.cfg.DelegatedUnitCategory || d.ParentID == nil {
		return "", false
	}
	parent, ok := r.tree.Department(*d.ParentID)
	if !ok || parent.Category != r.cfg.SupportCenterCategory {
		return "", false
	}
	return parent.ID, true
}

func (r *Resolver) belowDirectorate(d DepartmentID) bool {
	if r.cfg.DirectorateID == "" {
		return false
	}
	for _, a := range r.tree.Ancestors(d) {
		if a == r.cfg.DirectorateID {
			return true
		}
	}
	return false
}

// CanRequestLeave is false only for the manager of the organisation root.
func (r *Resolver) CanRequestLeave(u User) bool {
	return !u.IsManagerOf(r.cfg.RootDepartmentID)
}

// ApprovalChain follows ResolveApprover from u until it returns none. The walk is
// bounded by the number of users so a malformed roster cannot loop.
func (r *Resolver) ApprovalChain(u User) ([]User, error) {
	var chain []User
	seen := map[UserID]bool{u.ID: true}
	current := u
	for i := 0; i <= r.roster.Len(); i++ {
		next, err := r.ResolveApprover(current)
		if err != nil {
			return chain, err
		}
		if next == nil || seen[next.ID] {
			return chain, nil
		}
		seen[next.ID] = true
		chain = append(chain, *next)
		current = *next
	}
	return chain, nil
}

// IsDirectManager reports whether m manages the department owner belongs to.
func (r *Resolver) IsDirectManager(m, owner User) bool {
	return owner.DepartmentID != nil && m.IsManagerOf(*owner.DepartmentID)
}

// IsSecretarial reports whether requests owned by u need a protocol number.
func (r *Resolver) IsSecretarial(u User) bool {
	d, ok := r.Department(u)
	return ok && r.cfg.IsSecretarial(d.Category)
}

// =============================================================================
// SUBORDINATES
// =============================================================================

// Subordinates returns the users m sees as subordinates, ordered by id. A user
// who manages no department has none.
func (r *Resolver) Subordinates(m User) []User {
	if m.DepartmentID == nil || !m.IsManagerOf(*m.DepartmentID) {
		return nil
	}
	dept, ok := r.tree.Department(*m.DepartmentID)
	if !ok {
		return nil
	}

	set := make(map[UserID]User)
	addNonManagers := func(d DepartmentID) {
		for _, u := range r.roster.Members(d) {
			if !u.Has(RoleManager) {
				set[u.ID] = u
			}
		}
	}
	addAll := func(d DepartmentID) {
		for _, u := range r.roster.Members(d) {
			set[u.ID] = u
		}
	}

	switch {
	case r.cfg.DirectorateID != "" && dept.ID == r.cfg.DirectorateID:
		addNonManagers(dept.ID)
		for _, d := range r.tree.Descendants(dept.ID)[1:] {
			addAll(d)
		}
	case dept.ID == r.cfg.RootDepartmentID && r.cfg.RootVisibility == RootVisibilityTransitive:
		for _, d := range r.tree.Descendants(dept.ID) {
			addAll(d)
		}
	default:
		addNonManagers(dept.ID)
		if r.cfg.SupportCenterCategory != "" && dept.Category == r.cfg.SupportCenterCategory {
			for _, d := range r.tree.Descendants(dept.ID)[1:] {
				if child, ok := r.tree.Department(d); ok && child.Category == r.cfg.DelegatedUnitCategory {
					addAll(d)
				}
			}
		}
	}

	delete(set, m.ID)
	out := make([]User, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
