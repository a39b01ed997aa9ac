package org

import "sort"

// Roster indexes users by id and by department. Members of a department are
// kept ordered by user id, which is what "first manager" means below.
type Roster struct {
	byID   map[UserID]User
	byDept map[DepartmentID][]UserID
}

func NewRoster(users []User) *Roster {
	r := &Roster{
		byID:   make(map[UserID]User, len(users)),
		byDept: make(map[DepartmentID][]UserID),
	}
	for _, u := range users {
		r.byID[u.ID] = u
	}
	for id, u := range r.byID {
		if u.DepartmentID != nil {
			r.byDept[*u.DepartmentID] = append(r.byDept[*u.DepartmentID], id)
		}
	}
	for d := range r.byDept {
		ids := r.byDept[d]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return r
}

func (r *Roster) User(id UserID) (User, bool) {
	u, ok := r.byID[id]
	return u, ok
}

// Members returns the active users assigned to d, ordered by id.
func (r *Roster) Members(d DepartmentID) []User {
	var out []User
	for _, id := range r.byDept[d] {
		if u := r.byID[id]; u.Active {
			out = append(out, u)
		}
	}
	return out
}

// Manager returns the first active user of d holding the manager role, or nil.
// Several managers in one department is a data-quality condition; the lowest
// user id wins.
func (r *Roster) Manager(d DepartmentID) *User {
	for _, u := range r.Members(d) {
		if u.Has(RoleManager) {
			m := u
			return &m
		}
	}
	return nil
}

// Managers returns every active manager of d. More than one is an anomaly that
// callers may want to report.
func (r *Roster) Managers(d DepartmentID) []User {
	var out []User
	for _, u := range r.Members(d) {
		if u.Has(RoleManager) {
			out = append(out, u)
		}
	}
	return out
}

// Len returns the number of users, active or not.
func (r *Roster) Len() int { return len(r.byID) }
