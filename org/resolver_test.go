package org_test

import (
	"context"
	"errors"
	"testing"

	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/org/orgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// APPROVER RESOLUTION
// =============================================================================

func TestResolveApprover(t *testing.T) {
	r := orgtest.Resolver(t)

	tests := []struct {
		name string
		user org.UserID
		want org.UserID // empty = no approver
	}{
		{"directorate child employee goes to own manager", orgtest.AEmployee, orgtest.AManager},
		{"directorate child manager goes to directorate", orgtest.AManager, orgtest.DirManager},
		{"directorate manager goes to root", orgtest.DirManager, orgtest.RootManager},
		{"root manager has none", orgtest.RootManager, ""},
		{"directorate employee goes to directorate manager", orgtest.DirEmployee, orgtest.DirManager},
		{"nested employee below directorate goes to own manager", orgtest.A1Employee, orgtest.A1Manager},
		{"nested manager below directorate goes to directorate", orgtest.A1Manager, orgtest.DirManager},
		{"ordinary employee", orgtest.HREmployee, orgtest.HRManager},
		{"ordinary manager escalates to root", orgtest.HRManager, orgtest.RootManager},
		{"root employee", orgtest.RootEmployee, orgtest.RootManager},
		{"support center employee", orgtest.KedasyEmployee, orgtest.KedasyManager},
		{"delegated unit employee", orgtest.UnitEmployee, orgtest.UnitManager},
		{"delegated unit manager goes to support center manager", orgtest.UnitManager, orgtest.KedasyManager},
		{"support center manager escalates to root", orgtest.KedasyManager, orgtest.RootManager},
		{"department without manager", orgtest.EmptyEmployee, ""},
		{"user without department", orgtest.NoDepartment, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveApprover(orgtest.User(t, r, tt.user))
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestResolveApprover_DoesNotWalkPastOwnManager(t *testing.T) {
	// GIVEN: An employee of a directorate child department
	// WHEN: Their own department has no manager
	// THEN: There is no approver; the directorate manager is NOT picked up

	users := orgtest.Users()
	var kept []org.User
	for _, u := range users {
		if u.ID != orgtest.AManager {
			kept = append(kept, u)
		}
	}
	r, err := org.Build(orgtest.Departments(), kept, orgtest.Config())
	require.NoError(t, err)

	got, err := r.ResolveApprover(orgtest.User(t, r, orgtest.AEmployee))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveApprover_DelegatedUnitWithoutCenterManager(t *testing.T) {
	// GIVEN: A support center whose manager is gone
	var kept []org.User
	for _, u := range orgtest.Users() {
		if u.ID != orgtest.KedasyManager {
			kept = append(kept, u)
		}
	}
	r, err := org.Build(orgtest.Departments(), kept, orgtest.Config())
	require.NoError(t, err)

	// WHEN: The delegated unit's manager asks for an approver
	got, err := r.ResolveApprover(orgtest.User(t, r, orgtest.UnitManager))

	// THEN: The request escalates to the root manager
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orgtest.RootManager, got.ID)
}

func TestApprovalChain_DelegatedUnitMatchesSubordinates(t *testing.T) {
	r := orgtest.Resolver(t)
	unitMgr := orgtest.User(t, r, orgtest.UnitManager)

	chain, err := r.ApprovalChain(unitMgr)
	require.NoError(t, err)
	assert.Equal(t, []org.UserID{orgtest.KedasyManager, orgtest.RootManager}, ids(chain))
	assert.Contains(t, ids(r.Subordinates(orgtest.User(t, r, orgtest.KedasyManager))), orgtest.UnitManager)
}

func TestResolveApprover_NeverReturnsSelf(t *testing.T) {
	r := orgtest.Resolver(t)
	for _, u := range orgtest.Users() {
		got, err := r.ResolveApprover(u)
		require.NoError(t, err)
		if got != nil {
			assert.NotEqual(t, u.ID, got.ID, "user %s resolved to self", u.ID)
		}
	}
}

func TestResolveApprover_MultipleManagersLowestIDWins(t *testing.T) {
	users := append(orgtest.Users(), org.User{
		ID:           "u-hr-amgr",
		DepartmentID: org.DeptPtr(orgtest.HR),
		Roles:        org.NewRoleSet(org.RoleManager),
		Active:       true,
	})
	r, err := org.Build(orgtest.Departments(), users, orgtest.Config())
	require.NoError(t, err)

	got, err := r.ResolveApprover(orgtest.User(t, r, orgtest.HREmployee))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, org.UserID("u-hr-amgr"), got.ID)
	assert.Len(t, r.Roster().Managers(orgtest.HR), 2)
}

func TestResolveApprover_InactiveManagerIgnored(t *testing.T) {
	users := orgtest.Users()
	for i := range users {
		if users[i].ID == orgtest.HRManager {
			users[i].Active = false
		}
	}
	r, err := org.Build(orgtest.Departments(), users, orgtest.Config())
	require.NoError(t, err)

	got, err := r.ResolveApprover(orgtest.User(t, r, orgtest.HREmployee))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApprovalChain_AtMostThreeHops(t *testing.T) {
	// Starting from any manager, following approvers reaches "none" in ≤3 hops.
	r := orgtest.Resolver(t)
	for _, u := range orgtest.Users() {
		if !u.Has(org.RoleManager) {
			continue
		}
		chain, err := r.ApprovalChain(u)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chain), 3, "chain from %s: %v", u.ID, chain)
		if len(chain) > 0 {
			assert.Equal(t, orgtest.RootManager, chain[len(chain)-1].ID)
		}
	}
}

func TestCanRequestLeave_OnlyRootManagerRefused(t *testing.T) {
	r := orgtest.Resolver(t)
	for _, u := range orgtest.Users() {
		want := u.ID != orgtest.RootManager
		assert.Equal(t, want, r.CanRequestLeave(u), "user %s", u.ID)
	}
}

func TestResolveApprover_UnknownDepartment(t *testing.T) {
	r := orgtest.Resolver(t)
	ghost := org.User{ID: "ghost", DepartmentID: org.DeptPtr("GHOST"), Active: true}
	_, err := r.ResolveApprover(ghost)
	assert.ErrorIs(t, err, org.ErrDepartmentNotFound)
}

// =============================================================================
// SUBORDINATES
// =============================================================================

func ids(users []org.User) []org.UserID {
	out := make([]org.UserID, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestSubordinates(t *testing.T) {
	r := orgtest.Resolver(t)

	tests := []struct {
		name    string
		manager org.UserID
		want    []org.UserID
	}{
		{
			name:    "ordinary manager sees active non-managers of own department",
			manager: orgtest.HRManager,
			want:    []org.UserID{orgtest.Handler, orgtest.HREmployee},
		},
		{
			name:    "directorate manager sees the whole directorate subtree",
			manager: orgtest.DirManager,
			want: []org.UserID{
				orgtest.AEmployee, orgtest.AManager,
				orgtest.A1Employee, orgtest.A1Manager,
				orgtest.DirEmployee,
			},
		},
		{
			name:    "support center manager also sees delegated units only",
			manager: orgtest.KedasyManager,
			want: []org.UserID{
				orgtest.KedasyEmployee, orgtest.KedasySecretary,
				orgtest.UnitEmployee, orgtest.UnitManager,
			},
		},
		{
			name:    "root manager uses the ordinary rule by default",
			manager: orgtest.RootManager,
			want:    []org.UserID{orgtest.RootEmployee},
		},
		{
			name:    "non-manager has none",
			manager: orgtest.HREmployee,
			want:    []org.UserID{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Subordinates(orgtest.User(t, r, tt.manager))
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}
}

func TestSubordinates_RootTransitive(t *testing.T) {
	cfg := orgtest.Config()
	cfg.RootVisibility = org.RootVisibilityTransitive
	r, err := org.Build(orgtest.Departments(), orgtest.Users(), cfg)
	require.NoError(t, err)

	got := ids(r.Subordinates(orgtest.User(t, r, orgtest.RootManager)))

	assert.NotContains(t, got, orgtest.RootManager)
	assert.NotContains(t, got, orgtest.HRInactive)
	assert.NotContains(t, got, orgtest.NoDepartment)
	assert.Contains(t, got, orgtest.A1Employee)
	assert.Contains(t, got, orgtest.KedasyXEmployee)
	assert.Len(t, got, len(orgtest.Users())-3)
}

func TestIsSecretarial(t *testing.T) {
	r := orgtest.Resolver(t)
	assert.True(t, r.IsSecretarial(orgtest.User(t, r, orgtest.KedasyEmployee)))
	assert.True(t, r.IsSecretarial(orgtest.User(t, r, orgtest.ThematicEmp)))
	assert.False(t, r.IsSecretarial(orgtest.User(t, r, orgtest.UnitEmployee)))
	assert.False(t, r.IsSecretarial(orgtest.User(t, r, orgtest.NoDepartment)))
}

// =============================================================================
// CONFIG + CACHE
// =============================================================================

func TestNewResolver_ConfigMustMatchTree(t *testing.T) {
	cfg := orgtest.Config()
	cfg.DirectorateID = "MISSING"
	_, err := org.Build(orgtest.Departments(), orgtest.Users(), cfg)
	assert.ErrorIs(t, err, org.ErrDepartmentNotFound)

	cfg = orgtest.Config()
	cfg.RootDepartmentID = ""
	_, err = org.Build(orgtest.Departments(), orgtest.Users(), cfg)
	assert.Error(t, err)
}

type countingDirectory struct {
	loads int
	depts []org.Department
	fail  error
}

func (d *countingDirectory) Departments(context.Context) ([]org.Department, error) {
	d.loads++
	if d.fail != nil {
		return nil, d.fail
	}
	return d.depts, nil
}

func (d *countingDirectory) Users(context.Context) ([]org.User, error) {
	return orgtest.Users(), nil
}

func TestCache_LoadsOnceUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	dir := &countingDirectory{depts: orgtest.Departments()}
	cache := org.NewCache(dir, orgtest.Config())

	r1, err := cache.Resolver(ctx)
	require.NoError(t, err)
	r2, err := cache.Resolver(ctx)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, dir.loads)

	cache.Invalidate()
	_, err = cache.Resolver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.loads)
}

func TestCache_ReloadFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	dir := &countingDirectory{depts: orgtest.Departments()}
	cache := org.NewCache(dir, orgtest.Config())

	before, err := cache.Resolver(ctx)
	require.NoError(t, err)

	dir.fail = errors.New("directory down")
	_, err = cache.Reload(ctx, nil)
	require.Error(t, err)

	after, err := cache.Resolver(ctx)
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestCache_CycleInStoredDataAborts(t *testing.T) {
	depts := orgtest.Departments()
	for i := range depts {
		if depts[i].ID == orgtest.Root {
			depts[i].ParentID = org.DeptPtr(orgtest.DirA1)
		}
	}
	cache := org.NewCache(&countingDirectory{depts: depts}, orgtest.Config())

	_, err := cache.Resolver(context.Background())
	assert.ErrorIs(t, err, org.ErrCycle)
}
