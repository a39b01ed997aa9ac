package org_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apettas/adeies/org"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_YAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "org.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root_department_id: ROOT
directorate_id: DIR
root_visibility: transitive
`), 0o600))

	cfg, err := org.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, org.DepartmentID("ROOT"), cfg.RootDepartmentID)
	assert.Equal(t, org.DepartmentID("DIR"), cfg.DirectorateID)
	assert.Equal(t, org.RootVisibilityTransitive, cfg.RootVisibility)
	// Defaults survive
	assert.True(t, cfg.IsSecretarial(org.CategorySupportCenter))
	assert.True(t, cfg.IsSecretarial(org.CategoryThematicCenter))
	assert.False(t, cfg.IsSecretarial(org.CategoryDepartment))
	assert.Equal(t, org.CategoryDelegatedUnit, cfg.DelegatedUnitCategory)
}

func TestConfig_Validate(t *testing.T) {
	base := org.DefaultConfig()
	base.RootDepartmentID = "ROOT"
	require.NoError(t, base.Validate())

	same := base
	same.DirectorateID = "ROOT"
	assert.Error(t, same.Validate())

	badCat := base
	badCat.SecretarialCategories = []org.Category{"nursery"}
	assert.ErrorIs(t, badCat.Validate(), org.ErrUnknownCategory)

	badVis := base
	badVis.RootVisibility = "everyone"
	assert.Error(t, badVis.Validate())

	assert.Error(t, org.DefaultConfig().Validate(), "root is required")
}
