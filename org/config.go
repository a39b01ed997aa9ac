package org

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RootVisibility selects how far the organisation root's manager sees down the
// tree in subordinate listings.
type RootVisibility string

const (
	// RootVisibilityDirect applies the ordinary department rule to the root.
	RootVisibilityDirect RootVisibility = "direct"
	// RootVisibilityTransitive lets the root's manager see every active user.
	RootVisibilityTransitive RootVisibility = "transitive"
)

// Config names the departments and categories that carry special approval
// rules. Nothing in the resolver compares against literal department codes.
type Config struct {
	RootDepartmentID      DepartmentID   `yaml:"root_department_id" json:"root_department_id"`
	DirectorateID         DepartmentID   `yaml:"directorate_id" json:"directorate_id"`
	SecretarialCategories []Category     `yaml:"secretarial_categories" json:"secretarial_categories"`
	SupportCenterCategory Category       `yaml:"support_center_category" json:"support_center_category"`
	DelegatedUnitCategory Category       `yaml:"delegated_unit_category" json:"delegated_unit_category"`
	RootVisibility        RootVisibility `yaml:"root_visibility" json:"root_visibility"`
}

// DefaultConfig returns the category defaults. Department ids are left empty and
// must be supplied by the deployment.
func DefaultConfig() Config {
	return Config{
		SecretarialCategories: []Category{CategorySupportCenter, CategoryThematicCenter},
		SupportCenterCategory: CategorySupportCenter,
		DelegatedUnitCategory: CategoryDelegatedUnit,
		RootVisibility:        RootVisibilityDirect,
	}
}

// LoadConfig reads a YAML org configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read org config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse org config: %w", err)
	}
	return cfg, cfg.Validate()
}

// IsSecretarial reports whether requests from category c need a protocol number.
func (c Config) IsSecretarial(cat Category) bool {
	for _, s := range c.SecretarialCategories {
		if s == cat {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	if c.RootDepartmentID == "" {
		return fmt.Errorf("org config: root_department_id is required")
	}
	if c.DirectorateID == c.RootDepartmentID {
		return fmt.Errorf("org config: directorate_id must differ from root_department_id")
	}
	for _, cat := range c.SecretarialCategories {
		if !cat.Valid() {
			return &CategoryError{Code: string(cat)}
		}
	}
	for _, cat := range []Category{c.SupportCenterCategory, c.DelegatedUnitCategory} {
		if cat != "" && !cat.Valid() {
			return &CategoryError{Code: string(cat)}
		}
	}
	switch c.RootVisibility {
	case "", RootVisibilityDirect, RootVisibilityTransitive:
	default:
		return fmt.Errorf("org config: unknown root_visibility %q", c.RootVisibility)
	}
	return nil
}
