package config

import (
	"fmt"
	"os"
	"strings"

	"factoryops/internal/models"

	"gopkg.in/yaml.v3"
)

// EmployeeEntry is one employee in the directory seed file. PIN is plain
// text here and hashed before it reaches the database.
type EmployeeEntry struct {
	ID                int64  `yaml:"id"`
	Name              string `yaml:"name"`
	Email             string `yaml:"email"`
	Role              string `yaml:"role"`
	Inactive          bool   `yaml:"inactive"`
	CanAccessRemotely bool   `yaml:"can_access_remotely"`
	PIN               string `yaml:"pin"`
}

// Employee converts the entry into a directory record without a PIN hash.
func (e EmployeeEntry) Employee() models.Employee {
	status := models.DeletionActive
	if e.Inactive {
		status = models.DeletionInactive
	}
	return models.Employee{
		ID:                e.ID,
		Name:              strings.TrimSpace(e.Name),
		Email:             strings.TrimSpace(e.Email),
		Role:              models.Role(e.Role),
		DeletionStatus:    status,
		CanAccessRemotely: e.CanAccessRemotely,
	}
}

// LoadEmployees reads the directory seed file.
func LoadEmployees(path string) ([]EmployeeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read employees: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var file struct {
		Employees []EmployeeEntry `yaml:"employees"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse employees: %w", err)
	}

	seen := make(map[int64]bool, len(file.Employees))
	for i, e := range file.Employees {
		if e.ID <= 0 {
			return nil, fmt.Errorf("employees[%d]: id must be positive", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("employees[%d]: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("employees[%d]: name is required", i)
		}
		if !knownRole(models.Role(e.Role)) {
			return nil, fmt.Errorf("employees[%d]: unknown role '%s'", i, e.Role)
		}
	}
	return file.Employees, nil
}

func knownRole(r models.Role) bool {
	switch r {
	case models.RoleAdmin, models.RoleDirector, models.RoleManager,
		models.RoleEmployee, models.RoleSales, models.RoleSecurity:
		return true
	}
	return false
}
