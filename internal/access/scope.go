// Package access decides which employees' attendance a caller may see.
package access

import (
	"strconv"

	"factoryops/internal/models"
)

// Scope is the visibility granted to one caller.
type Scope struct {
	role     models.Role
	callerID int64
}

// For returns the scope of a caller with role and employee ID.
func For(role models.Role, callerID int64) Scope {
	return Scope{role: role, callerID: callerID}
}

// Role returns the caller role the scope was built for.
func (s Scope) Role() models.Role { return s.role }

// Unrestricted reports whether the caller sees every active employee.
func (s Scope) Unrestricted() bool {
	return s.role == models.RoleAdmin || s.role == models.RoleDirector
}

// SelfOnly reports whether the caller may only see their own records and
// returns the employee ID to filter on.
func (s Scope) SelfOnly() (int64, bool) {
	switch s.role {
	case models.RoleEmployee, models.RoleSales, models.RoleSecurity:
		return s.callerID, true
	}
	return 0, false
}

// Key identifies the scope in cache keys.
func (s Scope) Key() string {
	if id, ok := s.SelfOnly(); ok {
		return string(s.role) + ":" + strconv.FormatInt(id, 10)
	}
	return string(s.role)
}

// managerHidden lists roles a Manager never sees.
var managerHidden = map[models.Role]bool{
	models.RoleAdmin:    true,
	models.RoleDirector: true,
	models.RoleSales:    true,
}

// Allows reports whether the caller may see emp. Inactive employees are
// never visible.
func (s Scope) Allows(emp models.Employee) bool {
	return s.allows(emp.ID, emp.Role, emp.DeletionStatus)
}

// AllowsRecord applies Allows to the employee data joined onto a record.
func (s Scope) AllowsRecord(v models.RecordView) bool {
	return s.allows(v.EmployeeID, v.EmployeeRole, v.EmployeeStatus)
}

func (s Scope) allows(id int64, role models.Role, status string) bool {
	if status != models.DeletionActive {
		return false
	}
	if s.Unrestricted() {
		return true
	}
	if s.role == models.RoleManager {
		return !managerHidden[role]
	}
	if self, ok := s.SelfOnly(); ok {
		return self > 0 && id == self
	}
	return false
}

// Employees keeps the employees visible to the scope.
func (s Scope) Employees(all []models.Employee) []models.Employee {
	out := make([]models.Employee, 0, len(all))
	for _, e := range all {
		if s.Allows(e) {
			out = append(out, e)
		}
	}
	return out
}

// Records keeps the records visible to the scope.
func (s Scope) Records(all []models.RecordView) []models.RecordView {
	out := make([]models.RecordView, 0, len(all))
	for _, v := range all {
		if s.AllowsRecord(v) {
			out = append(out, v)
		}
	}
	return out
}
