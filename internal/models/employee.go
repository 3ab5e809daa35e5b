package models

// Role is an employee's organizational role.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleDirector Role = "Director"
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
	RoleSales    Role = "Sales"
	RoleSecurity Role = "Security"
)

// Deletion statuses of an employee.
const (
	DeletionActive   = "Active"
	DeletionInactive = "Inactive"
)

// Employee is a directory entry. The attendance engine never writes it.
type Employee struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Role              Role   `json:"role"`
	DeletionStatus    string `json:"deletion_status"`
	CanAccessRemotely bool   `json:"can_access_remotely"`
	PINHash           string `json:"-"`
}

// IsActive reports whether the employee has not been deactivated.
func (e *Employee) IsActive() bool {
	return e.DeletionStatus == DeletionActive
}

// IsTracked reports whether the role takes part in time tracking.
func (r Role) IsTracked() bool {
	return r != RoleAdmin && r != RoleDirector
}
