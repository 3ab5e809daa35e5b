package attendance

import "factoryops/internal/models"

// Action is a clock transition requested by a client.
type Action string

const (
	ActionClockIn    Action = "clock_in"
	ActionStartBreak Action = "start_break"
	ActionEndBreak   Action = "end_break"
	ActionClockOut   Action = "clock_out"
)

// Gate decides whether an employee may perform a clock action from a given
// device and location. It has no side effects.
type Gate struct{}

// Authorize returns nil when the action is permitted, or the first failing rule.
func (Gate) Authorize(emp *models.Employee, _ Action, device models.DeviceInfo, loc *models.Location) error {
	if emp == nil {
		return ErrEmployeeNotFound
	}
	if !emp.IsActive() {
		return ErrEmployeeInactive
	}
	if !emp.Role.IsTracked() {
		return ErrRoleNotTracked
	}
	if loc == nil {
		return ErrLocationRequired
	}
	if !emp.CanAccessRemotely && !device.IsFactoryDevice {
		return ErrUnauthorizedLocation
	}
	return nil
}
