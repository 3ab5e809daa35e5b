package attendance

import (
	"errors"
	"net/http"
)

// Kind classifies a domain error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindConflict
	KindNotFound
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "infrastructure"
	}
}

// Error is a domain error with a stable code and a user-facing message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEmployeeRequired = &Error{Kind: KindValidation, Code: "EmployeeRequired", Message: "Employee ID is required"}
	ErrLocationRequired = &Error{Kind: KindValidation, Code: "LocationRequired", Message: "Location is required for attendance actions"}

	ErrRoleNotTracked       = &Error{Kind: KindAuthorization, Code: "RoleNotTracked", Message: "Time tracking is not available for this role"}
	ErrEmployeeInactive     = &Error{Kind: KindAuthorization, Code: "EmployeeInactive", Message: "Employee account is inactive"}
	ErrUnauthorizedLocation = &Error{Kind: KindAuthorization, Code: "UnauthorizedLocation", Message: "Attendance actions are only allowed from factory devices"}
	ErrInvalidPIN           = &Error{Kind: KindAuthorization, Code: "InvalidPIN", Message: "Invalid PIN"}

	ErrAlreadyClockedIn     = &Error{Kind: KindConflict, Code: "AlreadyClockedIn", Message: "Employee is already clocked in"}
	ErrAlreadyClockedOut    = &Error{Kind: KindConflict, Code: "AlreadyClockedOut", Message: "Employee has already clocked out today"}
	ErrAlreadyOnBreak       = &Error{Kind: KindConflict, Code: "AlreadyOnBreak", Message: "Employee is already on break"}
	ErrNotOnBreak           = &Error{Kind: KindConflict, Code: "NotOnBreak", Message: "Employee is not on break"}
	ErrNoActiveSession      = &Error{Kind: KindConflict, Code: "NoActiveSession", Message: "No active attendance session found"}
	ErrOnBreakMustEndFirst  = &Error{Kind: KindConflict, Code: "OnBreakMustEndFirst", Message: "End the current break before clocking out"}
	ErrConcurrentTransition = &Error{Kind: KindConflict, Code: "ConcurrentTransition", Message: "Attendance record changed concurrently, reload and retry"}

	ErrEmployeeNotFound = &Error{Kind: KindNotFound, Code: "EmployeeNotFound", Message: "Employee not found"}
)

// Infrastructure wraps a storage failure.
func Infrastructure(err error) error {
	return &Error{Kind: KindInfrastructure, Code: "Infrastructure", Message: "attendance storage unavailable", Err: err}
}

// KindOf returns the kind of err; unknown errors are infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the stable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Infrastructure"
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	if errors.Is(err, ErrInvalidPIN) {
		return http.StatusUnauthorized
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show to the caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInfrastructure {
			return "Internal error, please try again later"
		}
		return e.Message
	}
	return "Internal error, please try again later"
}
