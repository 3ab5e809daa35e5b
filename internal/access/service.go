package access

import (
	"context"
	"errors"
	"fmt"

	"factoryops/internal/models"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by a Directory for unknown employees.
var ErrNotFound = errors.New("employee not found")

// Directory resolves employees by ID.
type Directory interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
}

// Service resolves caller scopes against the employee directory.
type Service struct {
	directory Directory
	notFound  error
	logger    zerolog.Logger
}

// NewService creates an access service. notFound is the directory's
// not-found sentinel; it may be nil when the directory returns ErrNotFound.
func NewService(directory Directory, notFound error, logger zerolog.Logger) *Service {
	if notFound == nil {
		notFound = ErrNotFound
	}
	return &Service{
		directory: directory,
		notFound:  notFound,
		logger:    logger.With().Str("component", "access").Logger(),
	}
}

// Resolve builds the scope for a caller claiming role. When callerID is set
// the claim is checked against the directory: the caller must exist, be
// active and hold the claimed role. Self-scoped roles require callerID.
func (s *Service) Resolve(ctx context.Context, role string, callerID int64) (Scope, error) {
	r := models.Role(role)
	if !knownRole(r) {
		return Scope{}, &AccessDeniedError{Reason: fmt.Sprintf("unknown role %q", role)}
	}
	scope := For(r, callerID)
	if _, self := scope.SelfOnly(); self && callerID <= 0 {
		return Scope{}, &AccessDeniedError{Reason: "userId is required for this role"}
	}
	if callerID <= 0 || s.directory == nil {
		return scope, nil
	}

	caller, err := s.directory.GetEmployee(ctx, callerID)
	if errors.Is(err, s.notFound) {
		return Scope{}, &AccessDeniedError{Reason: "unknown caller"}
	}
	if err != nil {
		return Scope{}, fmt.Errorf("checking caller: %w", err)
	}
	if !caller.IsActive() {
		return Scope{}, &AccessDeniedError{Reason: "caller account is inactive"}
	}
	if caller.Role != r {
		s.logger.Warn().
			Int64("caller_id", callerID).
			Str("claimed_role", role).
			Str("role", string(caller.Role)).
			Msg("role claim rejected")
		return Scope{}, &AccessDeniedError{Reason: "role does not match caller"}
	}
	return scope, nil
}

// CheckEmployee returns an AccessDeniedError unless scope may see employeeID.
func (s *Service) CheckEmployee(ctx context.Context, scope Scope, employeeID int64) error {
	emp, err := s.directory.GetEmployee(ctx, employeeID)
	if errors.Is(err, s.notFound) {
		return &AccessDeniedError{Reason: "employee is not visible to caller"}
	}
	if err != nil {
		return fmt.Errorf("checking employee: %w", err)
	}
	if !scope.Allows(*emp) {
		return &AccessDeniedError{Reason: "employee is not visible to caller"}
	}
	return nil
}

func knownRole(r models.Role) bool {
	switch r {
	case models.RoleAdmin, models.RoleDirector, models.RoleManager,
		models.RoleEmployee, models.RoleSales, models.RoleSecurity:
		return true
	}
	return false
}

// AccessDeniedError is returned when a caller may not see the requested data.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
