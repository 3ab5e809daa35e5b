// Package attendance implements the per-employee work/break session state machine.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factoryops/internal/clock"
	"factoryops/internal/database"
	"factoryops/internal/events"
	"factoryops/internal/metrics"
	"factoryops/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Ledger stores one attendance record per employee and calendar day.
type Ledger interface {
	// GetRecord returns the record for employee on date, or nil if none exists.
	GetRecord(ctx context.Context, employeeID int64, date string) (*models.AttendanceRecord, error)

	// CreateRecord inserts a new record. It fails with database.ErrDuplicate if
	// a record for (employee, date) already exists.
	CreateRecord(ctx context.Context, rec *models.AttendanceRecord) error

	// UpdateRecord writes rec if its version is still current and the stored row
	// is open, bumping the version. It fails with database.ErrConcurrentModification otherwise.
	UpdateRecord(ctx context.Context, rec *models.AttendanceRecord) error
}

// Directory resolves employees. It fails with database.ErrNotFound for unknown IDs.
type Directory interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
}

// EventPublisher receives committed transitions.
type EventPublisher interface {
	Publish(event events.Event)
}

// BreakPolicy decides what clock-out does with a break that is still open.
type BreakPolicy string

const (
	BreakPolicyReject    BreakPolicy = "reject"
	BreakPolicyAutoClose BreakPolicy = "auto_close"
)

// Policy holds the shift rules applied by the state machine.
type Policy struct {
	Location        *time.Location
	ShiftStart      time.Duration // offset from midnight
	LateGrace       time.Duration
	HalfDayHours    float64 // 0 disables half-day classification
	ClockOutOnBreak BreakPolicy
}

// DefaultPolicy returns an 08:00 shift with a 15 minute grace period.
func DefaultPolicy() Policy {
	return Policy{
		Location:        time.Local,
		ShiftStart:      8 * time.Hour,
		LateGrace:       15 * time.Minute,
		HalfDayHours:    4,
		ClockOutOnBreak: BreakPolicyReject,
	}
}

// Request is a clock action as received from a client.
type Request struct {
	EmployeeID int64
	PIN        string
	Location   *models.Location
	Device     models.DeviceInfo
}

// SessionState is the live state of an employee's day.
type SessionState string

const (
	StateNotClockedIn SessionState = "not_clocked_in"
	StateWorking      SessionState = "working"
	StateOnBreak      SessionState = "on_break"
)

// LiveStatus is the read-only view of an employee's current session.
type LiveStatus struct {
	EmployeeID     int64                    `json:"employeeId"`
	State          SessionState             `json:"state"`
	ClockedIn      bool                     `json:"clockedIn"`
	OnBreak        bool                     `json:"onBreak"`
	ClockInTime    *time.Time               `json:"clockInTime,omitempty"`
	ClockOutTime   *time.Time               `json:"clockOutTime,omitempty"`
	BreakStartTime *time.Time               `json:"breakStartTime,omitempty"`
	TotalBreakTime int64                    `json:"totalBreakTime"`
	Record         *models.AttendanceRecord `json:"record,omitempty"`
}

// Service applies clock transitions against the ledger.
type Service struct {
	ledger    Ledger
	directory Directory
	gate      Gate
	clock     clock.Clock
	policy    Policy
	events    EventPublisher
	locks     *keyedMutex
	logger    zerolog.Logger
}

// NewService creates the state machine. publisher may be nil.
func NewService(ledger Ledger, directory Directory, clk clock.Clock, policy Policy, publisher EventPublisher, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if policy.Location == nil {
		policy.Location = time.Local
	}
	if policy.ClockOutOnBreak == "" {
		policy.ClockOutOnBreak = BreakPolicyReject
	}
	return &Service{
		ledger:    ledger,
		directory: directory,
		clock:     clk,
		policy:    policy,
		events:    publisher,
		locks:     newKeyedMutex(),
		logger:    logger.With().Str("component", "attendance").Logger(),
	}
}

// Today returns the calendar day key for t in the service's timezone.
func (s *Service) Today(t time.Time) string {
	return t.In(s.policy.Location).Format(models.DateLayout)
}

// ClockIn opens today's session.
func (s *Service) ClockIn(ctx context.Context, req Request) (*models.AttendanceRecord, error) {
	var out *models.AttendanceRecord
	err := s.transition(ctx, ActionClockIn, req, func(emp *models.Employee, rec *models.AttendanceRecord, now time.Time) error {
		if rec != nil {
			if rec.IsOpen() {
				return ErrAlreadyClockedIn
			}
			return ErrAlreadyClockedOut
		}

		rec = &models.AttendanceRecord{
			EmployeeID:      emp.ID,
			Date:            s.Today(now),
			ClockInTime:     now,
			Status:          s.arrivalStatus(now),
			ClockInLocation: req.Location,
		}
		if req.Device != (models.DeviceInfo{}) {
			device := req.Device
			rec.DeviceInfo = &device
		}
		rec.AppendNote(string(ActionClockIn), now, req.Location)

		if err := s.ledger.CreateRecord(ctx, rec); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return ErrAlreadyClockedIn
			}
			return Infrastructure(fmt.Errorf("create record: %w", err))
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeClockIn, out, map[string]any{
		"status":   out.Status,
		"location": out.ClockInLocation,
	})
	return out, nil
}

// StartBreak puts an open session on break.
func (s *Service) StartBreak(ctx context.Context, req Request) (*models.AttendanceRecord, error) {
	var out *models.AttendanceRecord
	err := s.transition(ctx, ActionStartBreak, req, func(_ *models.Employee, rec *models.AttendanceRecord, now time.Time) error {
		if rec == nil || !rec.IsOpen() {
			return ErrNoActiveSession
		}
		if rec.OnBreak {
			return ErrAlreadyOnBreak
		}
		rec.OnBreak = true
		rec.BreakStartTime = &now
		rec.BreakEndTime = nil
		rec.BreakStartLocation = req.Location
		rec.AppendNote(string(ActionStartBreak), now, req.Location)

		if err := s.update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeBreakStart, out, map[string]any{"location": out.BreakStartLocation})
	return out, nil
}

// EndBreak closes the current break and returns its duration in seconds.
func (s *Service) EndBreak(ctx context.Context, req Request) (*models.AttendanceRecord, int64, error) {
	var (
		out      *models.AttendanceRecord
		duration int64
	)
	err := s.transition(ctx, ActionEndBreak, req, func(_ *models.Employee, rec *models.AttendanceRecord, now time.Time) error {
		if rec == nil || !rec.IsOpen() {
			return ErrNoActiveSession
		}
		if !rec.OnBreak || rec.BreakStartTime == nil {
			return ErrNotOnBreak
		}
		duration = rec.AddBreak(now)
		rec.BreakEndLocation = req.Location
		rec.AppendNote(string(ActionEndBreak), now, req.Location)

		if err := s.update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.publish(events.TypeBreakEnd, out, map[string]any{
		"breakDuration":  duration,
		"totalBreakTime": out.BreakSeconds(),
		"location":       out.BreakEndLocation,
	})
	return out, duration, nil
}

// ClockOut closes today's session and fixes hours worked.
func (s *Service) ClockOut(ctx context.Context, req Request) (*models.AttendanceRecord, error) {
	var out *models.AttendanceRecord
	err := s.transition(ctx, ActionClockOut, req, func(_ *models.Employee, rec *models.AttendanceRecord, now time.Time) error {
		if rec == nil || !rec.IsOpen() {
			return ErrNoActiveSession
		}
		if rec.OnBreak {
			if s.policy.ClockOutOnBreak != BreakPolicyAutoClose {
				return ErrOnBreakMustEndFirst
			}
			rec.AddBreak(now)
			rec.BreakEndLocation = req.Location
			rec.AppendNote(string(ActionEndBreak), now, req.Location)
		}

		hours := rec.ComputeHoursWorked(now)
		rec.ClockOutTime = &now
		rec.HoursWorked = &hours
		rec.ClockOutLocation = req.Location
		if s.policy.HalfDayHours > 0 && hours < s.policy.HalfDayHours {
			rec.Status = models.StatusHalfDay
		}
		rec.AppendNote(string(ActionClockOut), now, req.Location)

		if err := s.update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeClockOut, out, map[string]any{
		"hoursWorked": out.HoursWorked,
		"status":      out.Status,
		"location":    out.ClockOutLocation,
	})
	return out, nil
}

// Status returns the live state of employeeID's session today.
func (s *Service) Status(ctx context.Context, employeeID int64) (*LiveStatus, error) {
	if employeeID <= 0 {
		return nil, ErrEmployeeRequired
	}
	if _, err := s.employee(ctx, employeeID); err != nil {
		return nil, err
	}

	rec, err := s.ledger.GetRecord(ctx, employeeID, s.Today(s.clock.Now()))
	if err != nil {
		return nil, Infrastructure(fmt.Errorf("get record: %w", err))
	}
	return liveStatus(employeeID, rec), nil
}

func liveStatus(employeeID int64, rec *models.AttendanceRecord) *LiveStatus {
	st := &LiveStatus{EmployeeID: employeeID, State: StateNotClockedIn}
	if rec == nil {
		return st
	}
	in := rec.ClockInTime
	st.Record = rec
	st.ClockInTime = &in
	st.ClockOutTime = rec.ClockOutTime
	st.TotalBreakTime = rec.BreakSeconds()
	if !rec.IsOpen() {
		return st
	}
	st.ClockedIn = true
	st.State = StateWorking
	if rec.OnBreak {
		st.State = StateOnBreak
		st.OnBreak = true
		st.BreakStartTime = rec.BreakStartTime
	}
	return st
}

type applyFunc func(emp *models.Employee, rec *models.AttendanceRecord, now time.Time) error

// transition runs the authorize, read, validate, write sequence for one
// employee while holding that employee's lock.
func (s *Service) transition(ctx context.Context, action Action, req Request, apply applyFunc) (err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveTransition(string(action), time.Since(started).Seconds())
		result := "ok"
		if err != nil {
			result = CodeOf(err)
		}
		metrics.IncTransition(string(action), result)
		s.logTransition(action, req.EmployeeID, err)
	}()

	if req.EmployeeID <= 0 {
		return ErrEmployeeRequired
	}
	emp, err := s.employee(ctx, req.EmployeeID)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(emp, action, req.Device, req.Location); err != nil {
		return err
	}
	// Checked outside the per-employee lock.
	if action == ActionClockIn {
		if err := checkPIN(emp, req.PIN); err != nil {
			return err
		}
	}

	unlock := s.locks.Lock(emp.ID)
	defer unlock()

	now := s.clock.Now()
	rec, err := s.ledger.GetRecord(ctx, emp.ID, s.Today(now))
	if err != nil {
		return Infrastructure(fmt.Errorf("get record: %w", err))
	}
	return apply(emp, rec, now)
}

func (s *Service) employee(ctx context.Context, id int64) (*models.Employee, error) {
	emp, err := s.directory.GetEmployee(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, Infrastructure(fmt.Errorf("get employee: %w", err))
	}
	return emp, nil
}

func (s *Service) update(ctx context.Context, rec *models.AttendanceRecord) error {
	if err := s.ledger.UpdateRecord(ctx, rec); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return ErrConcurrentTransition
		}
		return Infrastructure(fmt.Errorf("update record: %w", err))
	}
	return nil
}

func (s *Service) arrivalStatus(now time.Time) models.Status {
	threshold := clock.StartOfDay(now, s.policy.Location).Add(s.policy.ShiftStart + s.policy.LateGrace)
	if now.After(threshold) {
		return models.StatusLate
	}
	return models.StatusPresent
}

// HashPIN hashes a clock-in PIN for storage. An empty PIN disables the check.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

func checkPIN(emp *models.Employee, pin string) error {
	if emp.PINHash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(emp.PINHash), []byte(pin)) != nil {
		return ErrInvalidPIN
	}
	return nil
}

func (s *Service) publish(evType string, rec *models.AttendanceRecord, payload map[string]any) {
	if s.events == nil {
		return
	}
	payload["recordId"] = rec.ID
	payload["date"] = rec.Date
	ev := events.New(evType, rec.EmployeeID, payload)
	ev.CreatedAt = s.clock.Now()
	s.events.Publish(ev)
}

func (s *Service) logTransition(action Action, employeeID int64, err error) {
	if err == nil {
		s.logger.Info().
			Int64("employee_id", employeeID).
			Str("action", string(action)).
			Msg("attendance transition applied")
		return
	}
	ev := s.logger.Warn()
	if KindOf(err) == KindInfrastructure {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Int64("employee_id", employeeID).
		Str("action", string(action)).
		Str("code", CodeOf(err)).
		Msg("attendance transition rejected")
}
