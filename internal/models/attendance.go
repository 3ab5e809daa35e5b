package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used as part of the record identity.
const DateLayout = "2006-01-02"

// UnknownLocation is reported when a location snapshot is absent or unreadable.
const UnknownLocation = "Unknown Location"

// Status is the persisted attendance status of a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusHalfDay Status = "half_day"
	StatusOnBreak Status = "on_break"
)

// Statuses lists every valid status value.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusHalfDay, StatusOnBreak}

// ParseStatus converts a stored or requested value into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown attendance status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// ErrEmptySnapshot is returned when a stored snapshot column is empty.
var ErrEmptySnapshot = errors.New("empty snapshot")

// Location is a geolocation snapshot taken at a clock action.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// ParseLocation decodes a stored location snapshot.
func ParseLocation(raw string) (Location, error) {
	var loc Location
	if strings.TrimSpace(raw) == "" {
		return loc, ErrEmptySnapshot
	}
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return Location{}, fmt.Errorf("parse location: %w", err)
	}
	return loc, nil
}

// DisplayAddress returns the address of a stored snapshot, or UnknownLocation
// when the snapshot is missing, unreadable or has no address.
func DisplayAddress(raw string) string {
	loc, err := ParseLocation(raw)
	if err != nil || strings.TrimSpace(loc.Address) == "" {
		return UnknownLocation
	}
	return loc.Address
}

// DeviceInfo is a snapshot of the client device used for a clock action.
type DeviceInfo struct {
	UserAgent        string `json:"userAgent"`
	Platform         string `json:"platform,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	IsMobile         bool   `json:"isMobile"`
	IsTablet         bool   `json:"isTablet"`
	IsDesktop        bool   `json:"isDesktop"`
	IsFactoryDevice  bool   `json:"isFactoryDevice"`
	Fingerprint      string `json:"fingerprint,omitempty"`
}

// ParseDeviceInfo decodes a stored device snapshot.
func ParseDeviceInfo(raw string) (DeviceInfo, error) {
	var d DeviceInfo
	if strings.TrimSpace(raw) == "" {
		return d, ErrEmptySnapshot
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return DeviceInfo{}, fmt.Errorf("parse device info: %w", err)
	}
	return d, nil
}

// Note is one entry of the append-only audit trail kept on a record.
type Note struct {
	Event    string    `json:"event"`
	At       time.Time `json:"at"`
	Location *Location `json:"location,omitempty"`
}

// AttendanceRecord is the ledger row for one employee on one calendar day.
type AttendanceRecord struct {
	ID                 int64       `json:"id"`
	EmployeeID         int64       `json:"employee_id"`
	Date               string      `json:"date"`
	ClockInTime        time.Time   `json:"clock_in_time"`
	ClockOutTime       *time.Time  `json:"clock_out_time,omitempty"`   // nil while the session is open
	OnBreak            bool        `json:"on_break"`
	BreakStartTime     *time.Time  `json:"break_start_time,omitempty"`
	BreakEndTime       *time.Time  `json:"break_end_time,omitempty"`
	TotalBreakTime     *int64      `json:"total_break_time,omitempty"` // seconds, nil until the first break closes
	HoursWorked        *float64    `json:"hours_worked,omitempty"`
	Status             Status      `json:"status"`
	ClockInLocation    *Location   `json:"clock_in_location,omitempty"`
	ClockOutLocation   *Location   `json:"clock_out_location,omitempty"`
	BreakStartLocation *Location   `json:"break_start_location,omitempty"`
	BreakEndLocation   *Location   `json:"break_end_location,omitempty"`
	DeviceInfo         *DeviceInfo `json:"device_info,omitempty"`
	Notes              []Note      `json:"notes,omitempty"`
	Version            int64       `json:"version"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`

	// Raw snapshot columns as stored. Aggregations parse these themselves so a
	// malformed row degrades instead of failing the whole read.
	RawClockInLocation string `json:"-"`
	RawDeviceInfo      string `json:"-"`
}

// IsOpen reports whether the session has not been clocked out yet.
func (r *AttendanceRecord) IsOpen() bool {
	return r.ClockOutTime == nil
}

// BreakSeconds returns the accumulated break time, treating nil as zero.
func (r *AttendanceRecord) BreakSeconds() int64 {
	if r.TotalBreakTime == nil {
		return 0
	}
	return *r.TotalBreakTime
}

// AddBreak closes the current break at end and accumulates its duration.
// It returns the whole seconds added.
func (r *AttendanceRecord) AddBreak(end time.Time) int64 {
	if r.BreakStartTime == nil {
		return 0
	}
	seconds := int64(end.Sub(*r.BreakStartTime) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	total := r.BreakSeconds() + seconds
	r.TotalBreakTime = &total
	r.OnBreak = false
	r.BreakStartTime = nil
	r.BreakEndTime = &end
	return seconds
}

// ComputeHoursWorked returns the worked hours between clock-in and out
// minus accumulated breaks.
func (r *AttendanceRecord) ComputeHoursWorked(out time.Time) float64 {
	elapsed := out.Sub(r.ClockInTime).Seconds()
	return elapsed/3600 - float64(r.BreakSeconds())/3600
}

// AppendNote adds an event to the audit trail.
func (r *AttendanceRecord) AppendNote(event string, at time.Time, loc *Location) {
	r.Notes = append(r.Notes, Note{Event: event, At: at, Location: loc})
}

// RecordView is a record joined with the owning employee's directory data.
type RecordView struct {
	AttendanceRecord
	EmployeeName   string `json:"employee_name"`
	EmployeeEmail  string `json:"employee_email"`
	EmployeeRole   Role   `json:"employee_role"`
	EmployeeStatus string `json:"-"`
}
