package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"factoryops/internal/models"
)

const recordColumns = `a.id, a.employee_id, a.date, a.clock_in_time, a.clock_out_time, a.on_break,
	a.break_start_time, a.break_end_time, a.total_break_time, a.hours_worked, a.status,
	a.clock_in_location, a.clock_out_location, a.break_start_location, a.break_end_location,
	a.device_info, a.notes, a.version, a.created_at, a.updated_at`

// RecordFilter narrows ListRecords. Zero values mean "no filter".
type RecordFilter struct {
	FromDate   string // inclusive, YYYY-MM-DD
	ToDate     string // inclusive, YYYY-MM-DD
	EmployeeID int64
	Status     models.Status
	Search     string // matched against employee name and email
}

// GetRecord returns the record for employeeID on date, or nil if none exists.
func (db *DB) GetRecord(ctx context.Context, employeeID int64, date string) (*models.AttendanceRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records a WHERE a.employee_id = ? AND a.date = ?`,
		employeeID, date,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateRecord inserts rec and fills in its ID and version.
func (db *DB) CreateRecord(ctx context.Context, rec *models.AttendanceRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", rec.Status)
	}
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO attendance_records (
			employee_id, date, clock_in_time, on_break, status,
			clock_in_location, device_info, notes, version, created_at, updated_at
		) VALUES (?, ?, ?, 0, ?, ?, ?, ?, 1, ?, ?)`,
		rec.EmployeeID, rec.Date, rec.ClockInTime.UTC(), string(rec.Status),
		jsonOrNull(rec.ClockInLocation), jsonOrNull(rec.DeviceInfo), string(notes), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// UpdateRecord writes the mutable columns of an open record using the version
// as a compare-and-swap token. Closed records are never rewritten.
func (db *DB) UpdateRecord(ctx context.Context, rec *models.AttendanceRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid attendance status %q", rec.Status)
	}
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE attendance_records SET
			clock_out_time = ?, on_break = ?, break_start_time = ?, break_end_time = ?,
			total_break_time = ?, hours_worked = ?, status = ?,
			clock_out_location = ?, break_start_location = ?, break_end_location = ?,
			notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND clock_out_time IS NULL`,
		nullTime(rec.ClockOutTime), rec.OnBreak, nullTime(rec.BreakStartTime), nullTime(rec.BreakEndTime),
		nullInt(rec.TotalBreakTime), nullFloat(rec.HoursWorked), string(rec.Status),
		jsonOrNull(rec.ClockOutLocation), jsonOrNull(rec.BreakStartLocation), jsonOrNull(rec.BreakEndLocation),
		string(notes), now,
		rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update attendance record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// ListRecords returns records joined with their employees, newest first.
func (db *DB) ListRecords(ctx context.Context, f RecordFilter) ([]models.RecordView, error) {
	var (
		where []string
		args  []any
	)
	if f.FromDate != "" {
		where = append(where, "a.date >= ?")
		args = append(args, f.FromDate)
	}
	if f.ToDate != "" {
		where = append(where, "a.date <= ?")
		args = append(args, f.ToDate)
	}
	if f.EmployeeID > 0 {
		where = append(where, "a.employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, string(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(e.name LIKE ? OR e.email LIKE ?)")
		pattern := "%" + s + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + recordColumns + `, e.name, e.email, e.role, e.deletion_status
		FROM attendance_records a
		JOIN employees e ON e.id = a.employee_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.date DESC, a.clock_in_time DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var views []models.RecordView
	for rows.Next() {
		var (
			v    models.RecordView
			role string
		)
		rec, err := scanRecord(rows, &v.EmployeeName, &v.EmployeeEmail, &role, &v.EmployeeStatus)
		if err != nil {
			return nil, err
		}
		v.AttendanceRecord = *rec
		v.EmployeeRole = models.Role(role)
		views = append(views, v)
	}
	return views, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (*models.AttendanceRecord, error) {
	var (
		r                                 models.AttendanceRecord
		status, notes                     string
		clockOut, breakStart, breakEnd    sql.NullTime
		totalBreak                        sql.NullInt64
		hours                             sql.NullFloat64
		inLoc, outLoc, bStartLoc, bEndLoc sql.NullString
		device                            sql.NullString
	)
	dest := []any{
		&r.ID, &r.EmployeeID, &r.Date, &r.ClockInTime, &clockOut, &r.OnBreak,
		&breakStart, &breakEnd, &totalBreak, &hours, &status,
		&inLoc, &outLoc, &bStartLoc, &bEndLoc,
		&device, &notes, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.Status = models.Status(status)
	r.ClockOutTime = timePtr(clockOut)
	r.BreakStartTime = timePtr(breakStart)
	r.BreakEndTime = timePtr(breakEnd)
	if totalBreak.Valid {
		v := totalBreak.Int64
		r.TotalBreakTime = &v
	}
	if hours.Valid {
		v := hours.Float64
		r.HoursWorked = &v
	}

	r.RawClockInLocation = inLoc.String
	r.RawDeviceInfo = device.String
	r.ClockInLocation = locationPtr(inLoc)
	r.ClockOutLocation = locationPtr(outLoc)
	r.BreakStartLocation = locationPtr(bStartLoc)
	r.BreakEndLocation = locationPtr(bEndLoc)
	if d, err := models.ParseDeviceInfo(device.String); err == nil {
		r.DeviceInfo = &d
	}
	if notes != "" {
		if err := json.Unmarshal([]byte(notes), &r.Notes); err != nil {
			return nil, fmt.Errorf("parse notes of record %d: %w", r.ID, err)
		}
	}
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func locationPtr(s sql.NullString) *models.Location {
	loc, err := models.ParseLocation(s.String)
	if err != nil {
		return nil
	}
	return &loc
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// jsonOrNull encodes v, storing SQL NULL for nil pointers.
func jsonOrNull[T any](v *T) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}
