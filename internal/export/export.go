// Package export renders attendance records as CSV, JSON or XLSX.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"factoryops/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv, json or xlsx. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename returns the download name for an export generated at t.
func (f Format) Filename(t time.Time) string {
	return fmt.Sprintf("attendance_%s.%s", t.Format(models.DateLayout), f)
}

// Columns is the fixed column order of tabular exports.
var Columns = []string{
	"Employee Name", "Email", "Role", "Date", "Clock In", "Clock Out",
	"Hours Worked", "Break Time", "Status", "Location", "Device Info",
}

const timeLayout = "2006-01-02 15:04:05"

// Row is one exported record.
type Row struct {
	EmployeeName string `json:"employeeName"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Date         string `json:"date"`
	ClockIn      string `json:"clockIn"`
	ClockOut     string `json:"clockOut"`
	HoursWorked  string `json:"hoursWorked"`
	BreakTime    string `json:"breakTime"`
	Status       string `json:"status"`
	Location     string `json:"location"`
	DeviceInfo   string `json:"deviceInfo"`
}

func (r Row) values() []string {
	return []string{
		r.EmployeeName, r.Email, r.Role, r.Date, r.ClockIn, r.ClockOut,
		r.HoursWorked, r.BreakTime, r.Status, r.Location, r.DeviceInfo,
	}
}

// Exporter formats records with times shown in loc.
type Exporter struct {
	loc *time.Location
}

func NewExporter(loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{loc: loc}
}

// Rows converts records into export rows.
func (e *Exporter) Rows(views []models.RecordView) []Row {
	rows := make([]Row, 0, len(views))
	for _, v := range views {
		row := Row{
			EmployeeName: v.EmployeeName,
			Email:        v.EmployeeEmail,
			Role:         string(v.EmployeeRole),
			Date:         v.Date,
			ClockIn:      v.ClockInTime.In(e.loc).Format(timeLayout),
			Status:       string(v.Status),
			Location:     models.DisplayAddress(v.RawClockInLocation),
			DeviceInfo:   deviceLabel(v.RawDeviceInfo),
		}
		if v.ClockOutTime != nil {
			row.ClockOut = v.ClockOutTime.In(e.loc).Format(timeLayout)
		}
		if v.HoursWorked != nil {
			row.HoursWorked = strconv.FormatFloat(*v.HoursWorked, 'f', 2, 64)
		}
		if v.TotalBreakTime != nil {
			row.BreakTime = formatBreak(*v.TotalBreakTime)
		}
		rows = append(rows, row)
	}
	return rows
}

// Write renders views in format f.
func (e *Exporter) Write(w io.Writer, f Format, views []models.RecordView) error {
	switch f {
	case FormatJSON:
		return e.WriteJSON(w, views)
	case FormatXLSX:
		return e.WriteXLSX(w, views)
	default:
		return e.WriteCSV(w, views)
	}
}

// WriteCSV writes a header and one line per record with every field quoted.
func (e *Exporter) WriteCSV(w io.Writer, views []models.RecordView) error {
	bw := bufio.NewWriter(w)
	writeQuoted(bw, Columns)
	for _, r := range e.Rows(views) {
		writeQuoted(bw, r.values())
	}
	return bw.Flush()
}

// WriteJSON writes the rows as a JSON array.
func (e *Exporter) WriteJSON(w io.Writer, views []models.RecordView) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e.Rows(views))
}

// WriteXLSX writes a single-sheet workbook.
func (e *Exporter) WriteXLSX(w io.Writer, views []models.RecordView) error {
	sheet := NewSheetWriter()
	defer sheet.Close()

	if err := sheet.AddSheet("Attendance"); err != nil {
		return err
	}
	if err := sheet.WriteHeader(Columns); err != nil {
		return err
	}
	for _, r := range e.Rows(views) {
		vals := r.values()
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = v
		}
		if err := sheet.WriteRow(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return sheet.Save(w)
}

func writeQuoted(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			_ = w.WriteByte(',')
		}
		_ = w.WriteByte('"')
		_, _ = w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		_ = w.WriteByte('"')
	}
	_, _ = w.WriteString("\r\n")
}

func formatBreak(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func deviceLabel(raw string) string {
	info, err := models.ParseDeviceInfo(raw)
	if err != nil || strings.TrimSpace(info.UserAgent) == "" {
		return "Unknown Device"
	}
	return info.UserAgent
}
