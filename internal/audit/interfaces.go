package audit

import (
	"context"
	"fmt"
	"io"
	"time"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	// TableNames returns the tables to export, in sheet order.
	TableNames(ctx context.Context) ([]string, error)

	// TableData returns the rows of a table as maps plus the column order.
	TableData(ctx context.Context, table string) ([]map[string]any, []string, error)
}

// Workbook receives exported tables.
type Workbook interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []any) error
	Save(w io.Writer) error
	Close() error
}

// Notifier delivers a finished report.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Logger for audit operations.
type Logger interface {
	Info(msg string, fields ...any)
	Error(msg string, fields ...any)
	Debug(msg string, fields ...any)
}

// ReportFilename names the report covering month, e.g. "attendance_audit_2026-02.xlsx".
func ReportFilename(month time.Time) string {
	return fmt.Sprintf("attendance_audit_%s.xlsx", month.Format("2006-01"))
}

// PreviousMonth returns the first day of the month before t.
func PreviousMonth(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, -1, 0)
}
