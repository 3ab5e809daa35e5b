// Package stats computes role-scoped attendance statistics and trends.
package stats

import (
	"fmt"
	"time"

	"factoryops/internal/clock"
	"factoryops/internal/models"
)

// DateRange selects the reporting window.
type DateRange string

const (
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
)

// ParseDateRange accepts today, week or month. Empty means today.
func ParseDateRange(s string) (DateRange, error) {
	switch DateRange(s) {
	case "":
		return RangeToday, nil
	case RangeToday, RangeWeek, RangeMonth:
		return DateRange(s), nil
	}
	return "", fmt.Errorf("unknown date range %q, expected today, week or month", s)
}

// Window resolves the range to inclusive calendar days ending at now in loc:
// one day for today, seven for week and thirty for month.
func (r DateRange) Window(now time.Time, loc *time.Location) (from, to string) {
	today := clock.StartOfDay(now, loc)
	start := today
	switch r {
	case RangeWeek:
		start = today.AddDate(0, 0, -6)
	case RangeMonth:
		start = today.AddDate(0, 0, -29)
	}
	return start.Format(models.DateLayout), today.Format(models.DateLayout)
}

// Query narrows a record listing.
type Query struct {
	Range      DateRange
	EmployeeID int64
	Status     models.Status
	Search     string
}

// AttendanceStats is the dashboard summary for a scope and range.
type AttendanceStats struct {
	TotalEmployees   int     `json:"totalEmployees"`
	PresentToday     int     `json:"presentToday"`
	AbsentToday      int     `json:"absentToday"`
	LateToday        int     `json:"lateToday"`
	OnBreakToday     int     `json:"onBreakToday"`
	AverageHours     float64 `json:"averageHours"`
	OvertimeHours    float64 `json:"overtimeHours"`
	TotalBreaks      int     `json:"totalBreaks"`
	AverageBreakTime float64 `json:"averageBreakTime"` // seconds
}

// TrendPoint is one day of status counts.
type TrendPoint struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
	Late    int    `json:"late"`
}

// DeviceStats holds the share of records per device bucket, in percent.
type DeviceStats struct {
	Desktop int `json:"desktop"`
	Mobile  int `json:"mobile"`
	Tablet  int `json:"tablet"`
	Other   int `json:"other"`
}

// BreakStats summarizes accumulated break time in seconds.
type BreakStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Max     int64   `json:"max"`
	Min     int64   `json:"min"`
}

// Analytics bundles the derived dashboard views.
type Analytics struct {
	Trends        []TrendPoint   `json:"trends"`
	DeviceStats   DeviceStats    `json:"deviceStats"`
	LocationStats map[string]int `json:"locationStats"`
	BreakStats    BreakStats     `json:"breakStats"`
}
