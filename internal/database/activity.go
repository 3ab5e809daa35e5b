package database

import (
	"context"
	"fmt"

	"factoryops/internal/events"
)

// RecordActivity appends a committed attendance event to system_activities.
// Replayed events with an ID already stored are ignored.
func (db *DB) RecordActivity(ctx context.Context, ev events.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_activities (id, employee_id, activity_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.EmployeeID, ev.Type, string(ev.Payload), ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activity %s: %w", ev.ID, err)
	}
	return nil
}

// Activity is a stored system_activities row.
type Activity struct {
	ID         string
	EmployeeID int64
	Type       string
	Payload    string
	CreatedAt  string
}

// ListActivities returns the activity trail of employeeID, oldest first.
func (db *DB) ListActivities(ctx context.Context, employeeID int64) ([]Activity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, employee_id, activity_type, COALESCE(payload, ''), created_at
		FROM system_activities WHERE employee_id = ? ORDER BY created_at, id`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Type, &a.Payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
