package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"factoryops/internal/models"
)

const employeeColumns = `id, name, email, role, deletion_status, can_access_remotely, pin_hash`

// GetEmployee returns the employee with id or ErrNotFound.
func (db *DB) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	row := db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee %d: %w", id, err)
	}
	return emp, nil
}

// ListEmployees returns every employee ordered by name, inactive ones included.
func (db *DB) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []models.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *emp)
	}
	return out, rows.Err()
}

// UpsertEmployee inserts emp or replaces the stored row with the same ID.
// Employees without an ID get one assigned.
func (db *DB) UpsertEmployee(ctx context.Context, emp *models.Employee) error {
	if emp == nil {
		return fmt.Errorf("employee is nil")
	}
	if emp.DeletionStatus == "" {
		emp.DeletionStatus = models.DeletionActive
	}

	now := time.Now().UTC()
	var id any
	if emp.ID > 0 {
		id = emp.ID
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, role, deletion_status, can_access_remotely, pin_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			deletion_status = excluded.deletion_status,
			can_access_remotely = excluded.can_access_remotely,
			pin_hash = excluded.pin_hash,
			updated_at = excluded.updated_at`,
		id, emp.Name, emp.Email, string(emp.Role), emp.DeletionStatus, emp.CanAccessRemotely, emp.PINHash, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	if emp.ID <= 0 {
		newID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		emp.ID = newID
	}
	return nil
}

func scanEmployee(row rowScanner) (*models.Employee, error) {
	var (
		emp  models.Employee
		role string
	)
	if err := row.Scan(&emp.ID, &emp.Name, &emp.Email, &role, &emp.DeletionStatus, &emp.CanAccessRemotely, &emp.PINHash); err != nil {
		return nil, err
	}
	emp.Role = models.Role(role)
	return &emp, nil
}
