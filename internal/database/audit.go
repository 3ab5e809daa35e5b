package database

import (
	"context"
	"fmt"
	"time"
)

// auditTables lists the tables included in the monthly audit workbook.
var auditTables = []string{"employees", "attendance_records", "system_activities"}

// hiddenColumns are never exported.
var hiddenColumns = map[string]bool{"pin_hash": true}

// TableNames returns the tables exported by the monthly audit.
func (db *DB) TableNames(_ context.Context) ([]string, error) {
	return append([]string(nil), auditTables...), nil
}

// TableData returns every row of table as column maps together with the
// column order. Only audit tables may be read.
func (db *DB) TableData(ctx context.Context, table string) ([]map[string]any, []string, error) {
	allowed := false
	for _, t := range auditTables {
		if t == table {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, nil, fmt.Errorf("table %q is not exported", table)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table+" ORDER BY rowid")
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	all, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var columns []string
	for _, c := range all {
		if !hiddenColumns[c] {
			columns = append(columns, c)
		}
	}

	var data []map[string]any
	for rows.Next() {
		values := make([]any, len(all))
		ptrs := make([]any, len(all))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, c := range all {
			if hiddenColumns[c] {
				continue
			}
			row[c] = cellValue(values[i])
		}
		data = append(data, row)
	}
	return data, columns, rows.Err()
}

func cellValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return x
	}
}
