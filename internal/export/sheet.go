package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is the Excel limit on sheet name length.
const maxSheetName = 31

// SheetWriter builds a workbook one sheet and row at a time.
type SheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
	headerStyle  int
}

// NewSheetWriter creates an empty workbook.
func NewSheetWriter() *SheetWriter {
	return &SheetWriter{file: excelize.NewFile()}
}

// AddSheet starts a new sheet; the first call renames the default sheet.
func (w *SheetWriter) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes a bold header row.
func (w *SheetWriter) WriteHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.WriteRow(row); err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	if w.headerStyle == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return fmt.Errorf("create header style: %w", err)
		}
		w.headerStyle = style
	}
	start, err := excelize.CoordinatesToCellName(1, w.currentRow-1)
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(w.currentSheet, start, end, w.headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	return nil
}

// WriteRow appends a row to the current sheet.
func (w *SheetWriter) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	if len(row) == 0 {
		w.currentRow++
		return nil
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *SheetWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// Close releases workbook resources.
func (w *SheetWriter) Close() error {
	return w.file.Close()
}
