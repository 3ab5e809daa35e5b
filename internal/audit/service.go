// Package audit produces the monthly workbook of attendance tables.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds configuration for the audit service.
type Config struct {
	// ExportOnStart runs an export immediately when the service starts.
	ExportOnStart bool

	// Name identifies this installation in report captions.
	Name string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Name: "factoryops"}
}

// Service exports the attendance tables on the first day of every month.
// It only reads; attendance data is never removed.
type Service struct {
	config   *Config
	exporter TableExporter
	workbook func() Workbook
	notifier Notifier
	logger   Logger
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewService creates a new audit service.
func NewService(config *Config, exporter TableExporter, workbook func() Workbook, notifier Notifier, logger Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:   config,
		exporter: exporter,
		workbook: workbook,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monthly scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	}

	s.wg.Add(1)
	go s.loop()

	s.info("Audit service started")
}

// Stop gracefully stops the audit service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.info("Audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	next := NextRun(s.now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	s.info("Next audit scheduled", "time", next)

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.run()

			next = NextRun(s.now())
			timer.Reset(time.Until(next))
			s.info("Next audit scheduled", "time", next)
		}
	}
}

// NextRun returns 00:01 on the first day of the month after t.
func NextRun(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 1, 0, 0, t.Location())
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.Export(ctx); err != nil && s.logger != nil {
		s.logger.Error("Failed to export audit data", "error", err)
	}
}

// Export builds the workbook for the previous month and hands it to the
// notifier. It returns the report filename.
func (s *Service) Export(ctx context.Context) (string, error) {
	if s.exporter == nil || s.workbook == nil {
		return "", fmt.Errorf("exporter or workbook not configured")
	}

	tables, err := s.exporter.TableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		s.info("No tables to export")
		return "", nil
	}

	book := s.workbook()
	if book == nil {
		return "", fmt.Errorf("failed to create workbook")
	}
	defer book.Close()

	exported := 0
	for _, table := range tables {
		if err := s.exportTable(ctx, book, table); err != nil {
			if s.logger != nil {
				s.logger.Error("Failed to export table", "table", table, "error", err)
			}
			continue
		}
		exported++
	}
	if exported == 0 {
		return "", fmt.Errorf("no table could be exported")
	}

	var buf bytes.Buffer
	if err := book.Save(&buf); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	month := PreviousMonth(s.now())
	filename := ReportFilename(month)
	if s.notifier != nil {
		caption := fmt.Sprintf("Attendance audit %s (%s)", month.Format("January 2006"), s.config.Name)
		if err := s.notifier.SendDocument(ctx, filename, &buf, caption); err != nil {
			return "", fmt.Errorf("send document: %w", err)
		}
		s.info("Audit report sent", "filename", filename)
	}
	return filename, nil
}

func (s *Service) exportTable(ctx context.Context, book Workbook, table string) error {
	data, columns, err := s.exporter.TableData(ctx, table)
	if err != nil {
		return fmt.Errorf("get table data: %w", err)
	}
	if err := book.AddSheet(table); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	if err := book.WriteHeader(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range data {
		values := make([]any, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		if err := book.WriteRow(values); err != nil && s.logger != nil {
			s.logger.Error("Failed to write row", "table", table, "error", err)
		}
	}
	if s.logger != nil {
		s.logger.Debug("Exported table", "table", table, "rows", len(data))
	}
	return nil
}

func (s *Service) info(msg string, fields ...any) {
	if s.logger != nil {
		s.logger.Info(msg, fields...)
	}
}
