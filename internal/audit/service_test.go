package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"factoryops/internal/export"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeExporter struct {
	tables map[string][]map[string]any
	order  []string
	broken string
}

func (f *fakeExporter) TableNames(context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeExporter) TableData(_ context.Context, table string) ([]map[string]any, []string, error) {
	if table == f.broken {
		return nil, nil, errors.New("no such table")
	}
	rows := f.tables[table]
	var cols []string
	if len(rows) > 0 {
		cols = []string{"id", "name"}
	}
	return rows, cols, nil
}

type captureNotifier struct {
	filename string
	caption  string
	data     []byte
}

func (c *captureNotifier) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.filename, c.caption, c.data = filename, caption, b
	return nil
}

func workbook() Workbook { return export.NewSheetWriter() }

func TestService_Export(t *testing.T) {
	exp := &fakeExporter{
		order: []string{"employees", "missing", "system_activities"},
		tables: map[string][]map[string]any{
			"employees":         {{"id": int64(1), "name": "Ivan"}, {"id": int64(2), "name": "Olga"}},
			"system_activities": {{"id": "a1", "name": "attendance.clock_in"}},
		},
		broken: "missing",
	}
	notifier := &captureNotifier{}
	svc := NewService(&Config{Name: "plant-1"}, exp, workbook, notifier, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC) }

	name, err := svc.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "attendance_audit_2026-02.xlsx", name)
	assert.Equal(t, name, notifier.filename)
	assert.Contains(t, notifier.caption, "February 2026")
	assert.Contains(t, notifier.caption, "plant-1")

	f, err := excelize.OpenReader(bytes.NewReader(notifier.data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"employees", "system_activities"}, f.GetSheetList())
	rows, err := f.GetRows("employees")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name"}, {"1", "Ivan"}, {"2", "Olga"}}, rows)
}

func TestService_ExportFailsWhenNothingExported(t *testing.T) {
	exp := &fakeExporter{order: []string{"missing"}, broken: "missing"}
	svc := NewService(nil, exp, workbook, &captureNotifier{}, nil)
	_, err := svc.Export(context.Background())
	assert.Error(t, err)
}

func TestService_StartStop(t *testing.T) {
	svc := NewService(nil, &fakeExporter{}, workbook, nil, nil)
	svc.Start()
	svc.Start()
	svc.Stop()
	svc.Stop()
}

func TestSchedule(t *testing.T) {
	assert.Equal(t, time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC), NextRun(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 1, 0, 0, time.UTC), NextRun(time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), PreviousMonth(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func TestTelegramNotifier(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		doc, ok := c.(tgbotapi.DocumentConfig)
		return ok && doc.ChatID == 42 && doc.Caption == "report"
	})).Return(nil).Once()
	sender.On("Send", mock.Anything).Return(errors.New("forbidden")).Once()

	n := NewTelegramNotifier(sender, 42)
	require.NoError(t, n.SendDocument(context.Background(), "a.xlsx", bytes.NewReader([]byte("x")), "report"))
	assert.Error(t, n.SendDocument(context.Background(), "a.xlsx", bytes.NewReader([]byte("x")), "other"))
	sender.AssertExpectations(t)
}

func TestDirNotifier(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	n := NewDirNotifier(dir)
	require.NoError(t, n.SendDocument(context.Background(), "../escape.xlsx", bytes.NewReader([]byte("data")), ""))

	got, err := os.ReadFile(filepath.Join(dir, "escape.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
