package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"factoryops/internal/access"
	"factoryops/internal/attendance"
	"factoryops/internal/clock"
	"factoryops/internal/database"
	"factoryops/internal/device"
	"factoryops/internal/export"
	"factoryops/internal/models"
	"factoryops/internal/stats"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	factoryAddr = "10.20.30.40:51000"
	remoteAddr  = "203.0.113.9:51000"
	desktopUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

var shiftDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	handler http.Handler
	clock   *clock.Frozen
	db      *database.DB
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "attendance.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	employees := []models.Employee{
		{ID: 1, Name: "Anna Worker", Email: "anna@example.com", Role: models.RoleEmployee},
		{ID: 2, Name: "Boris Worker", Email: "boris@example.com", Role: models.RoleEmployee},
		{ID: 3, Name: "Clara Manager", Email: "clara@example.com", Role: models.RoleManager},
		{ID: 4, Name: "Dmitry Sales", Email: "dmitry@example.com", Role: models.RoleSales},
		{ID: 10, Name: "Root Admin", Email: "admin@example.com", Role: models.RoleAdmin},
	}
	for i := range employees {
		require.NoError(t, db.UpsertEmployee(context.Background(), &employees[i]))
	}

	clk := clock.NewFrozen(shiftDay.Add(8 * time.Hour))
	policy := attendance.DefaultPolicy()
	policy.Location = time.UTC

	classifier, err := device.NewClassifier([]string{"10.0.0.0/8"}, nil, nil)
	require.NoError(t, err)

	srv := NewHTTPServer(cfg, Deps{
		Tracker:    attendance.NewService(db, db, clk, policy, nil, logger),
		Access:     access.NewService(db, database.ErrNotFound, logger),
		Reporter:   stats.NewAggregator(db, clk, time.UTC, 8, logger),
		Exporter:   export.NewExporter(time.UTC),
		Classifier: classifier,
		Clock:      clk,
	}, logger)

	return &testEnv{handler: srv.Handler(), clock: clk, db: db}
}

func (e *testEnv) do(method, path string, body any, addr string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", desktopUA)
	req.RemoteAddr = addr

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func clockBody(id int64) map[string]any {
	return map[string]any{
		"employeeId": id,
		"location":   map[string]any{"latitude": 55.75, "longitude": 37.61, "address": "Gate 1"},
		"deviceInfo": map[string]any{"userAgent": desktopUA, "platform": "Win32"},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHTTPServer_FullDay(t *testing.T) {
	env := newTestEnv(t, Config{})

	w := env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	record := resp["record"].(map[string]any)
	assert.Equal(t, "present", record["status"])
	assert.Equal(t, "2026-03-02", record["date"])
	assert.Equal(t, true, record["device_info"].(map[string]any)["isFactoryDevice"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	env.clock.Set(shiftDay.Add(12 * time.Hour))
	w = env.do(http.MethodPost, "/attendance/start-break", clockBody(1), factoryAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.clock.Set(shiftDay.Add(12*time.Hour + 30*time.Minute))
	w = env.do(http.MethodPost, "/attendance/end-break", clockBody(1), factoryAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1800), decode(t, w)["breakDuration"])

	env.clock.Set(shiftDay.Add(17 * time.Hour))
	w = env.do(http.MethodPost, "/attendance/clock-out", clockBody(1), factoryAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode(t, w)
	assert.InDelta(t, 8.5, resp["hoursWorked"], 0.0001)

	w = env.do(http.MethodGet, "/attendance/status/1", nil, factoryAddr)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, false, resp["clockedIn"])
	assert.Equal(t, float64(1800), resp["totalBreakTime"])
}

func TestHTTPServer_TransitionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		addr       string
		setup      func(env *testEnv)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing employee",
			body:       map[string]any{"location": map[string]any{"latitude": 1, "longitude": 1}},
			addr:       factoryAddr,
			wantStatus: http.StatusBadRequest,
			wantCode:   "EmployeeRequired",
		},
		{
			name:       "missing location",
			body:       map[string]any{"employeeId": 1},
			addr:       factoryAddr,
			wantStatus: http.StatusBadRequest,
			wantCode:   "LocationRequired",
		},
		{
			name: "client factory flag is ignored",
			body: map[string]any{
				"employeeId": 1,
				"location":   map[string]any{"latitude": 1, "longitude": 1},
				"deviceInfo": map[string]any{"userAgent": desktopUA, "isFactoryDevice": true},
			},
			addr:       remoteAddr,
			wantStatus: http.StatusForbidden,
			wantCode:   "UnauthorizedLocation",
		},
		{
			name:       "unknown employee",
			body:       clockBody(99),
			addr:       factoryAddr,
			wantStatus: http.StatusNotFound,
			wantCode:   "EmployeeNotFound",
		},
		{
			name: "latitude out of range",
			body: map[string]any{
				"employeeId": 1,
				"location":   map[string]any{"latitude": 200, "longitude": 1},
			},
			addr:       factoryAddr,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
		{
			name:       "malformed json",
			body:       "{not json",
			addr:       factoryAddr,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
		{
			name: "already clocked in",
			body: clockBody(1),
			addr: factoryAddr,
			setup: func(env *testEnv) {
				env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "AlreadyClockedIn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(http.MethodPost, "/attendance/clock-in", tt.body, tt.addr)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode(t, w)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tt.wantCode, resp["code"])
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHTTPServer_BreakWithoutSession(t *testing.T) {
	env := newTestEnv(t, Config{})

	w := env.do(http.MethodPost, "/attendance/start-break", clockBody(1), factoryAddr)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NoActiveSession", decode(t, w)["code"])

	env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)
	w = env.do(http.MethodPost, "/attendance/end-break", clockBody(1), factoryAddr)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NotOnBreak", decode(t, w)["code"])
}

func TestHTTPServer_Status(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)

	w := env.do(http.MethodGet, "/attendance/status/1", nil, remoteAddr)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["clockedIn"])
	assert.Equal(t, false, resp["onBreak"])
	assert.Equal(t, "working", resp["state"])

	w = env.do(http.MethodGet, "/attendance/status/99", nil, remoteAddr)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/attendance/status/abc", nil, remoteAddr)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/attendance/status/1?role=Employee&userId=1", nil, remoteAddr)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/attendance/status/1?role=Employee&userId=2", nil, remoteAddr)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AccessDenied", decode(t, w)["code"])
}

func TestHTTPServer_Records(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)
	env.do(http.MethodPost, "/attendance/clock-in", clockBody(4), factoryAddr)

	names := func(resp map[string]any) []string {
		var out []string
		for _, r := range resp["records"].([]any) {
			out = append(out, r.(map[string]any)["employee_name"].(string))
		}
		return out
	}

	t.Run("admin sees everyone", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Admin&userId=10", nil, remoteAddr)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode(t, w)
		assert.ElementsMatch(t, []string{"Anna Worker", "Dmitry Sales"}, names(resp))
		st := resp["stats"].(map[string]any)
		assert.Equal(t, float64(5), st["totalEmployees"])
		assert.Equal(t, float64(2), st["presentToday"])
	})

	t.Run("manager does not see sales", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Manager&userId=3", nil, remoteAddr)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"Anna Worker"}, names(decode(t, w)))
	})

	t.Run("employee sees self only", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Employee&userId=2", nil, remoteAddr)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Empty(t, resp["records"])
		assert.Equal(t, float64(1), resp["stats"].(map[string]any)["totalEmployees"])
	})

	t.Run("status filter", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Admin&userId=10&status=late", nil, remoteAddr)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode(t, w)["records"])
	})

	t.Run("role is required", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records", nil, remoteAddr)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, codeRoleRequired, decode(t, w)["code"])
	})

	t.Run("role claim must match caller", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Admin&userId=1", nil, remoteAddr)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bad date range", func(t *testing.T) {
		w := env.do(http.MethodGet, "/attendance/records?role=Admin&dateRange=year", nil, remoteAddr)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHTTPServer_Analytics(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)

	w := env.do(http.MethodGet, "/attendance/analytics?role=Director&dateRange=week", nil, remoteAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["trends"])
	assert.Equal(t, float64(100), resp["deviceStats"].(map[string]any)["desktop"])
	assert.Equal(t, float64(1), resp["locationStats"].(map[string]any)["Gate 1"])
	assert.Contains(t, resp, "breakStats")
}

func TestHTTPServer_Export(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(http.MethodPost, "/attendance/clock-in", clockBody(1), factoryAddr)

	w := env.do(http.MethodGet, "/attendance/export?role=Admin&format=csv", nil, remoteAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_2026-03-02.csv")

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"Employee Name","Email","Role","Date","Clock In","Clock Out","Hours Worked","Break Time","Status","Location","Device Info"`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"Anna Worker","anna@example.com","Employee","2026-03-02"`), lines[1])

	w = env.do(http.MethodGet, "/attendance/export?role=Admin&format=json", nil, remoteAddr)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []export.Row
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Gate 1", rows[0].Location)

	w = env.do(http.MethodGet, "/attendance/export?role=Admin&format=pdf", nil, remoteAddr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServer_APIKey(t *testing.T) {
	env := newTestEnv(t, Config{APIKey: "secret"})

	w := env.do(http.MethodGet, "/attendance/status/1", nil, remoteAddr)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/attendance/status/1", nil)
	req.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RequestsPerSecond: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/attendance/status/1", nil, remoteAddr).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/attendance/status/1", nil, remoteAddr).Code)

	w := env.do(http.MethodGet, "/attendance/status/1", nil, remoteAddr)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RateLimited", decode(t, w)["code"])

	// other clients keep their own budget
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/attendance/status/1", nil, factoryAddr).Code)
}

func TestFormatBindingError(t *testing.T) {
	var body ClockRequest
	err := validate.Struct(&ClockRequest{EmployeeID: -1, Location: &LocationPayload{Longitude: 500}})
	require.Error(t, err)
	msg := formatBindingError(err)
	assert.Contains(t, msg, "Field 'employeeId' must be at least 0")
	assert.Contains(t, msg, "Field 'longitude' must be at most 180")

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.Equal(t, "Request body is empty", formatBindingError(decodeAndValidate(req, &body)))
}
