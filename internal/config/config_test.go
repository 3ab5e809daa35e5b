package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"factoryops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_ATTENDANCE_KEY", "secret")
	path := writeFile(t, dir, "config.yaml", `
server:
  api_key: ${TEST_ATTENDANCE_KEY}
database:
  path: `+filepath.Join(dir, "db", "attendance.db")+`
attendance:
  timezone: UTC
  shift_start: "09:30"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 8080, cfg.ServerPort())
	assert.Equal(t, 15*time.Minute, cfg.LateGrace())
	assert.Equal(t, 8.0, cfg.StandardHours())
	assert.Equal(t, 24*time.Hour, cfg.Backup.Interval())
	assert.False(t, cfg.Redis.Enabled())

	shift, err := cfg.ShiftStart()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, shift)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestLoad_PathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", "database:\n  path: "+filepath.Join(dir, "a.db")+"\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.db"), cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timezone", "attendance:\n  timezone: Mars/Olympus\n"},
		{"bad shift start", "attendance:\n  shift_start: \"8am\"\n"},
		{"bad break policy", "attendance:\n  clock_out_on_break: ignore\n"},
		{"negative half day", "attendance:\n  half_day_hours: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", tt.body+"database:\n  path: "+filepath.Join(dir, "a.db")+"\n")
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFactoryNetwork(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "net.yaml", "cidrs:\n  - 10.20.0.0/16\nhostname_suffixes:\n  - .plant.local\n")
	fn, err := LoadFactoryNetwork(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.20.0.0/16"}, fn.CIDRs)
	assert.Equal(t, []string{".plant.local"}, fn.HostnameSuffixes)

	bad := writeFile(t, dir, "bad.yaml", "cidrs:\n  - not-a-cidr\n")
	_, err = LoadFactoryNetwork(bad)
	assert.Error(t, err)
}

func TestWatchFactoryNetwork_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "net.yaml", "cidrs:\n  - 10.0.0.0/8\n")

	var (
		mu      sync.Mutex
		updates []*FactoryNetwork
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchFactoryNetwork(ctx, path, 10*time.Millisecond, func(fn *FactoryNetwork) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, fn)
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, updates, 1)
	mu.Unlock()

	writeFile(t, dir, "net.yaml", "cidrs:\n  - 192.168.0.0/24\n")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2 && updates[1].CIDRs[0] == "192.168.0.0/24"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFactoryNetwork_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "net.yaml", "cidrs:\n  - 10.0.0.0/8\n")

	var (
		mu      sync.Mutex
		updates int
		errs    []error
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchFactoryNetwork(ctx, path, 10*time.Millisecond, func(*FactoryNetwork) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	}, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	require.NoError(t, err)

	writeFile(t, dir, "net.yaml", "cidrs:\n  - 10.0.0.0/99\n")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The same broken file is reported once, and no update is delivered.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "previous version stays active")
	assert.Equal(t, 1, updates)
	mu.Unlock()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 2 && errors.Is(errs[1], os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoadEmployees(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_OPERATOR_PIN", "4821")

	path := writeFile(t, dir, "employees.yaml", `employees:
  - id: 7
    name: Line Operator
    email: op@plant.local
    role: Employee
    pin: ${TEST_OPERATOR_PIN}
  - id: 9
    name: Former Worker
    role: Employee
    inactive: true
`)
	entries, err := LoadEmployees(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "4821", entries[0].PIN)

	emp := entries[0].Employee()
	assert.Equal(t, int64(7), emp.ID)
	assert.Equal(t, models.RoleEmployee, emp.Role)
	assert.True(t, emp.IsActive())
	inactive := entries[1].Employee()
	assert.False(t, inactive.IsActive())

	tests := map[string]string{
		"missing id":   "employees:\n  - name: X\n    role: Employee\n",
		"duplicate id": "employees:\n  - id: 1\n    name: A\n    role: Employee\n  - id: 1\n    name: B\n    role: Employee\n",
		"missing name": "employees:\n  - id: 1\n    role: Employee\n",
		"unknown role": "employees:\n  - id: 1\n    name: A\n    role: Intern\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadEmployees(writeFile(t, dir, "bad.yaml", body))
			assert.Error(t, err)
		})
	}
}
