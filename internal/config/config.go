package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that overrides the config file location.
const EnvConfigPath = "ATTENDANCE_CONFIG_PATH"

const defaultConfigPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Port            int    `yaml:"port"`
		APIKey          string `yaml:"api_key"`
		ShutdownSeconds int    `yaml:"shutdown_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis RedisConfig `yaml:"redis"`

	Directory struct {
		EmployeesPath string `yaml:"employees_path"`
	} `yaml:"directory"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup BackupConfig `yaml:"backup"`

	Attendance AttendanceConfig `yaml:"attendance"`

	FactoryNetwork struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"factory_network"`

	Audit AuditConfig `yaml:"audit"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Stats struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"stats"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Address) != ""
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Interval returns the time between backups, one day by default.
func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

type AttendanceConfig struct {
	Timezone         string  `yaml:"timezone"`
	ShiftStart       string  `yaml:"shift_start"` // "08:00"
	LateGraceMinutes int     `yaml:"late_grace_minutes"`
	StandardHours    float64 `yaml:"standard_hours"`
	HalfDayHours     float64 `yaml:"half_day_hours"`
	ClockOutOnBreak  string  `yaml:"clock_out_on_break"` // reject | auto_close
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Load reads the YAML config at path. An empty path falls back to
// ATTENDANCE_CONFIG_PATH and then to configs/config.yaml. A .env file next to
// the working directory is loaded first so ${VAR} placeholders resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/attendance.db"
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that accessors cannot default.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ShiftStart(); err != nil {
		return err
	}
	switch c.Attendance.ClockOutOnBreak {
	case "", "reject", "auto_close":
	default:
		return fmt.Errorf("attendance.clock_out_on_break: unknown policy %q, expected reject or auto_close", c.Attendance.ClockOutOnBreak)
	}
	if c.Attendance.HalfDayHours < 0 {
		return fmt.Errorf("attendance.half_day_hours cannot be negative")
	}
	return nil
}

func (c *Config) ServerPort() int {
	if c.Server.Port <= 0 {
		return 8080
	}
	return c.Server.Port
}

func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// Location returns the timezone that defines calendar days.
func (c *Config) Location() (*time.Location, error) {
	if c.Attendance.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return nil, fmt.Errorf("attendance.timezone: %w", err)
	}
	return loc, nil
}

// ShiftStart returns the shift start as an offset from midnight, 08:00 by default.
func (c *Config) ShiftStart() (time.Duration, error) {
	if c.Attendance.ShiftStart == "" {
		return 8 * time.Hour, nil
	}
	t, err := time.Parse("15:04", c.Attendance.ShiftStart)
	if err != nil {
		return 0, fmt.Errorf("attendance.shift_start: invalid format '%s', expected HH:MM", c.Attendance.ShiftStart)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (c *Config) LateGrace() time.Duration {
	if c.Attendance.LateGraceMinutes < 0 {
		return 0
	}
	if c.Attendance.LateGraceMinutes == 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Attendance.LateGraceMinutes) * time.Minute
}

func (c *Config) StandardHours() float64 {
	if c.Attendance.StandardHours <= 0 {
		return 8
	}
	return c.Attendance.StandardHours
}

func (c *Config) StatsCacheTTL() time.Duration {
	if c.Stats.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Stats.CacheTTLSeconds) * time.Second
}

func (c *Config) FactoryNetworkWatchInterval() time.Duration {
	if c.FactoryNetwork.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.FactoryNetwork.WatchIntervalSeconds) * time.Second
}

func (c *Config) AuditDir() string {
	if c.Audit.Dir == "" {
		return "data/audit"
	}
	return c.Audit.Dir
}
