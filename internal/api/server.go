// Package api exposes the attendance engine over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"factoryops/internal/access"
	"factoryops/internal/attendance"
	"factoryops/internal/clock"
	"factoryops/internal/device"
	"factoryops/internal/export"
	"factoryops/internal/models"
	"factoryops/internal/stats"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// Tracker applies clock transitions.
type Tracker interface {
	ClockIn(ctx context.Context, req attendance.Request) (*models.AttendanceRecord, error)
	StartBreak(ctx context.Context, req attendance.Request) (*models.AttendanceRecord, error)
	EndBreak(ctx context.Context, req attendance.Request) (*models.AttendanceRecord, int64, error)
	ClockOut(ctx context.Context, req attendance.Request) (*models.AttendanceRecord, error)
	Status(ctx context.Context, employeeID int64) (*attendance.LiveStatus, error)
}

// ScopeResolver turns a caller claim into an access scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, role string, callerID int64) (access.Scope, error)
	CheckEmployee(ctx context.Context, scope access.Scope, employeeID int64) error
}

// Reporter serves scoped listings and aggregates.
type Reporter interface {
	ListRecords(ctx context.Context, scope access.Scope, q stats.Query) ([]models.RecordView, error)
	ComputeStats(ctx context.Context, scope access.Scope, r stats.DateRange) stats.AttendanceStats
	Analytics(ctx context.Context, scope access.Scope, r stats.DateRange) stats.Analytics
}

// Config holds the listener and request guard settings.
type Config struct {
	Port              int
	APIKey            string
	RequestsPerSecond float64
	Burst             int
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Tracker    Tracker
	Access     ScopeResolver
	Reporter   Reporter
	Exporter   *export.Exporter
	Classifier *device.Classifier // nil treats every client as off-site
	Clock      clock.Clock
}

// HTTPServer serves the attendance API.
type HTTPServer struct {
	cfg      Config
	deps     Deps
	server   *http.Server
	limiters *clientLimiters
	logger   zerolog.Logger
}

// NewHTTPServer wires routes and middleware.
func NewHTTPServer(cfg Config, deps Deps, logger zerolog.Logger) *HTTPServer {
	if deps.Exporter == nil {
		deps.Exporter = export.NewExporter(time.Local)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	s := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiters = newClientLimiters(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /attendance/clock-in", s.handleClockIn)
	mux.HandleFunc("POST /attendance/clock-out", s.handleClockOut)
	mux.HandleFunc("POST /attendance/start-break", s.handleStartBreak)
	mux.HandleFunc("POST /attendance/end-break", s.handleEndBreak)
	mux.HandleFunc("GET /attendance/status/{employeeId}", s.handleStatus)
	mux.HandleFunc("GET /attendance/records", s.handleRecords)
	mux.HandleFunc("GET /attendance/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /attendance/export", s.handleExport)

	var handler http.Handler = mux
	handler = s.rateLimit(handler)
	handler = s.apiKey(handler)
	handler = s.requestLog(handler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) now() time.Time {
	return s.deps.Clock.Now()
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) apiKey(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	want := []byte(s.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("x-api-key"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	if s.limiters == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.get(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)

		ev := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// clientLimiters hands out one token bucket per client and forgets clients
// idle for longer than limiterIdle.
type clientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	clients  map[string]*clientLimiter
	lastScan time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 10 * time.Minute

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiters{
		limit:    limit,
		burst:    burst,
		clients:  make(map[string]*clientLimiter),
		lastScan: time.Now(),
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastScan) > limiterIdle {
		for k, cl := range c.clients {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(c.clients, k)
			}
		}
		c.lastScan = now
	}

	cl, ok := c.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg, Code: code})
}

// writeFailure maps a domain or access error onto the response.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, err error) {
	if access.IsAccessDenied(err) {
		writeError(w, http.StatusForbidden, "AccessDenied", err.Error())
		return
	}
	status := attendance.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, attendance.CodeOf(err), attendance.PublicMessage(err))
}
