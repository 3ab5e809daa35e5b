package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"factoryops/internal/access"
	"factoryops/internal/export"
	"factoryops/internal/metrics"
	"factoryops/internal/models"
	"factoryops/internal/stats"
)

const (
	codeInvalidRequest = "InvalidRequest"
	codeRoleRequired   = "RoleRequired"
)

// RecordsResponse is the scoped record listing with its summary.
type RecordsResponse struct {
	Success bool                  `json:"success"`
	Records []models.RecordView   `json:"records"`
	Stats   stats.AttendanceStats `json:"stats"`
}

// AnalyticsResponse carries the dashboard views.
type AnalyticsResponse struct {
	Success bool `json:"success"`
	stats.Analytics
}

// handleRecords lists records visible to the caller.
// GET /attendance/records?role&userId&dateRange&employeeId&status&search
func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("records")
	scope, ok := s.resolveScope(w, r)
	if !ok {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	views, err := s.deps.Reporter.ListRecords(r.Context(), scope, q)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if views == nil {
		views = []models.RecordView{}
	}
	writeJSON(w, http.StatusOK, RecordsResponse{
		Success: true,
		Records: views,
		Stats:   s.deps.Reporter.ComputeStats(r.Context(), scope, q.Range),
	})
}

// handleAnalytics returns trends, device, location and break views.
// GET /attendance/analytics?role&userId&dateRange
func (s *HTTPServer) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("analytics")
	scope, ok := s.resolveScope(w, r)
	if !ok {
		return
	}
	rng, err := stats.ParseDateRange(r.URL.Query().Get("dateRange"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AnalyticsResponse{
		Success:   true,
		Analytics: s.deps.Reporter.Analytics(r.Context(), scope, rng),
	})
}

// handleExport streams the visible records as a file.
// GET /attendance/export?role&userId&format&dateRange
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	scope, ok := s.resolveScope(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	views, err := s.deps.Reporter.ListRecords(r.Context(), scope, q)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Exporter.Write(&buf, format, views); err != nil {
		s.logger.Error().Err(err).Str("format", string(format)).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "ExportFailed", "failed to build export")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(s.now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// resolveScope reads role and userId and resolves the caller's scope,
// writing the error response itself on failure.
func (s *HTTPServer) resolveScope(w http.ResponseWriter, r *http.Request) (access.Scope, bool) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		writeError(w, http.StatusBadRequest, codeRoleRequired, "role is required")
		return access.Scope{}, false
	}
	callerID, err := queryInt(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return access.Scope{}, false
	}
	scope, err := s.deps.Access.Resolve(r.Context(), role, callerID)
	if err != nil {
		s.writeFailure(w, err)
		return access.Scope{}, false
	}
	return scope, true
}

func parseQuery(r *http.Request) (stats.Query, error) {
	values := r.URL.Query()
	rng, err := stats.ParseDateRange(values.Get("dateRange"))
	if err != nil {
		return stats.Query{}, err
	}
	employeeID, err := queryInt(r, "employeeId")
	if err != nil {
		return stats.Query{}, err
	}
	q := stats.Query{
		Range:      rng,
		EmployeeID: employeeID,
		Search:     strings.TrimSpace(values.Get("search")),
	}
	if raw := values.Get("status"); raw != "" && raw != "all" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return stats.Query{}, err
		}
		q.Status = st
	}
	return q, nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}
