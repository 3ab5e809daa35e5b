package api

import (
	"context"
	"net/http"
	"strconv"

	"factoryops/internal/attendance"
	"factoryops/internal/device"
	"factoryops/internal/metrics"
	"factoryops/internal/models"
)

// LocationPayload is the position reported by the client.
type LocationPayload struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Address   string  `json:"address,omitempty" validate:"max=512"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
}

// DevicePayload is the device snapshot reported by the client. Any
// isFactoryDevice flag sent by the client is ignored.
type DevicePayload struct {
	UserAgent        string `json:"userAgent" validate:"max=1024"`
	Platform         string `json:"platform,omitempty" validate:"max=128"`
	ScreenResolution string `json:"screenResolution,omitempty" validate:"max=32"`
	Fingerprint      string `json:"fingerprint,omitempty" validate:"max=128"`
}

// ClockRequest is the body of every clock transition.
type ClockRequest struct {
	EmployeeID int64            `json:"employeeId" validate:"gte=0"`
	PIN        string           `json:"pin,omitempty" validate:"max=64"`
	Location   *LocationPayload `json:"location"`
	DeviceInfo DevicePayload    `json:"deviceInfo"`
}

// TransitionResponse is returned by clock transitions.
type TransitionResponse struct {
	Success       bool                     `json:"success"`
	Message       string                   `json:"message"`
	Record        *models.AttendanceRecord `json:"record"`
	HoursWorked   *float64                 `json:"hoursWorked,omitempty"`
	BreakDuration *int64                   `json:"breakDuration,omitempty"`
}

// StatusResponse is the live state of one employee.
type StatusResponse struct {
	Success bool `json:"success"`
	*attendance.LiveStatus
}

// handleClockIn opens today's session.
// POST /attendance/clock-in
func (s *HTTPServer) handleClockIn(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("clock_in")
	req, ok := s.bindClock(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Tracker.ClockIn(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransitionResponse{
		Success: true,
		Message: "Clocked in successfully",
		Record:  rec,
	})
}

// handleStartBreak puts the open session on break.
// POST /attendance/start-break
func (s *HTTPServer) handleStartBreak(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("start_break")
	req, ok := s.bindClock(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Tracker.StartBreak(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Success: true,
		Message: "Break started",
		Record:  rec,
	})
}

// handleEndBreak closes the current break.
// POST /attendance/end-break
func (s *HTTPServer) handleEndBreak(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("end_break")
	req, ok := s.bindClock(w, r)
	if !ok {
		return
	}
	rec, duration, err := s.deps.Tracker.EndBreak(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Success:       true,
		Message:       "Break ended",
		Record:        rec,
		BreakDuration: &duration,
	})
}

// handleClockOut closes today's session.
// POST /attendance/clock-out
func (s *HTTPServer) handleClockOut(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("clock_out")
	req, ok := s.bindClock(w, r)
	if !ok {
		return
	}
	rec, err := s.deps.Tracker.ClockOut(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Success:     true,
		Message:     "Clocked out successfully",
		Record:      rec,
		HoursWorked: rec.HoursWorked,
	})
}

// handleStatus returns the live session state. When role is given the
// caller must be allowed to see the employee.
// GET /attendance/status/{employeeId}?role=&userId=
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	id, err := strconv.ParseInt(r.PathValue("employeeId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, attendance.ErrEmployeeRequired.Code, "employeeId must be a positive integer")
		return
	}

	if role := r.URL.Query().Get("role"); role != "" {
		callerID, err := queryInt(r, "userId")
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		scope, err := s.deps.Access.Resolve(r.Context(), role, callerID)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		if err := s.deps.Access.CheckEmployee(r.Context(), scope, id); err != nil {
			s.writeFailure(w, err)
			return
		}
	}

	st, err := s.deps.Tracker.Status(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, LiveStatus: st})
}

// bindClock decodes a transition body and builds the request the state
// machine sees, with the factory flag decided from the connection.
func (s *HTTPServer) bindClock(w http.ResponseWriter, r *http.Request) (attendance.Request, bool) {
	var body ClockRequest
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, formatBindingError(err))
		return attendance.Request{}, false
	}

	req := attendance.Request{
		EmployeeID: body.EmployeeID,
		PIN:        body.PIN,
	}
	if body.Location != nil {
		req.Location = &models.Location{
			Latitude:  body.Location.Latitude,
			Longitude: body.Location.Longitude,
			Address:   body.Location.Address,
			Accuracy:  body.Location.Accuracy,
		}
	}
	reported := models.DeviceInfo{
		UserAgent:        body.DeviceInfo.UserAgent,
		Platform:         body.DeviceInfo.Platform,
		ScreenResolution: body.DeviceInfo.ScreenResolution,
		Fingerprint:      body.DeviceInfo.Fingerprint,
	}
	req.Device = device.Snapshot(reported, r.UserAgent(), s.isFactory(r.Context(), r.RemoteAddr))
	return req, true
}

func (s *HTTPServer) isFactory(ctx context.Context, remoteAddr string) bool {
	if s.deps.Classifier == nil {
		return false
	}
	return s.deps.Classifier.IsFactory(ctx, remoteAddr)
}
