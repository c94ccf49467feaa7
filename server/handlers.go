package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"photowatch/geo"
	"photowatch/pkg/photowatch"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if s.degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"session_id": s.scheduler.Session().ID,
	}, s.logger)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")
	res := s.scheduler.Trigger(r.Context())
	writeJSON(w, statusCode(res.Status), res, s.logger)
}

type registerRequest struct {
	Location *photowatch.GeoReading `json:"location,omitempty"`
	URL      string                 `json:"photo_url"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "photo_url is required")
		return
	}

	loc := req.Location
	if loc != nil {
		if err := geo.Validate(loc); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if s.locator != nil {
		// Best effort: a registration without coordinates is still recorded.
		l, err := s.locator.Locate(r.Context())
		if err != nil {
			s.logger.Info("No location for registration", "error", err)
		} else {
			loc = l
		}
	}

	res := s.scheduler.Register(r.Context(), req.URL, loc)
	writeJSON(w, statusCode(res.Status), res, s.logger)
}

const (
	sessionCookie = "photowatch_session"
	sessionHeader = "X-Session-ID"
)

// visitorSession returns the caller's session ID from its cookie or header.
// A caller without a usable ID gets a fresh one in a cookie.
func (s *Server) visitorSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && validSessionID(c.Value) {
		return c.Value
	}
	if id := r.Header.Get(sessionHeader); validSessionID(id) {
		return id
	}
	id := photowatch.NewSession().ID
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func validSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// handleAccess records the visitor session's access event from a browser geolocation payload.
// A denied or empty payload is recorded with null coordinates.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reading, err := geo.ParseBrowserPayload(payload)
	switch {
	case errors.Is(err, geo.ErrLocationDenied), errors.Is(err, geo.ErrNoLocation):
		s.logger.Info("Browser location unavailable", "reason", err)
		reading = nil
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := s.visitorSession(w, r)
	wrote, err := s.scheduler.LogAccess(r.Context(), sessionID, reading)
	if err != nil {
		s.logger.Error("Access logging failed", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "could not record access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded":     wrote,
		"session_id":   sessionID,
		"has_location": reading != nil,
	}, s.logger)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	obs, err := s.history.Latest(r.Context())
	if err != nil {
		s.logger.Error("Failed to load latest observation", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if obs == nil {
		s.writeError(w, http.StatusNotFound, "no observations recorded")
		return
	}
	writeJSON(w, http.StatusOK, obs, s.logger)
}

// handleHistory lists observations, newest first unless order=asc.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.history.History(r.Context())
	if err != nil {
		s.logger.Error("Failed to load history", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if r.URL.Query().Get("order") != "asc" {
		slices.Reverse(list)
	}
	if list == nil {
		list = []*photowatch.Observation{}
	}
	writeJSON(w, http.StatusOK, list, s.logger)
}

// handleAccessList lists access events, oldest first unless order=desc.
func (s *Server) handleAccessList(w http.ResponseWriter, r *http.Request) {
	events, err := s.history.AccessEvents(r.Context(), r.URL.Query().Get("order") != "desc")
	if err != nil {
		s.logger.Error("Failed to load access events", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if events == nil {
		events = []*photowatch.AccessEvent{}
	}
	writeJSON(w, http.StatusOK, events, s.logger)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	attempts, err := s.history.Attempts(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load check attempts", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if attempts == nil {
		attempts = []*photowatch.CheckAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts, s.logger)
}
