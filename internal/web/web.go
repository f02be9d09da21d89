package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"clockcal/internal/config"
	appLog "clockcal/internal/log"
	"clockcal/internal/metrics"
	"clockcal/internal/model"
	"clockcal/internal/planner"
	"clockcal/internal/timezone"
)

// Caller runs a function on the loop that owns the reactive state.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// Server provides the HTTP API over the planner and timezone source.
type Server struct {
	cfg     *config.Config
	loop    Caller
	planner *planner.RangePlanner
	tz      timezone.Timezone
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loop Caller, p *planner.RangePlanner, tz timezone.Timezone) *Server {
	s := &Server{
		cfg:     cfg,
		loop:    loop,
		planner: p,
		tz:      tz,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured with both
// a username and a password.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="clockcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully. An empty Listen disables the API; StartServer then
// only waits for ctx.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	if cfg.Listen == "" {
		appLog.Info("HTTP API disabled; listen address is empty")
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/appointments", s.handleAppointments)
	s.mux.HandleFunc("GET /api/range", s.handleGetRange)
	s.mux.HandleFunc("PUT /api/range", s.handlePutRange)
	s.mux.HandleFunc("GET /api/timezone", s.handleTimezone)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// appointmentDTO is a JSON-friendly view of an appointment.
type appointmentDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type rangeDTO struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Pending bool      `json:"pending"`
}

type appointmentsResponse struct {
	Appointments []appointmentDTO `json:"appointments"`
	Range        rangeDTO         `json:"range"`
	Timezone     string           `json:"timezone"`
}

type timezoneResponse struct {
	Timezone string `json:"timezone"`
	File     string `json:"file,omitempty"`
}

// snapshot reads loop-owned state on the loop.
func (s *Server) snapshot(ctx context.Context) (appts []model.Appointment, r rangeDTO, tz string, err error) {
	err = s.loop.Call(ctx, func() {
		appts = s.planner.Appointments().Get()
		cur := s.planner.Range().Get()
		r = rangeDTO{Start: cur.Start, End: cur.End, Pending: s.planner.Pending()}
		tz = s.tz.Timezone().Get()
	})
	return appts, r, tz, err
}

func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	appts, rng, tz, err := s.snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}

	dtos := make([]appointmentDTO, 0, len(appts))
	for _, a := range appts {
		dtos = append(dtos, appointmentDTO{
			SourceID:    a.SourceID,
			UID:         a.UID,
			InstanceKey: a.InstanceKey,
			Summary:     a.Summary,
			Description: a.Description,
			Location:    a.Location,
			AllDay:      a.AllDay,
			Start:       a.Start,
			End:         a.End,
		})
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: dtos, Range: rng, Timezone: tz})
}

func (s *Server) handleGetRange(w http.ResponseWriter, r *http.Request) {
	_, rng, _, err := s.snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, rng)
}

type rangeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// handlePutRange replaces the planner range. The engine sees it after the
// rebuild delay, so the response is 202.
//
// PUT /api/range            body: {"start": RFC3339, "end": RFC3339}
// PUT /api/range?days=N     whole days from today in the current timezone
func (s *Server) handlePutRange(w http.ResponseWriter, r *http.Request) {
	var (
		next  model.DateRange
		byDay bool
		days  int
	)

	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		byDay, days = true, n
	} else {
		var req rangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid range body")
			return
		}
		if req.Start.IsZero() || req.End.IsZero() {
			writeError(w, http.StatusBadRequest, "start and end are required")
			return
		}
		next = model.DateRange{Start: req.Start, End: req.End}
	}

	var pending bool
	err := s.loop.Call(r.Context(), func() {
		if byDay {
			next = planner.DayRange(s.now(), days, timezone.Location(s.tz.Timezone().Get()))
		}
		s.planner.Range().Set(next)
		pending = s.planner.Pending()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}

	appLog.Info("api range set", "start", next.Start.Format(time.RFC3339), "end", next.End.Format(time.RFC3339))
	writeJSON(w, http.StatusAccepted, rangeDTO{Start: next.Start, End: next.End, Pending: pending})
}

func (s *Server) handleTimezone(w http.ResponseWriter, r *http.Request) {
	var resp timezoneResponse
	err := s.loop.Call(r.Context(), func() {
		resp.Timezone = s.tz.Timezone().Get()
		if f, ok := s.tz.(interface{ Filename() string }); ok {
			resp.File = f.Filename()
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
