package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clockcal/internal/config"
	"clockcal/internal/loop/looptest"
	"clockcal/internal/model"
	"clockcal/internal/planner"
	"clockcal/internal/property"
	"clockcal/internal/timezone"
)

type inlineCaller struct {
	mu sync.Mutex
}

func (c *inlineCaller) Call(_ context.Context, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
	return nil
}

type stubEngine struct {
	appointments *property.Property[[]model.Appointment]
	ranges       []model.DateRange
}

func (e *stubEngine) Appointments() *property.Property[[]model.Appointment] { return e.appointments }

func (e *stubEngine) SetRange(start, end time.Time) {
	e.ranges = append(e.ranges, model.DateRange{Start: start, End: end})
}

type fixture struct {
	server *Server
	engine *stubEngine
	clock  *looptest.Clock
	tz     *timezone.StaticTimezone
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	engine := &stubEngine{appointments: property.New[[]model.Appointment](nil)}
	clock := looptest.NewClock()
	tz := timezone.NewStaticTimezone("Asia/Seoul")
	p := planner.NewRangePlanner(engine, tz.Timezone(), clock, planner.Options{})
	t.Cleanup(p.Close)

	s := NewServer(cfg, &inlineCaller{}, p, tz)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC) }
	return &fixture{server: s, engine: engine, clock: clock, tz: tz}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAppointments(t *testing.T) {
	f := newFixture(t, nil)
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	f.engine.appointments.Set([]model.Appointment{{UID: "a", Summary: "Standup", Start: start, End: start.Add(15 * time.Minute)}})

	rec := f.do(t, http.MethodGet, "/api/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp appointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Appointments, 1)
	assert.Equal(t, "Standup", resp.Appointments[0].Summary)
	assert.Equal(t, "Asia/Seoul", resp.Timezone)
	assert.False(t, resp.Range.Pending)
}

func TestPutRangeBody(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/range", `{"start":"2025-03-03T00:00:00Z","end":"2025-03-10T00:00:00Z"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp rangeDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Pending)
	assert.Empty(t, f.engine.ranges, "engine is only called after the rebuild delay")

	f.clock.Advance(planner.DefaultRebuildDelay)
	require.Len(t, f.engine.ranges, 1)
	assert.True(t, f.engine.ranges[0].Start.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestPutRangeDays(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/range?days=3", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.clock.Advance(planner.DefaultRebuildDelay)
	require.Len(t, f.engine.ranges, 1)

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	got := f.engine.ranges[0]
	assert.True(t, got.Start.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, seoul)))
	assert.True(t, got.End.Equal(time.Date(2025, 3, 5, 0, 0, 0, 0, seoul)))
}

func TestPutRangeValidation(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/range?days=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/range", "{").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/range", `{"start":"2025-03-03T00:00:00Z"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/range", "").Code)
}

func TestGetRangeAndTimezone(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/range", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/timezone", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tz timezoneResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tz))
	assert.Equal(t, "Asia/Seoul", tz.Timezone)
	assert.Empty(t, tz.File)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clockcal_range_rebuilds_total")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/timezone", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/timezone", nil)
	req.SetBasicAuth("me", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartServerDisabledWhenListenEmpty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = ""
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, cfg, f.server) }()

	select {
	case err := <-done:
		t.Fatalf("StartServer returned before cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after cancel")
	}
}
