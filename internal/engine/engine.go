// Package engine computes the appointments shown for a date range from a set
// of calendar sources.
package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clockcal/internal/ics"
	"clockcal/internal/log"
	"clockcal/internal/loop"
	"clockcal/internal/metrics"
	"clockcal/internal/model"
	"clockcal/internal/property"
	"clockcal/internal/timezone"
)

// Fetcher retrieves raw calendar payloads.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, error)
}

// ICSEngine expands ICS events into appointments for the requested range.
//
// SetRange, the timezone observer and Close run on the loop. Refresh may run
// anywhere; it swaps the event set under a mutex and posts the re-expansion
// to the loop.
type ICSEngine struct {
	appointments *property.Property[[]model.Appointment]
	timezone     *property.Property[string]
	tzConn       *property.Connection
	fetcher      Fetcher
	sources      []ics.Source
	post         loop.Poster
	maxPerEvent  int
	log          zerolog.Logger

	mu     sync.RWMutex
	events []ics.ParsedEvent

	// loop-owned
	rng      model.DateRange
	hasRange bool
}

// Options configures an ICSEngine.
type Options struct {
	Sources []ics.Source
	Fetcher Fetcher
	// Post schedules work on the loop. Required when Refresh is used.
	Post loop.Poster
	// MaxOccurrencesPerEvent caps recurrence expansion; zero uses the ics default.
	MaxOccurrencesPerEvent int
}

// New creates an engine with no events loaded. tz drives the display
// location of published appointments.
func New(tz *property.Property[string], opts Options) *ICSEngine {
	e := &ICSEngine{
		appointments: property.NewWithEqual[[]model.Appointment](nil, func(a, b []model.Appointment) bool {
			return slices.EqualFunc(a, b, model.Appointment.Equal)
		}),
		timezone:    tz,
		fetcher:     opts.Fetcher,
		sources:     opts.Sources,
		post:        opts.Post,
		maxPerEvent: opts.MaxOccurrencesPerEvent,
		log:         log.Component("engine"),
	}
	if tz != nil {
		e.tzConn = tz.Connect(func(name string) {
			e.log.Debug().Str("timezone", name).Msg("timezone changed; re-expanding")
			e.expand()
		})
	}
	return e
}

func (e *ICSEngine) Appointments() *property.Property[[]model.Appointment] {
	return e.appointments
}

// SetRange records the range and publishes its appointments. An inverted
// range is treated as the same window with its bounds swapped.
func (e *ICSEngine) SetRange(start, end time.Time) {
	if end.Before(start) {
		start, end = end, start
	}
	e.rng = model.DateRange{Start: start, End: end}
	e.hasRange = true
	e.expand()
}

// Range returns the last range passed to SetRange.
func (e *ICSEngine) Range() (model.DateRange, bool) {
	return e.rng, e.hasRange
}

// SetEvents replaces the parsed event set and re-expands on the loop.
func (e *ICSEngine) SetEvents(events []ics.ParsedEvent) {
	e.mu.Lock()
	e.events = events
	e.mu.Unlock()

	if e.post == nil {
		e.expand()
		return
	}
	e.post.Post(e.expand)
}

// Refresh fetches and parses every source. Sources that fail are logged and
// skipped; if all of them fail the previous events are kept.
func (e *ICSEngine) Refresh(ctx context.Context) error {
	if e.fetcher == nil || len(e.sources) == 0 {
		return nil
	}

	results, fetchErr := e.fetcher.FetchAll(ctx, e.sources)
	if fetchErr != nil {
		metrics.CalendarRefreshes.WithLabelValues("error").Inc()
		e.log.Warn().Err(fetchErr).Msg("one or more calendar sources failed")
		if len(results) == 0 {
			return fetchErr
		}
	}

	parsed := make([]ics.ParsedEvent, 0)
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			e.log.Warn().Err(err).Str("id", res.Source.ID).Msg("calendar parse failed")
			continue
		}
		parsed = append(parsed, events...)
	}

	if fetchErr == nil {
		metrics.CalendarRefreshes.WithLabelValues("ok").Inc()
	}
	e.log.Info().Int("sources", len(results)).Int("events", len(parsed)).Msg("calendar refresh completed")
	e.SetEvents(parsed)
	return fetchErr
}

// Close stops following the timezone.
func (e *ICSEngine) Close() {
	e.tzConn.Disconnect()
}

func (e *ICSEngine) expand() {
	if !e.hasRange {
		return
	}

	e.mu.RLock()
	events := e.events
	e.mu.RUnlock()

	var name string
	if e.timezone != nil {
		name = e.timezone.Get()
	}

	res, err := ics.ExpandAppointments(events, ics.ExpandConfig{
		DisplayLocation:        timezone.Location(name),
		RangeStart:             e.rng.Start,
		RangeEnd:               e.rng.End,
		MaxOccurrencesPerEvent: e.maxPerEvent,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("expand failed; keeping previous appointments")
		return
	}

	metrics.Appointments.Set(float64(len(res.Appointments)))
	e.log.Debug().
		Time("start", e.rng.Start).
		Time("end", e.rng.End).
		Int("appointments", len(res.Appointments)).
		Msg("appointments rebuilt")
	e.appointments.Set(res.Appointments)
}
