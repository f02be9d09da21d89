// Package planner decides which window of appointments the engine computes.
package planner

import (
	"time"

	appLog "clockcal/internal/log"
	"clockcal/internal/loop"
	"clockcal/internal/metrics"
	"clockcal/internal/model"
	"clockcal/internal/property"
)

// DefaultRebuildDelay absorbs a burst of range edits into one engine call
// while still feeling immediate to the user.
const DefaultRebuildDelay = 200 * time.Millisecond

// Engine computes appointments for a range and publishes them.
type Engine interface {
	Appointments() *property.Property[[]model.Appointment]
	SetRange(start, end time.Time)
}

// Planner exposes the appointments a view should show.
type Planner interface {
	Appointments() *property.Property[[]model.Appointment]
}

// Options tunes a RangePlanner.
type Options struct {
	// Delay is the coalescing window. Zero means DefaultRebuildDelay.
	Delay time.Duration
	// Now supplies the initial (now, now) range. Defaults to time.Now.
	Now func() time.Time
}

// RangePlanner forwards its range property to an Engine, at most once per
// quiet period.
//
// All methods, and the range observers, must run on the goroutine that
// dispatches the scheduler's timers.
type RangePlanner struct {
	engine   Engine
	timezone *property.Property[string]
	sched    loop.Scheduler
	delay    time.Duration

	rng     *property.Property[model.DateRange]
	conn    *property.Connection
	rebuild loop.Timer
}

// NewRangePlanner creates a planner whose range starts as the zero-width
// window (now, now). The engine is not called until the range changes.
func NewRangePlanner(engine Engine, timezone *property.Property[string], sched loop.Scheduler, opts Options) *RangePlanner {
	if opts.Delay <= 0 {
		opts.Delay = DefaultRebuildDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	now := opts.Now()
	p := &RangePlanner{
		engine:   engine,
		timezone: timezone,
		sched:    sched,
		delay:    opts.Delay,
		rng: property.NewWithEqual(model.DateRange{Start: now, End: now}, func(a, b model.DateRange) bool {
			return a.Equal(b)
		}),
	}
	p.conn = p.rng.Connect(func(model.DateRange) {
		appLog.Debug("rebuilding because the date range changed")
		p.rebuildSoon()
	})
	return p
}

// Appointments forwards to the engine's property.
func (p *RangePlanner) Appointments() *property.Property[[]model.Appointment] {
	return p.engine.Appointments()
}

// Range is the window to plan for. Setting it schedules a rebuild.
func (p *RangePlanner) Range() *property.Property[model.DateRange] {
	return p.rng
}

// Timezone is the zone the planner was built with; it does not trigger
// rebuilds by itself.
func (p *RangePlanner) Timezone() *property.Property[string] {
	return p.timezone
}

// Pending reports whether a rebuild is armed.
func (p *RangePlanner) Pending() bool {
	return p.rebuild != nil
}

func (p *RangePlanner) rebuildSoon() {
	if p.rebuild != nil {
		return
	}
	p.rebuild = p.sched.AfterFunc(p.delay, p.rebuildNow)
}

// rebuildNow clears the pending marker before calling the engine so a range
// change made from inside SetRange arms a fresh timer.
func (p *RangePlanner) rebuildNow() {
	p.rebuild = nil

	r := p.rng.Get()
	metrics.RangeRebuilds.Inc()
	p.engine.SetRange(r.Start, r.End)
}

// Close stops observing the range and disarms a pending rebuild. The engine
// is not called after Close returns.
func (p *RangePlanner) Close() {
	p.conn.Disconnect()
	if p.rebuild != nil {
		p.rebuild.Stop()
		p.rebuild = nil
	}
}

// DayRange covers whole days: from local midnight of now's day to midnight
// horizonDays later. A horizon below one day is treated as one day.
func DayRange(now time.Time, horizonDays int, loc *time.Location) model.DateRange {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays < 1 {
		horizonDays = 1
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return model.DateRange{Start: start, End: start.AddDate(0, 0, horizonDays)}
}
