package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clockcal/internal/ics"
	"clockcal/internal/loop/looptest"
	"clockcal/internal/model"
	"clockcal/internal/planner"
	"clockcal/internal/property"
)

const calendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//clockcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review@example.com\r\n" +
	"SUMMARY:Review\r\n" +
	"DTSTART:20250303T150000Z\r\n" +
	"DTEND:20250303T160000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dentist@example.com\r\n" +
	"SUMMARY:Dentist\r\n" +
	"DTSTART:20250304T080000Z\r\n" +
	"DTEND:20250304T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fakeFetcher struct {
	results []ics.FetchResult
	err     error
	calls   int
}

func (f *fakeFetcher) FetchAll(context.Context, []ics.Source) ([]ics.FetchResult, error) {
	f.calls++
	return f.results, f.err
}

var src = ics.Source{ID: "work", URL: "https://example.com/work.ics"}

func parsedEvents(t *testing.T) []ics.ParsedEvent {
	t.Helper()
	events, err := ics.ParseICS(src, []byte(calendar))
	require.NoError(t, err)
	return events
}

func summaries(appts []model.Appointment) []string {
	out := make([]string, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Summary)
	}
	return out
}

func week() (time.Time, time.Time) {
	return time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func TestSetRangePublishesAppointments(t *testing.T) {
	e := New(property.NewComparable("UTC"), Options{})
	defer e.Close()
	e.SetEvents(parsedEvents(t))

	assert.Empty(t, e.Appointments().Get(), "no range yet")

	start, end := week()
	e.SetRange(start, end)

	assert.Equal(t, []string{"Review", "Dentist"}, summaries(e.Appointments().Get()))
}

func TestInvertedRangeIsSwapped(t *testing.T) {
	e := New(property.NewComparable("UTC"), Options{})
	e.SetEvents(parsedEvents(t))

	start, end := week()
	e.SetRange(end, start)

	r, ok := e.Range()
	require.True(t, ok)
	assert.Equal(t, start, r.Start)
	assert.Equal(t, end, r.End)
	assert.Len(t, e.Appointments().Get(), 2)
}

func TestTimezoneChangeReexpands(t *testing.T) {
	tz := property.NewComparable("UTC")
	e := New(tz, Options{})
	defer e.Close()
	e.SetEvents(parsedEvents(t))

	start, end := week()
	e.SetRange(start, end)
	require.Equal(t, 15, e.Appointments().Get()[0].Start.Hour())

	tz.Set("Asia/Tokyo")
	first := e.Appointments().Get()[0]
	assert.Equal(t, "Asia/Tokyo", first.Start.Location().String())
	assert.Equal(t, 0, first.Start.Hour())
}

func TestCloseStopsFollowingTimezone(t *testing.T) {
	tz := property.NewComparable("UTC")
	e := New(tz, Options{})
	e.SetEvents(parsedEvents(t))
	start, end := week()
	e.SetRange(start, end)

	e.Close()
	tz.Set("Asia/Tokyo")
	assert.Equal(t, "UTC", e.Appointments().Get()[0].Start.Location().String())
}

func TestRefresh(t *testing.T) {
	fetcher := &fakeFetcher{results: []ics.FetchResult{{Source: src, Body: []byte(calendar)}}}
	e := New(property.NewComparable("UTC"), Options{
		Sources: []ics.Source{src},
		Fetcher: fetcher,
		Post:    &looptest.Inline{},
	})
	start, end := week()
	e.SetRange(start, end)
	assert.Empty(t, e.Appointments().Get())

	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, []string{"Review", "Dentist"}, summaries(e.Appointments().Get()))
}

func TestRefreshFailureKeepsPreviousEvents(t *testing.T) {
	fetcher := &fakeFetcher{results: []ics.FetchResult{{Source: src, Body: []byte(calendar)}}}
	e := New(property.NewComparable("UTC"), Options{
		Sources: []ics.Source{src},
		Fetcher: fetcher,
		Post:    &looptest.Inline{},
	})
	start, end := week()
	e.SetRange(start, end)
	require.NoError(t, e.Refresh(context.Background()))

	fetcher.results = nil
	fetcher.err = errors.New("network down")
	require.Error(t, e.Refresh(context.Background()))

	assert.Len(t, e.Appointments().Get(), 2)
}

func TestRefreshWithoutSources(t *testing.T) {
	fetcher := &fakeFetcher{}
	e := New(nil, Options{Fetcher: fetcher})
	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, 0, fetcher.calls)
}

func TestDrivenByPlanner(t *testing.T) {
	tz := property.NewComparable("UTC")
	e := New(tz, Options{})
	e.SetEvents(parsedEvents(t))

	clock := looptest.NewClock()
	p := planner.NewRangePlanner(e, tz, clock, planner.Options{})
	defer p.Close()

	var published [][]model.Appointment
	p.Appointments().Connect(func(a []model.Appointment) { published = append(published, a) })

	start, end := week()
	p.Range().Set(model.DateRange{Start: start, End: start.Add(24 * time.Hour)})
	p.Range().Set(model.DateRange{Start: start, End: end})
	assert.Empty(t, published)

	clock.Advance(planner.DefaultRebuildDelay)
	require.Len(t, published, 1)
	assert.Equal(t, []string{"Review", "Dentist"}, summaries(published[0]))
}
