package model

import "time"

// Appointment is a single concrete calendar instance after recurrence
// expansion, normalized into the display timezone.
type Appointment struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies one occurrence of a recurring event,
	// derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Equal reports whether two appointments describe the same instance with the
// same content. Times are compared as instants.
func (a Appointment) Equal(b Appointment) bool {
	return a.SourceID == b.SourceID &&
		a.UID == b.UID &&
		a.InstanceKey == b.InstanceKey &&
		a.Summary == b.Summary &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		a.AllDay == b.AllDay &&
		a.Start.Equal(b.Start) &&
		a.End.Equal(b.End)
}

// DateRange is the window of time the planner asks the engine to cover.
// Start after End is allowed; the engine decides what that means.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Equal compares both bounds as instants.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}
