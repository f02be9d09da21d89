package watcher

import "time"

// debouncer keeps at most one pending flush per path. Callers hold the
// watcher mutex.
type debouncer struct {
	duration time.Duration
	timers   map[string]*time.Timer
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		timers:   make(map[string]*time.Timer),
	}
}

// schedule arms or re-arms the flush for path. It reports whether an earlier
// event was folded into the pending one.
func (d *debouncer) schedule(path string, flush func(string)) bool {
	if d == nil {
		return false
	}
	if t, ok := d.timers[path]; ok {
		t.Reset(d.duration)
		return true
	}
	d.timers[path] = time.AfterFunc(d.duration, func() { flush(path) })
	return false
}

func (d *debouncer) pop(path string) {
	if d == nil {
		return
	}
	delete(d.timers, path)
}

func (d *debouncer) stop() {
	if d == nil {
		return
	}
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}
