// Package property provides a typed value cell that notifies observers
// synchronously whenever the value is replaced.
package property

import "sync"

// Property holds a value of type T and a list of observers.
//
// Observers are called in registration order on the goroutine that calls
// Set, before Set returns. The property does not own its observers: each
// registration returns a Connection that the observer's owner disconnects
// when it is torn down.
type Property[T any] struct {
	mu        sync.RWMutex
	value     T
	equal     func(a, b T) bool
	nextID    uint64
	observers []observer[T]
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// New returns a property that notifies on every Set.
func New[T any](initial T) *Property[T] {
	return &Property[T]{value: initial}
}

// NewComparable returns a property that ignores Set calls with a value
// equal (==) to the current one.
func NewComparable[T comparable](initial T) *Property[T] {
	return NewWithEqual(initial, func(a, b T) bool { return a == b })
}

// NewWithEqual returns a property that ignores Set calls for which
// equal(current, next) reports true.
func NewWithEqual[T any](initial T, equal func(a, b T) bool) *Property[T] {
	return &Property[T]{value: initial, equal: equal}
}

// Get returns the current value.
func (p *Property[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set replaces the value and notifies observers.
func (p *Property[T]) Set(v T) {
	p.mu.Lock()
	if p.equal != nil && p.equal(p.value, v) {
		p.mu.Unlock()
		return
	}
	p.value = v
	snapshot := make([]observer[T], len(p.observers))
	copy(snapshot, p.observers)
	p.mu.Unlock()

	for _, o := range snapshot {
		o.fn(v)
	}
}

// Connect registers fn to be called with every new value.
func (p *Property[T]) Connect(fn func(T)) *Connection {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.observers = append(p.observers, observer[T]{id: id, fn: fn})
	p.mu.Unlock()

	return &Connection{disconnect: func() { p.remove(id) }}
}

func (p *Property[T]) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.observers {
		if o.id == id {
			p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
			return
		}
	}
}

// Connection is the registration of one observer.
type Connection struct {
	once       sync.Once
	disconnect func()
}

// Disconnect removes the observer. Calling it more than once, or on a nil
// Connection, is a no-op.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(c.disconnect)
}
