package property

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNotifiesInRegistrationOrder(t *testing.T) {
	p := New(0)

	var calls []string
	p.Connect(func(v int) { calls = append(calls, "first") })
	p.Connect(func(v int) { calls = append(calls, "second") })

	p.Set(1)

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 1, p.Get())
}

func TestObserverSeesNewValueBeforeSetReturns(t *testing.T) {
	p := New("a")

	var seen, got string
	p.Connect(func(v string) {
		seen = v
		got = p.Get()
	})

	p.Set("b")

	assert.Equal(t, "b", seen)
	assert.Equal(t, "b", got)
}

func TestNewNotifiesOnIdenticalValue(t *testing.T) {
	p := New("x")
	count := 0
	p.Connect(func(string) { count++ })

	p.Set("x")
	p.Set("x")

	assert.Equal(t, 2, count)
}

func TestNewComparableSuppressesIdenticalValue(t *testing.T) {
	p := NewComparable("Europe/London")
	var values []string
	p.Connect(func(v string) { values = append(values, v) })

	p.Set("Europe/London")
	p.Set("America/New_York")
	p.Set("America/New_York")

	assert.Equal(t, []string{"America/New_York"}, values)
}

func TestNewWithEqual(t *testing.T) {
	p := NewWithEqual([]int{1, 2}, func(a, b []int) bool { return len(a) == len(b) })
	count := 0
	p.Connect(func([]int) { count++ })

	p.Set([]int{3, 4})
	assert.Equal(t, 0, count)
	assert.Equal(t, []int{1, 2}, p.Get())

	p.Set([]int{3})
	assert.Equal(t, 1, count)
}

func TestDisconnect(t *testing.T) {
	p := New(0)

	count := 0
	conn := p.Connect(func(int) { count++ })
	other := 0
	p.Connect(func(int) { other++ })

	p.Set(1)
	conn.Disconnect()
	conn.Disconnect()
	p.Set(2)

	assert.Equal(t, 1, count)
	assert.Equal(t, 2, other)
}

func TestDisconnectDuringNotification(t *testing.T) {
	p := New(0)

	var conn *Connection
	count := 0
	conn = p.Connect(func(int) {
		count++
		conn.Disconnect()
	})

	p.Set(1)
	p.Set(2)

	assert.Equal(t, 1, count)
}

func TestNilConnectionDisconnect(t *testing.T) {
	var conn *Connection
	require.NotPanics(t, conn.Disconnect)
}
