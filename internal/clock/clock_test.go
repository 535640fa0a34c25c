package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 5, 9, 15, 0, 0, time.UTC)
	m := NewManual(start)

	ch := m.After(30 * time.Second)
	require.Equal(t, 1, m.Waiters())

	m.Advance(29 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	m.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(30*time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, m.Waiters())
}

func TestManual_SetAndZeroDuration(t *testing.T) {
	m := NewManual(time.Date(2026, 3, 5, 9, 15, 0, 0, time.UTC))
	ch := m.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero duration timer should fire immediately")
	}

	later := time.Date(2026, 3, 5, 15, 15, 0, 0, time.UTC)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}
