package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticked early")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-ticker.C:
		assert.Equal(t, epoch.Add(3*time.Second), at)
	default:
		t.Fatal("expected a tick")
	}

	ticker.Stop()
	assert.Equal(t, 0, c.PendingCount())
	c.Advance(10 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeTicker_DropsWhenFull(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)

	assert.Len(t, ticker.C, 1)
	assert.Equal(t, 1, c.PendingCount())
}

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)

	immediate := c.After(0)
	require.Len(t, immediate, 1)

	done := make(chan time.Time)
	go func() { done <- <-c.After(time.Minute) }()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case at := <-done:
		assert.Equal(t, epoch.Add(time.Minute), at)
	case <-time.After(time.Second):
		t.Fatal("After did not fire")
	}
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
}
