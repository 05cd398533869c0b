// Package alarm rings terminal-local alerts while urgent floor events are unhandled.
//
// Each category is a ringing flag owned by the terminal. While any flag is set and
// the terminal is not muted a single loop plays the sound immediately and then on
// every interval. The loop is rebuilt whenever a flag or the mute setting changes.
package alarm

import (
	"context"
	"sync"
	"time"

	"floor-sync/internal/clock"

	"go.uber.org/zap"
)

// Category is a kind of urgent event
type Category string

const (
	NewOrder   Category = "new_order"
	OrderReady Category = "order_ready"
	WaiterCall Category = "waiter_call"
)

// priority orders categories for the sound played when several ring at once
var priority = []Category{WaiterCall, OrderReady, NewOrder}

// DefaultInterval is the repeat period of a ringing alarm
const DefaultInterval = 3 * time.Second

// Player produces the alert sound
type Player interface {
	Play(ctx context.Context, category Category) error
}

// Alarm owns the ringing flags and the shared playback loop of one terminal
type Alarm struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	player   Player
	prefs    *PreferenceFile
	logger   *zap.Logger

	ringing map[Category]bool
	muted   bool

	stop context.CancelFunc
	done chan struct{}
}

// New creates an alarm with the persisted mute preference applied. An unreadable
// preference file is logged and the default (sound on) is used.
func New(clk clock.Clock, interval time.Duration, player Player, prefs *PreferenceFile, logger *zap.Logger) *Alarm {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if prefs == nil {
		prefs = NewPreferenceFile("")
	}

	a := &Alarm{
		clock:    clk,
		interval: interval,
		player:   player,
		prefs:    prefs,
		logger:   logger,
		ringing:  make(map[Category]bool),
	}

	p, err := prefs.Load()
	if err != nil {
		logger.Warn("Failed to load alarm preferences, using defaults", zap.Error(err))
	}
	a.muted = p.Muted
	return a
}

// Set raises or clears a category. Nothing happens when the flag is unchanged.
func (a *Alarm) Set(category Category, on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ringing[category] == on {
		return
	}
	if on {
		a.ringing[category] = true
	} else {
		delete(a.ringing, category)
	}
	a.restartLocked()
}

// SetMuted changes and persists the mute preference
func (a *Alarm) SetMuted(muted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.muted == muted {
		return nil
	}
	a.muted = muted
	a.restartLocked()

	return a.prefs.Save(Preferences{Muted: muted})
}

// Muted reports the current mute preference
func (a *Alarm) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// Ringing returns the raised categories in priority order
func (a *Alarm) Ringing() []Category {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Category
	for _, c := range priority {
		if a.ringing[c] {
			out = append(out, c)
		}
	}
	return out
}

// Playing reports whether the playback loop is running
func (a *Alarm) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Close stops playback and clears every flag
func (a *Alarm) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ringing = make(map[Category]bool)
	a.teardownLocked()
}

func (a *Alarm) restartLocked() {
	a.teardownLocked()
	if a.muted {
		return
	}

	var loud Category
	for _, c := range priority {
		if a.ringing[c] {
			loud = c
			break
		}
	}
	if loud == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	a.done = make(chan struct{})
	go a.loop(ctx, loud, a.done)
}

// teardownLocked stops the loop and waits for it so no stale sound follows a change
func (a *Alarm) teardownLocked() {
	if a.stop == nil {
		return
	}
	a.stop()
	<-a.done
	a.stop, a.done = nil, nil
}

func (a *Alarm) loop(ctx context.Context, category Category, done chan struct{}) {
	defer close(done)

	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	a.play(ctx, category)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.play(ctx, category)
		}
	}
}

func (a *Alarm) play(ctx context.Context, category Category) {
	if err := a.player.Play(ctx, category); err != nil && ctx.Err() == nil {
		a.logger.Warn("Alarm playback failed", zap.String("category", string(category)), zap.Error(err))
	}
}
