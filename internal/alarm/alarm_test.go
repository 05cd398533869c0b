package alarm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"floor-sync/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlayer struct {
	plays chan Category
	err   error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{plays: make(chan Category, 64)}
}

func (p *fakePlayer) Play(_ context.Context, c Category) error {
	p.plays <- c
	return p.err
}

func (p *fakePlayer) next(t *testing.T) Category {
	t.Helper()
	select {
	case c := <-p.plays:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a play")
		return ""
	}
}

func (p *fakePlayer) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-p.plays:
		t.Fatalf("unexpected play of %s", c)
	case <-time.After(20 * time.Millisecond):
	}
}

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestAlarm(t *testing.T, prefs *PreferenceFile) (*Alarm, *clock.FakeClock, *fakePlayer) {
	clk := clock.Fake(epoch)
	player := newFakePlayer()
	a := New(clk, 3*time.Second, player, prefs, zap.NewNop())
	t.Cleanup(a.Close)
	return a, clk, player
}

func TestAlarm_PlaysImmediatelyThenRepeats(t *testing.T) {
	a, clk, player := newTestAlarm(t, nil)

	a.Set(WaiterCall, true)
	assert.Equal(t, WaiterCall, player.next(t))

	clk.WaitForTimers(1)
	clk.Advance(2 * time.Second)
	player.none(t)

	clk.Advance(time.Second)
	assert.Equal(t, WaiterCall, player.next(t))

	clk.Advance(3 * time.Second)
	assert.Equal(t, WaiterCall, player.next(t))
}

func TestAlarm_StopsWhenConditionClears(t *testing.T) {
	a, clk, player := newTestAlarm(t, nil)

	a.Set(NewOrder, true)
	player.next(t)
	a.Set(NewOrder, false)

	assert.False(t, a.Playing())
	assert.Equal(t, 0, clk.PendingCount())
	clk.Advance(10 * time.Second)
	player.none(t)
}

func TestAlarm_SingleSharedLoop(t *testing.T) {
	a, clk, player := newTestAlarm(t, nil)

	a.Set(NewOrder, true)
	assert.Equal(t, NewOrder, player.next(t))
	a.Set(WaiterCall, true)
	assert.Equal(t, WaiterCall, player.next(t))
	a.Set(WaiterCall, true)
	player.none(t)

	clk.WaitForTimers(1)
	assert.Equal(t, 1, clk.PendingCount())
	clk.Advance(3 * time.Second)
	assert.Equal(t, WaiterCall, player.next(t))
	player.none(t)

	a.Set(WaiterCall, false)
	assert.Equal(t, NewOrder, player.next(t))
	assert.Equal(t, []Category{NewOrder}, a.Ringing())
}

func TestAlarm_MuteSilencesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "terminal.yaml")
	a, clk, player := newTestAlarm(t, NewPreferenceFile(path))
	assert.False(t, a.Muted())

	a.Set(OrderReady, true)
	player.next(t)

	require.NoError(t, a.SetMuted(true))
	assert.False(t, a.Playing())
	clk.Advance(time.Minute)
	player.none(t)
	assert.Equal(t, []Category{OrderReady}, a.Ringing())

	restored, _, restoredPlayer := newTestAlarm(t, NewPreferenceFile(path))
	assert.True(t, restored.Muted())
	restored.Set(WaiterCall, true)
	restoredPlayer.none(t)

	require.NoError(t, a.SetMuted(false))
	assert.Equal(t, OrderReady, player.next(t))
}

func TestAlarm_PlaybackFailureKeepsLooping(t *testing.T) {
	a, clk, player := newTestAlarm(t, nil)
	player.err = errors.New("audio device busy")

	a.Set(WaiterCall, true)
	player.next(t)
	clk.WaitForTimers(1)
	clk.Advance(3 * time.Second)
	player.next(t)
	assert.True(t, a.Playing())
}

func TestPreferenceFile(t *testing.T) {
	dir := t.TempDir()

	prefs, err := NewPreferenceFile(filepath.Join(dir, "missing.yaml")).Load()
	require.NoError(t, err)
	assert.False(t, prefs.Muted)

	file := NewPreferenceFile(filepath.Join(dir, "p.yaml"))
	require.NoError(t, file.Save(Preferences{Muted: true}))
	prefs, err = file.Load()
	require.NoError(t, err)
	assert.True(t, prefs.Muted)

	mem := NewPreferenceFile("")
	require.NoError(t, mem.Save(Preferences{Muted: true}))
	prefs, err = mem.Load()
	require.NoError(t, err)
	assert.False(t, prefs.Muted)
}

func TestBellPlayer(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewBellPlayer(&buf).Play(context.Background(), NewOrder))

	assert.Equal(t, "\a[new_order]\n", buf.String())
}
