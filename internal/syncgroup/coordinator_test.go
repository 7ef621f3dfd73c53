package syncgroup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
	"github.com/lodgevision/signage/internal/syncgroup"
)

// fakeBroadcaster records fan-out calls and simulates connected sockets.
type fakeBroadcaster struct {
	mu        sync.Mutex
	connected map[string]string // display id -> conn id
	ticks     []syncgroup.Tick
	commands  []syncgroup.Command
	changes   []string // conductor ids, "" for none

	// onConnectedMembers, when set, runs before ConnectedMembers
	// answers, letting a test race a membership change against an
	// in-flight election.
	onConnectedMembers func()
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{connected: make(map[string]string)}
}

func (f *fakeBroadcaster) connect(displayID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[displayID] = connID
}

func (f *fakeBroadcaster) disconnect(displayID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, displayID)
}

func (f *fakeBroadcaster) BroadcastTick(_ uuid.UUID, _ []string, tick syncgroup.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, tick)
}

func (f *fakeBroadcaster) BroadcastCommand(_ uuid.UUID, _ []string, cmd syncgroup.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeBroadcaster) BroadcastConductorChanged(_ uuid.UUID, _ []string, conductorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, conductorID)
}

func (f *fakeBroadcaster) ConnectedMembers(displayIDs []string) []syncgroup.MemberConn {
	if f.onConnectedMembers != nil {
		f.onConnectedMembers()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syncgroup.MemberConn
	for _, id := range displayIDs {
		if connID, ok := f.connected[id]; ok {
			out = append(out, syncgroup.MemberConn{DisplayID: id, ConnID: connID})
		}
	}
	return out
}

func (f *fakeBroadcaster) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

func (f *fakeBroadcaster) lastCommand() syncgroup.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func newTestCoordinator(t *testing.T) (*syncgroup.Coordinator, *fakeBroadcaster, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	b := newFakeBroadcaster()
	c := syncgroup.NewCoordinator(syncgroup.NewMemoryStore(), b, nil, clock, time.Second)
	t.Cleanup(c.Shutdown)
	return c, b, clock
}

func TestCreateValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Create(ctx, "  ", []string{"d1"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = c.Create(ctx, "lobby", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackStopped, g.PlaybackState)
	assert.Nil(t, g.ConductorID)
}

func TestPlaybackLifecycle(t *testing.T) {
	c, b, clock := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)

	g, err = c.StartPlayback(ctx, g.ID, "content-1", 10)
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackPlaying, g.PlaybackState)
	assert.Equal(t, 10.0, g.CurrentTime)

	cmd := b.lastCommand()
	assert.Equal(t, syncgroup.CommandPlay, cmd.Type)
	require.NotNil(t, cmd.SeekTo)
	assert.Equal(t, 10.0, *cmd.SeekTo)

	// Pausing freezes the play-head at start position + elapsed.
	clock.Advance(5 * time.Second)
	g, err = c.PausePlayback(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackPaused, g.PlaybackState)
	assert.InDelta(t, 15.0, g.CurrentTime, 0.001)
	assert.Nil(t, g.StartedAt)

	// Pausing again is a no-op on position.
	clock.Advance(30 * time.Second)
	g, err = c.PausePlayback(ctx, g.ID)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, g.CurrentTime, 0.001)

	g, err = c.ResumePlayback(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackPlaying, g.PlaybackState)
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 17.0, g.PositionAt(clock.Now()), 0.001)

	g, err = c.SeekPlayback(ctx, g.ID, 42.5)
	require.NoError(t, err)
	assert.Equal(t, 42.5, g.CurrentTime)
	assert.Equal(t, syncgroup.CommandSeek, b.lastCommand().Type)

	g, err = c.StopPlayback(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackStopped, g.PlaybackState)
	assert.Nil(t, g.CurrentContentID)
	assert.Equal(t, 0.0, g.CurrentTime)
}

func TestResumeWhilePlayingKeepsPosition(t *testing.T) {
	c, b, clock := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)

	g, err = c.StartPlayback(ctx, g.ID, "content-1", 0)
	require.NoError(t, err)

	// A duplicate resume re-bases the elapsed-time origin but must not
	// rewind the play-head to the previous base.
	clock.Advance(30 * time.Second)
	g, err = c.ResumePlayback(ctx, g.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, g.CurrentTime, 0.001)
	assert.InDelta(t, 30.0, g.PositionAt(clock.Now()), 0.001)

	cmd := b.lastCommand()
	require.NotNil(t, cmd.SeekTo)
	assert.InDelta(t, 30.0, *cmd.SeekTo, 0.001)
}

func TestResumeWithoutContent(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)

	_, err = c.ResumePlayback(ctx, g.ID)
	assert.ErrorIs(t, err, errs.ErrNoContent)
}

func TestSeekValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)

	_, err = c.SeekPlayback(ctx, g.ID, -1)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestElectConductorFirstConnectedInMembershipOrder(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2", "d3"})
	require.NoError(t, err)

	_, err = c.ElectConductor(ctx, g.ID)
	assert.ErrorIs(t, err, errs.ErrNoConnectedDisplays)

	// d1 is offline, so the first connected member in membership order
	// is d2 even though d3 connected first.
	b.connect("d3", "c3")
	b.connect("d2", "c2")

	g, err = c.ElectConductor(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ConductorID)
	assert.Equal(t, "d2", *g.ConductorID)
}

func TestElectConductorRacingMembershipChange(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)
	b.connect("d1", "c1")

	// d1 is dropped from membership after the election has picked it
	// but before the result is committed. The commit must notice and
	// refuse to record a non-member conductor.
	b.onConnectedMembers = func() {
		b.onConnectedMembers = nil
		_, err := c.Update(ctx, g.ID, syncgroup.UpdateParams{DisplayIDs: []string{"d2"}})
		require.NoError(t, err)
	}

	_, err = c.ElectConductor(ctx, g.ID)
	assert.ErrorIs(t, err, errs.ErrNoConnectedDisplays)

	g, err = c.Get(g.ID)
	require.NoError(t, err)
	assert.Nil(t, g.ConductorID)
}

func TestUpdateRemovingConductorTriggersReelection(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2", "d3"})
	require.NoError(t, err)

	b.connect("d1", "c1")
	b.connect("d2", "c2")
	_, err = c.ElectConductor(ctx, g.ID)
	require.NoError(t, err)

	// Dropping d1 from membership must hand conductorship to d2.
	g, err = c.Update(ctx, g.ID, syncgroup.UpdateParams{DisplayIDs: []string{"d2", "d3"}})
	require.NoError(t, err)

	g, err = c.Get(g.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ConductorID)
	assert.Equal(t, "d2", *g.ConductorID)
}

func TestUpdateRemovingConductorNoReplacement(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)

	b.connect("d1", "c1")
	_, err = c.ElectConductor(ctx, g.ID)
	require.NoError(t, err)

	g, err = c.Update(ctx, g.ID, syncgroup.UpdateParams{DisplayIDs: []string{"d2"}})
	require.NoError(t, err)

	g, err = c.Get(g.ID)
	require.NoError(t, err)
	assert.Nil(t, g.ConductorID)

	b.mu.Lock()
	lastChange := b.changes[len(b.changes)-1]
	b.mu.Unlock()
	assert.Equal(t, "", lastChange)
}

func TestConductorDisconnectReelection(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)

	b.connect("d1", "c1")
	b.connect("d2", "c2")
	_, err = c.ElectConductor(ctx, g.ID)
	require.NoError(t, err)

	b.disconnect("d1")
	c.OnDisplayDisconnected(ctx, "d1", "c1")

	g, err = c.Get(g.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ConductorID)
	assert.Equal(t, "d2", *g.ConductorID)
}

func TestNonConductorDisconnectLeavesConductor(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)

	b.connect("d1", "c1")
	b.connect("d2", "c2")
	_, err = c.ElectConductor(ctx, g.ID)
	require.NoError(t, err)

	b.disconnect("d2")
	c.OnDisplayDisconnected(ctx, "d2", "c2")

	g, err = c.Get(g.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ConductorID)
	assert.Equal(t, "d1", *g.ConductorID)
}

func TestTickerBroadcastsWhilePlaying(t *testing.T) {
	c, b, clock := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)

	_, err = c.StartPlayback(ctx, g.ID, "content-1", 0)
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return b.tickCount() >= 1
	}, time.Second, 5*time.Millisecond)

	b.mu.Lock()
	tick := b.ticks[0]
	b.mu.Unlock()
	assert.Equal(t, g.ID.String(), tick.GroupID)
	assert.Equal(t, "content-1", tick.ContentID)
	assert.Equal(t, model.PlaybackPlaying, tick.PlaybackState)
	assert.InDelta(t, 1.0, tick.CurrentTime, 0.001)
}

func TestPauseStopsTicker(t *testing.T) {
	c, b, clock := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)

	_, err = c.StartPlayback(ctx, g.ID, "content-1", 0)
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return b.tickCount() >= 1
	}, time.Second, 5*time.Millisecond)

	_, err = c.PausePlayback(ctx, g.ID)
	require.NoError(t, err)

	count := b.tickCount()
	clock.Advance(3 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, b.tickCount())
}

func TestDeleteStopsTicker(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1"})
	require.NoError(t, err)
	_, err = c.StartPlayback(ctx, g.ID, "content-1", 0)
	require.NoError(t, err)

	assert.True(t, c.Delete(ctx, g.ID))
	_, err = c.Get(g.ID)
	assert.ErrorIs(t, err, errs.ErrGroupNotFound)
}

func TestGroupForDisplay(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.Create(ctx, "lobby", []string{"d1", "d2"})
	require.NoError(t, err)

	found := c.GroupForDisplay("d2")
	require.NotNil(t, found)
	assert.Equal(t, g.ID, found.ID)

	assert.Nil(t, c.GroupForDisplay("unknown"))
}
