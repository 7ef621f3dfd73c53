package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
	"github.com/lodgevision/signage/internal/registry"
	"github.com/lodgevision/signage/internal/resolver"
)

// fakeSyncState serves a fixed group per display id.
type fakeSyncState struct {
	groups map[string]*model.SyncGroup
}

func (f *fakeSyncState) GroupForDisplay(displayID string) *model.SyncGroup {
	return f.groups[displayID]
}

type fixture struct {
	reg   *registry.Memory
	sync  *fakeSyncState
	clock *clockwork.FakeClock
	res   *resolver.Resolver
}

// newFixture pins the clock to a Monday at 14:00 so schedule windows
// are deterministic.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewMemory()
	sync := &fakeSyncState{groups: make(map[string]*model.SyncGroup)}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	return &fixture{
		reg:   reg,
		sync:  sync,
		clock: clock,
		res:   resolver.New(reg, reg, reg, reg, reg, sync, clock),
	}
}

func (f *fixture) addDisplay(id string) {
	f.reg.PutDisplay(model.Display{ID: id, Name: id, HotelID: "h1"})
}

func (f *fixture) addPlaylist(displayID string) {
	f.reg.PutContent(model.Content{ID: "pl-content", Status: model.ContentStatusReady})
	f.reg.SetPlaylist(displayID, []model.PlaylistItem{
		{ID: "i1", ContentID: "pl-content", Position: 0,
			Content: &model.Content{ID: "pl-content", Status: model.ContentStatusReady}},
	})
}

func (f *fixture) addSchedule(displayID string) {
	f.reg.PutContent(model.Content{ID: "sched-content", Status: model.ContentStatusReady})
	f.reg.PutSchedule(model.Schedule{
		ID: "s1", Name: "Afternoon loop", ContentID: "sched-content", Active: true,
		StartTime: "12:00", EndTime: "18:00",
		DisplayIDs: []string{displayID},
		CreatedAt:  f.clock.Now().Add(-time.Hour),
	})
}

func (f *fixture) addSyncGroup(displayID string) {
	contentID := "sync-content"
	g := &model.SyncGroup{
		ID:               uuid.New(),
		Name:             "Lobby wall",
		DisplayIDs:       []string{displayID},
		PlaybackState:    model.PlaybackPlaying,
		CurrentContentID: &contentID,
	}
	f.sync.groups[displayID] = g
}

func (f *fixture) addAlert(displayID string) {
	f.reg.PutContent(model.Content{ID: "alert-content", Status: model.ContentStatusReady})
	f.reg.PutAlert(model.Alert{
		ID: "a1", Name: "Fire drill", ContentID: "alert-content", Active: true,
		Priority: 5, DisplayIDs: []string{displayID},
		CreatedAt: f.clock.Now().Add(-time.Minute),
	})
}

func TestResolveUnknownDisplay(t *testing.T) {
	f := newFixture(t)
	_, err := f.res.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveNoContent(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceNone, src.Type)
	assert.Equal(t, model.PriorityNone, src.Priority)
	assert.Nil(t, src.ContentID)
}

// Each source must beat everything ranked below it, so the test stacks
// all of them on one display and peels them off top-down.
func TestResolvePriorityOrder(t *testing.T) {
	f := newFixture(t)
	fallbackID := "fb-content"
	f.reg.PutDisplay(model.Display{ID: "d1", HotelID: "h1", FallbackContentID: &fallbackID})
	f.reg.PutContent(model.Content{ID: fallbackID, Status: model.ContentStatusReady})
	f.addPlaylist("d1")
	f.addSchedule("d1")
	f.addSyncGroup("d1")
	f.addAlert("d1")
	ctx := context.Background()

	src, err := f.res.Resolve(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAlert, src.Type)
	assert.Equal(t, model.PriorityAlertBase+5, src.Priority)
	assert.Equal(t, "Alert: Fire drill", src.Reason)

	f.reg.RemoveAlert("a1")
	src, err = f.res.Resolve(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSync, src.Type)
	assert.Equal(t, model.PrioritySync, src.Priority)

	delete(f.sync.groups, "d1")
	src, err = f.res.Resolve(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSchedule, src.Type)
	require.NotNil(t, src.ContentID)
	assert.Equal(t, "sched-content", *src.ContentID)

	f.reg.PutSchedule(model.Schedule{ID: "s1", Active: false})
	src, err = f.res.Resolve(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourcePlaylist, src.Type)

	f.reg.SetPlaylist("d1", nil)
	src, err = f.res.Resolve(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceFallback, src.Type)
	require.NotNil(t, src.ContentID)
	assert.Equal(t, fallbackID, *src.ContentID)
}

func TestResolveStoppedSyncGroupIgnored(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.addPlaylist("d1")
	f.addSyncGroup("d1")
	f.sync.groups["d1"].PlaybackState = model.PlaybackStopped

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourcePlaylist, src.Type)
}

func TestResolvePausedSyncGroupWins(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.addPlaylist("d1")
	f.addSyncGroup("d1")
	f.sync.groups["d1"].PlaybackState = model.PlaybackPaused

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSync, src.Type)
}

func TestResolveAlertTieBreak(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.reg.PutAlert(model.Alert{
		ID: "low", Name: "Low", ContentID: "c1", Active: true, Priority: 1,
		DisplayIDs: []string{"d1"}, CreatedAt: f.clock.Now().Add(-time.Hour),
	})
	f.reg.PutAlert(model.Alert{
		ID: "high", Name: "High", ContentID: "c2", Active: true, Priority: 9,
		DisplayIDs: []string{"d1"}, CreatedAt: f.clock.Now().Add(-2 * time.Hour),
	})

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, src.AlertID)
	assert.Equal(t, "high", *src.AlertID)
	assert.Equal(t, model.PriorityAlertBase+9, src.Priority)
}

func TestResolveScheduleTieBreakMostRecent(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.reg.PutSchedule(model.Schedule{
		ID: "old", Name: "Old", ContentID: "c1", Active: true, Priority: 3,
		DisplayIDs: []string{"d1"}, CreatedAt: f.clock.Now().Add(-48 * time.Hour),
	})
	f.reg.PutSchedule(model.Schedule{
		ID: "new", Name: "New", ContentID: "c2", Active: true, Priority: 3,
		DisplayIDs: []string{"d1"}, CreatedAt: f.clock.Now().Add(-time.Hour),
	})

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, src.ScheduleID)
	assert.Equal(t, "new", *src.ScheduleID)
}

func TestResolveScheduleOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.reg.PutSchedule(model.Schedule{
		ID: "night", Name: "Night", ContentID: "c1", Active: true,
		StartTime: "22:00", EndTime: "06:00",
		DisplayIDs: []string{"d1"}, CreatedAt: f.clock.Now(),
	})

	// 14:00 is outside the wrapped 22:00–06:00 window.
	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceNone, src.Type)
}

func TestResolvePlaylistSkipsUnreadyContent(t *testing.T) {
	f := newFixture(t)
	f.addDisplay("d1")
	f.reg.SetPlaylist("d1", []model.PlaylistItem{
		{ID: "i1", ContentID: "c1", Position: 0,
			Content: &model.Content{ID: "c1", Status: model.ContentStatusProcessing}},
		{ID: "i2", ContentID: "c2", Position: 1,
			Content: &model.Content{ID: "c2", Status: model.ContentStatusReady}},
	})

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourcePlaylist, src.Type)
	require.NotNil(t, src.ContentID)
	assert.Equal(t, "c2", *src.ContentID)
}

func TestResolveAlertAreaTargeting(t *testing.T) {
	f := newFixture(t)
	area := "pool"
	f.reg.PutDisplay(model.Display{ID: "d1", HotelID: "h1", AreaID: &area})
	f.reg.PutDisplay(model.Display{ID: "d2", HotelID: "h1"})
	f.reg.PutAlert(model.Alert{
		ID: "a1", Name: "Pool closed", ContentID: "c1", Active: true,
		AreaID: &area, CreatedAt: f.clock.Now(),
	})

	src, err := f.res.Resolve(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAlert, src.Type)

	src, err = f.res.Resolve(context.Background(), "d2")
	require.NoError(t, err)
	assert.Equal(t, model.SourceNone, src.Type)
}
