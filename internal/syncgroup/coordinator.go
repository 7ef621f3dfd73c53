// Package syncgroup implements the sync group coordinator: authoritative
// in-memory playback state per group of displays, playback-control
// verbs, conductor election and periodic tick broadcast.
package syncgroup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
)

// Coordinator owns all sync group state mutations. Per-group
// serialization is delegated to the Store; the coordinator itself only
// guards its ticker table.
type Coordinator struct {
	store       Store
	broadcaster Broadcaster
	events      EventSink
	clock       clockwork.Clock

	tickInterval time.Duration

	tickersMu sync.Mutex
	tickers   map[uuid.UUID]*groupTicker
}

// NewCoordinator creates a coordinator over the given store and
// transport. A nil events sink disables domain-event emission.
func NewCoordinator(store Store, broadcaster Broadcaster, events EventSink, clock clockwork.Clock, tickInterval time.Duration) *Coordinator {
	if events == nil {
		events = noopSink{}
	}
	return &Coordinator{
		store:        store,
		broadcaster:  broadcaster,
		events:       events,
		clock:        clock,
		tickInterval: tickInterval,
		tickers:      make(map[uuid.UUID]*groupTicker),
	}
}

type noopSink struct{}

func (noopSink) Emit(context.Context, string, any) {}

// UpdateParams carries the optional fields of a group update.
type UpdateParams struct {
	Name       *string
	DisplayIDs []string
}

// Create registers a new sync group in the stopped state.
func (c *Coordinator) Create(ctx context.Context, name string, displayIDs []string) (*model.SyncGroup, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", errs.ErrValidation)
	}
	if len(displayIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one display is required", errs.ErrValidation)
	}

	now := c.clock.Now()
	g := &model.SyncGroup{
		ID:            uuid.New(),
		Name:          name,
		DisplayIDs:    append([]string(nil), displayIDs...),
		PlaybackState: model.PlaybackStopped,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.store.Put(g)

	log.Info().Str("group_id", g.ID.String()).Str("name", name).Int("members", len(displayIDs)).Msg("sync group created")
	c.events.Emit(ctx, EventGroupCreated, g)
	return g.Clone(), nil
}

// Get returns a copy of the group.
func (c *Coordinator) Get(id uuid.UUID) (*model.SyncGroup, error) {
	return c.store.Get(id)
}

// List returns copies of every group.
func (c *Coordinator) List() []*model.SyncGroup {
	return c.store.List()
}

// Update changes a group's name and/or membership. A membership update
// that removes the current conductor nulls it out and triggers
// re-election among the remaining members.
func (c *Coordinator) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*model.SyncGroup, error) {
	conductorDropped := false
	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		if params.Name != nil {
			if strings.TrimSpace(*params.Name) == "" {
				return fmt.Errorf("%w: name is required", errs.ErrValidation)
			}
			g.Name = *params.Name
		}
		if params.DisplayIDs != nil {
			if len(params.DisplayIDs) == 0 {
				return fmt.Errorf("%w: at least one display is required", errs.ErrValidation)
			}
			g.DisplayIDs = append([]string(nil), params.DisplayIDs...)
			if g.ConductorID != nil && !g.HasMember(*g.ConductorID) {
				g.ConductorID = nil
				g.ConductorConnID = nil
				conductorDropped = true
			}
		}
		g.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conductorDropped {
		if _, electErr := c.ElectConductor(ctx, id); electErr != nil {
			log.Warn().Err(electErr).Str("group_id", id.String()).Msg("conductor removed from group, no replacement available")
			c.broadcaster.BroadcastConductorChanged(id, g.DisplayIDs, "")
		}
	}
	c.events.Emit(ctx, EventGroupUpdated, g)
	return g, nil
}

// Delete removes a group and cancels its tick task.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) bool {
	c.stopTicker(id)
	deleted := c.store.Delete(id)
	if deleted {
		log.Info().Str("group_id", id.String()).Msg("sync group deleted")
		c.events.Emit(ctx, EventGroupDeleted, map[string]string{"group_id": id.String()})
	}
	return deleted
}

// StartPlayback begins a playing run of contentID at startPosition.
func (c *Coordinator) StartPlayback(ctx context.Context, id uuid.UUID, contentID string, startPosition float64) (*model.SyncGroup, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: content id is required", errs.ErrValidation)
	}
	if startPosition < 0 {
		startPosition = 0
	}

	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		now := c.clock.Now()
		g.CurrentContentID = &contentID
		g.PlaybackState = model.PlaybackPlaying
		g.CurrentTime = startPosition
		g.StartedAt = &now
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.startTicker(id)
	c.broadcaster.BroadcastCommand(id, g.DisplayIDs, Command{
		Type:       CommandPlay,
		GroupID:    id.String(),
		ContentID:  &contentID,
		SeekTo:     &startPosition,
		ServerTime: c.nowMillis(),
	})

	log.Info().Str("group_id", id.String()).Str("content_id", contentID).Float64("position", startPosition).Msg("playback started")
	c.events.Emit(ctx, EventPlaybackStarted, g)
	return g, nil
}

// PausePlayback freezes the play-head at the instant of the call.
func (c *Coordinator) PausePlayback(ctx context.Context, id uuid.UUID) (*model.SyncGroup, error) {
	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		now := c.clock.Now()
		g.CurrentTime = g.PositionAt(now)
		g.PlaybackState = model.PlaybackPaused
		g.StartedAt = nil
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.stopTicker(id)
	pos := g.CurrentTime
	c.broadcaster.BroadcastCommand(id, g.DisplayIDs, Command{
		Type:       CommandPause,
		GroupID:    id.String(),
		ContentID:  g.CurrentContentID,
		SeekTo:     &pos,
		ServerTime: c.nowMillis(),
	})

	log.Info().Str("group_id", id.String()).Float64("position", pos).Msg("playback paused")
	c.events.Emit(ctx, EventPlaybackPaused, g)
	return g, nil
}

// ResumePlayback restarts elapsed-time accounting from now. It requires
// a previously paused run with content.
func (c *Coordinator) ResumePlayback(ctx context.Context, id uuid.UUID) (*model.SyncGroup, error) {
	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		if g.CurrentContentID == nil {
			return errs.ErrNoContent
		}
		now := c.clock.Now()
		// Fold any running elapsed time before re-basing, so a resume
		// on an already-playing group never rewinds the play-head.
		g.CurrentTime = g.PositionAt(now)
		g.PlaybackState = model.PlaybackPlaying
		g.StartedAt = &now
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.startTicker(id)
	pos := g.CurrentTime
	c.broadcaster.BroadcastCommand(id, g.DisplayIDs, Command{
		Type:       CommandPlay,
		GroupID:    id.String(),
		ContentID:  g.CurrentContentID,
		SeekTo:     &pos,
		ServerTime: c.nowMillis(),
	})

	log.Info().Str("group_id", id.String()).Float64("position", pos).Msg("playback resumed")
	c.events.Emit(ctx, EventPlaybackResumed, g)
	return g, nil
}

// SeekPlayback overwrites the play-head position regardless of state,
// re-basing the elapsed-time origin when currently playing.
func (c *Coordinator) SeekPlayback(ctx context.Context, id uuid.UUID, position float64) (*model.SyncGroup, error) {
	if position < 0 {
		return nil, fmt.Errorf("%w: seek position must be non-negative", errs.ErrValidation)
	}

	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		now := c.clock.Now()
		g.CurrentTime = position
		if g.PlaybackState == model.PlaybackPlaying {
			g.StartedAt = &now
		}
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.broadcaster.BroadcastCommand(id, g.DisplayIDs, Command{
		Type:       CommandSeek,
		GroupID:    id.String(),
		ContentID:  g.CurrentContentID,
		SeekTo:     &position,
		ServerTime: c.nowMillis(),
	})

	log.Info().Str("group_id", id.String()).Float64("position", position).Msg("playback seeked")
	c.events.Emit(ctx, EventPlaybackSeeked, g)
	return g, nil
}

// StopPlayback ends the run and clears the current content.
func (c *Coordinator) StopPlayback(ctx context.Context, id uuid.UUID) (*model.SyncGroup, error) {
	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		g.PlaybackState = model.PlaybackStopped
		g.CurrentContentID = nil
		g.CurrentTime = 0
		g.StartedAt = nil
		g.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.stopTicker(id)
	c.broadcaster.BroadcastCommand(id, g.DisplayIDs, Command{
		Type:       CommandStop,
		GroupID:    id.String(),
		ServerTime: c.nowMillis(),
	})

	log.Info().Str("group_id", id.String()).Msg("playback stopped")
	c.events.Emit(ctx, EventPlaybackStopped, g)
	return g, nil
}

// ElectConductor deterministically picks the first connected member in
// membership order and records it as the group's conductor.
func (c *Coordinator) ElectConductor(ctx context.Context, id uuid.UUID) (*model.SyncGroup, error) {
	current, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}

	conns := c.broadcaster.ConnectedMembers(current.DisplayIDs)
	byDisplay := make(map[string]string, len(conns))
	for _, mc := range conns {
		if _, ok := byDisplay[mc.DisplayID]; !ok {
			byDisplay[mc.DisplayID] = mc.ConnID
		}
	}

	var conductorID, conductorConnID string
	for _, displayID := range current.DisplayIDs {
		if connID, ok := byDisplay[displayID]; ok {
			conductorID = displayID
			conductorConnID = connID
			break
		}
	}
	if conductorID == "" {
		return nil, errs.ErrNoConnectedDisplays
	}

	g, err := c.store.Mutate(id, func(g *model.SyncGroup) error {
		// Membership may have changed since the snapshot above; never
		// record a conductor that is no longer a member.
		if !g.HasMember(conductorID) {
			return errs.ErrNoConnectedDisplays
		}
		g.ConductorID = &conductorID
		g.ConductorConnID = &conductorConnID
		g.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.broadcaster.BroadcastConductorChanged(id, g.DisplayIDs, conductorID)
	log.Info().Str("group_id", id.String()).Str("conductor_id", conductorID).Msg("conductor elected")
	c.events.Emit(ctx, EventConductorChanged, map[string]string{
		"group_id":     id.String(),
		"conductor_id": conductorID,
	})
	return g, nil
}

// OnDisplayDisconnected handles the transport's disconnect signal:
// any group conducted through the dropped connection loses its
// conductor and a re-election is attempted among remaining members.
func (c *Coordinator) OnDisplayDisconnected(ctx context.Context, displayID, connID string) {
	for _, g := range c.store.List() {
		if g.ConductorConnID == nil || *g.ConductorConnID != connID {
			continue
		}
		groupID := g.ID
		if _, err := c.store.Mutate(groupID, func(g *model.SyncGroup) error {
			if g.ConductorConnID != nil && *g.ConductorConnID == connID {
				g.ConductorID = nil
				g.ConductorConnID = nil
				g.UpdatedAt = c.clock.Now()
			}
			return nil
		}); err != nil {
			continue
		}

		if _, err := c.ElectConductor(ctx, groupID); err != nil {
			log.Warn().Err(err).
				Str("group_id", groupID.String()).
				Str("display_id", displayID).
				Msg("conductor disconnected, no replacement available")
			c.broadcaster.BroadcastConductorChanged(groupID, g.DisplayIDs, "")
		}
	}
}

// GroupForDisplay returns the group a display belongs to, if any.
// Membership is exclusive in practice; the first match wins.
func (c *Coordinator) GroupForDisplay(displayID string) *model.SyncGroup {
	for _, g := range c.store.List() {
		if g.HasMember(displayID) {
			return g
		}
	}
	return nil
}

// Shutdown cancels every running tick task.
func (c *Coordinator) Shutdown() {
	c.tickersMu.Lock()
	defer c.tickersMu.Unlock()
	for id, t := range c.tickers {
		t.stop()
		delete(c.tickers, id)
	}
}

func (c *Coordinator) nowMillis() int64 {
	return c.clock.Now().UnixMilli()
}
