// Package resolver decides which of the ranked content sources a
// display must currently show: alert > sync > schedule > playlist >
// fallback > none.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
	"github.com/lodgevision/signage/internal/registry"
)

// SyncState exposes the coordinator state the resolver reads.
type SyncState interface {
	GroupForDisplay(displayID string) *model.SyncGroup
}

// Resolver computes the active content source for a display. Resolve is
// a pure function of current collaborator state; its only side effect
// is the last-seen touch delegated to the display registry.
type Resolver struct {
	displays  registry.DisplayRegistry
	alerts    registry.AlertSource
	schedules registry.ScheduleSource
	playlists registry.PlaylistSource
	contents  registry.ContentCatalog
	sync      SyncState
	clock     clockwork.Clock
}

// New wires a resolver over its collaborators.
func New(
	displays registry.DisplayRegistry,
	alerts registry.AlertSource,
	schedules registry.ScheduleSource,
	playlists registry.PlaylistSource,
	contents registry.ContentCatalog,
	sync SyncState,
	clock clockwork.Clock,
) *Resolver {
	return &Resolver{
		displays:  displays,
		alerts:    alerts,
		schedules: schedules,
		playlists: playlists,
		contents:  contents,
		sync:      sync,
		clock:     clock,
	}
}

// Resolve evaluates the ranked sources for a display and returns
// exactly one decision.
func (r *Resolver) Resolve(ctx context.Context, displayID string) (*model.ContentSource, error) {
	display, err := r.displays.GetDisplay(ctx, displayID)
	if err != nil {
		return nil, fmt.Errorf("resolve display %s: %w", displayID, err)
	}
	if err := r.displays.TouchLastSeen(ctx, displayID); err != nil {
		log.Warn().Err(err).Str("display_id", displayID).Msg("failed to update last seen")
	}

	if src := r.resolveAlert(ctx, display); src != nil {
		return src, nil
	}
	if src := r.resolveSync(display); src != nil {
		return src, nil
	}
	if src := r.resolveSchedule(ctx, display); src != nil {
		return src, nil
	}
	if src := r.resolvePlaylist(ctx, display); src != nil {
		return src, nil
	}
	if src := r.resolveFallback(ctx, display); src != nil {
		return src, nil
	}
	return &model.ContentSource{
		Type:     model.SourceNone,
		Priority: model.PriorityNone,
		Reason:   "No content configured",
	}, nil
}

func (r *Resolver) resolveAlert(ctx context.Context, display *model.Display) *model.ContentSource {
	alerts, err := r.alerts.ActiveAlerts(ctx)
	if err != nil {
		log.Error().Err(err).Str("display_id", display.ID).Msg("alert lookup failed")
		return nil
	}

	var best *model.Alert
	for i := range alerts {
		a := &alerts[i]
		if !a.Targets(display) {
			continue
		}
		if best == nil || a.Priority > best.Priority ||
			(a.Priority == best.Priority && a.CreatedAt.After(best.CreatedAt)) {
			best = a
		}
	}
	if best == nil {
		return nil
	}

	src := &model.ContentSource{
		Type:      model.SourceAlert,
		Priority:  model.PriorityAlertBase + best.Priority,
		Reason:    fmt.Sprintf("Alert: %s", best.Name),
		ContentID: &best.ContentID,
		AlertID:   &best.ID,
	}
	src.Content = r.snapshot(ctx, best.ContentID)
	return src
}

func (r *Resolver) resolveSync(display *model.Display) *model.ContentSource {
	g := r.sync.GroupForDisplay(display.ID)
	if g == nil || g.PlaybackState == model.PlaybackStopped || g.CurrentContentID == nil {
		return nil
	}
	groupID := g.ID.String()
	return &model.ContentSource{
		Type:        model.SourceSync,
		Priority:    model.PrioritySync,
		Reason:      fmt.Sprintf("Synchronized playback: %s", g.Name),
		ContentID:   g.CurrentContentID,
		SyncGroupID: &groupID,
	}
}

// resolveSchedule picks the highest-priority schedule whose window
// covers now. At equal priority the most recently created wins.
func (r *Resolver) resolveSchedule(ctx context.Context, display *model.Display) *model.ContentSource {
	schedules, err := r.schedules.SchedulesForDisplay(ctx, display.ID)
	if err != nil {
		log.Error().Err(err).Str("display_id", display.ID).Msg("schedule lookup failed")
		return nil
	}

	now := r.clock.Now()
	var best *model.Schedule
	for i := range schedules {
		s := &schedules[i]
		if !s.CoversTime(now) {
			continue
		}
		if best == nil || s.Priority > best.Priority ||
			(s.Priority == best.Priority && s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	if best == nil {
		return nil
	}

	src := &model.ContentSource{
		Type:       model.SourceSchedule,
		Priority:   model.PriorityScheduleBase + best.Priority,
		Reason:     fmt.Sprintf("Schedule: %s", best.Name),
		ContentID:  &best.ContentID,
		ScheduleID: &best.ID,
	}
	src.Content = r.snapshot(ctx, best.ContentID)
	return src
}

// resolvePlaylist returns the first ready item by ascending position.
// Cyclic advancement through the playlist is a player-side concern.
func (r *Resolver) resolvePlaylist(ctx context.Context, display *model.Display) *model.ContentSource {
	items, err := r.playlists.PlaylistForDisplay(ctx, display.ID)
	if err != nil {
		log.Error().Err(err).Str("display_id", display.ID).Msg("playlist lookup failed")
		return nil
	}

	ready := items[:0:0]
	for _, item := range items {
		if item.Content != nil && item.Content.Status == model.ContentStatusReady {
			ready = append(ready, item)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Position < ready[j].Position })

	first := ready[0]
	return &model.ContentSource{
		Type:      model.SourcePlaylist,
		Priority:  model.PriorityPlaylist,
		Reason:    "Playlist",
		ContentID: &first.ContentID,
		Content:   first.Content,
	}
}

func (r *Resolver) resolveFallback(ctx context.Context, display *model.Display) *model.ContentSource {
	if display.FallbackContentID == nil {
		return nil
	}
	src := &model.ContentSource{
		Type:      model.SourceFallback,
		Priority:  model.PriorityFallback,
		Reason:    "Fallback content",
		ContentID: display.FallbackContentID,
	}
	src.Content = r.snapshot(ctx, *display.FallbackContentID)
	return src
}

func (r *Resolver) snapshot(ctx context.Context, contentID string) *model.Content {
	c, err := r.contents.GetContent(ctx, contentID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			log.Warn().Err(err).Str("content_id", contentID).Msg("content snapshot lookup failed")
		}
		return nil
	}
	return c
}
