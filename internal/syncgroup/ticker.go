package syncgroup

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/model"
)

// groupTicker is one lightweight scheduled task per playing group. It
// broadcasts the authoritative play-head at the configured cadence and
// exits on its own when the group stops playing or disappears.
type groupTicker struct {
	done chan struct{}
}

func (t *groupTicker) stop() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// startTicker launches the tick loop for a group, replacing any
// existing loop so pause/resume cycles never leak goroutines.
func (c *Coordinator) startTicker(groupID uuid.UUID) {
	c.tickersMu.Lock()
	defer c.tickersMu.Unlock()

	if existing, ok := c.tickers[groupID]; ok {
		existing.stop()
	}
	t := &groupTicker{done: make(chan struct{})}
	c.tickers[groupID] = t

	go c.runTicker(groupID, t)
	log.Debug().Str("group_id", groupID.String()).Dur("interval", c.tickInterval).Msg("tick task started")
}

// stopTicker cancels the tick loop for a group, if one is running.
func (c *Coordinator) stopTicker(groupID uuid.UUID) {
	c.tickersMu.Lock()
	defer c.tickersMu.Unlock()

	if t, ok := c.tickers[groupID]; ok {
		t.stop()
		delete(c.tickers, groupID)
		log.Debug().Str("group_id", groupID.String()).Msg("tick task stopped")
	}
}

func (c *Coordinator) runTicker(groupID uuid.UUID, t *groupTicker) {
	ticker := c.clock.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.Chan():
			if !c.broadcastTick(groupID) {
				return
			}
		}
	}
}

// broadcastTick sends one tick and reports whether the loop should
// continue. The tick carries the position computed at the send instant.
func (c *Coordinator) broadcastTick(groupID uuid.UUID) bool {
	g, err := c.store.Get(groupID)
	if err != nil {
		return false
	}
	if g.PlaybackState != model.PlaybackPlaying || g.CurrentContentID == nil {
		return false
	}

	now := c.clock.Now()
	c.broadcaster.BroadcastTick(groupID, g.DisplayIDs, Tick{
		GroupID:       groupID.String(),
		ContentID:     *g.CurrentContentID,
		CurrentTime:   g.PositionAt(now),
		ServerTime:    now.UnixMilli(),
		PlaybackState: g.PlaybackState,
	})
	return true
}
