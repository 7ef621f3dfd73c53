// Package drift keeps a display's local media position locked to the
// server's authoritative timeline, correcting drift by playback-rate
// adjustment or direct seek depending on magnitude.
package drift

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lodgevision/signage/internal/client/clocksync"
	"github.com/lodgevision/signage/internal/client/player"
	"github.com/lodgevision/signage/internal/model"
	"github.com/lodgevision/signage/internal/syncgroup"
)

// Drift thresholds in seconds, evaluated largest first.
const (
	// HardThreshold forces a direct seek.
	HardThreshold = 2.0
	// SoftThreshold engages the fixed slow/fast rate.
	SoftThreshold = 0.5
	// Tolerance is the dead band where no correction is applied.
	Tolerance = 0.05
	// RateResetTolerance is the tighter band inside which a non-unity
	// rate snaps back to 1.0, preventing oscillation at the boundary.
	RateResetTolerance = 0.03
)

const (
	softRateAhead  = 0.95
	softRateBehind = 1.05
	gentleGain     = 0.1
	gentleRateMin  = 0.9
	gentleRateMax  = 1.1
)

// Status is the controller's externally visible sync state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusCalibrating Status = "calibrating"
	StatusSynced      Status = "synced"
	StatusSyncing     Status = "syncing"
	StatusSoftSyncing Status = "soft-syncing"
	StatusHardSyncing Status = "hard-syncing"
)

// Controller is an event-driven state machine: it consumes inbound
// ticks and direct commands and drives the media player. No state is
// captured in closures; everything lives on the struct under one lock.
type Controller struct {
	player player.MediaPlayer
	est    *clocksync.Estimator
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	status  Status
	groupID string

	// firstTick marks a freshly joined group: the first position report
	// is applied by direct seek, never by rate-based catch-up.
	firstTick bool

	// rttEstimate feeds the clock-sync estimator; the agent updates it
	// from transport ping measurements.
	rttEstimate time.Duration

	// Pending state buffered while the media element is not ready.
	// Ticks and commands are never silently dropped.
	pendingTick    *syncgroup.Tick
	pendingCommand *syncgroup.Command
}

// NewController creates a controller for one media player.
func NewController(p player.MediaPlayer, est *clocksync.Estimator, clock clockwork.Clock, logger zerolog.Logger) *Controller {
	return &Controller{
		player: p,
		est:    est,
		clock:  clock,
		logger: logger,
		status: StatusIdle,
	}
}

// Status returns the current sync status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RTTEstimate returns the last recorded transport round trip.
func (c *Controller) RTTEstimate() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rttEstimate
}

// SetRTTEstimate updates the round-trip estimate used for one-way
// latency correction. The agent feeds it from websocket ping/pong
// timing.
func (c *Controller) SetRTTEstimate(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rtt >= 0 {
		c.rttEstimate = rtt
	}
}

// JoinGroup resets sync state for a new group: samples are discarded
// and the next tick is applied by direct seek.
func (c *Controller) JoinGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupID = groupID
	c.firstTick = true
	c.status = StatusCalibrating
	c.pendingTick = nil
	c.pendingCommand = nil
	c.est.Reset()
}

// HandleTick processes one authoritative play-head snapshot.
func (c *Controller) HandleTick(tick syncgroup.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.est.ProcessTick(time.UnixMilli(tick.ServerTime), now, c.rttEstimate)

	if !c.player.Ready() {
		t := tick
		c.pendingTick = &t
		c.logger.Debug().Str("group_id", tick.GroupID).Msg("media not ready, buffering tick")
		return
	}
	c.applyTickLocked(tick, now)
}

// HandleCommand applies a direct playback command immediately,
// bypassing drift math.
func (c *Controller) HandleCommand(cmd syncgroup.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.player.Ready() {
		cc := cmd
		c.pendingCommand = &cc
		c.pendingTick = nil
		c.logger.Debug().Str("group_id", cmd.GroupID).Str("command", string(cmd.Type)).Msg("media not ready, buffering command")
		return
	}
	c.applyCommandLocked(cmd)
}

// OnMediaReady flushes any state buffered while the media element was
// loading. Commands win over ticks since they are newer intent.
func (c *Controller) OnMediaReady() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd := c.pendingCommand; cmd != nil {
		c.pendingCommand = nil
		c.pendingTick = nil
		c.applyCommandLocked(*cmd)
		return
	}
	if tick := c.pendingTick; tick != nil {
		c.pendingTick = nil
		c.applyTickLocked(*tick, c.clock.Now())
	}
}

func (c *Controller) applyTickLocked(tick syncgroup.Tick, now time.Time) {
	expected := c.expectedPositionLocked(tick, now)

	if c.firstTick {
		// Late join: seek straight to the reported position instead of
		// rate-correcting for minutes.
		c.firstTick = false
		c.seekAndResetLocked(expected, tick.PlaybackState)
		c.status = StatusSynced
		c.logger.Info().Str("group_id", tick.GroupID).Float64("position", expected).Msg("late join, seeking directly")
		return
	}

	if tick.PlaybackState == model.PlaybackPaused {
		c.applyPausedLocked(expected)
		return
	}
	if tick.PlaybackState != model.PlaybackPlaying {
		return
	}

	if !c.player.Playing() {
		if err := c.player.Play(); err != nil {
			c.logger.Error().Err(err).Msg("failed to start playback")
			return
		}
	}

	// Offset estimates from fewer than the minimum sample count are too
	// noisy to correct against.
	if !c.est.IsCalibrated() {
		c.status = StatusCalibrating
		return
	}

	drift := c.player.CurrentTime() - expected
	c.correctDriftLocked(drift, expected)
}

// correctDriftLocked classifies drift by magnitude and applies the
// matching correction.
func (c *Controller) correctDriftLocked(drift, expected float64) {
	abs := drift
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs > HardThreshold:
		c.setPosition(expected)
		c.setRate(1.0)
		c.status = StatusHardSyncing
		c.logger.Info().Float64("drift", drift).Msg("hard sync: seeking to expected position")

	case abs > SoftThreshold:
		rate := softRateBehind
		if drift > 0 {
			rate = softRateAhead
		}
		c.setRate(rate)
		c.status = StatusSoftSyncing
		c.logger.Debug().Float64("drift", drift).Float64("rate", rate).Msg("soft sync: rate adjustment")

	case abs > Tolerance:
		rate := clamp(1.0-drift*gentleGain, gentleRateMin, gentleRateMax)
		c.setRate(rate)
		c.status = StatusSyncing

	default:
		c.status = StatusSynced
		if c.player.Rate() != 1.0 && abs <= RateResetTolerance {
			c.setRate(1.0)
		}
	}
}

func (c *Controller) applyPausedLocked(expected float64) {
	if c.player.Playing() {
		if err := c.player.Pause(); err != nil {
			c.logger.Error().Err(err).Msg("failed to pause playback")
			return
		}
	}
	drift := c.player.CurrentTime() - expected
	if drift > Tolerance || drift < -Tolerance {
		c.setPosition(expected)
	}
	c.setRate(1.0)
	c.status = StatusSynced
}

func (c *Controller) applyCommandLocked(cmd syncgroup.Command) {
	switch cmd.Type {
	case syncgroup.CommandPlay:
		if cmd.SeekTo != nil {
			c.setPosition(*cmd.SeekTo)
		}
		c.setRate(1.0)
		if err := c.player.Play(); err != nil {
			c.logger.Error().Err(err).Msg("play command failed")
			return
		}
		c.status = StatusSynced

	case syncgroup.CommandPause:
		if err := c.player.Pause(); err != nil {
			c.logger.Error().Err(err).Msg("pause command failed")
			return
		}
		if cmd.SeekTo != nil {
			c.setPosition(*cmd.SeekTo)
		}
		c.setRate(1.0)
		c.status = StatusSynced

	case syncgroup.CommandSeek:
		if cmd.SeekTo != nil {
			c.setPosition(*cmd.SeekTo)
		}
		c.status = StatusSynced

	case syncgroup.CommandStop:
		if err := c.player.Pause(); err != nil {
			c.logger.Error().Err(err).Msg("stop command failed")
		}
		c.setPosition(0)
		c.setRate(1.0)
		c.status = StatusIdle
	}
}

// expectedPositionLocked projects the tick's reported position forward
// by the elapsed time since send, corrected by the estimated clock
// offset. Paused state uses the reported position verbatim.
func (c *Controller) expectedPositionLocked(tick syncgroup.Tick, now time.Time) float64 {
	if tick.PlaybackState != model.PlaybackPlaying {
		return tick.CurrentTime
	}
	serverNow := c.est.ToServerTime(now)
	elapsed := serverNow.Sub(time.UnixMilli(tick.ServerTime)).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return tick.CurrentTime + elapsed
}

func (c *Controller) seekAndResetLocked(position float64, state model.PlaybackState) {
	c.setPosition(position)
	c.setRate(1.0)
	if state == model.PlaybackPlaying {
		if !c.player.Playing() {
			if err := c.player.Play(); err != nil {
				c.logger.Error().Err(err).Msg("failed to start playback")
			}
		}
	} else if c.player.Playing() {
		if err := c.player.Pause(); err != nil {
			c.logger.Error().Err(err).Msg("failed to pause playback")
		}
	}
}

func (c *Controller) setPosition(position float64) {
	if err := c.player.SeekTo(position); err != nil {
		c.logger.Error().Err(err).Float64("position", position).Msg("seek failed")
	}
}

func (c *Controller) setRate(rate float64) {
	if c.player.Rate() == rate {
		return
	}
	if err := c.player.SetRate(rate); err != nil {
		c.logger.Error().Err(err).Float64("rate", rate).Msg("rate change failed")
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
