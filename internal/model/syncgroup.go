package model

import (
	"time"

	"github.com/google/uuid"
)

// PlaybackState is the coordinator-tracked playback state of a sync group.
type PlaybackState string

const (
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

// SyncGroup is the authoritative playback state for a set of displays.
// State is in-memory only and rebuilt from scratch on restart.
type SyncGroup struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	DisplayIDs []string  `json:"display_ids"`

	// ConductorID, if set, is always a current member of DisplayIDs.
	ConductorID     *string `json:"conductor_id,omitempty"`
	ConductorConnID *string `json:"conductor_conn_id,omitempty"`

	CurrentContentID *string       `json:"current_content_id,omitempty"`
	PlaybackState    PlaybackState `json:"playback_state"`

	// CurrentTime is the play-head position in seconds as of the last
	// mutation. While playing, the live position is CurrentTime plus the
	// elapsed time since StartedAt.
	CurrentTime float64    `json:"current_time"`
	StartedAt   *time.Time `json:"started_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMember reports whether displayID belongs to the group.
func (g *SyncGroup) HasMember(displayID string) bool {
	for _, id := range g.DisplayIDs {
		if id == displayID {
			return true
		}
	}
	return false
}

// PositionAt returns the authoritative play-head position at now.
func (g *SyncGroup) PositionAt(now time.Time) float64 {
	if g.PlaybackState == PlaybackPlaying && g.StartedAt != nil {
		return g.CurrentTime + now.Sub(*g.StartedAt).Seconds()
	}
	return g.CurrentTime
}

// Clone returns a deep copy so callers can never mutate stored state.
func (g *SyncGroup) Clone() *SyncGroup {
	c := *g
	c.DisplayIDs = append([]string(nil), g.DisplayIDs...)
	c.ConductorID = cloneString(g.ConductorID)
	c.ConductorConnID = cloneString(g.ConductorConnID)
	c.CurrentContentID = cloneString(g.CurrentContentID)
	c.StartedAt = cloneTime(g.StartedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
