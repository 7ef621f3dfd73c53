package syncgroup

import (
	"context"

	"github.com/google/uuid"

	"github.com/lodgevision/signage/internal/model"
)

// Tick is the periodic authoritative play-head snapshot broadcast to
// every member of a playing group. ServerTime is the send instant in
// epoch milliseconds so clients can estimate clock offset.
type Tick struct {
	GroupID       string              `json:"group_id"`
	ContentID     string              `json:"content_id"`
	CurrentTime   float64             `json:"current_time"`
	ServerTime    int64               `json:"server_time"`
	PlaybackState model.PlaybackState `json:"playback_state"`
}

// CommandType is a direct playback control verb.
type CommandType string

const (
	CommandPlay  CommandType = "play"
	CommandPause CommandType = "pause"
	CommandSeek  CommandType = "seek"
	CommandStop  CommandType = "stop"
)

// Command is a playback-control verb pushed to group members. Unlike
// ticks, commands are applied immediately by clients without drift math.
type Command struct {
	Type       CommandType `json:"type"`
	GroupID    string      `json:"group_id"`
	ContentID  *string     `json:"content_id,omitempty"`
	SeekTo     *float64    `json:"seek_to,omitempty"`
	ServerTime int64       `json:"server_time"`
}

// MemberConn identifies a live connection belonging to a group member.
type MemberConn struct {
	DisplayID string
	ConnID    string
}

// Broadcaster is the transport-side fan-out the coordinator drives.
// Delivery targets every socket currently mapped to a member display.
// Implementations must isolate per-connection failures: a dead socket
// never blocks or aborts delivery to other members.
type Broadcaster interface {
	BroadcastTick(groupID uuid.UUID, displayIDs []string, tick Tick)
	BroadcastCommand(groupID uuid.UUID, displayIDs []string, cmd Command)
	BroadcastConductorChanged(groupID uuid.UUID, displayIDs []string, conductorID string)
	// ConnectedMembers returns the live connections of the given
	// displays, used for conductor election.
	ConnectedMembers(displayIDs []string) []MemberConn
}

// EventSink receives the coordinator's domain events for the
// persistence and analytics layers.
type EventSink interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// Domain event types emitted by the coordinator.
const (
	EventGroupCreated     = "sync.group.created"
	EventGroupUpdated     = "sync.group.updated"
	EventGroupDeleted     = "sync.group.deleted"
	EventPlaybackStarted  = "sync.playback.started"
	EventPlaybackPaused   = "sync.playback.paused"
	EventPlaybackResumed  = "sync.playback.resumed"
	EventPlaybackSeeked   = "sync.playback.seeked"
	EventPlaybackStopped  = "sync.playback.stopped"
	EventConductorChanged = "sync.conductor.changed"
)
