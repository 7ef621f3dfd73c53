package gateway

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every frame on the real-time channel.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message kinds carried by the real-time channel.
const (
	// Inbound from displays.
	MsgDisplayRegister       = "display:register"
	MsgDisplayHeartbeat      = "display:heartbeat"
	MsgDisplayRequestPairing = "display:request-pairing"
	MsgSyncJoinGroup         = "sync:join-group"
	MsgSyncLeaveGroup        = "sync:leave-group"

	// Outbound to displays.
	MsgPairingCode          = "pairing:code"
	MsgPairingConfirmed     = "pairing:confirmed"
	MsgSyncTick             = "sync:tick"
	MsgSyncCommand          = "sync:command"
	MsgSyncConductorChanged = "sync:conductor-changed"
	MsgAlertActivated       = "alert:activated"
	MsgAlertDeactivated     = "alert:deactivated"
	MsgScheduleActivated    = "schedule:activated"
	MsgScheduleEnded        = "schedule:ended"
	MsgPlaylistUpdated      = "playlist:updated"
	MsgContentRefresh       = "content:refresh"
	MsgDisplayCommand       = "display:command"
	MsgQuickPlay            = "quick-play"
)

// NewMessage marshals a payload into an envelope. Marshal failures are
// programming errors on our own payload types, so they panic.
func NewMessage(msgType string, payload any) Message {
	if payload == nil {
		return Message{Type: msgType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic("gateway: unmarshalable payload for " + msgType)
	}
	return Message{Type: msgType, Data: data}
}

// RegisterPayload identifies a display on its connection.
type RegisterPayload struct {
	DisplayID string `json:"display_id"`
}

// HeartbeatPayload reports display liveness.
type HeartbeatPayload struct {
	DisplayID string `json:"display_id"`
}

// JoinGroupPayload subscribes a display connection to a group's ticks.
type JoinGroupPayload struct {
	GroupID   string `json:"group_id"`
	DisplayID string `json:"display_id"`
}

// LeaveGroupPayload unsubscribes a display connection from a group.
type LeaveGroupPayload struct {
	GroupID   string `json:"group_id"`
	DisplayID string `json:"display_id"`
}

// PairingCodePayload delivers a fresh pairing code to one connection.
type PairingCodePayload struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PairingConfirmedPayload tells the paired connection its new identity.
type PairingConfirmedPayload struct {
	DisplayID string `json:"display_id"`
}

// ConductorChangedPayload announces a (re-)elected conductor. An empty
// NewConductorID means the group currently has none.
type ConductorChangedPayload struct {
	GroupID        string `json:"group_id"`
	NewConductorID string `json:"new_conductor_id"`
}

// DisplayCommandPayload is a generic remote-control verb for one display.
type DisplayCommandPayload struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QuickPlayPayload pushes an ad-hoc URL directly to a display,
// bypassing the resolver.
type QuickPlayPayload struct {
	URL         string `json:"url"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Loop        bool   `json:"loop,omitempty"`
}

// RefreshPayload asks affected displays to re-resolve their source.
type RefreshPayload struct {
	Reason string `json:"reason,omitempty"`
}
