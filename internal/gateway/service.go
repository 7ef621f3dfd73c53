package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/pairing"
	"github.com/lodgevision/signage/internal/registry"
	"github.com/lodgevision/signage/internal/syncgroup"
)

// CoordinatorHooks is what the gateway needs from the sync group
// coordinator: the disconnect signal for implicit leave and conductor
// re-election.
type CoordinatorHooks interface {
	OnDisplayDisconnected(ctx context.Context, displayID, connID string)
}

// Service composes the connection manager with the pairing broker and
// display registry, dispatches inbound frames, and implements the
// coordinator's Broadcaster.
type Service struct {
	manager  *ConnectionManager
	broker   *pairing.Broker
	displays registry.DisplayRegistry
	hooks    CoordinatorHooks
}

// NewService wires the gateway. SetCoordinatorHooks must be called
// before serving if conductor re-election on disconnect is wanted.
func NewService(manager *ConnectionManager, broker *pairing.Broker, displays registry.DisplayRegistry) *Service {
	s := &Service{
		manager:  manager,
		broker:   broker,
		displays: displays,
	}
	manager.SetDisconnectHook(s.handleDisconnect)
	return s
}

// SetCoordinatorHooks installs the coordinator's disconnect handling.
// Separate from the constructor because the coordinator needs the
// gateway as its Broadcaster first.
func (s *Service) SetCoordinatorHooks(hooks CoordinatorHooks) {
	s.hooks = hooks
}

// Run starts broadcast processing until done is closed.
func (s *Service) Run(done <-chan struct{}) {
	s.manager.Run(done)
}

// HandleWS upgrades a request onto the real-time channel.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.Upgrade(w, r, s.handleMessage); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// Stats exposes connection counts.
func (s *Service) Stats() map[string]int {
	return s.manager.Stats()
}

func (s *Service) handleMessage(conn *Connection, msg Message) {
	ctx := context.Background()

	switch msg.Type {
	case MsgDisplayRegister:
		var p RegisterPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.DisplayID == "" {
			log.Warn().Str("conn_id", conn.ID).Msg("invalid display:register payload")
			return
		}
		s.manager.BindDisplay(conn, p.DisplayID)
		if err := s.displays.TouchLastSeen(ctx, p.DisplayID); err != nil {
			log.Warn().Err(err).Str("display_id", p.DisplayID).Msg("failed to update last seen")
		}

	case MsgDisplayHeartbeat:
		var p HeartbeatPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		displayID := p.DisplayID
		if displayID == "" {
			displayID = conn.DisplayID()
		}
		if displayID == "" {
			return
		}
		if err := s.displays.TouchLastSeen(ctx, displayID); err != nil {
			log.Warn().Err(err).Str("display_id", displayID).Msg("failed to update last seen")
		}

	case MsgDisplayRequestPairing:
		rec, err := s.broker.RequestPairing(conn.ID)
		if err != nil {
			log.Error().Err(err).Str("conn_id", conn.ID).Msg("pairing request failed")
			return
		}
		// The code goes back to the requesting socket only.
		s.manager.SendToConn(conn.ID, NewMessage(MsgPairingCode, PairingCodePayload{
			Code:      rec.Code,
			ExpiresAt: rec.ExpiresAt,
		}))

	case MsgSyncJoinGroup:
		var p JoinGroupPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		groupID, err := uuid.Parse(p.GroupID)
		if err != nil {
			log.Warn().Str("conn_id", conn.ID).Str("group_id", p.GroupID).Msg("invalid group id in join")
			return
		}
		if p.DisplayID != "" && conn.DisplayID() == "" {
			s.manager.BindDisplay(conn, p.DisplayID)
		}
		s.manager.JoinGroup(conn, groupID)
		log.Info().Str("conn_id", conn.ID).Str("group_id", p.GroupID).Str("display_id", p.DisplayID).Msg("joined sync group")

	case MsgSyncLeaveGroup:
		var p LeaveGroupPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		groupID, err := uuid.Parse(p.GroupID)
		if err != nil {
			return
		}
		s.manager.LeaveGroup(conn, groupID)

	default:
		log.Debug().Str("conn_id", conn.ID).Str("msg_type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (s *Service) handleDisconnect(displayID, connID string) {
	if s.hooks != nil {
		s.hooks.OnDisplayDisconnected(context.Background(), displayID, connID)
	}
}

// ConfirmPairing consumes a pairing code and notifies the socket that
// requested it. The confirmation targets the stored connection id, not
// the display id, because the display had no identity before pairing.
func (s *Service) ConfirmPairing(ctx context.Context, code, displayID string) error {
	rec, err := s.broker.ConfirmPairing(ctx, code, displayID)
	if err != nil {
		return err
	}
	s.manager.SendToConn(rec.ConnID, NewMessage(MsgPairingConfirmed, PairingConfirmedPayload{
		DisplayID: displayID,
	}))
	return nil
}

// NotifyDisplays pushes a refresh-style notification to the given displays.
func (s *Service) NotifyDisplays(displayIDs []string, msgType string, payload any) {
	s.manager.SendToDisplays(displayIDs, NewMessage(msgType, payload))
}

// NotifyAll pushes a notification to every connection.
func (s *Service) NotifyAll(msgType string, payload any) {
	s.manager.Broadcast(NewMessage(msgType, payload))
}

// SendDisplayCommand pushes a generic remote-control verb to one display.
func (s *Service) SendDisplayCommand(displayID string, cmd DisplayCommandPayload) {
	s.manager.SendToDisplays([]string{displayID}, NewMessage(MsgDisplayCommand, cmd))
}

// QuickPlay pushes an ad-hoc URL to one display, bypassing the resolver.
func (s *Service) QuickPlay(displayID string, p QuickPlayPayload) {
	s.manager.SendToDisplays([]string{displayID}, NewMessage(MsgQuickPlay, p))
}

// Broadcaster implementation for the coordinator.

var _ syncgroup.Broadcaster = (*Service)(nil)

// BroadcastTick fans a tick out to every member display socket and
// group subscriber.
func (s *Service) BroadcastTick(groupID uuid.UUID, displayIDs []string, tick syncgroup.Tick) {
	s.manager.SendToGroupDisplays(groupID, displayIDs, NewMessage(MsgSyncTick, tick))
}

// BroadcastCommand fans a playback command out to the group.
func (s *Service) BroadcastCommand(groupID uuid.UUID, displayIDs []string, cmd syncgroup.Command) {
	s.manager.SendToGroupDisplays(groupID, displayIDs, NewMessage(MsgSyncCommand, cmd))
}

// BroadcastConductorChanged announces the new conductor to the group.
func (s *Service) BroadcastConductorChanged(groupID uuid.UUID, displayIDs []string, conductorID string) {
	s.manager.SendToGroupDisplays(groupID, displayIDs, NewMessage(MsgSyncConductorChanged, ConductorChangedPayload{
		GroupID:        groupID.String(),
		NewConductorID: conductorID,
	}))
}

// ConnectedMembers reports which of the given displays have a live socket.
func (s *Service) ConnectedMembers(displayIDs []string) []syncgroup.MemberConn {
	conns := s.manager.ConnectedDisplayConns(displayIDs)
	out := make([]syncgroup.MemberConn, 0, len(conns))
	for _, dc := range conns {
		out = append(out, syncgroup.MemberConn{DisplayID: dc.DisplayID, ConnID: dc.ConnID})
	}
	return out
}
