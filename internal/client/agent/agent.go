// Package agent runs the display-side connection lifecycle: it dials
// the gateway, registers the display, feeds ticks and commands to the
// drift controller, and drains the offline queue after every reconnect.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lodgevision/signage/internal/client/drift"
	"github.com/lodgevision/signage/internal/client/offline"
	"github.com/lodgevision/signage/internal/gateway"
	"github.com/lodgevision/signage/internal/syncgroup"
)

// Config holds the agent's connection settings.
type Config struct {
	ServerURL         string
	DisplayID         string
	GroupID           string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

// DefaultConfig returns the connection settings used in production.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectMin:      time.Second,
		ReconnectMax:      30 * time.Second,
	}
}

// RefreshFunc is invoked when the server asks the display to
// re-resolve its content source.
type RefreshFunc func(reason string)

// Agent owns one websocket connection to the gateway and the local
// state that must survive its loss.
type Agent struct {
	cfg        Config
	controller *drift.Controller
	queue      *offline.Queue
	onRefresh  RefreshFunc
	logger     zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	pingSentAt time.Time
}

// New creates an agent. queue and onRefresh may be nil.
func New(cfg Config, controller *drift.Controller, queue *offline.Queue, onRefresh RefreshFunc, logger zerolog.Logger) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Agent{
		cfg:        cfg,
		controller: controller,
		queue:      queue,
		onRefresh:  onRefresh,
		logger:     logger,
	}
}

// Run connects and keeps reconnecting with capped exponential backoff
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	backoff := a.cfg.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn().Err(err).Dur("backoff", backoff).Msg("connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// A session that held for a while resets the backoff.
		if time.Since(start) > time.Minute {
			backoff = a.cfg.ReconnectMin
		} else if backoff *= 2; backoff > a.cfg.ReconnectMax {
			backoff = a.cfg.ReconnectMax
		}
	}
}

// runOnce dials, registers, and serves one connection until it drops.
func (a *Agent) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.ServerURL, err)
	}
	defer conn.Close()

	a.setConn(conn)
	defer a.setConn(nil)

	// Pong timing measures the transport round trip and feeds the
	// controller's one-way latency correction.
	conn.SetPongHandler(func(string) error {
		a.mu.Lock()
		sent := a.pingSentAt
		a.mu.Unlock()
		if !sent.IsZero() {
			a.controller.SetRTTEstimate(time.Since(sent))
		}
		return nil
	})

	if err := a.send(gateway.NewMessage(gateway.MsgDisplayRegister, gateway.RegisterPayload{
		DisplayID: a.cfg.DisplayID,
	})); err != nil {
		return fmt.Errorf("register display: %w", err)
	}
	if a.cfg.GroupID != "" {
		a.controller.JoinGroup(a.cfg.GroupID)
		if err := a.send(gateway.NewMessage(gateway.MsgSyncJoinGroup, gateway.JoinGroupPayload{
			GroupID:   a.cfg.GroupID,
			DisplayID: a.cfg.DisplayID,
		})); err != nil {
			return fmt.Errorf("join group: %w", err)
		}
	}
	a.logger.Info().Str("display_id", a.cfg.DisplayID).Msg("connected to gateway")

	a.drainQueue(ctx)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.heartbeatLoop(sessionCtx)

	for {
		var msg gateway.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		a.dispatch(msg)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	// First ping right away so the latency estimate does not wait a
	// full heartbeat interval.
	if err := a.ping(); err != nil {
		a.logger.Warn().Err(err).Msg("ping failed")
		return
	}

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := gateway.NewMessage(gateway.MsgDisplayHeartbeat, gateway.HeartbeatPayload{
				DisplayID: a.cfg.DisplayID,
			})
			if err := a.send(msg); err != nil {
				a.logger.Warn().Err(err).Msg("heartbeat failed")
				return
			}
			if err := a.ping(); err != nil {
				a.logger.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (a *Agent) ping() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	a.pingSentAt = time.Now()
	return a.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.cfg.WriteTimeout))
}

func (a *Agent) dispatch(msg gateway.Message) {
	switch msg.Type {
	case gateway.MsgSyncTick:
		var tick syncgroup.Tick
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			a.logger.Error().Err(err).Msg("malformed tick")
			return
		}
		a.controller.HandleTick(tick)

	case gateway.MsgSyncCommand:
		var cmd syncgroup.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			a.logger.Error().Err(err).Msg("malformed command")
			return
		}
		a.controller.HandleCommand(cmd)

	case gateway.MsgSyncConductorChanged:
		var p gateway.ConductorChangedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		a.logger.Info().Str("group_id", p.GroupID).Str("conductor_id", p.NewConductorID).
			Msg("conductor changed")

	case gateway.MsgPairingConfirmed:
		var p gateway.PairingConfirmedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		a.logger.Info().Str("display_id", p.DisplayID).Msg("pairing confirmed")

	case gateway.MsgAlertActivated, gateway.MsgAlertDeactivated,
		gateway.MsgScheduleActivated, gateway.MsgScheduleEnded,
		gateway.MsgPlaylistUpdated, gateway.MsgContentRefresh:
		a.refresh(msg)

	case gateway.MsgQuickPlay, gateway.MsgDisplayCommand:
		a.refresh(msg)

	default:
		a.logger.Debug().Str("type", msg.Type).Msg("ignoring message")
	}
}

func (a *Agent) refresh(msg gateway.Message) {
	if a.onRefresh == nil {
		return
	}
	var p gateway.RefreshPayload
	_ = json.Unmarshal(msg.Data, &p)
	reason := p.Reason
	if reason == "" {
		reason = msg.Type
	}
	a.onRefresh(reason)
}

// ReportEvent sends an event to the server, or queues it when the
// connection is down. Queued events are replayed on reconnect.
func (a *Agent) ReportEvent(ctx context.Context, eventType string, payload []byte) error {
	msg := gateway.Message{Type: eventType, Data: payload}
	if err := a.send(msg); err == nil {
		return nil
	}
	if a.queue == nil {
		return fmt.Errorf("offline and no queue configured")
	}
	return a.queue.Enqueue(ctx, eventType, payload)
}

// drainQueue replays events persisted while offline. Delivery stops at
// the first failure; whatever remains is retried next reconnect.
func (a *Agent) drainQueue(ctx context.Context) {
	if a.queue == nil || a.queue.PendingCount() == 0 {
		return
	}
	processed, remaining, err := a.queue.ProcessQueue(ctx, func(ctx context.Context, ev offline.Event) error {
		return a.send(gateway.Message{Type: ev.Type, Data: ev.Payload})
	})
	evt := a.logger.Info()
	if err != nil {
		evt = a.logger.Warn().Err(err)
	}
	evt.Int("processed", processed).Int("remaining", remaining).Msg("offline queue drained")
}

func (a *Agent) send(msg gateway.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	return a.conn.WriteJSON(msg)
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}
