// Package gateway carries the real-time channel: one persistent
// websocket per display or admin client, tick/command fan-out and
// resolver refresh notifications.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns every live websocket connection, indexed by
// connection id, by registered display id and by joined sync group.
type ConnectionManager struct {
	mu           sync.RWMutex
	conns        map[string]*Connection
	displayConns map[string]map[*Connection]bool
	groupConns   map[uuid.UUID]map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastJob

	// onDisconnect fires after a connection is unregistered, giving the
	// coordinator its implicit-leave and conductor re-election signal.
	onDisconnect func(displayID, connID string)
}

// Connection represents one websocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	mu        sync.Mutex
	displayID string
	groups    map[uuid.UUID]bool
	closed    bool
}

// enqueue queues data for the write pump. It reports false once the
// connection is unregistered or when the slow-consumer buffer is full,
// so a concurrent unregister can never race a send onto a closed
// channel.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// DisplayID returns the display identity bound via display:register,
// or "" for anonymous/admin connections.
func (c *Connection) DisplayID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayID
}

// ConnectionConfig holds websocket transport settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default transport settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type broadcastTarget int

const (
	targetDisplays broadcastTarget = iota
	targetGroup
	targetConn
	targetAll
)

type broadcastJob struct {
	target     broadcastTarget
	displayIDs []string
	groupID    uuid.UUID
	connID     string
	msg        Message
}

// NewConnectionManager creates a manager; Run must be started before
// any broadcast is delivered.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns:        make(map[string]*Connection),
		displayConns: make(map[string]map[*Connection]bool),
		groupConns:   make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastJob, 1000),
	}
}

// SetDisconnectHook installs the disconnect callback. Must be called
// before connections are accepted.
func (cm *ConnectionManager) SetDisconnectHook(hook func(displayID, connID string)) {
	cm.onDisconnect = hook
}

// Run processes queued broadcasts until done is closed.
func (cm *ConnectionManager) Run(done <-chan struct{}) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-done:
			log.Info().Msg("connection manager shutting down")
			return
		case job := <-cm.broadcastCh:
			cm.deliver(job)
		}
	}
}

// Upgrade turns an HTTP request into a managed websocket connection.
// Inbound frames are dispatched to the given handler.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, inbound func(*Connection, Message)) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		groups:      make(map[uuid.UUID]bool),
	}

	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()

	go conn.writePump()
	go conn.readPump(inbound)

	log.Info().Str("conn_id", conn.ID).Str("remote", r.RemoteAddr).Msg("websocket connection established")
	return conn, nil
}

// BindDisplay maps a connection to a display identity.
func (cm *ConnectionManager) BindDisplay(conn *Connection, displayID string) {
	conn.mu.Lock()
	old := conn.displayID
	conn.displayID = displayID
	conn.mu.Unlock()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if old != "" {
		cm.removeFromIndex(cm.displayConns, old, conn)
	}
	if cm.displayConns[displayID] == nil {
		cm.displayConns[displayID] = make(map[*Connection]bool)
	}
	cm.displayConns[displayID][conn] = true

	log.Info().Str("conn_id", conn.ID).Str("display_id", displayID).Msg("display registered")
}

// JoinGroup subscribes a connection to a group's broadcasts.
func (cm *ConnectionManager) JoinGroup(conn *Connection, groupID uuid.UUID) {
	conn.mu.Lock()
	conn.groups[groupID] = true
	conn.mu.Unlock()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.groupConns[groupID] == nil {
		cm.groupConns[groupID] = make(map[*Connection]bool)
	}
	cm.groupConns[groupID][conn] = true
}

// LeaveGroup unsubscribes a connection from a group.
func (cm *ConnectionManager) LeaveGroup(conn *Connection, groupID uuid.UUID) {
	conn.mu.Lock()
	delete(conn.groups, groupID)
	conn.mu.Unlock()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conns, ok := cm.groupConns[groupID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.groupConns, groupID)
		}
	}
}

// unregister removes a connection from every index. Releasing the
// connection is the implicit leave for any joined group, so ticks are
// never wasted on dead sockets.
func (cm *ConnectionManager) unregister(conn *Connection) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	close(conn.Send)
	displayID := conn.displayID
	conn.mu.Unlock()

	cm.mu.Lock()
	delete(cm.conns, conn.ID)
	if displayID != "" {
		cm.removeFromIndex(cm.displayConns, displayID, conn)
	}
	for groupID, conns := range cm.groupConns {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.groupConns, groupID)
		}
	}
	cm.mu.Unlock()

	log.Info().Str("conn_id", conn.ID).Str("display_id", displayID).Msg("connection unregistered")
	if cm.onDisconnect != nil {
		cm.onDisconnect(displayID, conn.ID)
	}
}

func (cm *ConnectionManager) removeFromIndex(index map[string]map[*Connection]bool, key string, conn *Connection) {
	if conns, ok := index[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(index, key)
		}
	}
}

// SendToDisplays queues a message for every socket of the given displays.
func (cm *ConnectionManager) SendToDisplays(displayIDs []string, msg Message) {
	cm.enqueue(broadcastJob{target: targetDisplays, displayIDs: displayIDs, msg: msg})
}

// SendToGroupDisplays queues a message for every socket of the given
// member displays plus any explicit subscribers of the group.
func (cm *ConnectionManager) SendToGroupDisplays(groupID uuid.UUID, displayIDs []string, msg Message) {
	cm.enqueue(broadcastJob{target: targetDisplays, groupID: groupID, displayIDs: displayIDs, msg: msg})
}

// SendToGroup queues a message for every subscriber of a group.
func (cm *ConnectionManager) SendToGroup(groupID uuid.UUID, msg Message) {
	cm.enqueue(broadcastJob{target: targetGroup, groupID: groupID, msg: msg})
}

// SendToConn queues a message for one connection by id.
func (cm *ConnectionManager) SendToConn(connID string, msg Message) {
	cm.enqueue(broadcastJob{target: targetConn, connID: connID, msg: msg})
}

// Broadcast queues a message for every live connection.
func (cm *ConnectionManager) Broadcast(msg Message) {
	cm.enqueue(broadcastJob{target: targetAll, msg: msg})
}

func (cm *ConnectionManager) enqueue(job broadcastJob) {
	select {
	case cm.broadcastCh <- job:
	default:
		log.Warn().Str("msg_type", job.msg.Type).Msg("broadcast channel full, dropping message")
	}
}

// deliver fans a job out to its target connections. Per-connection
// sends are isolated: a slow or dead member is evicted, never retried,
// and never blocks the rest of the fan-out.
func (cm *ConnectionManager) deliver(job broadcastJob) {
	cm.mu.RLock()
	var targets []*Connection
	switch job.target {
	case targetDisplays:
		seen := make(map[*Connection]bool)
		for _, displayID := range job.displayIDs {
			for conn := range cm.displayConns[displayID] {
				seen[conn] = true
			}
		}
		// Explicit group subscribers (admin monitors) ride along when the
		// job is addressed through a group; the map dedupes member
		// displays that also joined explicitly.
		if job.groupID != uuid.Nil {
			for conn := range cm.groupConns[job.groupID] {
				seen[conn] = true
			}
		}
		for conn := range seen {
			targets = append(targets, conn)
		}
	case targetGroup:
		for conn := range cm.groupConns[job.groupID] {
			targets = append(targets, conn)
		}
	case targetConn:
		if conn, ok := cm.conns[job.connID]; ok {
			targets = append(targets, conn)
		}
	case targetAll:
		for _, conn := range cm.conns {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(job.msg)
	if err != nil {
		log.Error().Err(err).Str("msg_type", job.msg.Type).Msg("failed to marshal broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(data) {
			log.Warn().Str("conn_id", conn.ID).Str("msg_type", job.msg.Type).Msg("send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// ConnectedDisplayConns returns one live connection id per connected
// display among displayIDs, preserving the input order.
func (cm *ConnectionManager) ConnectedDisplayConns(displayIDs []string) []DisplayConn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var out []DisplayConn
	for _, displayID := range displayIDs {
		for conn := range cm.displayConns[displayID] {
			out = append(out, DisplayConn{DisplayID: displayID, ConnID: conn.ID})
			break
		}
	}
	return out
}

// DisplayConn pairs a display id with one of its live connection ids.
type DisplayConn struct {
	DisplayID string
	ConnID    string
}

// Stats returns connection counts for the health endpoint.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return map[string]int{
		"total_connections":  len(cm.conns),
		"connected_displays": len(cm.displayConns),
		"joined_groups":      len(cm.groupConns),
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads inbound frames and dispatches them to the handler.
func (c *Connection) readPump(inbound func(*Connection, Message)) {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("conn_id", c.ID).Msg("dropping malformed frame")
			continue
		}
		if inbound != nil {
			inbound(c, msg)
		}
	}
}
