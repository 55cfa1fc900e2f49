package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/room"
)

// ConnectionManager owns the websocket connections and the binding table from
// connection to (room, user). Connections arrive unbound; the join commands
// bind them, and a connection holds at most one binding at a time.
type ConnectionManager struct {
	mu              sync.RWMutex
	roomConnections map[string]map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// onMessage receives every inbound client frame; onDisconnect fires once
	// per connection after its pumps exit, carrying the binding the
	// connection held, since the binding table entry is gone by then.
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection, roomCode, userID string)
}

// Connection represents one websocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Binding, guarded by the manager's lock. Empty until a join command
	// succeeds.
	roomCode string
	userID   string

	ConnectedAt time.Time

	closeOnce sync.Once
}

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

type broadcastMessage struct {
	roomCode string
	event    *room.Event
	// targetUserID restricts delivery to one user's connections;
	// excludeUserID skips one user's connections. At most one is set.
	targetUserID  string
	excludeUserID string
}

// NewConnectionManager creates a websocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetHandlers installs the inbound message and disconnect hooks. Must be
// called before the first upgrade.
func (cm *ConnectionManager) SetHandlers(onMessage func(*Connection, []byte), onDisconnect func(*Connection, string, string)) {
	cm.onMessage = onMessage
	cm.onDisconnect = onDisconnect
}

// Start processes broadcast messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket connection. The
// connection starts unbound; identity is established by the join commands.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return nil, err
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("connection_id", conn.ID).Msg("websocket connection established")
	return conn, nil
}

// Bind associates a connection with a (room, user) pair, replacing any
// previous binding for that connection.
func (cm *ConnectionManager) Bind(conn *Connection, roomCode, userID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.removeBindingLocked(conn)

	conn.roomCode = roomCode
	conn.userID = userID
	if cm.roomConnections[roomCode] == nil {
		cm.roomConnections[roomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomCode][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", roomCode).
		Str("user_id", userID).
		Int("room_connections", len(cm.roomConnections[roomCode])).
		Msg("connection bound")
}

// Binding returns the (room, user) pair a connection is bound to, or ok=false
// when the connection never joined.
func (cm *ConnectionManager) Binding(conn *Connection) (roomCode, userID string, ok bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn.roomCode == "" {
		return "", "", false
	}
	return conn.roomCode, conn.userID, true
}

// removeBindingLocked detaches a connection from its room pool. Caller holds
// the manager lock.
func (cm *ConnectionManager) removeBindingLocked(conn *Connection) {
	if conn.roomCode == "" {
		return
	}
	if connections, ok := cm.roomConnections[conn.roomCode]; ok {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, conn.roomCode)
		}
	}
	conn.roomCode = ""
	conn.userID = ""
}

// dropConnection removes the connection's binding and closes its send
// channel. Safe to call from both pumps; only the first call acts. The
// binding is captured before removal so the disconnect hook still knows who
// the connection was.
func (cm *ConnectionManager) dropConnection(conn *Connection) {
	conn.closeOnce.Do(func() {
		cm.mu.Lock()
		roomCode, userID := conn.roomCode, conn.userID
		cm.removeBindingLocked(conn)
		cm.mu.Unlock()
		close(conn.Send)

		if cm.onDisconnect != nil {
			cm.onDisconnect(conn, roomCode, userID)
		}
		log.Info().Str("connection_id", conn.ID).Msg("connection closed")
	})
}

// Broadcast implements room.Broadcaster.
func (cm *ConnectionManager) Broadcast(roomCode string, ev *room.Event) {
	cm.enqueue(broadcastMessage{roomCode: roomCode, event: ev})
}

// BroadcastToUser implements room.Broadcaster.
func (cm *ConnectionManager) BroadcastToUser(roomCode, userID string, ev *room.Event) {
	cm.enqueue(broadcastMessage{roomCode: roomCode, event: ev, targetUserID: userID})
}

// BroadcastExcept implements room.Broadcaster.
func (cm *ConnectionManager) BroadcastExcept(roomCode, excludeUserID string, ev *room.Event) {
	cm.enqueue(broadcastMessage{roomCode: roomCode, event: ev, excludeUserID: excludeUserID})
}

func (cm *ConnectionManager) enqueue(message broadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("room_code", message.roomCode).
			Str("event_type", string(message.event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// SendEvent writes an event to a single connection, bypassing the room fan
// out. Used for the private join snapshot and error notifications.
func (cm *ConnectionManager) SendEvent(conn *Connection, ev *room.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.dropConnection(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomCode]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	var targets []*Connection
	for conn := range connections {
		if message.targetUserID != "" && conn.userID != message.targetUserID {
			continue
		}
		if message.excludeUserID != "" && conn.userID == message.excludeUserID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.dropConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Str("room_code", message.roomCode).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ConnectionStats reports active connection counts per room.
func (cm *ConnectionManager) ConnectionStats() (total int, rooms map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	rooms = make(map[string]int)
	for code, connections := range cm.roomConnections {
		rooms[code] = len(connections)
		total += len(connections)
	}
	return total, rooms
}

// writePump sends queued messages and keepalive pings to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.dropConnection(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames and hands them to the inbound message hook.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.dropConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		if c.Manager.onMessage != nil {
			c.Manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
