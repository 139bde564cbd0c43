package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/auth"
	"github.com/mcdev12/olympia/go/internal/broadcast"
)

// Hub manages WebSocket connections grouped into rooms. Every room delivery
// goes through one loop so events reach clients in emission order.
type Hub struct {
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan delivery
	dispatch    func(ctx context.Context, c *Connection, frame []byte) []byte
}

// Connection is one authenticated WebSocket client.
type Connection struct {
	ID        string
	Principal *auth.Principal
	MatchID   uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte

	hub   *Hub
	rooms []string

	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	QueueSize       int           `yaml:"queue_size"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

type delivery struct {
	room  string
	event *broadcast.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		CommandTimeout:  10 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		QueueSize:       4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates a hub. Start must run for emissions to be delivered.
func NewHub(config ConnectionConfig) *Hub {
	defaults := DefaultConnectionConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaults.CommandTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}
	return &Hub{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan delivery, config.QueueSize),
	}
}

// Start delivers emissions until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("gateway hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway hub shutting down")
			return
		case d := <-h.broadcastCh:
			h.handleBroadcast(d)
		}
	}
}

// Emit implements broadcast.Emitter. It never blocks the caller; when the
// queue is full the event is dropped.
func (h *Hub) Emit(room string, event *broadcast.Event) {
	select {
	case h.broadcastCh <- delivery{room: room, event: event}:
	default:
		log.Warn().
			Str("room", room).
			Str("event_type", string(event.Type)).
			Msg("broadcast queue full, dropping event")
	}
}

// upgrade turns an authenticated request into a connection joined to rooms.
func (h *Hub) upgrade(w http.ResponseWriter, r *http.Request, p *auth.Principal, matchID uuid.UUID, rooms []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Principal:   p,
		MatchID:     matchID,
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBufferSize),
		hub:         h,
		rooms:       rooms,
		ConnectedAt: time.Now(),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("role", string(p.Role)).
		Str("subject", p.Subject.String()).
		Str("match_id", matchID.String()).
		Strs("rooms", rooms).
		Msg("WebSocket connection established")
	return nil
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Connection]bool)
		}
		h.rooms[room][c] = true
	}
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	removed := false
	for _, room := range c.rooms {
		members, ok := h.rooms[room]
		if !ok || !members[c] {
			continue
		}
		delete(members, c)
		removed = true
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.close()
	if removed {
		log.Info().
			Str("connection_id", c.ID).
			Str("match_id", c.MatchID.String()).
			Msg("connection unregistered")
	}
}

func (h *Hub) handleBroadcast(d delivery) {
	h.mu.RLock()
	members := h.rooms[d.room]
	targets := make([]*Connection, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(d.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, c := range targets {
		if !c.send(data) {
			log.Warn().
				Str("connection_id", c.ID).
				Str("room", d.room).
				Msg("connection send buffer full, closing connection")
			h.unregister(c)
			c.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(d.event.Type)).
		Str("room", d.room).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats is a snapshot of connection counts.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	Rooms            map[string]int `json:"rooms"`
}

// Stats returns connection counts per room.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Connection]bool)
	rooms := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		rooms[room] = len(members)
		for c := range members {
			seen[c] = true
		}
	}
	return Stats{TotalConnections: len(seen), Rooms: rooms}
}

func (c *Connection) send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames and answers each with an ack. Frames from
// one connection are handled in order.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.hub.dispatch != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.CommandTimeout)
			ack := c.hub.dispatch(ctx, c, message)
			cancel()
			if ack != nil && !c.send(ack) {
				log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping ack")
			}
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
