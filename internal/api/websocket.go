package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue. Events for a
	// client whose queue is full are dropped and counted.
	wsSendBufferSize = 256
)

// Event channels a client can subscribe to.
const (
	// ChannelDeviceState carries every StateMessage the bridge publishes,
	// including stale markers for devices that stopped answering.
	ChannelDeviceState = "device.state_changed"

	// ChannelDeviceAction carries the outcome of power actions sent
	// through the REST API.
	ChannelDeviceAction = "device.action"
)

var knownChannels = map[string]struct{}{
	ChannelDeviceState:  {},
	ChannelDeviceAction: {},
}

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
//
// Devices narrows device events to the listed ids, as they appear in the
// event's device_id. A client that never names a device receives events
// for all of them.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

var errBadSubscription = errors.New("invalid subscription payload")

// Hub fans bridge events out to WebSocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// WSClient is one WebSocket connection and its subscriptions.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	devices       map[string]struct{} // nil means every device
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware has already vetted the origin.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub. Run closes its clients on shutdown.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its queue. Repeated calls are
// harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// BroadcastDevice sends a channel event about one device. Clients that
// narrowed their subscription to other devices do not receive it.
func (h *Hub) BroadcastDevice(channel, deviceID string, payload any) {
	h.publish(channel, deviceID, payload)
}

// BroadcastState relays a bridge state publication to subscribers of
// ChannelDeviceState. It has the signature Bridge.SetOnStateChange expects.
func (h *Hub) BroadcastState(msg ipmibridge.StateMessage) {
	h.publish(ChannelDeviceState, msg.DeviceID, msg)
}

func (h *Hub) publish(channel, deviceID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	// Client locks are never taken while the hub lock is held.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if !c.wants(channel, deviceID) {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			h.dropped.Add(1)
		}
	}
	if delivered > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "device_id", deviceID, "recipients", delivered)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client's queue
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// wants reports whether the client subscribed to channel and, for device
// events, to deviceID.
func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.subscriptions[channel]; !ok {
		return false
	}
	if deviceID == "" || c.devices == nil {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// enqueue queues data without blocking. It returns false if the client
// is gone or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue once so writePump exits.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) subscribe(sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	if len(sub.Devices) > 0 {
		if c.devices == nil {
			c.devices = make(map[string]struct{}, len(sub.Devices))
		}
		for _, id := range sub.Devices {
			c.devices[id] = struct{}{}
		}
	}
}

func (c *WSClient) unsubscribe(sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	for _, id := range sub.Devices {
		delete(c.devices, id)
	}
}

// handleWebSocket upgrades the connection and starts its pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Dashboards that ignore protocol pings stay connected by talking.
		extend() //nolint:errcheck // as above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error follows
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		sub, err := decodeSubscription(msg.Payload)
		if err != nil {
			c.sendError(msg.ID, err.Error())
			return
		}
		for _, ch := range sub.Channels {
			if _, ok := knownChannels[ch]; !ok {
				c.sendError(msg.ID, "unknown channel: "+ch)
				return
			}
		}
		c.subscribe(sub)
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "devices", sub.Devices)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "devices": sub.Devices})

	case WSTypeUnsubscribe:
		sub, err := decodeSubscription(msg.Payload)
		if err != nil {
			c.sendError(msg.ID, err.Error())
			return
		}
		c.unsubscribe(sub)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels, "devices": sub.Devices})

	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)

	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeSubscription converts the generic payload of a decoded frame.
func decodeSubscription(payload any) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return sub, errBadSubscription
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, errBadSubscription
	}
	return sub, nil
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
