package ws

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"
	"roomcast/internal/relay"
	"roomcast/internal/session"
	"sync"
	"sync/atomic"
	"time"
)

const (
	pingPeriod     = (60 * 9 * time.Second) / 10
	pongWait       = 10 * time.Second
	sessionTimeout = 2 * time.Second
)

const (
	TypeCreateRoom = "createRoom"
	TypeJoinRoom   = "joinRoom"
	TypeLeaveRoom  = "leaveRoom"
	TypeChat       = "chat"
)

// Message is the envelope of every frame, in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	ID          relay.ConnID
	Conn        *websocket.Conn
	Manager     *Manager
	connectedAt time.Time
	send        chan relay.Event
	limiter     *rate.Limiter
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	// overflowed is set by the first Deliver that finds the queue full.
	overflowed atomic.Bool
}

func NewClient(conn *websocket.Conn, manager *Manager) *Client {
	ctx, cancel := context.WithCancel(manager.ctx)
	conn.SetReadLimit(manager.opts.MaxMessageSize)
	return &Client{
		Conn:        conn,
		Manager:     manager,
		connectedAt: time.Now(),
		send:        make(chan relay.Event, manager.opts.SendBufferSize),
		limiter:     rate.NewLimiter(manager.opts.RateLimit, manager.opts.RateBurst),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start admits the client into the relay and runs its pumps.
func (c *Client) Start() {
	conns := c.Manager.relay.Conns
	c.ID = conns.NewID()
	conns.AdmitAs(c.ID, c)
	if !c.Manager.add(c) {
		conns.Remove(c.ID)
		c.Close()
		return
	}
	c.syncSession()
	go c.readPump()
	go c.writePump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if err := c.Conn.Close(websocket.StatusNormalClosure, "bye :P"); err != nil {
			c.Manager.logger.Debug("failed to close connection", "clientID", c.ID, "error", err)
		}
		c.cancel()
	})
}

// abort tears the connection down without a close handshake, for peers
// that stopped reading.
func (c *Client) abort() {
	c.cancel()
	c.closeOnce.Do(func() {
		if err := c.Conn.CloseNow(); err != nil {
			c.Manager.logger.Debug("failed to close connection", "clientID", c.ID, "error", err)
		}
	})
}

// Deliver implements relay.Peer. A client that cannot keep up is dropped
// rather than allowed to stall the room.
func (c *Client) Deliver(ev relay.Event) {
	if c.overflowed.Load() {
		return
	}
	select {
	case <-c.ctx.Done():
	case c.send <- ev:
	default:
		if c.overflowed.CompareAndSwap(false, true) {
			go c.Manager.forceDisconnect(c)
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Close()
		c.dropSession()
	}()

	for {
		_, data, err := c.Conn.Read(c.ctx)
		if err != nil {
			if isExpectedClose(err) {
				c.Manager.logger.Debug("client closed connection", "clientID", c.ID)
			} else {
				c.Manager.logger.Warn("failed to read message", "clientID", c.ID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.Manager.logger.Warn("rate limit exceeded, dropping message", "clientID", c.ID)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Manager.logger.Warn("failed to unmarshal message", "clientID", c.ID, "error", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case ev := <-c.send:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				c.Manager.logger.Error("failed to marshal event", "clientID", c.ID, "type", ev.Type, "error", err)
				continue
			}
			if err := wsjson.Write(c.ctx, c.Conn, Message{Type: string(ev.Type), Data: data}); err != nil {
				c.Manager.logger.Debug("failed to write message", "clientID", c.ID, "error", err)
				return
			}
			c.Manager.logger.Debug("message sent", "clientID", c.ID, "type", ev.Type)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, pongWait)
			err := c.Conn.Ping(ctx)
			cancel()
			if err != nil {
				c.Manager.logger.Debug("failed to ping client", "clientID", c.ID, "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	rooms := c.Manager.relay.Rooms

	switch msg.Type {
	case TypeCreateRoom:
		if name, ok := c.roomName(msg); ok {
			c.afterRoomOp(msg.Type, rooms.Create(name, c.ID))
		}
	case TypeJoinRoom:
		if name, ok := c.roomName(msg); ok {
			c.afterRoomOp(msg.Type, rooms.Join(name, c.ID))
		}
	case TypeLeaveRoom:
		if name, ok := c.roomName(msg); ok {
			rooms.Leave(name, c.ID)
			c.syncSession()
		}
	case TypeChat:
		var target struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(msg.Data, &target); err != nil {
			c.Manager.logger.Warn("failed to unmarshal chat payload", "clientID", c.ID, "error", err)
			return
		}
		c.Manager.relay.Dispatcher.Relay(target.Room, msg.Data)
	default:
		c.Manager.logger.Debug("received unknown type message", "clientID", c.ID, "type", msg.Type)
	}
}

func (c *Client) roomName(msg Message) (string, bool) {
	var name string
	if err := json.Unmarshal(msg.Data, &name); err != nil {
		c.Manager.logger.Warn("failed to unmarshal room name", "clientID", c.ID, "type", msg.Type, "error", err)
		return "", false
	}
	return name, true
}

func (c *Client) afterRoomOp(op string, err error) {
	switch {
	case err == nil:
		c.syncSession()
	case errors.Is(err, relay.ErrConnectionGone):
	default:
		c.Manager.logger.Debug("room operation rejected", "clientID", c.ID, "op", op, "error", err)
		c.Manager.relay.Dispatcher.RoomError(c.ID, err)
	}
}

func (c *Client) syncSession() {
	ctx, cancel := context.WithTimeout(c.ctx, sessionTimeout)
	defer cancel()

	s := &session.Session{
		ID:          string(c.ID),
		Rooms:       c.Manager.relay.Rooms.RoomsOf(c.ID),
		ConnectedAt: c.connectedAt,
		UpdatedAt:   time.Now(),
	}
	if err := c.Manager.sessionCache.SetSession(ctx, s); err != nil {
		c.Manager.logger.Warn("failed to cache session", "clientID", c.ID, "error", err)
	}
}

func (c *Client) dropSession() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()

	if err := c.Manager.sessionCache.DeleteSession(ctx, string(c.ID)); err != nil {
		c.Manager.logger.Warn("failed to delete session", "clientID", c.ID, "error", err)
	}
}

func isExpectedClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
