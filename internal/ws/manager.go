package ws

import (
	"context"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"
	"log/slog"
	"roomcast/internal/relay"
	"roomcast/internal/session"
	"sync"
)

const (
	// defaultSendBufferSize controls the max number
	// of events that can be queued for a client.
	defaultSendBufferSize = 16
	defaultMaxMessageSize = 4096
)

type Options struct {
	SendBufferSize int
	MaxMessageSize int64
	RateLimit      rate.Limit
	RateBurst      int
}

// Manager owns the live websocket clients and forwards their lifecycle to
// the relay.
type Manager struct {
	clients      map[relay.ConnID]*Client
	register     chan *Client
	unregisterCh chan *Client
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *slog.Logger
	relay        *relay.Relay
	sessionCache session.SessionCache
	opts         Options
}

func NewManager(ctx context.Context, logger *slog.Logger, r *relay.Relay, sessionCache session.SessionCache, opts Options) *Manager {
	if opts.SendBufferSize < 2 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if sessionCache == nil {
		sessionCache = session.NopCache{}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		clients:      make(map[relay.ConnID]*Client),
		register:     make(chan *Client),
		unregisterCh: make(chan *Client),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		relay:        r,
		sessionCache: sessionCache,
		opts:         opts,
	}
}

func (m *Manager) Start() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			m.logger.Info("client connected", "clientID", client.ID)
		case client := <-m.unregisterCh:
			m.mu.Lock()
			_, ok := m.clients[client.ID]
			delete(m.clients, client.ID)
			m.mu.Unlock()
			if ok {
				m.relay.Conns.Remove(client.ID)
				m.logger.Info("client disconnected", "clientID", client.ID)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) HandleNewConnection(conn *websocket.Conn) {
	NewClient(conn, m).Start()
}

func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// add reports false once the manager is shutting down.
func (m *Manager) add(c *Client) bool {
	select {
	case m.register <- c:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) unregister(c *Client) {
	select {
	case m.unregisterCh <- c:
	case <-m.ctx.Done():
	}
}

func (m *Manager) forceDisconnect(c *Client) {
	m.logger.Warn("client send queue full, disconnecting", "clientID", c.ID)
	c.abort()
}

func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[relay.ConnID]*Client)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Close()
		}(client)
	}
	wg.Wait()
}
