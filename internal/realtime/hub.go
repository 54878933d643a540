package realtime

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/metrics"
)

const (
	writeWait = 10 * time.Second

	// MaxMessageSize bounds a single inbound client frame.
	MaxMessageSize = 64 << 10
)

// Channel is the outbound half of a client connection. *websocket.Conn satisfies it.
type Channel interface {
	WriteJSON(v any) error
	Close() error
}

type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// Client is one registered principal connection. Writes to the same client are serialised.
type Client struct {
	principalID string
	channel     Channel
	mu          sync.Mutex
	closeOnce   sync.Once
}

// PrincipalID returns the principal the client belongs to.
func (c *Client) PrincipalID() string {
	return c.principalID
}

// Send writes event to the client.
func (c *Client) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.channel.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	}
	return c.channel.WriteJSON(event)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.channel.Close()
	})
}

// Hub tracks which principals are connected and fans events out to them.
// One connection is kept per principal; a newer connection replaces an older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

// NewHub constructs a presence hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger.WithModule("realtime"),
	}
}

// Connect registers channel for principalID and returns its client handle.
func (h *Hub) Connect(principalID string, channel Channel) *Client {
	client := &Client{principalID: principalID, channel: channel}

	h.mu.Lock()
	previous := h.clients[principalID]
	h.clients[principalID] = client
	count := len(h.clients)
	h.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	metrics.OnlineUsers.Set(float64(count))
	h.log.Debug("client connected", zap.String("principal", principalID), zap.Int("online", count))
	return client
}

// Disconnect removes principalID regardless of which connection is registered.
func (h *Hub) Disconnect(principalID string) {
	h.mu.Lock()
	client := h.clients[principalID]
	delete(h.clients, principalID)
	count := len(h.clients)
	h.mu.Unlock()

	if client != nil {
		client.close()
	}
	metrics.OnlineUsers.Set(float64(count))
}

// Release removes client only when it is still the registered connection for
// its principal. It reports whether the client was removed.
func (h *Hub) Release(client *Client) bool {
	if client == nil {
		return false
	}

	h.mu.Lock()
	current, ok := h.clients[client.principalID]
	removed := ok && current == client
	if removed {
		delete(h.clients, client.principalID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	client.close()
	metrics.OnlineUsers.Set(float64(count))
	return removed
}

// Broadcast sends event to every connected client. Clients that fail are
// pruned after the pass; a failure never stops delivery to the rest.
func (h *Hub) Broadcast(event any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	var failed []*Client
	for _, client := range targets {
		if err := client.Send(event); err != nil {
			h.log.Debug("broadcast send failed", zap.String("principal", client.principalID), zap.Error(err))
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		h.Release(client)
	}
}

// SendPersonal sends event to one principal. A failed send prunes that client.
func (h *Hub) SendPersonal(principalID string, event any) bool {
	h.mu.RLock()
	client := h.clients[principalID]
	h.mu.RUnlock()

	if client == nil {
		return false
	}
	if err := client.Send(event); err != nil {
		h.log.Debug("personal send failed", zap.String("principal", principalID), zap.Error(err))
		h.Release(client)
		return false
	}
	return true
}

// Online returns the connected principal ids in ascending order.
func (h *Hub) Online() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// IsOnline reports whether principalID has a registered connection.
func (h *Hub) IsOnline(principalID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[principalID]
	return ok
}

// CloseAll disconnects every client. Used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
	metrics.OnlineUsers.Set(0)
}

// NewUpgrader builds a websocket upgrader that accepts same-origin requests,
// loopback origins and any origin in allowed. A "*" entry allows every origin.
func NewUpgrader(allowed []string) websocket.Upgrader {
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if host := hostWithoutPort(origin); host != "" {
			origins[host] = struct{}{}
		}
		if strings.TrimSpace(origin) == "*" {
			origins["*"] = struct{}{}
		}
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := origins["*"]; ok {
				return true
			}
			originHost := hostWithoutPort(origin)
			if _, ok := origins[originHost]; ok {
				return true
			}
			return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
		},
	}
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || host == "*" {
		return ""
	}

	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
