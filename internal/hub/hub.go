// Package hub tracks the live websocket of each connected user of the
// signaling server. One socket per user; a newer connection replaces
// the older one.
package hub

import (
	"sync"

	"github.com/gorilla/websocket"
)

type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, 32),
		userID: userID,
	}
}

func (c *Client) UserID() string        { return c.userID }
func (c *Client) Conn() *websocket.Conn { return c.conn }
func (c *Client) Send() <-chan []byte   { return c.send }

func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type Hub struct {
	mu    sync.Mutex
	users map[string]*Client
}

func New() *Hub {
	return &Hub{users: make(map[string]*Client)}
}

func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.users[client.userID]; old != nil {
		_ = old.conn.Close()
		old.closeSend()
	}
	h.users[client.userID] = client
}

// Remove drops the client only if it is still the user's current
// connection; a replaced socket must not evict its successor.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[client.userID] == client {
		delete(h.users, client.userID)
	}
	client.closeSend()
}

// SendTo delivers a payload to the user's socket. Returns false when
// the user has no live socket or the socket is too slow.
func (h *Hub) SendTo(userID string, payload []byte) bool {
	h.mu.Lock()
	client := h.users[userID]
	h.mu.Unlock()

	if client == nil {
		return false
	}
	if !client.trySend(payload) {
		_ = client.conn.Close()
		return false
	}
	return true
}

func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users[userID] != nil
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.users))
	for _, c := range h.users {
		clients = append(clients, c)
	}
	h.users = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
		c.closeSend()
	}
}
