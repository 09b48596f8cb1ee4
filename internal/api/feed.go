package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mbbank-monitor/internal/dispatch"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	clientBufLen   = 64
	maxMessageSize = 512
)

// Feed fans dispatched-transaction events out to websocket subscribers.
// Publish never blocks the scheduler: a subscriber that cannot keep up is
// dropped.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan DispatchEvent
}

// NewFeed creates an empty feed.
func NewFeed(logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.Default()
	}
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Single-operator internal tool; the API listens on a
			// private address.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Publish converts the dispatch result and pushes it to every subscriber.
// Safe for use as a monitor.Listener.
func (f *Feed) Publish(res dispatch.Result) {
	ev := eventFromResult(res)

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer: drop it rather than stall dispatch.
			delete(f.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects all subscribers. Publish becomes a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

// handleWS upgrades the connection and streams events until either side
// closes.
func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan DispatchEvent, clientBufLen),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(client)
	f.readLoop(client)
}

// writeLoop pushes events and pings to one client.
func (f *Feed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (f *Feed) readLoop(c *feedClient) {
	defer func() {
		f.mu.Lock()
		if _, ok := f.clients[c]; ok {
			delete(f.clients, c)
			close(c.send)
		}
		f.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
