package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Zachkp/about-me/internal/views"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

var (
	_ views.Listener = &Hub{}

	errHubStopped = errors.New("live hub stopped")
)

// Update is the message pushed to connected pages.
type Update struct {
	Type           string `json:"type"`
	Views          uint64 `json:"views"`
	UniqueVisitors int    `json:"uniqueVisitors"`
}

func newUpdate(c views.Counts) Update {
	return Update{Type: "views_update", Views: c.TotalViews, UniqueVisitors: c.UniqueVisitors}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans view-count changes out to websocket clients. Run owns the client
// set; everything else talks to it through channels.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu    sync.RWMutex
	count int

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			log.WithField("clients", len(h.clients)).Debug("live client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.WithField("clients", len(h.clients)).Debug("live client disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// CountsChanged queues an update for every client. It never blocks the caller.
func (h *Hub) CountsChanged(c views.Counts) {
	msg, err := json.Marshal(newUpdate(c))
	if err != nil {
		log.WithError(err).Error("encoding live update")
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Warn("live broadcast queue full, dropping update")
	}
}

// Serve upgrades the request and streams updates, starting with initial.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial views.Counts) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if msg, err := json.Marshal(newUpdate(initial)); err == nil {
		c.send <- msg
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return errHubStopped
	case <-r.Context().Done():
		conn.Close()
		return r.Context().Err()
	}

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// readPump discards client messages and notices when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
