// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package statusws pushes download progress over a WebSocket connection
// for the optional "hfxet serve" subcommand: a single concern, streaming
// hfxet.ProgressSnapshot values to any number of connected clients.
package statusws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bodaay/hfxet/pkg/hfxet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans a single download's progress stream out to any number of
// connected WebSocket clients.
type Hub struct {
	log *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	lastMu   sync.Mutex
	lastJSON []byte
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving
// HTTP traffic.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub's registration/broadcast loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish is an hfxet.ProgressFunc: wire it to a Client.Download* call to
// stream its snapshots to every connected client.
func (h *Hub) Publish(snap hfxet.ProgressSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.log.WithError(err).Debug("marshal progress snapshot")
		return
	}
	h.lastMu.Lock()
	h.lastJSON = data
	h.lastMu.Unlock()
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("status broadcast channel full, dropping update")
	}
}

// ServeHTTP upgrades the connection and streams progress updates to it,
// sending the most recent snapshot immediately so a late-joining client
// isn't left blank until the next update.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	h.lastMu.Lock()
	last := h.lastJSON
	h.lastMu.Unlock()
	if last != nil {
		select {
		case c.send <- last:
		default:
		}
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() { h.unregister <- c }()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
