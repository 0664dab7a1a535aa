// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader promotes an incoming HTTP request to a websocket connection
// for the front-end status stream.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusHub fans a single JSON status payload out to every connected
// websocket client.
type statusHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *statusHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *statusHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *statusHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("ekf: status websocket write error: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// HandleEKFStatusWS upgrades the connection and holds it open so the
// caller's status ticker can push to it via broadcast; it reads and
// discards incoming frames only to detect client disconnects.
func (h *statusHub) HandleEKFStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ekf: status websocket upgrade error: %v", err)
		return
	}
	h.add(conn)
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ekf: status websocket error: %v", err)
			}
			return
		}
	}
}
