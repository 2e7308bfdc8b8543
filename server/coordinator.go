package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/transport"
)

// The upgrade accepts any origin. handleConnections closes the socket itself
// when the Origin header or the windowJoined handshake is wrong, before the
// window is registered; the manager then checks the origin of every later
// message.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// coordinator hosts the hub window. Each websocket connection is one child
// window registered with the manager.
type coordinator struct {
	mgr *relay.Manager
}

func newCoordinator(mgr *relay.Manager) *coordinator {
	return &coordinator{mgr: mgr}
}

func (c *coordinator) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", c.handleConnections).Methods(http.MethodGet)
	r.HandleFunc("/windows", c.handleWindows).Methods(http.MethodGet)
	r.HandleFunc("/health", c.handleHealth).Methods(http.MethodGet)
	return r
}

func (c *coordinator) handleConnections(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// 1. The first frame must announce the window.
	_, first, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	hello, err := relay.DecodeMessage(first)
	if err != nil || hello.Type != relay.TypeWindowJoined || hello.Source == "" {
		log.Printf("Rejected connection from %s: first message is not windowJoined", ws.RemoteAddr())
		closeWith(ws, websocket.ClosePolicyViolation, "expected windowJoined")
		return
	}
	if origin != c.mgr.Origin() {
		log.Printf("Rejected window %s: origin %q", hello.Source, origin)
		closeWith(ws, websocket.ClosePolicyViolation, "origin not allowed")
		return
	}

	// 2. Register the child so the relay path can reach it.
	id := hello.Source
	peer := transport.NewWSPeer(ws)
	c.mgr.RegisterWindow(id, peer)
	log.Printf("Window %s connected from %s", id, ws.RemoteAddr())
	c.mgr.Deliver(origin, first)

	// 3. Everything else goes through the manager until the window goes away.
	if err := transport.ReadLoop(ws, origin, c.mgr); err != nil {
		log.Printf("Window %s read error: %v", id, err)
	}
	c.mgr.UnregisterWindow(id, peer)
	peer.Close()
	log.Printf("Window %s disconnected", id)
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	ws.Close()
}

type windowsResponse struct {
	ID        relay.WindowID   `json:"id"`
	Channel   string           `json:"channel"`
	Broadcast bool             `json:"broadcast"`
	Windows   []relay.WindowID `json:"windows"`
}

func (c *coordinator) handleWindows(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(windowsResponse{
		ID:        c.mgr.ID(),
		Channel:   c.mgr.Channel(),
		Broadcast: c.mgr.BroadcastEnabled(),
		Windows:   c.mgr.GetKnownWindows(),
	})
}

func (c *coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
