// Command collabtext-agent is the peer-to-peer node: it serves a local
// websocket for browser/editor clients, discovers sibling agents on the
// LAN via mDNS, applies the operations those peers send to its
// crdt.Engine, and queues locally accepted operations durably while no
// peer connection is open or being dialed, flushing them to the next
// peer it connects to.
// Adapted from the teacher's agent/main.go, which wired the same Hub and
// mDNS discovery around a toy index-based document instead of a CRDT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/crdt"
	"collabtext/internal/outbox"
	"collabtext/internal/wire"
)

const serviceName = "_collabtext._tcp"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one local websocket connection (a browser tab or editor).
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans out every accepted operation to every locally connected client,
// mirroring the teacher's broadcast loop.
type hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// node owns the CRDT engine and everything that keeps it in sync.
type node struct {
	log    zerolog.Logger
	hub    *hub
	box    *outbox.Outbox
	addr   string

	mu     sync.Mutex
	engine *crdt.Engine
	peers  map[string]bool
}

func (n *node) applyAndBroadcast(raw []byte) {
	op, err := wire.Unmarshal(raw)
	if err != nil {
		n.log.Warn().Err(err).Msg("dropping malformed operation")
		return
	}

	n.mu.Lock()
	accepted, err := wire.Apply(n.engine, op)
	n.mu.Unlock()
	if err != nil {
		n.log.Warn().Err(err).Msg("dropping invalid operation")
		return
	}
	if !accepted {
		return
	}
	n.hub.broadcast <- raw

	n.mu.Lock()
	hasPeers := len(n.peers) > 0
	n.mu.Unlock()
	if !hasPeers {
		if err := n.box.Enqueue(op); err != nil {
			n.log.Error().Err(err).Msg("failed to enqueue to outbox")
		}
	}
}

func (n *node) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Error().Err(err).Msg("upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	n.hub.register <- c

	go n.writePump(c)
	n.readPump(c)
}

func (n *node) readPump(c *client) {
	defer func() {
		n.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		n.applyAndBroadcast(msg)
	}
}

func (n *node) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// connectToPeer dials a discovered peer, retrying with backoff, flushes
// everything queued in the outbox to it once connected, and then applies
// and broadcasts every operation the peer sends. Operations accepted
// locally while the connection is open are not written to the peer.
func (n *node) connectToPeer(ctx context.Context, addr string) {
	n.mu.Lock()
	if n.peers[addr] {
		n.mu.Unlock()
		return
	}
	n.peers[addr] = true
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.peers, addr)
		n.mu.Unlock()
	}()

	url := fmt.Sprintf("ws://%s/ws", addr)
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		n.log.Warn().Err(err).Str("peer", addr).Msg("giving up connecting to peer")
		return
	}
	defer conn.Close()
	n.log.Info().Str("peer", addr).Msg("connected to peer")

	if queued, err := n.box.Drain(); err == nil {
		for _, op := range queued {
			payload, err := wire.Marshal(op)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				n.log.Error().Err(err).Msg("failed to flush outbox to peer")
				break
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			n.applyAndBroadcast(msg)
		}
	}()
	<-done
	n.log.Warn().Str("peer", addr).Msg("lost connection to peer")
}

func startDiscovery(ctx context.Context, n *node, port int) {
	server, err := zeroconf.Register("collabtext-agent", serviceName, "local.", port, nil, nil)
	if err != nil {
		n.log.Error().Err(err).Msg("mDNS registration failed")
	} else {
		defer server.Shutdown()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		n.log.Error().Err(err).Msg("mDNS resolver init failed")
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
			if addr == n.addr {
				continue
			}
			go n.connectToPeer(ctx, addr)
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := resolver.Browse(browseCtx, serviceName, "local.", entries); err != nil {
		n.log.Error().Err(err).Msg("mDNS browse failed")
	}
	<-browseCtx.Done()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	httpAddr := envOr("COLLABTEXT_AGENT_ADDR", ":8080")
	outboxPath := envOr("COLLABTEXT_OUTBOX_PATH", "collabtext-agent.db")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	box, err := outbox.Open(outboxPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open outbox")
	}
	defer box.Close()

	engine := crdt.New(logger)

	h := newHub()
	go h.run()

	n := &node{log: logger, hub: h, box: box, addr: httpAddr, engine: engine, peers: make(map[string]bool)}

	go startDiscovery(ctx, n, 8080)

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir("../ui")))
	mux.HandleFunc("/ws", n.serveWs)

	srv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info().Str("addr", httpAddr).Msg("collabtext agent starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("agent exited with error")
	}
}
