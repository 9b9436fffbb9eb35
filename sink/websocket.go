package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/natsbridge/errors"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsClientQueue  = 64
)

// WebSocketConfig configures a WebSocket sink
type WebSocketConfig struct {
	Port   int    // 0 picks a free port
	Path   string // defaults to /ws
	Logger *slog.Logger
}

// WebSocket broadcasts every record as a JSON text frame to all connected
// clients. It listens on loopback only. A client whose send queue is full
// is disconnected rather than allowed to slow the bridge down.
type WebSocket struct {
	addr     string
	path     string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[string]*wsClient

	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewWebSocket creates a websocket broadcast sink. Call Start to listen.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &WebSocket{
		addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		path:    cfg.Path,
		logger:  cfg.Logger.With("component", "websocket-sink"),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Start binds the listener and serves websocket upgrades in the background
func (w *WebSocket) Start() error {
	if w.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "WebSocket", "Start", "start server")
	}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return errors.WrapFatal(err, "WebSocket", "Start", fmt.Sprintf("listen on %s", w.addr))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleUpgrade)

	w.listener = ln
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("websocket server stopped", "error", err)
		}
	}()

	w.logger.Info("websocket sink listening", "addr", ln.Addr().String(), "path", w.path)
	return nil
}

// URL returns the ws:// URL clients connect to
func (w *WebSocket) URL() string {
	addr := w.addr
	if w.listener != nil {
		addr = w.listener.Addr().String()
	}
	return "ws://" + addr + w.path
}

// Clients returns the number of connected clients
func (w *WebSocket) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Dropped returns the number of clients disconnected for being too slow
func (w *WebSocket) Dropped() int64 {
	return w.dropped.Load()
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	if w.closed.Load() {
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsClientQueue),
		done: make(chan struct{}),
	}

	// Close flips closed before taking clientsMu, so a client registered
	// here is always seen by Close.
	w.clientsMu.Lock()
	if w.closed.Load() {
		w.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	w.clients[client.id] = client
	w.wg.Add(2)
	w.clientsMu.Unlock()

	w.logger.Debug("websocket client connected", "client_id", client.id, "remote", r.RemoteAddr)

	go w.writeLoop(client)
	go w.readLoop(client)
}

// readLoop discards client frames and detects disconnects
func (w *WebSocket) readLoop(c *wsClient) {
	defer w.wg.Done()
	defer w.removeClient(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer on the connection
func (w *WebSocket) writeLoop(c *wsClient) {
	defer w.wg.Done()
	defer w.removeClient(c)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WebSocket) removeClient(c *wsClient) {
	w.clientsMu.Lock()
	_, ok := w.clients[c.id]
	delete(w.clients, c.id)
	w.clientsMu.Unlock()

	c.close()
	if ok {
		w.logger.Debug("websocket client disconnected", "client_id", c.id)
	}
}

// Deliver queues rec for every connected client. It never blocks on a client.
func (w *WebSocket) Deliver(_ context.Context, rec Record) error {
	if w.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "WebSocket", "Deliver", "broadcast record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "WebSocket", "Deliver", "marshal record")
	}

	w.clientsMu.RLock()
	clients := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			w.dropped.Add(1)
			w.logger.Warn("dropping slow websocket client", "client_id", c.id)
			w.removeClient(c)
		}
	}
	return nil
}

// Close stops the server and disconnects every client
func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = w.server.Shutdown(ctx)
	}

	w.clientsMu.RLock()
	clients := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
			time.Now().Add(time.Second))
		w.removeClient(c)
	}

	w.wg.Wait()

	if err != nil {
		return errors.WrapTransient(err, "WebSocket", "Close", "shutdown server")
	}
	return nil
}
