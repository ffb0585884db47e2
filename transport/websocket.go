// Package transport exposes the broker over WebSocket. It owns the socket
// lifecycle and nothing else: every decoded payload goes through the inbound
// queues, every close is reported exactly once.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appErrors "hybridchat/errors"
	"hybridchat/runtime"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second

	// maxFrameBytes bounds one inbound frame. Base64 media inflates the raw
	// payload by 4/3, plus JSON envelope headroom.
	maxFrameBytes = 16 << 20
)

// Config configures the WebSocket server.
type Config struct {
	Addr           string
	Path           string // endpoint path, defaults to /ws
	AllowedOrigins []string
}

// Server accepts WebSocket connections and feeds them into the broker.
type Server struct {
	log        *slog.Logger
	config     Config
	queues     *runtime.InboundQueues
	dispatcher *runtime.Dispatcher
	upgrader   websocket.Upgrader
	server     *http.Server

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewServer(
	log *slog.Logger,
	config Config,
	queues *runtime.InboundQueues,
	dispatcher *runtime.Dispatcher,
) *Server {
	if config.Path == "" {
		config.Path = "/ws"
	}

	origins := make(map[string]bool, len(config.AllowedOrigins))
	for _, origin := range config.AllowedOrigins {
		origins[origin] = true
	}

	return &Server{
		log:        log,
		config:     config,
		queues:     queues,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no Origin header.
					return true
				}
				return origins[origin]
			},
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// Run serves until ctx is cancelled, then closes every live connection and
// shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("WebSocket server starting", "addr", s.config.Addr, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newWSConn(socket)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.log.Info("Connection opened", "remote", r.RemoteAddr)
	s.readLoop(conn, r.RemoteAddr)
}

// readLoop pumps frames into the inbound queues until the socket dies, then
// runs the close sequence exactly once.
func (s *Server) readLoop(conn *wsConn, remote string) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()

		s.queues.CloseConnection(conn)
		s.dispatcher.HandleClose(conn)
		_ = conn.Close()
		s.log.Info("Connection closed", "remote", remote)
	}()

	socket := conn.socket
	socket.SetReadLimit(maxFrameBytes)
	_ = socket.SetReadDeadline(time.Now().Add(pongTimeout))
	socket.SetPongHandler(func(string) error {
		s.dispatcher.Touch(conn)
		return socket.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Unexpected connection loss", "remote", remote, "error", err)
			}
			return
		}
		s.queues.Enqueue(conn, payload)
	}
}

func (s *Server) pingLoop(conn *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[*wsConn]struct{})
}

// wsConn adapts one gorilla socket to the broker connection contract.
// gorilla allows a single concurrent writer, so every write goes through mu.
type wsConn struct {
	socket *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newWSConn(socket *websocket.Conn) *wsConn {
	return &wsConn{socket: socket}
}

func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return appErrors.ErrConnectionClosed
	}
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return appErrors.ErrConnectionClosed
	}
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}
