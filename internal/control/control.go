// Package control exposes a local WebSocket surface for driving the guidance
// session: start, stop, refresh, and status, plus a push feed of state
// transitions. It binds to loopback; it is an operator tool, not a public
// API.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"onboard/internal/config"
	"onboard/internal/guide"
	"onboard/internal/logging"
)

// Commander is the slice of the session controller the surface drives.
// *guide.Controller satisfies it.
type Commander interface {
	Start() guide.Status
	Stop() guide.Status
	Refresh() guide.Status
	Status() guide.Status
}

// Request is one inbound command frame.
type Request struct {
	Command string `json:"command"`
}

// Reply is one outbound frame. Type is "status" for command replies and
// pushes, "error" for rejected commands.
type Reply struct {
	Type   string        `json:"type"`
	Status *guide.Status `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
}

const writeTimeout = 2 * time.Second

// conn serializes writes; both the read loop and broadcasts write to it.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(r Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(r)
}

type Server struct {
	cfg config.ControlConfig
	ctl Commander

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}

	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg config.ControlConfig, ctl Commander) *Server {
	s := &Server{
		cfg:   cfg,
		ctl:   ctl,
		conns: make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback only; no cross-origin browser clients expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.srv = &http.Server{Handler: mux}
	return s
}

// Handler exposes the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Listen binds the configured address and serves until Close.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logging.Control("control surface on ws://%s/ws", ln.Addr())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Control("control server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close shuts the listener and drops every client.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	for c := range s.conns {
		c.ws.Close()
	}
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()
	return err
}

// Broadcast pushes a status frame to every connected client. Wire it to
// guide.Controller.Subscribe.
func (s *Server) Broadcast(status guide.Status) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.send(Reply{Type: "status", Status: &status}); err != nil {
			logging.ControlDebug("broadcast: %v", err)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.ControlDebug("upgrade: %v", err)
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	logging.Control("client connected from %s", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	// Greet with the current state so clients need no initial round trip.
	st := s.ctl.Status()
	if err := c.send(Reply{Type: "status", Status: &st}); err != nil {
		return
	}

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.ControlDebug("read: %v", err)
			}
			return
		}
		if err := c.send(s.dispatch(req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Reply {
	var st guide.Status
	switch req.Command {
	case "start":
		st = s.ctl.Start()
	case "stop":
		st = s.ctl.Stop()
	case "refresh":
		st = s.ctl.Refresh()
	case "status":
		st = s.ctl.Status()
	default:
		return Reply{Type: "error", Error: "unknown command: " + req.Command}
	}
	logging.Control("command %s -> %s", req.Command, st.State)
	return Reply{Type: "status", Status: &st}
}
