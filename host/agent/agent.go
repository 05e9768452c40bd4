// Package agent implements a callback-style evaluation host. A small script
// loaded into the inspected page connects back over a WebSocket and
// evaluates the expressions it receives.
package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/types"
)

//go:embed agent.js
var agentScript string

// Script returns the page agent, stamped with the current version.
func Script() string {
	return strings.ReplaceAll(agentScript, "__OPFSX_VERSION__", types.Version)
}

// MaxMessageBytes bounds one page reply. Base64 reads of the largest
// transferable file fit.
const MaxMessageBytes = 128 << 20

// Wire message types.
const (
	MsgExecute   = "execute"
	MsgExecution = "execution"
	MsgHello     = "hello"
)

// Message is one JSON frame on the agent socket.
//
// The server sends execute frames (ID, Code). The page answers each with an
// execution frame (ID, Result or Error) and announces itself once with a
// hello frame (URL, Origin, Version).
type Message struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Code        string          `json:"code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	IsException bool            `json:"isException,omitempty"`
	URL         string          `json:"url,omitempty"`
	Origin      string          `json:"origin,omitempty"`
	Version     string          `json:"version,omitempty"`
}

// Config configures the agent server.
type Config struct {
	// OriginPatterns lists page origins allowed to connect. Empty allows any.
	OriginPatterns []string
	// Logger receives connection diagnostics. Nil discards.
	Logger *log.Logger
}

// Host serves the page agent and evaluates scripts through the most
// recently connected page.
type Host struct {
	cfg    Config
	logger *log.Logger
	router chi.Router

	mu      sync.Mutex
	current *session
	changed chan struct{}
	closed  bool
}

// New creates an agent host. Call Serve or mount Handler to accept pages.
func New(cfg Config) *Host {
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	h := &Host{
		cfg:     cfg,
		logger:  cfg.Logger,
		changed: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/agent.js", h.serveScript)
	r.Get("/ws", h.serveSocket)
	r.Get("/status", h.serveStatus)
	h.router = r
	return h
}

// Handler returns the HTTP handler serving the agent endpoints.
func (h *Host) Handler() http.Handler {
	return h.router
}

// Serve accepts connections on ln until ctx is done.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("agent: serve: %w", err)
	case <-ctx.Done():
	}

	_ = h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("agent: shutdown: %w", err)
	}
	return nil
}

func (h *Host) serveScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(Script()))
}

// Status describes the connected page, if any.
type Status struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Version   string `json:"version"`
}

func (h *Host) serveStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{Version: types.Version}
	h.mu.Lock()
	if s := h.current; s != nil {
		st.Connected = true
		st.URL = s.url
		st.Origin = s.origin
	}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (h *Host) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Warn("agent: websocket accept failed", map[string]any{"error": err.Error()})
		return
	}
	conn.SetReadLimit(MaxMessageBytes)

	s := newSession(conn)
	defer h.drop(s)

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			h.logger.Debug("agent: page disconnected", map[string]any{
				"status": websocket.CloseStatus(err).String(),
			})
			return
		}
		switch msg.Type {
		case MsgHello:
			h.attach(s, msg.URL, msg.Origin)
			h.logger.Info("agent: page connected", map[string]any{
				"url":     msg.URL,
				"origin":  msg.Origin,
				"version": msg.Version,
			})
		case MsgExecution:
			s.settle(msg.ID, resultFrom(msg))
		default:
			h.logger.Debug("agent: ignoring message", map[string]any{"type": msg.Type})
		}
	}
}

func resultFrom(msg Message) eval.Result {
	if msg.IsException || msg.Error != "" {
		return eval.Result{Exception: &eval.ExceptionInfo{
			IsException: msg.IsException,
			IsError:     !msg.IsException,
			Description: msg.Error,
		}}
	}
	if len(msg.Result) == 0 {
		return eval.Result{Value: json.RawMessage("null")}
	}
	return eval.Result{Value: msg.Result}
}

// attach makes s the current session, replacing any previous page.
func (h *Host) attach(s *session, url, origin string) {
	h.mu.Lock()
	s.url = url
	s.origin = origin
	if h.closed {
		h.mu.Unlock()
		_ = s.conn.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	prev := h.current
	h.current = s
	h.broadcastLocked()
	h.mu.Unlock()

	if prev != nil && prev != s {
		_ = prev.conn.Close(websocket.StatusGoingAway, "replaced by a newer page")
	}
}

func (h *Host) drop(s *session) {
	h.mu.Lock()
	if h.current == s {
		h.current = nil
		h.broadcastLocked()
	}
	h.mu.Unlock()

	s.failAll(eval.Synthetic(eval.CodeHostGone, "agent: page disconnected"))
	_ = s.conn.CloseNow()
}

func (h *Host) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *Host) session() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// WaitConnected blocks until a page has connected and announced itself.
func (h *Host) WaitConnected(ctx context.Context) error {
	for {
		h.mu.Lock()
		connected := h.current != nil
		changed := h.changed
		h.mu.Unlock()

		if connected {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("agent: waiting for page: %w", ctx.Err())
		}
	}
}

// Origin returns the connected page's origin, or "".
func (h *Host) Origin() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return h.current.origin
	}
	return ""
}

// Profile returns the polling profile suited to a relayed page channel.
func (h *Host) Profile() bridge.Profile {
	return bridge.SlowProfile
}

// EvalCallback implements eval.CallbackHost. done receives the page's
// reply; the returned channel settles with a host_gone exception if the
// page disconnects first, and closes otherwise.
func (h *Host) EvalCallback(ctx context.Context, script string, done func(eval.Result)) (<-chan eval.Result, error) {
	s := h.session()
	if s == nil {
		return nil, eval.Synthetic(eval.CodeHostGone, "agent: no page connected")
	}

	id := uuid.NewString()
	c := &call{done: done, ch: make(chan eval.Result, 1)}
	c.stop = context.AfterFunc(ctx, func() { s.forget(id) })
	if !s.register(id, c) {
		c.stop()
		return nil, eval.Synthetic(eval.CodeHostGone, "agent: page disconnected")
	}
	if err := ctx.Err(); err != nil {
		s.forget(id)
		return nil, eval.Synthetic(eval.CodeCanceled, err.Error())
	}

	if err := wsjson.Write(ctx, s.conn, Message{Type: MsgExecute, ID: id, Code: script}); err != nil {
		s.forget(id)
		return nil, eval.Synthetic(eval.CodeSubmit, fmt.Sprintf("agent: send: %v", err))
	}
	return c.ch, nil
}

// Close disconnects the current page and refuses new ones.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	s := h.current
	h.current = nil
	h.broadcastLocked()
	h.mu.Unlock()

	if s != nil {
		return s.conn.Close(websocket.StatusGoingAway, "server closing")
	}
	return nil
}

type call struct {
	done func(eval.Result)
	ch   chan eval.Result
	stop func() bool
}

// session is one page connection and its in-flight evaluations.
type session struct {
	conn   *websocket.Conn
	url    string
	origin string

	mu      sync.Mutex
	pending map[string]*call
	closed  bool
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, pending: make(map[string]*call)}
}

func (s *session) register(id string, c *call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[id] = c
	return true
}

func (s *session) take(id string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending[id]
	delete(s.pending, id)
	return c
}

// settle delivers a page reply. Replies for unknown or abandoned ids are
// dropped.
func (s *session) settle(id string, r eval.Result) {
	c := s.take(id)
	if c == nil {
		return
	}
	c.stop()
	c.done(r)
	close(c.ch)
}

func (s *session) forget(id string) {
	if c := s.take(id); c != nil {
		c.stop()
		close(c.ch)
	}
}

func (s *session) failAll(exc *eval.ExceptionInfo) {
	s.mu.Lock()
	s.closed = true
	calls := s.pending
	s.pending = make(map[string]*call)
	s.mu.Unlock()

	for _, c := range calls {
		c.stop()
		c.ch <- eval.Result{Exception: exc}
		close(c.ch)
	}
}
