// Package channel serves the websocket endpoint the Blender add-on
// panel connects to. Chat turns and confirmations flow in; agent
// events flow out.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/metrics"
)

// Bus is the panel's link to the agent loop.
type Bus interface {
	Publish(turn domain.UserTurn)
	Subscribe(handler func(domain.AgentEvent)) func()
}

// Aborter cancels the in-flight turn for a session.
type Aborter interface {
	Abort(sessionKey string) bool
}

// Frame is the JSON protocol on the panel socket. Inbound types are
// chat, confirm and abort; outbound frames carry agent events.
type Frame struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	ToolID   string          `json:"tool_id,omitempty"`
	Args     map[string]any  `json:"args,omitempty"`
	Risk     string          `json:"risk,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Approved bool            `json:"approved,omitempty"`
	Scope    string          `json:"scope,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	Progress int             `json:"progress,omitempty"`
	Session  string          `json:"session,omitempty"`
	OpID     string          `json:"op_id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Config struct {
	Host   string
	Port   int
	Path   string
	Logger *slog.Logger
	// Metrics, when set, is mounted at /metrics on the same server.
	Metrics http.HandlerFunc
}

// Panel is the websocket channel. It also implements the confirmer the
// loop blocks on while a permission request is pending.
type Panel struct {
	host    string
	port    int
	path    string
	bus     Bus
	abort   Aborter
	logger  *slog.Logger
	metrics http.HandlerFunc
	server  *http.Server

	mu      sync.RWMutex
	clients map[string]*panelClient

	pendingMu sync.Mutex
	pending   map[string]chan domain.Confirmation

	opMu sync.Mutex
	ops  map[string]chan opOutcome
}

type opOutcome struct {
	result json.RawMessage
	err    string
}

type panelClient struct {
	conn    *websocket.Conn
	session string
	mu      sync.Mutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The add-on connects from a local Blender process, not a browser.
		return true
	},
}

func NewPanel(cfg Config, bus Bus, abort Aborter) *Panel {
	if cfg.Path == "" {
		cfg.Path = "/panel"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Panel{
		host:    cfg.Host,
		port:    cfg.Port,
		path:    cfg.Path,
		bus:     bus,
		abort:   abort,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		clients: make(map[string]*panelClient),
		pending: make(map[string]chan domain.Confirmation),
		ops:     make(map[string]chan opOutcome),
	}
}

// Start serves the endpoint until ctx ends. Agent events are broadcast
// to every connected client for the event's session.
func (p *Panel) Start(ctx context.Context) error {
	unsubscribe := p.bus.Subscribe(func(ev domain.AgentEvent) {
		p.broadcast(eventFrame(ev))
	})
	defer unsubscribe()

	mux := http.NewServeMux()
	mux.HandleFunc(p.path, p.handleUpgrade)
	if p.metrics != nil {
		mux.HandleFunc("/metrics", p.metrics)
	}

	p.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", p.host, p.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.logger.Info("panel server starting", "addr", p.server.Addr, "path", p.path)

	errCh := make(chan error, 1)
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		p.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the upgrade handler for callers that bring their own
// server mux.
func (p *Panel) Handler() http.HandlerFunc { return p.handleUpgrade }

func (p *Panel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("panel upgrade failed", "err", err)
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = "panel"
	}

	client := &panelClient{conn: conn, session: session}
	clientID := fmt.Sprintf("%s-%p", session, conn)

	p.mu.Lock()
	p.clients[clientID] = client
	p.mu.Unlock()
	metrics.PanelConnections.Inc()

	p.logger.Info("panel client connected", "client_id", clientID, "session", session)
	client.send(Frame{Type: "status", Content: "connected", Session: session})

	defer func() {
		p.mu.Lock()
		delete(p.clients, clientID)
		p.mu.Unlock()
		metrics.PanelConnections.Dec()
		conn.Close()
		p.logger.Info("panel client disconnected", "client_id", clientID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Error("panel read error", "err", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			p.logger.Warn("invalid panel frame", "err", err)
			continue
		}

		switch frame.Type {
		case "chat":
			p.bus.Publish(domain.UserTurn{
				SessionKey: session,
				Content:    frame.Content,
				Timestamp:  time.Now(),
			})

		case "confirm":
			p.Resolve(domain.Confirmation{
				Tool:     frame.Tool,
				Scope:    domain.ApprovalScope(frame.Scope),
				Approved: frame.Approved,
			})

		case "host_result":
			p.resolveOp(frame.OpID, opOutcome{result: frame.Result, err: frame.Error})

		case "abort":
			if p.abort != nil {
				if p.abort.Abort(session) {
					client.send(Frame{Type: "aborted", Session: session})
				}
			}

		default:
			p.logger.Debug("unknown panel frame type", "type", frame.Type)
		}
	}
}

// Await blocks until the panel answers the pending permission request
// for dec.Tool, or ctx ends. Implements the loop's confirmer.
func (p *Panel) Await(ctx context.Context, dec domain.PermissionDecision) (domain.Confirmation, error) {
	ch := make(chan domain.Confirmation, 1)

	p.pendingMu.Lock()
	// A second request for the same tool replaces the first; the stale
	// waiter times out on its own context.
	p.pending[dec.Tool] = ch
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		if p.pending[dec.Tool] == ch {
			delete(p.pending, dec.Tool)
		}
		p.pendingMu.Unlock()
	}()

	select {
	case conf := <-ch:
		return conf, nil
	case <-ctx.Done():
		return domain.Confirmation{}, ctx.Err()
	}
}

// Resolve delivers a confirmation to the waiter, if any. An answer with
// no pending request is dropped.
func (p *Panel) Resolve(conf domain.Confirmation) {
	p.pendingMu.Lock()
	ch, ok := p.pending[conf.Tool]
	if ok {
		delete(p.pending, conf.Tool)
	}
	p.pendingMu.Unlock()

	if !ok {
		p.logger.Warn("confirmation with no pending request", "tool", conf.Tool)
		return
	}
	ch <- conf
}

// ExecuteHostOp sends a scene operation to the connected add-on and
// blocks until its host thread reports the result. The add-on drains
// these frames on Blender's main-thread tick.
func (p *Panel) ExecuteHostOp(ctx context.Context, toolName string, args map[string]any) (any, error) {
	p.mu.RLock()
	connected := len(p.clients) > 0
	p.mu.RUnlock()
	if !connected {
		return nil, fmt.Errorf("no panel client connected")
	}

	opID := "op_" + uuid.NewString()[:12]
	ch := make(chan opOutcome, 1)

	p.opMu.Lock()
	p.ops[opID] = ch
	p.opMu.Unlock()
	defer func() {
		p.opMu.Lock()
		delete(p.ops, opID)
		p.opMu.Unlock()
	}()

	p.broadcast(Frame{Type: "host_op", Tool: toolName, OpID: opID, Args: args})

	select {
	case out := <-ch:
		if out.err != "" {
			return nil, fmt.Errorf("%s", out.err)
		}
		if len(out.result) == 0 {
			return nil, nil
		}
		var result any
		if err := json.Unmarshal(out.result, &result); err != nil {
			return nil, fmt.Errorf("malformed host result: %w", err)
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Panel) resolveOp(opID string, out opOutcome) {
	p.opMu.Lock()
	ch, ok := p.ops[opID]
	if ok {
		delete(p.ops, opID)
	}
	p.opMu.Unlock()

	if !ok {
		p.logger.Warn("host result with no pending op", "op_id", opID)
		return
	}
	ch <- out
}

func (p *Panel) broadcast(frame Frame) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for _, client := range p.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			p.logger.Debug("panel write failed", "err", err)
		}
	}
}

func (c *panelClient) send(frame Frame) {
	data, _ := json.Marshal(frame)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data) //nolint:errcheck
}

func (p *Panel) closeAllClients() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, client := range p.clients {
		client.conn.Close()
		delete(p.clients, id)
	}
}

func eventFrame(ev domain.AgentEvent) Frame {
	return Frame{
		Type:     string(ev.Type),
		Content:  ev.Content,
		Tool:     ev.Tool,
		ToolID:   ev.ToolID,
		Args:     ev.Args,
		Risk:     string(ev.Risk),
		Reason:   ev.Reason,
		IsError:  ev.IsError,
		Progress: ev.Progress,
	}
}
