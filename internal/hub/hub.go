// Package hub is the WebSocket transport: it accepts participant
// connections, runs the join handshake, feeds inbound chat into the engine,
// and fans committed messages back out to every socket.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"

	"github.com/roundtable-ai/roundtable/internal/agentmem"
	"github.com/roundtable-ai/roundtable/internal/chat"
	"github.com/roundtable-ai/roundtable/internal/config"
	"github.com/roundtable-ai/roundtable/internal/events"
	"github.com/roundtable-ai/roundtable/internal/roster"
)

// InboundHandler receives every chat payload after roster validation.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg chat.Message)
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type string `json:"type"`

	// Client to server.
	Name     string `json:"name,omitempty" validate:"omitempty,max=32"`
	Password string `json:"password,omitempty"`
	Persona  string `json:"persona,omitempty" validate:"omitempty,max=2000"`
	Content  string `json:"content,omitempty" validate:"omitempty,max=8000"`

	// Server to client.
	IsAgent      bool          `json:"is_agent,omitempty"`
	Participants []string      `json:"participants,omitempty"`
	Message      *chat.Message `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
}

const (
	frameJoin         = "join"
	frameJoined       = "joined"
	frameChat         = "chat"
	framePersona      = "persona"
	frameMessage      = "message"
	frameParticipants = "participants"
	frameError        = "error"
)

const writeTimeout = 5 * time.Second

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // websocket writes are not concurrency-safe
}

func (c *conn) send(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, payload)
}

// Hub tracks live connections by participant name.
type Hub struct {
	cfg       config.RoomConfig
	roster    *roster.Roster
	inbound   InboundHandler
	memory    *agentmem.Store
	publisher *events.Publisher
	validate  *validator.Validate

	mu    sync.Mutex
	conns map[string]*conn
}

func New(cfg config.RoomConfig, ros *roster.Roster, inbound InboundHandler, mem *agentmem.Store, pub *events.Publisher) *Hub {
	return &Hub{
		cfg:       cfg,
		roster:    ros,
		inbound:   inbound,
		memory:    mem,
		publisher: pub,
		validate:  validator.New(),
		conns:     make(map[string]*conn),
	}
}

// Broadcast sends a committed message to every connected participant and
// mirrors it onto the event stream.
func (h *Hub) Broadcast(msg chat.Message) {
	env := Envelope{Type: frameMessage, Message: &msg}

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	ctx := context.Background()
	for _, c := range targets {
		if err := c.send(ctx, env); err != nil {
			slog.Debug("broadcast write failed", "error", err)
		}
	}

	if err := h.publisher.PublishMessage(ctx, msg); err != nil {
		slog.Warn("publishing message event", "error", err)
	}
}

// ServeWS upgrades the request and runs the connection lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	c := &conn{ws: ws}

	ctx := r.Context()
	p, err := h.handshake(ctx, c)
	if err != nil {
		_ = c.send(ctx, Envelope{Type: frameError, Error: err.Error()})
		_ = ws.Close(websocket.StatusPolicyViolation, "join rejected")
		return
	}
	defer h.drop(p.Name)

	h.readLoop(ctx, c, p)
}

func (h *Hub) handshake(ctx context.Context, c *conn) (*roster.Participant, error) {
	hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	env, err := readEnvelope(hctx, c.ws)
	if err != nil {
		return nil, errors.New("expected a join frame")
	}
	if env.Type != frameJoin {
		return nil, errors.New("first frame must be join")
	}
	if err := h.validate.Struct(env); err != nil {
		return nil, errors.New("invalid join payload")
	}

	isAgent := env.Password != "" && env.Password == h.cfg.AgentPassword
	p, err := h.roster.Join(env.Name, isAgent)
	if err != nil {
		return nil, err
	}
	if isAgent && env.Persona != "" {
		h.roster.SetPersona(p.Name, env.Persona)
	}

	h.mu.Lock()
	h.conns[p.Name] = c
	h.mu.Unlock()

	if err := c.send(ctx, Envelope{
		Type:         frameJoined,
		Name:         p.Name,
		IsAgent:      p.IsAgent,
		Participants: h.roster.ListNames(),
	}); err != nil {
		return p, nil // the read loop will notice the dead socket
	}

	h.Broadcast(chat.New("System", p.Name+" joined the room.", chat.TypeSystem))
	h.announceParticipants()

	if err := h.publisher.PublishPresence(ctx, events.PresenceEvent{
		Name:      p.Name,
		IsAgent:   p.IsAgent,
		EventType: "joined",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		slog.Warn("publishing presence event", "error", err)
	}

	slog.Info("participant connected", "name", p.Name, "agent", p.IsAgent)
	return p, nil
}

func (h *Hub) readLoop(ctx context.Context, c *conn, p *roster.Participant) {
	for {
		env, err := readEnvelope(ctx, c.ws)
		if err != nil {
			slog.Info("participant disconnected", "name", p.Name)
			return
		}

		switch env.Type {
		case frameChat:
			if env.Content == "" {
				continue
			}
			if err := h.validate.Struct(env); err != nil {
				_ = c.send(ctx, Envelope{Type: frameError, Error: "invalid chat payload"})
				continue
			}
			msg := chat.New(p.Name, env.Content, chat.TypeChat)
			msg.FromHuman = !p.IsAgent
			h.inbound.HandleInbound(ctx, msg)
		case framePersona:
			h.roster.SetPersona(p.Name, env.Persona)
		default:
			slog.Debug("ignoring unknown frame", "type", env.Type, "from", p.Name)
		}
	}
}

func (h *Hub) drop(name string) {
	h.mu.Lock()
	delete(h.conns, name)
	h.mu.Unlock()

	ctx := context.Background()
	p, ok := h.roster.Get(name)
	h.roster.Leave(name)
	if ok && p.IsAgent && h.memory != nil {
		if err := h.memory.Forget(ctx, name); err != nil {
			slog.Warn("clearing agent memory", "agent", name, "error", err)
		}
	}

	h.Broadcast(chat.New("System", name+" left the room.", chat.TypeSystem))
	h.announceParticipants()

	if err := h.publisher.PublishPresence(ctx, events.PresenceEvent{
		Name:      name,
		IsAgent:   ok && p.IsAgent,
		EventType: "left",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		slog.Warn("publishing presence event", "error", err)
	}
}

func (h *Hub) announceParticipants() {
	env := Envelope{Type: frameParticipants, Participants: h.roster.ListNames()}

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		_ = c.send(context.Background(), env)
	}
}

func readEnvelope(ctx context.Context, ws *websocket.Conn) (*Envelope, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
