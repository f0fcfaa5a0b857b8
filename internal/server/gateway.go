package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game"
	"github.com/duelfield/duel-server-go/internal/game/timing"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Request is one client command over the socket.
type Request struct {
	Type       string            `json:"type"`
	MatchID    string            `json:"match_id,omitempty"`
	PlayerID   string            `json:"player_id,omitempty"`
	CardID     string            `json:"card_id,omitempty"`
	AttackerID string            `json:"attacker_id,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Targets    []string          `json:"targets,omitempty"`
	SpellSpeed int               `json:"spell_speed,omitempty"`
	Position   string            `json:"position,omitempty"`
	Choice     *game.ReplayChoice `json:"choice,omitempty"`
	Players    []game.PlayerSetup `json:"players,omitempty"`
}

// Response is what the gateway sends back: a direct reply to a command
// or a broadcast match event.
type Response struct {
	Type    string        `json:"type"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
	State   any           `json:"state,omitempty"`
	Result  any           `json:"result,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
	MatchID string        `json:"match_id,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	matchID string
}

// Gateway exposes the duel engine's entry points over WebSocket and
// fans committed match events out to subscribed spectators.
type Gateway struct {
	engine        *game.Engine
	logger        *zap.Logger
	upgrader      websocket.Upgrader
	defaultTiming timing.Config

	mu      sync.RWMutex
	clients map[*client]bool
}

func NewGateway(engine *game.Engine, defaultTiming timing.Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		engine:        engine,
		logger:        logger,
		defaultTiming: defaultTiming,
		clients:       make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// EventSink returns a sink that broadcasts each committed event to the
// clients watching its match.
func (g *Gateway) EventSink() events.Sink {
	return events.FuncSink(func(event events.Event) {
		payload, err := json.Marshal(Response{Type: "event", MatchID: event.MatchID, Event: &event})
		if err != nil {
			g.logger.Error("encode event", zap.Error(err))
			return
		}
		g.mu.RLock()
		defer g.mu.RUnlock()
		for c := range g.clients {
			if c.matchID != "" && c.matchID != event.MatchID {
				continue
			}
			select {
			case c.send <- payload:
			default:
				// Slow consumer; drop the event rather than the match.
			}
		}
	})
}

// Handler returns the HTTP mux serving the socket and a health probe.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, 64),
		matchID: r.URL.Query().Get("match_id"),
	}
	g.mu.Lock()
	g.clients[c] = true
	g.mu.Unlock()

	go g.writePump(c)
	g.readPump(r.Context(), c)
}

func (g *Gateway) readPump(ctx context.Context, c *client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		g.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			g.reply(c, Response{Type: "error", Error: "malformed request"})
			continue
		}
		g.reply(c, g.dispatch(ctx, c, req))
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) reply(c *client, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		g.logger.Error("encode response", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// dispatch routes a request to the engine. Player identity arrives
// pre-authenticated from the fronting layer; the engine only checks
// priority ownership.
func (g *Gateway) dispatch(ctx context.Context, c *client, req Request) Response {
	switch req.Type {
	case "subscribe":
		c.matchID = req.MatchID
		return Response{Type: "ok", MatchID: req.MatchID}

	case "create_match":
		if len(req.Players) != 2 {
			return Response{Type: "error", Error: "create_match requires exactly two players"}
		}
		state, err := g.engine.CreateMatch(ctx, req.MatchID,
			[2]game.PlayerSetup{req.Players[0], req.Players[1]}, g.defaultTiming)
		if err != nil {
			return errorResponse(err)
		}
		c.matchID = state.MatchID
		return Response{Type: "ok", MatchID: state.MatchID, State: state}

	case "state":
		state, err := g.engine.GetMatch(ctx, req.MatchID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "activate":
		state, err := g.engine.AddChainLink(ctx, req.MatchID, req.PlayerID, req.CardID, req.Targets)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "pass":
		outcome, state, err := g.engine.Pass(ctx, req.MatchID, req.PlayerID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state, Result: outcome}

	case "respond":
		state, err := g.engine.Respond(ctx, req.MatchID, req.PlayerID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "resolve":
		state, err := g.engine.ResolveChain(ctx, req.MatchID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "can_activate":
		legality, err := g.engine.CanActivate(ctx, req.MatchID, req.PlayerID, req.SpellSpeed)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", Result: legality}

	case "summon":
		state, err := g.engine.Summon(ctx, req.MatchID, req.PlayerID, req.CardID, game.Position(req.Position))
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "declare_attack":
		state, err := g.engine.DeclareAttack(ctx, req.MatchID, req.PlayerID, req.AttackerID, req.TargetID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "replay_choice":
		if req.Choice == nil {
			return Response{Type: "error", Error: "replay_choice requires a choice"}
		}
		state, err := g.engine.RespondToReplay(ctx, req.MatchID, req.PlayerID, *req.Choice)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "timeout_status":
		status, err := g.engine.CheckTimeoutStatus(ctx, req.MatchID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", Result: status}

	case "end_turn":
		state, err := g.engine.EndTurn(ctx, req.MatchID, req.PlayerID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	case "forfeit":
		state, err := g.engine.Forfeit(ctx, req.MatchID, req.PlayerID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "ok", State: state}

	default:
		return Response{Type: "error", Error: "unknown request type " + req.Type}
	}
}

func errorResponse(err error) Response {
	return Response{
		Type:  "error",
		Error: err.Error(),
		Code:  string(game.ErrorCode(err)),
	}
}
