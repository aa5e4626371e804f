package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/usage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 16 * 1024
)

// Message types accepted on the event stream.
const (
	TypeNavigated       = "navigated"
	TypeForegrounded    = "foregrounded"
	TypeBackgrounded    = "backgrounded"
	TypeVisible         = "visible"
	TypeHidden          = "hidden"
	TypeWindowFocused   = "window-focused"
	TypeWindowBlurred   = "window-blurred"
	TypeDestroyed       = "destroyed"
	TypeSuspending      = "suspending"
	TypeQuerySession    = "query-session"
	TypeQueryDaily      = "query-daily"
	TypeSync            = "sync"
	TypeToggleWatchlist = "toggle-watchlist"
	TypeGetWatchlist    = "get-watchlist"

	// Sent by the server.
	TypeReply     = "reply"
	TypeWatchlist = "watchlist"
)

// Message is one inbound event-stream frame.
type Message struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Context  string `json:"context,omitempty"`
	URL      string `json:"url,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Reply is one outbound event-stream frame.
type Reply struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

var errUnknownType = errors.New("unknown message type")

// conn is one WebSocket client.
type conn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// hub tracks the single current host connection. A newer connection
// replaces the current one; losing the current one quiesces the tracker.
type hub struct {
	server   *Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	current *conn
	closing bool
}

func newHub(s *Server, allowedOrigins []string) *hub {
	return &hub{
		server: s,
		logger: s.logger.With().Str("subcomponent", "events").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
		},
	}
}

func (h *hub) connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	c := &conn{id: uuid.NewString(), ws: ws}
	h.attach(c)
	metrics.BridgeConnections.Inc()

	h.logger.Info().Str("conn_id", c.id).Str("remote_addr", r.RemoteAddr).Msg("Host connected")

	h.server.tracker.Revive()
	_ = c.send(Reply{Type: TypeWatchlist, OK: true, Data: h.server.watchlist.Get()})

	go h.pingLoop(c)
	h.readLoop(c)
}

// attach makes c the current connection, closing any previous one.
func (h *hub) attach(c *conn) {
	h.mu.Lock()
	prev := h.current
	h.current = c
	h.mu.Unlock()

	if prev != nil {
		h.logger.Info().Str("conn_id", prev.id).Msg("Host connection replaced")
		_ = prev.ws.Close()
	}
}

// detach forgets c and reports whether it was still current.
func (h *hub) detach(c *conn) (wasCurrent, closing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == c {
		h.current = nil
		return true, h.closing
	}
	return false, h.closing
}

func (h *hub) readLoop(c *conn) {
	defer func() {
		metrics.BridgeConnections.Dec()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				_ = c.send(Reply{Type: TypeReply, Error: "invalid JSON"})
				continue
			}
			h.lost(c, err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		reply, wantReply := h.dispatch(msg)
		if !wantReply {
			continue
		}
		if err := c.send(reply); err != nil {
			h.lost(c, err)
			return
		}
	}
}

func (h *hub) pingLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.Lock()
		current := h.current == c
		h.mu.Unlock()
		if !current {
			return
		}
		if err := c.ping(); err != nil {
			_ = c.ws.Close()
			return
		}
	}
}

// lost handles a failed read or write. Only the loss of the current
// connection outside shutdown quiesces the tracker.
func (h *hub) lost(c *conn, err error) {
	wasCurrent, closing := h.detach(c)
	log := h.logger.Info().Err(err).Str("conn_id", c.id)
	if !wasCurrent || closing {
		log.Msg("Host connection closed")
		return
	}
	log.Msg("Host connection lost")
	h.server.tracker.Quiesce("bridge connection lost")
}

// pushWatchlist sends the watchlist to the current connection.
func (h *hub) pushWatchlist(hostnames []string) {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.send(Reply{Type: TypeWatchlist, OK: true, Data: hostnames}); err != nil {
		h.logger.Debug().Err(err).Msg("Watchlist push failed")
	}
}

func (h *hub) shutdown() {
	h.mu.Lock()
	h.closing = true
	c := h.current
	h.mu.Unlock()

	if c != nil {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}

// dispatch applies msg to the tracker. Queries always reply; signals reply
// only when the sender supplied an id or the signal failed.
func (h *hub) dispatch(msg Message) (Reply, bool) {
	data, err := h.handle(msg)

	reply := Reply{Type: TypeReply, ID: msg.ID, OK: err == nil, Data: data}
	if err != nil {
		reply.Error = err.Error()
		if !errors.Is(err, usage.ErrQuiesced) {
			h.logger.Debug().Err(err).Str("type", msg.Type).Str("context", msg.Context).Msg("Message rejected")
		}
	}

	return reply, msg.ID != "" || err != nil || isQuery(msg.Type)
}

func isQuery(t string) bool {
	switch t {
	case TypeQuerySession, TypeQueryDaily, TypeSync, TypeToggleWatchlist, TypeGetWatchlist:
		return true
	}
	return false
}

func (h *hub) handle(msg Message) (interface{}, error) {
	t := h.server.tracker
	ctx := usage.ContextID(msg.Context)

	switch msg.Type {
	case TypeNavigated:
		if err := requireContext(msg); err != nil {
			return nil, err
		}
		return nil, t.OnContextNavigated(ctx, msg.URL)
	case TypeForegrounded:
		if err := requireContext(msg); err != nil {
			return nil, err
		}
		return nil, t.OnContextForegrounded(ctx)
	case TypeBackgrounded:
		return nil, t.OnContextBackgrounded(ctx)
	case TypeVisible:
		if err := requireContext(msg); err != nil {
			return nil, err
		}
		return nil, t.OnContextVisible(ctx)
	case TypeHidden:
		return nil, t.OnContextHidden(ctx)
	case TypeWindowFocused:
		return nil, t.OnWindowFocused()
	case TypeWindowBlurred:
		return nil, t.OnWindowBlurred()
	case TypeDestroyed:
		return nil, t.OnContextDestroyed(ctx)
	case TypeSuspending:
		return nil, t.OnProcessSuspending()

	case TypeQuerySession:
		snap, err := t.QuerySessionElapsed(ctx)
		if err != nil {
			return nil, err
		}
		return snap, nil
	case TypeQueryDaily:
		seconds, err := t.QueryDailyTotal(context.Background(), msg.Hostname, msg.Date)
		if err != nil {
			return nil, err
		}
		return DailyTotal{Hostname: msg.Hostname, Date: msg.Date, Seconds: seconds}, nil
	case TypeSync:
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		return nil, t.RequestImmediateSync(ctx)
	case TypeToggleWatchlist:
		watched, err := h.server.watchlist.Toggle(context.Background(), msg.Hostname)
		if err != nil {
			return nil, err
		}
		host, _ := usage.ResolveHostname(msg.Hostname)
		return ToggleResult{Hostname: host, Watched: watched}, nil
	case TypeGetWatchlist:
		return h.server.watchlist.Get(), nil
	}

	metrics.SignalsDropped.WithLabelValues("unknown_type").Inc()
	return nil, fmt.Errorf("%w: %q", errUnknownType, msg.Type)
}

func requireContext(msg Message) error {
	if msg.Context == "" {
		return fmt.Errorf("%s: context is required", msg.Type)
	}
	return nil
}
