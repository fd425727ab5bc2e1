package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quoterelay/quoterelay/internal/nostr"
)

const (
	maxSubscriptions  = 32
	maxFiltersPerReq  = 16
	invalidEventReply = "invalid: bad sig or id"
)

// hub tracks open connections for broadcast fan-out.
type hub struct {
	mu    sync.Mutex
	conns map[*conn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*conn]struct{})}
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// broadcast sends frame to every connection. Write errors are left to
// each connection's read loop to surface.
func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.send(frame)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}

// conn is one WebSocket client. The subscription table is touched only
// by the connection's own read loop; writes from other goroutines go
// through send, which serializes on writeMu.
type conn struct {
	id      string
	ip      string
	ws      *websocket.Conn
	srv     *Server
	writeMu sync.Mutex
	subs    map[string][]nostr.Filter
	log     zerolog.Logger
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ip:   remoteIP(r),
		ws:   ws,
		srv:  s,
		subs: make(map[string][]nostr.Filter),
	}
	c.log = log.With().Str("conn", c.id).Str("ip", c.ip).Logger()

	s.hub.add(c)
	s.metrics.ConnOpened()
	c.log.Debug().Msg("client connected")

	c.send(nostr.NoticeFrame("connected"))
	c.readLoop()

	s.hub.remove(c)
	s.metrics.ConnClosed()
	_ = ws.Close()
	c.log.Debug().Msg("client disconnected")
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (c *conn) send(frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
}

func (c *conn) readLoop() {
	// Hard limit well above the frame budget; oversized-but-readable
	// frames get a NOTICE instead of a teardown.
	c.ws.SetReadLimit(c.srv.cfg.MaxEventBytes * 4)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if int64(len(data)) > c.srv.cfg.MaxEventBytes {
			c.send(nostr.NoticeFrame("payload too large"))
			continue
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	verb, rest, err := nostr.ParseFrame(data)
	if err != nil {
		c.send(nostr.NoticeFrame("could not parse frame"))
		return
	}
	c.srv.metrics.IncFrame(verb)

	switch verb {
	case nostr.VerbEvent:
		c.handleEvent(rest)
	case nostr.VerbReq:
		c.handleReq(rest)
	case nostr.VerbClose:
		c.handleClose(rest)
	default:
		// Unknown verbs are ignored without teardown.
	}
}

func (c *conn) handleEvent(rest []json.RawMessage) {
	if len(rest) < 1 {
		c.send(nostr.OKFrame("", false, invalidEventReply))
		return
	}
	evt, err := nostr.ParseEvent(rest[0])
	if err != nil {
		c.srv.metrics.IncRejected("envelope")
		c.send(nostr.OKFrame("", false, invalidEventReply))
		return
	}
	if err := evt.Verify(); err != nil {
		c.srv.metrics.IncRejected("auth")
		c.send(nostr.OKFrame(evt.ID, false, invalidEventReply))
		return
	}
	if tooFarInFuture(evt.CreatedAt) {
		c.srv.metrics.IncRejected("created_at")
		c.send(nostr.OKFrame(evt.ID, false, "invalid: created_at too far in future"))
		return
	}
	if err := c.srv.admission.Admit(c.ip, evt.PubKey); err != nil {
		c.srv.metrics.IncRejected("rate")
		c.send(nostr.OKFrame(evt.ID, false, err.Error()))
		return
	}

	c.srv.store.Add(evt)
	c.srv.metrics.IncAccepted()
	c.send(nostr.OKFrame(evt.ID, true, "accepted"))
	c.srv.hub.broadcast(nostr.EventFrame(evt))

	if evt.Kind == nostr.KindPriceRequest {
		// Orchestration outlives the connection; a disconnect never
		// cancels an in-flight fetch.
		go c.srv.handlePriceRequest(evt)
	}
}

func (c *conn) handleReq(rest []json.RawMessage) {
	if len(rest) < 1 {
		c.send(nostr.NoticeFrame("REQ requires a subscription id"))
		return
	}
	var subID string
	if err := json.Unmarshal(rest[0], &subID); err != nil || subID == "" {
		c.send(nostr.NoticeFrame("REQ requires a subscription id"))
		return
	}
	if len(rest)-1 > maxFiltersPerReq {
		c.send(nostr.NoticeFrame("too many filters"))
		return
	}
	if _, exists := c.subs[subID]; !exists && len(c.subs) >= maxSubscriptions {
		c.send(nostr.NoticeFrame("too many subscriptions"))
		return
	}

	filters := make([]nostr.Filter, 0, len(rest)-1)
	for _, raw := range rest[1:] {
		var f nostr.Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			c.send(nostr.NoticeFrame("could not parse filter"))
			return
		}
		filters = append(filters, f)
	}
	c.subs[subID] = filters

	for _, evt := range c.srv.store.Query(filters) {
		c.send(nostr.SubEventFrame(subID, evt))
	}
	c.send(nostr.EOSEFrame(subID))
}

func (c *conn) handleClose(rest []json.RawMessage) {
	if len(rest) < 1 {
		return
	}
	var subID string
	if err := json.Unmarshal(rest[0], &subID); err != nil {
		return
	}
	delete(c.subs, subID)
}
