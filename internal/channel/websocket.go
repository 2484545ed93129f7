package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"greencycle/internal/chat"
	"greencycle/internal/domain"
	"greencycle/internal/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 8 << 10
	wsSendBuffer     = 64
)

// WSMessage is the JSON protocol for the chat websocket.
//
// Client frames: "message" (Text), "quick_reply" (ID).
// Server frames: "message", "typing", "quick_replies", "navigate", "error", "pickups_changed".
// A signed-in client reconnecting with ?pickups_since=<RFC 3339 time> first
// receives the pickups_changed frames recorded since then.
type WSMessage struct {
	Type         string               `json:"type"`
	SessionID    string               `json:"session_id,omitempty"`
	Text         string               `json:"text,omitempty"`
	ID           string               `json:"id,omitempty"`
	Message      *domain.Message      `json:"message,omitempty"`
	Composing    *bool                `json:"composing,omitempty"`
	QuickReplies []domain.QuickReply  `json:"quick_replies,omitempty"`
	Navigate     *navigation          `json:"navigate,omitempty"`
	Pickup       *domain.PickupChange `json:"pickup,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// wsClient is one connected widget. Writes go through send so that session
// events raised on other goroutines never block on the socket.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func (w *Web) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     w.checkOrigin,
	}
}

// checkOrigin admits same-host requests and anything on the allow-list.
func (w *Web) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if w.allowedOrigins["*"] || w.allowedOrigins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	key := clientKey(r)

	var s *chat.Session
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		var err error
		if s, err = w.session(r, sid); err != nil {
			renderError(rw, r, statusFor(err), err.Error())
			return
		}
	} else {
		s = w.openSession(id)
	}

	conn, err := w.upgrader().Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	w.clientsMu.Lock()
	w.clients[c] = struct{}{}
	w.clientsMu.Unlock()
	metrics.WSConnections.Inc()

	logger := w.logger.With("session", s.ID())
	logger.Info("websocket client connected", "authenticated", id != nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		w.clientsMu.Lock()
		delete(w.clients, c)
		w.clientsMu.Unlock()
		close(c.done)
		conn.Close()
		metrics.WSConnections.Dec()
		logger.Info("websocket client disconnected")
	}()

	// Events raised while the history is written queue up in c.send; the
	// pump starts after the history so the widget renders the log in order.
	history, quickReplies, unsubscribe := s.Attach(func(ev chat.Event) {
		c.push(frameFor(s, ev))
	})
	defer unsubscribe()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	for _, m := range history {
		if err := conn.WriteJSON(WSMessage{Type: "message", SessionID: s.ID(), Message: &m}); err != nil {
			return
		}
	}
	if err := conn.WriteJSON(WSMessage{Type: "quick_replies", SessionID: s.ID(), QuickReplies: quickReplies}); err != nil {
		return
	}

	if id != nil && w.pickups != nil {
		stop := w.pickups.SubscribePickups(id.UserID, func(pc domain.PickupChange) {
			c.push(WSMessage{Type: "pickups_changed", SessionID: s.ID(), Pickup: &pc})
		})
		defer stop()
		w.replayPickups(c, s.ID(), id.UserID, r.URL.Query().Get("pickups_since"))
	}

	go c.writePump()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var in WSMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.push(WSMessage{Type: "error", Error: "invalid frame"})
			continue
		}

		// Each frame runs on its own goroutine so a busy session can answer
		// a second send with an error frame instead of queueing it.
		if in.Type == "message" || in.Type == "quick_reply" {
			if ok, _ := w.limiter.Allow(key); !ok {
				c.push(WSMessage{Type: "error", SessionID: s.ID(), Error: ErrRateLimited.Error()})
				continue
			}
		}

		switch in.Type {
		case "message":
			go func(text string) {
				if _, err := s.Send(ctx, text); err != nil {
					c.push(WSMessage{Type: "error", SessionID: s.ID(), Error: err.Error()})
				}
			}(in.Text)
		case "quick_reply":
			go func(qrID string) {
				if _, err := s.SelectQuickReply(ctx, qrID); err != nil {
					c.push(WSMessage{Type: "error", SessionID: s.ID(), Error: err.Error()})
				}
			}(in.ID)
		default:
			c.push(WSMessage{Type: "error", Error: "unknown frame type " + in.Type})
		}
	}
}

// pickupHistory is implemented by notifiers that keep recent changes.
type pickupHistory interface {
	PickupsSince(userID string, since time.Time) []domain.PickupChange
}

// replayPickups queues the changes a reconnecting widget missed. since is
// the "at" of the last pickups_changed frame it saw; that change may be
// delivered again.
func (w *Web) replayPickups(c *wsClient, sessionID, userID, since string) {
	if since == "" {
		return
	}
	h, ok := w.pickups.(pickupHistory)
	if !ok {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, since)
	if err != nil {
		c.push(WSMessage{Type: "error", SessionID: sessionID, Error: "invalid pickups_since"})
		return
	}
	for _, pc := range h.PickupsSince(userID, t) {
		pc := pc
		c.push(WSMessage{Type: "pickups_changed", SessionID: sessionID, Pickup: &pc})
	}
}

// frameFor converts a session event to its wire frame.
func frameFor(s *chat.Session, ev chat.Event) WSMessage {
	msg := WSMessage{Type: string(ev.Type), SessionID: s.ID()}
	switch ev.Type {
	case chat.EventMessage:
		msg.Message = ev.Message
	case chat.EventTyping:
		composing := ev.Composing
		msg.Composing = &composing
	case chat.EventQuickReplies:
		msg.QuickReplies = ev.QuickReplies
	case chat.EventNavigate:
		msg.Navigate = &navigation{Destination: ev.Destination, Path: ev.Destination.PathFor(s.Identity() != nil)}
	}
	return msg
}

// push queues a frame. A client that stops reading loses frames rather than
// stalling the session.
func (c *wsClient) push(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *Web) closeAllClients() {
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	for c := range w.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}
