package httpserver

import (
	"net/http"
	"strings"
	"time"

	"perp-ledger/internal/marketdata"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSHandler streams bus events to one user: their own account and position
// events plus public price ticks, optionally narrowed with ?symbols=.
type WSHandler struct {
	bus      *marketdata.Bus
	origin   string
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *marketdata.Bus, origin string, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		bus:    bus,
		origin: origin,
		log:    log.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" {
		return true
	}
	// localhost and 127.0.0.1 are interchangeable in development
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

type eventFilter struct {
	userID  string
	symbols map[string]bool
}

func newEventFilter(userID, rawSymbols string) eventFilter {
	f := eventFilter{userID: userID}
	for _, s := range strings.Split(rawSymbols, ",") {
		if s = marketdata.NormalizeSymbol(s); s != "" {
			if f.symbols == nil {
				f.symbols = map[string]bool{}
			}
			f.symbols[s] = true
		}
	}
	return f
}

func (f eventFilter) match(evt marketdata.Event) bool {
	if evt.UserID != "" {
		return evt.UserID == f.userID
	}
	if evt.Type != marketdata.EventPrice {
		return false
	}
	if f.symbols == nil {
		return true
	}
	p, ok := evt.Data.(marketdata.Price)
	return ok && f.symbols[p.Symbol]
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the user comes from the identity header set by the gateway only; a
	// query parameter would let any client read another user's stream
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	filter := newEventFilter(userID, r.URL.Query().Get("symbols"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if !filter.match(evt) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				h.log.WithError(err).WithField("user", userID).Debug("ws write")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
