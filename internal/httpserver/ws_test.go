package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perp-ledger/internal/logging"
	"perp-ledger/internal/marketdata"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilter(t *testing.T) {
	f := newEventFilter("u1", "btc-usdt, ethusdt")
	assert.True(t, f.match(marketdata.Event{Type: marketdata.EventBalance, UserID: "u1"}))
	assert.False(t, f.match(marketdata.Event{Type: marketdata.EventBalance, UserID: "u2"}))
	assert.True(t, f.match(marketdata.Event{Type: marketdata.EventPrice, Data: marketdata.Price{Symbol: "BTCUSDT"}}))
	assert.False(t, f.match(marketdata.Event{Type: marketdata.EventPrice, Data: marketdata.Price{Symbol: "SOLUSDT"}}))

	all := newEventFilter("u1", "")
	assert.True(t, all.match(marketdata.Event{Type: marketdata.EventPrice, Data: marketdata.Price{Symbol: "SOLUSDT"}}))
}

func TestAllowOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	assert.True(t, allowOrigin(req, "http://localhost:5173"))
	assert.False(t, allowOrigin(req, "https://app.example.com"))
	assert.True(t, allowOrigin(req, "*"))
}

func TestWSStreamsOwnEvents(t *testing.T) {
	bus := marketdata.NewBus()
	srv := httptest.NewServer(NewWSHandler(bus, "*", logging.Discard()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{UserHeader: {"u1"}})
	require.NoError(t, err)
	defer conn.Close()

	// the subscription starts after the upgrade, so keep publishing until a read lands
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				bus.Publish(marketdata.Event{Type: marketdata.EventBalance, UserID: "u2", Data: "theirs"})
				bus.Publish(marketdata.Event{Type: marketdata.EventBalance, UserID: "u1", Data: "mine"})
			}
		}
	}()

	var got marketdata.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "mine", got.Data)
}

func TestWSRequiresUser(t *testing.T) {
	h := NewWSHandler(marketdata.NewBus(), "*", logging.Discard())
	for _, target := range []string{"/v1/ws", "/v1/ws?user_id=u1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestWSIgnoresUserQueryParam(t *testing.T) {
	srv := httptest.NewServer(NewWSHandler(marketdata.NewBus(), "*", logging.Discard()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=u2"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
