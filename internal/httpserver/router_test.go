package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perp-ledger/internal/cooldown"
	"perp-ledger/internal/health"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/liquidation"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/logging"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/orders"
	"perp-ledger/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "internal-secret"

func newTestRouter(t *testing.T, limiter *RateLimiter) http.Handler {
	t.Helper()
	log := logging.Discard()
	st := memory.New()
	locker := locks.NewKeyed()
	book := marketdata.NewPriceBook(16)
	bus := marketdata.NewBus()
	pairs := marketdata.NewPairRegistry(false)
	ledgerSvc := ledger.NewService(st, locker, cooldown.NewMemory(time.Now), ledger.DefaultConfig(), log)
	orderSvc := orders.NewService(st, ledgerSvc, book, pairs, locker, bus, orders.DefaultConfig(), log)
	scanner := liquidation.NewScanner(st, book, orderSvc, time.Second, log)
	return NewRouter(RouterDeps{
		LedgerHandler:      ledger.NewHandler(ledgerSvc),
		OrderHandler:       orders.NewHandler(orderSvc),
		MarketHandler:      marketdata.NewHandler(pairs, book, book, book, bus),
		LiquidationHandler: liquidation.NewHandler(scanner),
		HealthHandler:      health.NewHandler(time.Now(), nil, bus.Dropped),
		WSHandler:          NewWSHandler(bus, "*", log),
		RateLimiter:        limiter,
		InternalToken:      token,
	})
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if user == "internal" {
		req.Header.Del(UserHeader)
		req.Header.Set("X-Internal-Token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTradingFlow(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/internal/prices", "internal", map[string]any{"symbol": "btc-usdt", "price": "50000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/wallet/deposit", "u1", map[string]string{"amount": "10000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/fills", "u1", map[string]any{"symbol": "BTCUSDT", "side": "LONG", "size": "5000", "leverage": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fill struct {
		Position struct {
			ID     string `json:"id"`
			Margin string `json:"margin"`
		} `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fill))
	require.NotEmpty(t, fill.Position.ID)
	assert.Equal(t, "500", fill.Position.Margin)

	rec = do(t, h, http.MethodGet, "/v1/positions", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	rec = do(t, h, http.MethodPost, "/v1/positions/"+fill.Position.ID+"/close", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users cannot close the position")

	rec = do(t, h, http.MethodPost, "/v1/positions/"+fill.Position.ID+"/close", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/positions/"+fill.Position.ID+"/close", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/wallet/transactions?type=trade_fee", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	assert.Len(t, txs, 2)
	rec = do(t, h, http.MethodGet, "/v1/orders", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var placed []struct {
		Side       string `json:"side"`
		Status     string `json:"status"`
		Transition string `json:"transition"`
		PositionID string `json:"position_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	require.Len(t, placed, 2)
	assert.Equal(t, "SELL", placed[0].Side)
	assert.Equal(t, "CLOSE", placed[0].Transition)
	assert.Equal(t, "BUY", placed[1].Side)
	assert.Equal(t, "FILLED", placed[1].Status)
	assert.Equal(t, fill.Position.ID, placed[1].PositionID)

	rec = do(t, h, http.MethodGet, "/v1/orders?status=filled&limit=1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.Len(t, placed, 1)

	rec = do(t, h, http.MethodGet, "/v1/orders", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/orders?status=pending", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/orders?limit=0", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/v1/internal/prices", "internal", map[string]any{"symbol": "BTCUSDT", "price": "50000"})

	rec := do(t, h, http.MethodPost, "/v1/fills", "u1", map[string]any{"symbol": "BTCUSDT", "side": "LONG", "size": "1", "leverage": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "insufficient balance")

	rec = do(t, h, http.MethodPost, "/v1/fills", "u1", map[string]any{"symbol": "ETHUSDT", "side": "LONG", "size": "1", "leverage": 10})
	assert.Equal(t, http.StatusConflict, rec.Code, "no price")

	rec = do(t, h, http.MethodPost, "/v1/fills", "u1", map[string]any{"symbol": "BTCUSDT", "side": "UP", "size": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/internal/liquidations/sweep", "u1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/internal/accounts/u1/reset", "internal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "account is not halted")
	rec = do(t, h, http.MethodGet, "/v1/internal/halted", "internal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestFaucetCooldown(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodPost, "/v1/faucet/claim", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/v1/faucet/claim", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, NewRateLimiter(1, 2))
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "u1", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/health", "u1", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "u2", nil).Code, "buckets are per client")
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	rl.Prune()
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "b")
}
