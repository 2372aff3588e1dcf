package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-core/internal/risk"
	"risk-core/internal/state"
	"risk-core/pkg/policy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*Server
	equity float64
	prices map[string]float64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		equity: 100000,
		prices: make(map[string]float64),
	}

	cfg := policy.Default()
	cfg.SymbolRules["BTC-USDT"] = policy.SymbolRule{PriceTick: 0.1, LotSizeMin: 0.001, LotSizeStep: 0.001}

	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"), ts.equity, zerolog.Nop(), nil)
	require.NoError(t, err)

	engine, err := risk.NewEngine(risk.Options{
		Policy: cfg,
		Store:  store,
		Equity: risk.EquityFunc(func() float64 { return ts.equity }),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	sinks := Sinks{
		OnPrice:  func(sym string, px float64) { ts.prices[sym] = px },
		OnEquity: func(eq float64) { ts.equity = eq },
	}
	meta := SystemMeta{Version: "test", StatePath: "/tmp/state.json", Symbols: []string{"BTC-USDT"}}
	ts.Server = NewServer(engine, nil, zerolog.Nop(), meta, sinks)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func evaluateBody(side string) map[string]any {
	return map[string]any{
		"decision": map[string]any{
			"symbol":     "BTC-USDT",
			"side":       side,
			"confidence": 0.7,
			"risk":       map[string]any{"stop_loss_pct": 0.01, "take_profit_pct": 0.02},
		},
		"market":  map[string]any{"BTC-USDT": map[string]any{"price": 50000}},
		"balance": map[string]any{"available": map[string]any{"USDT": 100000}},
		"equity":  100000,
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEvaluateAdmits(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/evaluate", evaluateBody("buy"))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, true, resp["admitted"])
	assert.Equal(t, "ok", resp["reason"])
	assert.NotEmpty(t, resp["decision_id"])

	order, ok := resp["order"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", order["symbol"])
	assert.Greater(t, order["size"].(float64), 0.0)

	// Market prices piggybacked on the request reach the price sink.
	assert.Equal(t, 50000.0, ts.prices["BTC-USDT"])
}

// A rejection is a normal answer, not an HTTP failure.
func TestEvaluateRejectionIsStill200(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/evaluate", evaluateBody("hold"))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, false, resp["admitted"])
	assert.Equal(t, "hold", resp["reason"])
	assert.NotContains(t, resp, "order")
}

func TestEvaluateRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/evaluate", map[string]any{"market": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, w)["code"])
}

func TestRecordFillUpdatesState(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/fills", map[string]any{
		"symbol": "BTC-USDT", "side": "buy", "size": 0.5, "price": 50000, "realized_pnl": -75.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	summary, ok := resp["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, summary["consecutive_losses"])
	assert.Equal(t, 1.0, summary["open_positions"])
	assert.Equal(t, -75.0, summary["realized_pnl_today"])
}

func TestRecordFillValidation(t *testing.T) {
	ts := newTestServer(t)

	bad := []map[string]any{
		{"symbol": "BTC-USDT", "side": "flat", "size": 1, "price": 1},
		{"symbol": "BTC-USDT", "side": "buy", "size": 0, "price": 1},
		{"symbol": "BTC-USDT", "side": "buy", "size": 1, "price": -1},
		{"side": "buy", "size": 1, "price": 1},
	}
	for _, body := range bad {
		w := ts.do(t, http.MethodPost, "/api/fills", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %v", body)
	}
}

func TestPushPricesAcceptsArrayAndSingle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/prices", []map[string]any{
		{"symbol": "BTC-USDT", "price": 50000},
		{"symbol": "ETH-USDT", "price": 3000},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["accepted"])

	w = ts.do(t, http.MethodPost, "/api/prices", map[string]any{"symbol": "BTC-USDT", "price": 50100})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["accepted"])

	assert.Equal(t, 50100.0, ts.prices["BTC-USDT"])
}

func TestReportEquityFeedsTheCache(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/equity", map[string]any{"equity": 98765.0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 98765.0, ts.equity)

	w = ts.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 98765.0, decode(t, w)["equity"])

	w = ts.do(t, http.MethodPost, "/api/equity", map[string]any{"equity": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEndpointsWithoutJournal(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/decisions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["decisions"])

	w = ts.do(t, http.MethodGet, "/api/fills?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["fills"])
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "test", resp["version"])
	assert.Contains(t, resp, "policy")
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/evaluate", nil)
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// The timeout middleware turns a stalled handler into a 408 instead of
// holding the connection open.
func TestTimeoutMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(TimeoutMiddleware(50*time.Millisecond, zerolog.Nop()))
	r.GET("/slow", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			return
		case <-time.After(time.Second):
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}
