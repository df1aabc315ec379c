package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/crypto"
	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/server/handler"
	"github.com/alanyoungcy/nativeorders/internal/settlement"
	"github.com/alanyoungcy/nativeorders/internal/store/memory"
)

const apiKey = "test-key"

var (
	chainID    = big.NewInt(1)
	contract   = common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF")
	makerToken = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	takerToken = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	taker      = common.HexToAddress("0x7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a7a")
	stranger   = common.HexToAddress("0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
)

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	s.calls++
	return s.allow, s.err
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	engine  *settlement.Engine
	vault   *memory.Vault
	bus     *memory.EventBus
	maker   *crypto.OrderSigner
}

func newTestServer(t *testing.T, limiter domain.RateLimiter) *testServer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := crypto.NewDomain(chainID, contract)
	ts := &testServer{
		t:     t,
		vault: memory.NewVault(),
		bus:   memory.NewEventBus(),
		maker: crypto.NewOrderSigner(key, d),
	}
	ts.engine = settlement.NewEngine(crypto.NewHasher(d), memory.NewStateStore(), ts.vault,
		memory.NewLockManager(), ts.bus, settlement.Options{}, logger)

	handlers := Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Orders:   handler.NewOrderHandler(ts.engine, logger),
		Registry: handler.NewRegistryHandler(ts.engine, logger),
		Events:   handler.NewEventHandler(ts.bus, nil, logger),
	}
	cfg := Config{APIKey: apiKey, RateLimit: 10, RateLimitWindow: time.Minute}
	ts.handler = Routes(cfg, handlers, nil, limiter, logger)
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) limitOrder() domain.LimitOrder {
	return domain.LimitOrder{
		OrderFields: domain.OrderFields{
			MakerToken:        makerToken,
			TakerToken:        takerToken,
			MakerAmount:       big.NewInt(1000),
			TakerAmount:       big.NewInt(100),
			Maker:             ts.maker.Address(),
			Taker:             taker,
			ChainID:           chainID,
			VerifyingContract: contract,
		},
		TakerTokenFeeAmount: big.NewInt(0),
		Expiry:              uint64(time.Now().Add(time.Hour).Unix()),
		Salt:                big.NewInt(7),
	}
}

func (ts *testServer) sign(o domain.Order) domain.Signature {
	ts.t.Helper()
	_, sig, err := ts.maker.SignOrder(o, domain.SignatureTypeEIP712)
	require.NoError(ts.t, err)
	return sig
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type eventList struct {
	Events []domain.EventEnvelope `json:"events"`
}

type errorBody struct {
	Error  string         `json:"error"`
	Params map[string]any `json:"params"`
}

func TestHealthSkipsAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFillLimitOrderOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	o := ts.limitOrder()
	ts.vault.Deposit(makerToken, o.Maker, o.MakerAmount)
	ts.vault.Deposit(takerToken, taker, o.TakerAmount)

	rec := ts.do(http.MethodPost, "/api/v1/limit-orders/fill", map[string]any{
		"order":                o,
		"signature":            ts.sign(o),
		"takerTokenFillAmount": big.NewInt(40),
		"taker":                taker,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[settlement.FillResult](t, rec)
	assert.Equal(t, int64(40), res.TakerTokenFilledAmount.Int64())
	assert.Equal(t, int64(400), res.MakerTokenFilledAmount.Int64())
	assert.Equal(t, int64(400), ts.vault.Balance(makerToken, taker).Int64())

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/info", map[string]any{"order": o})
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[domain.OrderInfo](t, rec)
	assert.Equal(t, domain.OrderStatusFillable, info.Status)
	assert.Equal(t, int64(40), info.TakerTokenFilledAmount.Int64())

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/info", map[string]any{"order": o, "signature": ts.sign(o)})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[domain.RelevantState](t, rec)
	assert.True(t, state.IsSignatureValid)
	assert.Equal(t, int64(60), state.ActualFillableTakerTokenAmount.Int64())

	rec = ts.do(http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[eventList](t, rec)
	require.Len(t, list.Events, 1)
	assert.Equal(t, domain.EventLimitOrderFilled, list.Events[0].Event)
}

func TestFillErrorsMapToStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	o := ts.limitOrder()
	sig := ts.sign(o)

	rec := ts.do(http.MethodPost, "/api/v1/limit-orders/fill", map[string]any{
		"order":                o,
		"signature":            sig,
		"takerTokenFillAmount": big.NewInt(1),
		"taker":                stranger,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "order_not_fillable_by_taker", body.Error)
	assert.Equal(t, stranger.Hex(), body.Params["taker"])

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/cancel", map[string]any{"caller": o.Maker, "order": o})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/fill", map[string]any{
		"order":                o,
		"signature":            sig,
		"takerTokenFillAmount": big.NewInt(1),
		"taker":                taker,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decode[errorBody](t, rec)
	assert.Equal(t, "order_not_fillable", body.Error)
	assert.Equal(t, "cancelled", body.Params["status"])

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/cancel", map[string]any{"caller": stranger, "order": o})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only_order_maker_allowed", decode[errorBody](t, rec).Error)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/rfq-orders/fill", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decode[errorBody](t, rec).Error)

	rec = ts.do(http.MethodPost, "/api/v1/rfq-orders/cancel", map[string]any{"caller": taker})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/cancel-pair", map[string]any{"caller": taker, "makerToken": makerToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_params", decode[errorBody](t, rec).Error)

	rec = ts.do(http.MethodGet, "/api/v1/order-signers?maker=nope&signer=0x1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/events/archive/2026-03-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistryRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	maker := ts.maker.Address()

	rec := ts.do(http.MethodPost, "/api/v1/order-signers", map[string]any{"caller": maker, "signer": stranger, "allowed": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/v1/order-signers?maker="+maker.Hex()+"&signer="+stranger.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["isValid"])

	rec = ts.do(http.MethodPost, "/api/v1/rfq-origins", map[string]any{"caller": maker, "origins": []common.Address{taker}, "allowed": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/cancel-pair", map[string]any{
		"caller": stranger,
		"pairs": []settlement.PairCancel{
			{Maker: maker, MakerToken: makerToken, TakerToken: takerToken, MinValidSalt: big.NewInt(10)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/cancel-pair", map[string]any{
		"caller":       maker,
		"makerToken":   makerToken,
		"takerToken":   takerToken,
		"minValidSalt": 5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cancel_salt_too_low", decode[errorBody](t, rec).Error)
}

func TestFillRateLimit(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	ts := newTestServer(t, limiter)

	rec := ts.do(http.MethodPost, "/api/v1/limit-orders/fill", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/info", map[string]any{"order": ts.limitOrder()})
	assert.Equal(t, http.StatusOK, rec.Code, "info is not rate limited")
	assert.Equal(t, 1, limiter.calls)

	limiter.err = errors.New("redis down")
	rec = ts.do(http.MethodPost, "/api/v1/limit-orders/fill", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "limiter errors fail open")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/limit-orders/fill", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
