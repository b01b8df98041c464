package apiserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/logging"
	"github.com/greyfin/pumptrader/internal/pump"
	"github.com/greyfin/pumptrader/internal/trader"
)

// testAPIConfig points the engine at an unroutable RPC endpoint; the
// handlers under test never reach the network.
func testAPIConfig(t *testing.T) config.TraderConfig {
	t.Helper()
	return config.TraderConfig{
		RPCURL:         "http://127.0.0.1:0",
		CurveProgramID: pump.CurveProgramID,
		AMMProgramID:   pump.AMMProgramID,
		LedgerPath:     filepath.Join(t.TempDir(), "positions.json"),
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"*"},
	}
}

func newTestService(t *testing.T, cfg config.TraderConfig) *Service {
	t.Helper()
	engine, err := trader.New(cfg, nil, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return New(cfg, engine, nil, logging.Discard())
}

func doRequest(t *testing.T, svc *Service, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, body)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	svc.withCORS(svc.routes()).ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.True(t, decodeBody[healthResponse](t, recorder).OK)

	recorder = doRequest(t, svc, http.MethodPost, "/healthz", strings.NewReader("{}"))
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestStatusRequiresMint(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(t, svc, http.MethodGet, "/api/v1/status?mint=not-base58", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, decodeBody[errorResponse](t, recorder).Error, "invalid mint")
}

func TestAddresses(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))
	mint := solana.NewWallet().PublicKey()

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/addresses?mint="+mint.String(), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	addresses := decodeBody[trader.TokenAddresses](t, recorder)
	require.Equal(t, mint, addresses.Mint)

	curveKey, _, err := pump.DeriveBondingCurvePDA(pump.CurveProgramID, mint)
	require.NoError(t, err)
	require.Equal(t, curveKey, addresses.BondingCurve)

	// No wallet configured, so the user-side accounts are absent.
	require.Nil(t, addresses.UserTokenAccount)
	require.Nil(t, addresses.UserQuoteAccount)
}

func TestPositionsEmpty(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	response := decodeBody[positionsResponse](t, recorder)
	require.NotNil(t, response.Positions)
	require.Empty(t, response.Positions)
}

func TestPositionPnLWithExplicitPrice(t *testing.T) {
	cfg := testAPIConfig(t)
	mint := solana.NewWallet().PublicKey()

	book, err := ledger.Open(cfg.LedgerPath)
	require.NoError(t, err)
	_, err = book.Record(ledger.Position{
		Mint:          mint,
		Venue:         "curve",
		TokensOwned:   50_000_000_000,
		QuoteInvested: 1.0,
		EntryPrice:    2e-8,
	})
	require.NoError(t, err)

	svc := newTestService(t, cfg)

	target := fmt.Sprintf("/api/v1/positions/pnl?mint=%s&price=3e-8", mint)
	recorder := doRequest(t, svc, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	response := decodeBody[pnlResponse](t, recorder)
	require.Equal(t, mint.String(), response.Mint)
	require.InEpsilon(t, 3e-8, response.Price, 1e-12)
	// 50k whole tokens at 3e-8 SOL recovers 0.0015 of the 1 SOL spent.
	require.InEpsilon(t, -0.9985, response.PnL, 1e-9)
	require.Equal(t, uint64(50_000_000_000), response.TokensOwned)
}

func TestPositionPnLWithoutPosition(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))
	mint := solana.NewWallet().PublicKey()

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/positions/pnl?mint="+mint.String()+"&price=1e-8", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestTradesJournalDisabled(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/trades", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Contains(t, decodeBody[errorResponse](t, recorder).Error, "journal")
}

func TestBuyRequiresWallet(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))
	mint := solana.NewWallet().PublicKey()

	body := fmt.Sprintf(`{"mint":%q,"sol":0.5,"slippage_bps":100}`, mint)
	recorder := doRequest(t, svc, http.MethodPost, "/api/v1/buy", strings.NewReader(body))
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Contains(t, decodeBody[errorResponse](t, recorder).Error, "no wallet")
}

func TestBuyRejectsBadBody(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))
	mint := solana.NewWallet().PublicKey()

	cases := []struct {
		name string
		body string
	}{
		{"missing mint", `{"sol":0.5}`},
		{"invalid mint", `{"mint":"nope","sol":0.5}`},
		{"zero sol", fmt.Sprintf(`{"mint":%q,"sol":0}`, mint)},
		{"negative sol", fmt.Sprintf(`{"mint":%q,"sol":-1}`, mint)},
		{"unknown field", fmt.Sprintf(`{"mint":%q,"sol":0.5,"lamports":1}`, mint)},
		{"not json", `sol=0.5`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := doRequest(t, svc, http.MethodPost, "/api/v1/buy", strings.NewReader(tc.body))
			require.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestSellRequiresWallet(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))
	mint := solana.NewWallet().PublicKey()

	body := fmt.Sprintf(`{"mint":%q,"slippage_bps":100}`, mint)
	recorder := doRequest(t, svc, http.MethodPost, "/api/v1/sell", strings.NewReader(body))
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestWalletRequiresSigner(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestTradeRoutesRejectGet(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := doRequest(t, svc, http.MethodGet, "/api/v1/buy", nil)
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)

	recorder = doRequest(t, svc, http.MethodGet, "/api/v1/sell", nil)
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestCORSPreflight(t *testing.T) {
	svc := newTestService(t, testAPIConfig(t))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/api/v1/positions", nil)
	request.Header.Set("Origin", "http://example.com")
	svc.withCORS(svc.routes()).ServeHTTP(recorder, request)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictsOrigins(t *testing.T) {
	cfg := testAPIConfig(t)
	cfg.AllowedOrigins = []string{"http://app.example.com"}
	svc := newTestService(t, cfg)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("Origin", "http://evil.example.com")
	svc.withCORS(svc.routes()).ServeHTTP(recorder, request)
	require.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("Origin", "http://app.example.com")
	svc.withCORS(svc.routes()).ServeHTTP(recorder, request)
	require.Equal(t, "http://app.example.com", recorder.Header().Get("Access-Control-Allow-Origin"))
}
