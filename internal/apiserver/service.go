// Package apiserver exposes the trading engine and the trade journal over
// HTTP with JSON envelopes.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/journal"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/trader"
)

type Service struct {
	cfg              config.TraderConfig
	logger           *slog.Logger
	engine           *trader.Engine
	journal          *journal.Journal
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

// New wires the API over an engine the caller owns; closing the engine and
// journal stays the caller's job.
func New(cfg config.TraderConfig, engine *trader.Engine, jrnl *journal.Journal, logger *slog.Logger) *Service {
	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		engine:           engine,
		journal:          jrnl,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.withCORS(s.routes()),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api started",
		"listen_addr", s.cfg.ListenAddr,
		"journal", s.journal.Enabled(),
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

func (s *Service) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/price", s.handlePrice)
	mux.HandleFunc("/api/v1/curve", s.handleCurve)
	mux.HandleFunc("/api/v1/addresses", s.handleAddresses)
	mux.HandleFunc("/api/v1/positions", s.handlePositions)
	mux.HandleFunc("/api/v1/positions/pnl", s.handlePositionPnL)
	mux.HandleFunc("/api/v1/wallet", s.handleWallet)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/buy", s.handleBuy)
	mux.HandleFunc("/api/v1/sell", s.handleSell)
	return mux
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Mint   string             `json:"mint"`
	Status trader.VenueStatus `json:"status"`
}

type walletResponse struct {
	Wallet   string  `json:"wallet"`
	Lamports uint64  `json:"lamports"`
	SOL      float64 `json:"sol"`
}

type positionsResponse struct {
	Positions []ledger.Position `json:"positions"`
}

type pnlResponse struct {
	Mint          string  `json:"mint"`
	Price         float64 `json:"price"`
	PnL           float64 `json:"pnl"`
	TokensOwned   uint64  `json:"tokens_owned"`
	QuoteInvested float64 `json:"sol_invested"`
	EntryPrice    float64 `json:"entry_price"`
}

type buyRequest struct {
	Mint        string  `json:"mint"`
	SOL         float64 `json:"sol"`
	SlippageBps uint64  `json:"slippage_bps"`
}

type sellRequest struct {
	Mint        string `json:"mint"`
	SlippageBps uint64 `json:"slippage_bps"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := mintQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.engine.Status(r.Context(), mint)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, statusResponse{Mint: mint.String(), Status: status})
}

func (s *Service) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := mintQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote, err := s.engine.Price(r.Context(), mint)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, quote)
}

func (s *Service) handleCurve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := mintQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := s.engine.CurveSnapshot(r.Context(), mint)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}

func (s *Service) handleAddresses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := mintQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	addresses, err := s.engine.DeriveAddresses(mint)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, addresses)
}

func (s *Service) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	positions := s.engine.Positions()
	if positions == nil {
		positions = []ledger.Position{}
	}
	s.respondJSON(w, http.StatusOK, positionsResponse{Positions: positions})
}

func (s *Service) handlePositionPnL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := mintQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	position, ok := s.engine.Position(mint)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no open position for mint")
		return
	}

	// An explicit price computes hypothetical PnL; without one the venue is
	// quoted live.
	price, err := parseOptionalFloat(r, "price")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if price == nil {
		quote, err := s.engine.Price(r.Context(), mint)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		price = &quote.Price
	}

	s.respondJSON(w, http.StatusOK, pnlResponse{
		Mint:          mint.String(),
		Price:         *price,
		PnL:           position.PnL(*price),
		TokensOwned:   position.TokensOwned,
		QuoteInvested: position.QuoteInvested,
		EntryPrice:    position.EntryPrice,
	})
}

func (s *Service) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	wallet, err := s.engine.Wallet()
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	lamports, err := s.engine.WalletBalance(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, walletResponse{
		Wallet:   wallet.String(),
		Lamports: lamports,
		SOL:      float64(lamports) / float64(solana.LAMPORTS_PER_SOL),
	})
}

func (s *Service) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.journal.ListTrades(r.Context(), journal.TradeFilter{
		Mint:      strings.TrimSpace(r.URL.Query().Get("mint")),
		Direction: strings.TrimSpace(r.URL.Query().Get("direction")),
		Status:    strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if errors.Is(err, journal.ErrDisabled) {
		s.respondError(w, http.StatusNotFound, "trade journal is not configured")
		return
	}
	if err != nil {
		s.logger.Error("list trades failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[journal.Trade]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

func (s *Service) handleBuy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req buyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mint, err := parseMint(req.Mint)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SOL <= 0 {
		s.respondError(w, http.StatusBadRequest, "sol must be positive")
		return
	}
	lamports := uint64(req.SOL * float64(solana.LAMPORTS_PER_SOL))

	outcome, err := s.engine.Buy(r.Context(), mint, lamports, req.SlippageBps)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

func (s *Service) handleSell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req sellRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mint, err := parseMint(req.Mint)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.Sell(r.Context(), mint, req.SlippageBps)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

// respondEngineError maps engine sentinels onto HTTP statuses; unmatched
// errors read as upstream RPC failures.
func (s *Service) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trader.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trader.ErrAccountNotFound), errors.Is(err, trader.ErrVenueNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trader.ErrNoWallet),
		errors.Is(err, trader.ErrNoBalance),
		errors.Is(err, trader.ErrInsufficientFunds):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trader.ErrSimulationRejected):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, trader.ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseMint(raw string) (solana.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return solana.PublicKey{}, fmt.Errorf("mint is required")
	}
	mint, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid mint: %w", err)
	}
	return mint, nil
}

func mintQuery(r *http.Request) (solana.PublicKey, error) {
	return parseMint(r.URL.Query().Get("mint"))
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
