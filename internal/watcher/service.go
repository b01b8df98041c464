package watcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/journal"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/pump"
	"github.com/greyfin/pumptrader/internal/trader"
)

const (
	autoBuyAttempts = 3

	defaultExitCheckInterval = 5 * time.Second
)

// Service ties the log listener to the token log, the journal, and the
// trading engine. A nil engine reduces it to pure discovery.
type Service struct {
	cfg      config.WatcherConfig
	engine   *trader.Engine
	journal  *journal.Journal
	logger   *slog.Logger
	listener *Listener
	tokens   *TokenLog

	wg sync.WaitGroup
}

func New(cfg config.WatcherConfig, engine *trader.Engine, jrnl *journal.Journal, logger *slog.Logger) (*Service, error) {
	tokens, err := OpenTokenLog(cfg.TokenLogPath)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		engine:   engine,
		journal:  jrnl,
		logger:   logger,
		listener: NewListener(cfg, logger),
		tokens:   tokens,
	}, nil
}

// Run blocks until ctx ends, subscribing to the log feed and sweeping exit
// conditions on a fixed cadence. Auto-buy goroutines are drained before
// returning.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.listener.Subscribe(ctx, func(event TokenEvent) {
		s.handleToken(ctx, event)
	})
	if err != nil {
		return err
	}
	defer s.wg.Wait()
	defer sub.Stop()

	s.logger.Info("watcher started",
		"ws_url", s.cfg.WSURL,
		"program", s.cfg.CurveProgramID,
		"auto_buy", s.cfg.AutoBuy,
		"match", s.cfg.MatchString,
		"token_log", s.cfg.TokenLogPath,
	)

	interval := s.cfg.ExitCheckInterval
	if interval <= 0 {
		interval = defaultExitCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watcher stopped")
			return nil
		case <-sub.Done():
			if ctx.Err() != nil {
				s.logger.Info("watcher stopped")
				return nil
			}
			return errors.New("log subscription ended unexpectedly")
		case <-ticker.C:
			s.checkExits(ctx)
		}
	}
}

// handleToken runs on the subscription goroutine; anything slow is spawned
// so the read loop never stalls behind a trade.
func (s *Service) handleToken(ctx context.Context, event TokenEvent) {
	if !s.matches(event) {
		return
	}

	s.logger.Info("token discovered",
		"mint", event.Mint,
		"name", event.Name,
		"symbol", event.Symbol,
		"creator", event.Creator,
		"slot", event.Slot,
	)

	associated, err := pump.DeriveAssociatedTokenAccount(event.BondingCurve, event.Mint)
	if err != nil {
		s.logger.Error("derive associated bonding curve", "mint", event.Mint, "err", err)
	}
	record := TokenRecord{
		Mint:                   event.Mint.String(),
		Symbol:                 event.Symbol,
		Name:                   event.Name,
		Creator:                event.Creator.String(),
		BondingCurve:           event.BondingCurve.String(),
		AssociatedBondingCurve: associated.String(),
		DiscoveredAt:           event.DiscoveredAt,
	}
	if err := s.tokens.Append(record); err != nil {
		s.logger.Error("append token log", "mint", event.Mint, "err", err)
	}

	raw, _ := json.Marshal(event)
	if err := s.journal.RecordToken(ctx, journal.Token{
		Mint:         event.Mint.String(),
		Name:         event.Name,
		Symbol:       event.Symbol,
		Creator:      event.Creator.String(),
		BondingCurve: event.BondingCurve.String(),
		DiscoveredAt: event.DiscoveredAt,
		Raw:          string(raw),
	}); err != nil {
		s.logger.Error("journal token", "mint", event.Mint, "err", err)
	}

	if !s.cfg.AutoBuy || s.engine == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.autoBuy(ctx, event)
	}()
}

// matches applies the configured filters; an empty filter set accepts every
// token.
func (s *Service) matches(event TokenEvent) bool {
	if s.cfg.MatchString != "" {
		needle := strings.ToLower(s.cfg.MatchString)
		if !strings.Contains(strings.ToLower(event.Name), needle) &&
			!strings.Contains(strings.ToLower(event.Symbol), needle) {
			return false
		}
	}
	if s.cfg.CreatorFilter != nil && !event.Creator.Equals(*s.cfg.CreatorFilter) {
		return false
	}
	return true
}

func (s *Service) autoBuy(ctx context.Context, event TokenEvent) {
	lamports := uint64(s.cfg.BuySOL * float64(solana.LAMPORTS_PER_SOL))
	if lamports == 0 {
		s.logger.Warn("auto-buy skipped, buy amount rounds to zero", "mint", event.Mint)
		return
	}

	outcome, err := s.buyWithRetry(ctx, event.Mint, lamports)
	if err != nil {
		s.logger.Error("auto-buy failed", "mint", event.Mint, "symbol", event.Symbol, "err", err)
		return
	}
	s.logger.Info("auto-buy filled",
		"mint", event.Mint,
		"symbol", event.Symbol,
		"tokens_raw", outcome.TokensRaw,
		"price", outcome.Price,
		"signature", outcome.Signature,
	)

	if _, err := s.engine.AmendPosition(event.Mint, func(position *ledger.Position) {
		s.applyExitParameters(position, event)
	}); err != nil {
		s.logger.Error("set exit parameters", "mint", event.Mint, "err", err)
	}
}

// applyExitParameters stamps the discovery metadata and derives absolute
// exit levels from the entry price and the configured percentages.
func (s *Service) applyExitParameters(position *ledger.Position, event TokenEvent) {
	position.Name = event.Name
	position.Symbol = event.Symbol
	if s.cfg.TakeProfitPct > 0 {
		target := position.EntryPrice * (1 + s.cfg.TakeProfitPct/100)
		position.TakeProfit = &target
	}
	if s.cfg.StopLossPct > 0 {
		floor := position.EntryPrice * (1 - s.cfg.StopLossPct/100)
		position.StopLoss = &floor
	}
	if s.cfg.MaxHold > 0 {
		limit := int64(s.cfg.MaxHold / time.Second)
		position.MaxHoldSec = &limit
	}
}

// buyWithRetry retries transient buy failures. Fresh curves can lag the
// subscription at confirmed commitment, so a missing venue is retried too.
func (s *Service) buyWithRetry(ctx context.Context, mint solana.PublicKey, lamports uint64) (trader.TradeOutcome, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = time.Second

	var lastErr error
	for attempt := 1; attempt <= autoBuyAttempts; attempt++ {
		outcome, err := s.engine.Buy(ctx, mint, lamports, s.cfg.SlippageBps)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if errors.Is(err, trader.ErrNoWallet) ||
			errors.Is(err, trader.ErrInvalidInput) ||
			errors.Is(err, trader.ErrInsufficientFunds) {
			return trader.TradeOutcome{}, err
		}
		if attempt == autoBuyAttempts {
			break
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		s.logger.Warn("auto-buy attempt failed",
			"mint", mint,
			"attempt", attempt,
			"err", err,
			"retry_in", sleep.String(),
		)
		select {
		case <-ctx.Done():
			return trader.TradeOutcome{}, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return trader.TradeOutcome{}, lastErr
}

// checkExits walks open positions and sells any whose exit condition has
// triggered. Positions without exit parameters are left alone.
func (s *Service) checkExits(ctx context.Context) {
	if s.engine == nil {
		return
	}
	for _, position := range s.engine.Positions() {
		if position.TakeProfit == nil && position.StopLoss == nil && position.MaxHoldSec == nil {
			continue
		}

		quote, err := s.engine.Price(ctx, position.Mint)
		if err != nil {
			s.logger.Warn("exit check price", "mint", position.Mint, "err", err)
			continue
		}
		exit, reason := position.ShouldExit(quote.Price, time.Now().UTC())
		if !exit {
			continue
		}

		s.logger.Info("exit triggered",
			"mint", position.Mint,
			"symbol", position.Symbol,
			"reason", reason,
			"price", quote.Price,
			"pnl", position.PnL(quote.Price),
		)
		outcome, err := s.engine.Sell(ctx, position.Mint, s.cfg.SlippageBps)
		if err != nil {
			s.logger.Error("exit sell failed", "mint", position.Mint, "reason", reason, "err", err)
			continue
		}
		s.logger.Info("exit filled",
			"mint", position.Mint,
			"reason", reason,
			"sol_out", float64(outcome.QuoteLamports)/float64(solana.LAMPORTS_PER_SOL),
			"signature", outcome.Signature,
		)
	}
}
