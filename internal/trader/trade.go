package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/greyfin/pumptrader/internal/journal"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/pump"
)

const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"

	// Headroom the wallet must hold beyond the swap input: transaction
	// fees, the priority fee, and up to two token-account rents.
	feeReserveLamports = 5_000_000

	confirmPollInterval = 700 * time.Millisecond
)

// tradePlan is a fully assembled transaction body plus the quantities the
// outcome and the ledger need. fundsRequired is checked for buys only.
type tradePlan struct {
	family        VenueFamily
	instructions  []solana.Instruction
	simulate      bool
	tokensRaw     uint64
	quoteLamports uint64
	price         float64
	fundsRequired uint64
}

// TradeOutcome reports a single executed trade. On a confirmation timeout
// the signature is still set so the caller can keep polling by hand.
type TradeOutcome struct {
	Mint          solana.PublicKey `json:"mint"`
	Family        VenueFamily      `json:"venue"`
	Direction     string           `json:"direction"`
	TokensRaw     uint64           `json:"tokens_raw"`
	QuoteLamports uint64           `json:"quote_lamports"`
	Price         float64          `json:"price"`
	Signature     solana.Signature `json:"signature"`
	LedgerError   string           `json:"ledger_error,omitempty"`
}

// Buy spends lamports on the mint at whichever venue holds it. A zero
// slippageBps falls back to the configured default.
func (e *Engine) Buy(ctx context.Context, mint solana.PublicKey, lamports, slippageBps uint64) (TradeOutcome, error) {
	if e.signer == nil {
		return TradeOutcome{}, ErrNoWallet
	}
	if mint.IsZero() {
		return TradeOutcome{}, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	if lamports == 0 {
		return TradeOutcome{}, fmt.Errorf("%w: buy amount is zero", ErrInvalidInput)
	}
	slippageBps, err := e.effectiveSlippage(slippageBps)
	if err != nil {
		return TradeOutcome{}, err
	}

	logger := e.logger.With("mint", mint, "direction", DirectionBuy)
	user := e.signer.PublicKey()

	logger.Debug("resolving venue", "step", "resolve")
	venue, err := e.classify(ctx, mint)
	if err != nil {
		return TradeOutcome{}, err
	}
	path, ok := e.paths[venue.family]
	if !ok {
		return TradeOutcome{}, fmt.Errorf("%w: %s trades on no known venue", ErrVenueNotFound, mint)
	}

	logger.Debug("assembling trade", "step", "build", "venue", venue.family)
	plan, err := path.prepareBuy(ctx, venue, user, lamports, slippageBps)
	if err != nil {
		return TradeOutcome{}, err
	}

	balance, err := e.rpc.GetBalance(ctx, user, e.cfg.Commitment)
	if err != nil {
		return TradeOutcome{}, fmt.Errorf("get wallet balance: %w", err)
	}
	if balance.Value < plan.fundsRequired {
		return TradeOutcome{}, fmt.Errorf("%w: wallet holds %d lamports, trade needs %d",
			ErrInsufficientFunds, balance.Value, plan.fundsRequired)
	}

	signature, err := e.executeTrade(ctx, logger, plan)
	outcome := TradeOutcome{
		Mint:          mint,
		Family:        venue.family,
		Direction:     DirectionBuy,
		TokensRaw:     plan.tokensRaw,
		QuoteLamports: plan.quoteLamports,
		Price:         plan.price,
		Signature:     signature,
	}
	if err != nil {
		e.journalFailedTrade(ctx, logger, outcome, err)
		return outcome, err
	}

	position := ledger.Position{
		Mint:          mint,
		Venue:         string(venue.family),
		TokensOwned:   plan.tokensRaw,
		QuoteInvested: float64(plan.quoteLamports) / float64(solana.LAMPORTS_PER_SOL),
		EntryPrice:    plan.price,
		EntryTime:     time.Now().UTC(),
		Signature:     signature.String(),
	}
	replaced, ledgerErr := e.book.Record(position)
	if ledgerErr != nil {
		logger.Error("position record failed after confirmed buy", "signature", signature, "err", ledgerErr)
		outcome.LedgerError = ledgerErr.Error()
	}
	if replaced != nil {
		logger.Warn("open position replaced, proceeds not averaged",
			"prior_tokens", replaced.TokensOwned,
			"prior_invested_sol", replaced.QuoteInvested,
			"prior_signature", replaced.Signature,
		)
	}

	e.journalTrade(ctx, logger, outcome, journal.TradeStatusConfirmed)
	logger.Info("buy confirmed",
		"venue", venue.family,
		"tokens_raw", plan.tokensRaw,
		"lamports", plan.quoteLamports,
		"price", plan.price,
		"signature", signature,
	)
	return outcome, nil
}

// Sell liquidates the wallet's entire balance of the mint.
func (e *Engine) Sell(ctx context.Context, mint solana.PublicKey, slippageBps uint64) (TradeOutcome, error) {
	if e.signer == nil {
		return TradeOutcome{}, ErrNoWallet
	}
	if mint.IsZero() {
		return TradeOutcome{}, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	slippageBps, err := e.effectiveSlippage(slippageBps)
	if err != nil {
		return TradeOutcome{}, err
	}

	logger := e.logger.With("mint", mint, "direction", DirectionSell)
	user := e.signer.PublicKey()

	userATA, err := pump.DeriveAssociatedTokenAccount(user, mint)
	if err != nil {
		return TradeOutcome{}, fmt.Errorf("derive user token account: %w", err)
	}
	tokens, err := e.fetchTokenBalance(ctx, userATA)
	if err != nil {
		return TradeOutcome{}, err
	}
	if tokens == 0 {
		return TradeOutcome{}, fmt.Errorf("%w: wallet holds no %s", ErrNoBalance, mint)
	}

	logger.Debug("resolving venue", "step", "resolve")
	venue, err := e.classify(ctx, mint)
	if err != nil {
		return TradeOutcome{}, err
	}
	path, ok := e.paths[venue.family]
	if !ok {
		return TradeOutcome{}, fmt.Errorf("%w: %s trades on no known venue", ErrVenueNotFound, mint)
	}

	logger.Debug("assembling trade", "step", "build", "venue", venue.family, "tokens_raw", tokens)
	plan, err := path.prepareSell(ctx, venue, user, tokens, slippageBps)
	if err != nil {
		return TradeOutcome{}, err
	}

	signature, err := e.executeTrade(ctx, logger, plan)
	outcome := TradeOutcome{
		Mint:          mint,
		Family:        venue.family,
		Direction:     DirectionSell,
		TokensRaw:     plan.tokensRaw,
		QuoteLamports: plan.quoteLamports,
		Price:         plan.price,
		Signature:     signature,
	}
	if err != nil {
		e.journalFailedTrade(ctx, logger, outcome, err)
		return outcome, err
	}

	proceeds := float64(plan.quoteLamports) / float64(solana.LAMPORTS_PER_SOL)
	closed, had, ledgerErr := e.book.Close(mint)
	if ledgerErr != nil {
		logger.Error("position close failed after confirmed sell", "signature", signature, "err", ledgerErr)
		outcome.LedgerError = ledgerErr.Error()
	}
	if had {
		logger.Info("position closed",
			"entry_price", closed.EntryPrice,
			"invested_sol", closed.QuoteInvested,
			"proceeds_sol", proceeds,
			"pnl_sol", proceeds-closed.QuoteInvested,
			"held", time.Since(closed.EntryTime).Round(time.Second),
		)
	}

	e.journalTrade(ctx, logger, outcome, journal.TradeStatusConfirmed)
	logger.Info("sell confirmed",
		"venue", venue.family,
		"tokens_raw", plan.tokensRaw,
		"expected_lamports", plan.quoteLamports,
		"price", plan.price,
		"signature", signature,
	)
	return outcome, nil
}

func (e *Engine) effectiveSlippage(slippageBps uint64) (uint64, error) {
	if slippageBps == 0 {
		slippageBps = e.cfg.DefaultSlippageBps
	}
	if slippageBps > pump.BpsDenom {
		return 0, fmt.Errorf("%w: slippage %d bps exceeds %d", ErrInvalidInput, slippageBps, pump.BpsDenom)
	}
	return slippageBps, nil
}

func (e *Engine) computeBudgetInstructions(units uint32) ([]solana.Instruction, error) {
	instructions := make([]solana.Instruction, 0, 2)

	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(units).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
	}
	instructions = append(instructions, limitIx)

	if e.computeUnitPrice > 0 {
		priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(e.computeUnitPrice).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, priceIx)
	}
	return instructions, nil
}

// executeTrade runs the shared tail of every trade: blockhash, sign,
// simulate when the plan demands it, submit, confirm. A non-zero signature
// comes back even when confirmation fails.
func (e *Engine) executeTrade(ctx context.Context, logger *slog.Logger, plan *tradePlan) (solana.Signature, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
	defer cancel()

	recent, err := e.rpc.GetLatestBlockhash(txCtx, e.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		plan.instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(e.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if e.signer.PublicKey().Equals(key) {
			return e.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	if plan.simulate {
		logger.Debug("simulating transaction", "step", "simulate")
		sim, err := e.rpc.SimulateTransactionWithOpts(txCtx, tx, &rpc.SimulateTransactionOpts{SigVerify: false})
		if err != nil {
			return solana.Signature{}, fmt.Errorf("simulate transaction: %w", err)
		}
		if sim != nil && sim.Value != nil && sim.Value.Err != nil {
			return solana.Signature{}, fmt.Errorf("%w: %v (logs: %s)",
				ErrSimulationRejected, sim.Value.Err, strings.Join(sim.Value.Logs, " | "))
		}
	}

	logger.Debug("submitting transaction", "step", "submit")
	signature, err := e.rpc.SendTransactionWithOpts(txCtx, tx, rpc.TransactionOpts{
		SkipPreflight:       e.cfg.SkipPreflight,
		PreflightCommitment: e.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	logger.Debug("awaiting confirmation", "step", "confirm", "signature", signature)
	if err := e.waitForConfirmation(txCtx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

func (e *Engine) waitForConfirmation(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
		case <-ticker.C:
			result, err := e.rpc.GetSignatureStatuses(ctx, true, signature)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed &&
				e.cfg.Commitment != rpc.CommitmentFinalized {
				return nil
			}
		}
	}
}

func (e *Engine) journalTrade(ctx context.Context, logger *slog.Logger, outcome TradeOutcome, status string) {
	err := e.journal.RecordTrade(context.WithoutCancel(ctx), journal.Trade{
		Mint:          outcome.Mint.String(),
		Venue:         string(outcome.Family),
		Direction:     outcome.Direction,
		TokensRaw:     outcome.TokensRaw,
		QuoteLamports: outcome.QuoteLamports,
		Price:         outcome.Price,
		Signature:     outcome.Signature.String(),
		Status:        status,
	})
	if err != nil {
		logger.Warn("journal write failed", "signature", outcome.Signature, "err", err)
	}
}

// journalFailedTrade records trades that died after submission; anything
// that never produced a signature has nothing to journal.
func (e *Engine) journalFailedTrade(ctx context.Context, logger *slog.Logger, outcome TradeOutcome, cause error) {
	if outcome.Signature.IsZero() {
		return
	}
	status := journal.TradeStatusFailed
	if errors.Is(cause, ErrConfirmationTimeout) {
		status = journal.TradeStatusUnconfirmed
	}
	e.journalTrade(ctx, logger, outcome, status)
}
