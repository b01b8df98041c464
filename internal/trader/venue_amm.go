package trader

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/greyfin/pumptrader/internal/pump"
)

const (
	ammBuyComputeUnits  = 200_000
	ammSellComputeUnits = 100_000

	// Lamports wrapped for a buy carry this margin over the swap input so
	// the pool can settle fees from the same WSOL account.
	wrapBufferBps = 1_000
)

// ammPath trades against a WSOL-quoted pool. Sizing runs on the live pool
// token-account balances, and every transaction is simulated before submit
// because pool fee math is not replicated client-side.
type ammPath struct {
	engine *Engine
}

func (p *ammPath) spotPrice(ctx context.Context, venue *venueState) (float64, error) {
	baseReserves, quoteReserves, err := p.engine.fetchPoolReserves(ctx, venue.pool)
	if err != nil {
		return 0, err
	}
	price, err := pump.PoolPrice(baseReserves, quoteReserves)
	if err != nil {
		return 0, fmt.Errorf("pool price for %s: %w", venue.mint, err)
	}
	return price, nil
}

func (p *ammPath) prepareBuy(ctx context.Context, venue *venueState, user solana.PublicKey, lamports, slippageBps uint64) (*tradePlan, error) {
	baseReserves, quoteReserves, err := p.engine.fetchPoolReserves(ctx, venue.pool)
	if err != nil {
		return nil, err
	}

	tokensOut, err := pump.BuyAmountOut(baseReserves, quoteReserves, lamports)
	if err != nil {
		return nil, fmt.Errorf("size pool buy: %w", err)
	}
	if tokensOut == 0 {
		return nil, fmt.Errorf("%w: %d lamports buys zero tokens", ErrInvalidInput, lamports)
	}
	maxQuote, err := pump.MaxQuoteIn(lamports, slippageBps)
	if err != nil {
		return nil, fmt.Errorf("cap pool buy quote: %w", err)
	}
	wrapLamports, err := pump.MaxQuoteIn(lamports, wrapBufferBps)
	if err != nil {
		return nil, fmt.Errorf("size wrap amount: %w", err)
	}
	price, err := pump.PoolPrice(baseReserves, quoteReserves)
	if err != nil {
		return nil, fmt.Errorf("pool price for %s: %w", venue.mint, err)
	}

	accounts, err := p.tradeAccounts(venue, user)
	if err != nil {
		return nil, err
	}

	instructions, err := p.engine.computeBudgetInstructions(ammBuyComputeUnits)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		pump.NewCreateATAIdempotentInstruction(user, accounts.UserQuoteTokenAccount, user, venue.pool.QuoteMint),
		system.NewTransferInstruction(wrapLamports, user, accounts.UserQuoteTokenAccount).Build(),
		pump.NewSyncNativeInstruction(accounts.UserQuoteTokenAccount),
		pump.NewCreateATAIdempotentInstruction(user, accounts.UserBaseTokenAccount, user, venue.pool.BaseMint),
		pump.NewAMMBuyInstruction(accounts, tokensOut, maxQuote),
	)

	return &tradePlan{
		family:        FamilyAMM,
		instructions:  instructions,
		simulate:      true,
		tokensRaw:     tokensOut,
		quoteLamports: lamports,
		price:         price,
		fundsRequired: wrapLamports + feeReserveLamports,
	}, nil
}

func (p *ammPath) prepareSell(ctx context.Context, venue *venueState, user solana.PublicKey, tokens, slippageBps uint64) (*tradePlan, error) {
	baseReserves, quoteReserves, err := p.engine.fetchPoolReserves(ctx, venue.pool)
	if err != nil {
		return nil, err
	}

	expectedOut, err := pump.SellAmountOut(baseReserves, quoteReserves, tokens)
	if err != nil {
		return nil, fmt.Errorf("size pool sell: %w", err)
	}
	minOut, err := pump.MinQuoteOut(expectedOut, slippageBps)
	if err != nil {
		return nil, fmt.Errorf("floor pool sell quote: %w", err)
	}
	price, err := pump.PoolPrice(baseReserves, quoteReserves)
	if err != nil {
		return nil, fmt.Errorf("pool price for %s: %w", venue.mint, err)
	}

	accounts, err := p.tradeAccounts(venue, user)
	if err != nil {
		return nil, err
	}

	instructions, err := p.engine.computeBudgetInstructions(ammSellComputeUnits)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		pump.NewCreateATAIdempotentInstruction(user, accounts.UserQuoteTokenAccount, user, venue.pool.QuoteMint),
		pump.NewAMMSellInstruction(accounts, tokens, minOut),
	)

	return &tradePlan{
		family:        FamilyAMM,
		instructions:  instructions,
		simulate:      true,
		tokensRaw:     tokens,
		quoteLamports: expectedOut,
		price:         price,
	}, nil
}

func (p *ammPath) tradeAccounts(venue *venueState, user solana.PublicKey) (pump.AMMTradeAccounts, error) {
	e := p.engine
	pool := venue.pool

	userBase, err := pump.DeriveAssociatedTokenAccount(user, pool.BaseMint)
	if err != nil {
		return pump.AMMTradeAccounts{}, fmt.Errorf("derive user base token account: %w", err)
	}
	userQuote, err := pump.DeriveAssociatedTokenAccount(user, pool.QuoteMint)
	if err != nil {
		return pump.AMMTradeAccounts{}, fmt.Errorf("derive user quote token account: %w", err)
	}
	vaultAuthority, _, err := pump.DeriveCoinCreatorVaultAuthorityPDA(e.cfg.AMMProgramID, pool.CoinCreator)
	if err != nil {
		return pump.AMMTradeAccounts{}, fmt.Errorf("derive coin creator vault authority: %w", err)
	}
	vaultATA, err := pump.DeriveAssociatedTokenAccount(vaultAuthority, pool.QuoteMint)
	if err != nil {
		return pump.AMMTradeAccounts{}, fmt.Errorf("derive coin creator vault token account: %w", err)
	}
	userVolume, _, err := pump.DeriveUserVolumeAccumulatorPDA(e.cfg.AMMProgramID, user)
	if err != nil {
		return pump.AMMTradeAccounts{}, fmt.Errorf("derive user volume accumulator: %w", err)
	}

	return pump.AMMTradeAccounts{
		Pool:                             venue.poolAddress,
		User:                             user,
		GlobalConfig:                     e.cfg.AMMGlobalConfig,
		BaseMint:                         pool.BaseMint,
		QuoteMint:                        pool.QuoteMint,
		UserBaseTokenAccount:             userBase,
		UserQuoteTokenAccount:            userQuote,
		PoolBaseTokenAccount:             pool.PoolBaseTokenAccount,
		PoolQuoteTokenAccount:            pool.PoolQuoteTokenAccount,
		ProtocolFeeRecipient:             e.cfg.AMMFeeRecipient,
		ProtocolFeeRecipientTokenAccount: e.cfg.AMMFeeRecipientATA,
		EventAuthority:                   e.ammEventAuthority,
		Program:                          e.cfg.AMMProgramID,
		CoinCreatorVaultTokenAccount:     vaultATA,
		CoinCreatorVaultAuthority:        vaultAuthority,
		GlobalVolumeAccumulator:          e.ammGlobalVolume,
		UserVolumeAccumulator:            userVolume,
	}, nil
}
