package trader

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/greyfin/pumptrader/internal/pump"
)

const (
	curveBuyComputeUnits  = 300_000
	curveSellComputeUnits = 120_000
)

// curvePath trades against the bonding curve. Sizing runs on the decoded
// virtual reserves; bounds go into the instruction payload, so there is no
// pre-submit simulation on this family.
type curvePath struct {
	engine *Engine
}

func (p *curvePath) spotPrice(ctx context.Context, venue *venueState) (float64, error) {
	price, err := pump.CurvePrice(venue.curve)
	if err != nil {
		return 0, fmt.Errorf("curve price for %s: %w", venue.mint, err)
	}
	return price, nil
}

func (p *curvePath) prepareBuy(ctx context.Context, venue *venueState, user solana.PublicKey, lamports, slippageBps uint64) (*tradePlan, error) {
	curve := venue.curve

	tokensOut, err := pump.BuyAmountOut(curve.VirtualTokenReserves, curve.VirtualSolReserves, lamports)
	if err != nil {
		return nil, fmt.Errorf("size curve buy: %w", err)
	}
	if tokensOut == 0 {
		return nil, fmt.Errorf("%w: %d lamports buys zero tokens", ErrInvalidInput, lamports)
	}
	maxQuote, err := pump.MaxQuoteIn(lamports, slippageBps)
	if err != nil {
		return nil, fmt.Errorf("cap curve buy quote: %w", err)
	}
	price, err := pump.CurvePrice(curve)
	if err != nil {
		return nil, fmt.Errorf("curve price for %s: %w", venue.mint, err)
	}

	accounts, err := p.tradeAccounts(venue, user)
	if err != nil {
		return nil, err
	}

	instructions, err := p.engine.computeBudgetInstructions(curveBuyComputeUnits)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		pump.NewCreateATAIdempotentInstruction(user, accounts.UserTokenAccount, user, venue.mint),
		pump.NewCurveBuyInstruction(accounts, tokensOut, maxQuote),
	)

	return &tradePlan{
		family:        FamilyCurve,
		instructions:  instructions,
		tokensRaw:     tokensOut,
		quoteLamports: lamports,
		price:         price,
		fundsRequired: maxQuote + feeReserveLamports,
	}, nil
}

func (p *curvePath) prepareSell(ctx context.Context, venue *venueState, user solana.PublicKey, tokens, slippageBps uint64) (*tradePlan, error) {
	curve := venue.curve

	expectedOut, err := pump.SellAmountOut(curve.VirtualTokenReserves, curve.VirtualSolReserves, tokens)
	if err != nil {
		return nil, fmt.Errorf("size curve sell: %w", err)
	}
	minOut, err := pump.MinQuoteOut(expectedOut, slippageBps)
	if err != nil {
		return nil, fmt.Errorf("floor curve sell quote: %w", err)
	}
	price, err := pump.CurvePrice(curve)
	if err != nil {
		return nil, fmt.Errorf("curve price for %s: %w", venue.mint, err)
	}

	accounts, err := p.tradeAccounts(venue, user)
	if err != nil {
		return nil, err
	}

	instructions, err := p.engine.computeBudgetInstructions(curveSellComputeUnits)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		pump.NewCreateATAIdempotentInstruction(user, accounts.UserTokenAccount, user, venue.mint),
		pump.NewCurveSellInstruction(accounts, tokens, minOut),
	)

	return &tradePlan{
		family:        FamilyCurve,
		instructions:  instructions,
		tokensRaw:     tokens,
		quoteLamports: expectedOut,
		price:         price,
	}, nil
}

func (p *curvePath) tradeAccounts(venue *venueState, user solana.PublicKey) (pump.CurveTradeAccounts, error) {
	e := p.engine

	curveATA, err := pump.DeriveAssociatedTokenAccount(venue.curveAddress, venue.mint)
	if err != nil {
		return pump.CurveTradeAccounts{}, fmt.Errorf("derive curve token account: %w", err)
	}
	userATA, err := pump.DeriveAssociatedTokenAccount(user, venue.mint)
	if err != nil {
		return pump.CurveTradeAccounts{}, fmt.Errorf("derive user token account: %w", err)
	}
	creatorVault, _, err := pump.DeriveCreatorVaultPDA(e.cfg.CurveProgramID, venue.curve.Creator)
	if err != nil {
		return pump.CurveTradeAccounts{}, fmt.Errorf("derive creator vault: %w", err)
	}
	userVolume, _, err := pump.DeriveUserVolumeAccumulatorPDA(e.cfg.CurveProgramID, user)
	if err != nil {
		return pump.CurveTradeAccounts{}, fmt.Errorf("derive user volume accumulator: %w", err)
	}

	return pump.CurveTradeAccounts{
		Global:                  e.curveGlobal,
		FeeRecipient:            e.cfg.CurveFeeRecipient,
		Mint:                    venue.mint,
		BondingCurve:            venue.curveAddress,
		CurveTokenAccount:       curveATA,
		UserTokenAccount:        userATA,
		User:                    user,
		CreatorVault:            creatorVault,
		EventAuthority:          e.curveEventAuthority,
		Program:                 e.cfg.CurveProgramID,
		GlobalVolumeAccumulator: e.curveGlobalVolume,
		UserVolumeAccumulator:   userVolume,
	}, nil
}
