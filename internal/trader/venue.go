package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/greyfin/pumptrader/internal/pump"
)

// VenueStatus classifies where a token currently trades. Unknown means
// neither venue holds the token; it is a first-class answer, not a guess.
type VenueStatus string

const (
	StatusUnknown        VenueStatus = "unknown"
	StatusPreGraduation  VenueStatus = "pre_graduation"
	StatusPostGraduation VenueStatus = "post_graduation"
)

// VenueFamily is the closed set of executable venues. Tokens classified
// Unknown carry no family, miss the dispatch table, and are refused.
type VenueFamily string

const (
	FamilyCurve VenueFamily = "curve"
	FamilyAMM   VenueFamily = "amm"
)

// venueState is the classification result a trade pipeline runs against:
// exactly one of curve/pool is populated for a tradable token.
type venueState struct {
	mint   solana.PublicKey
	status VenueStatus
	family VenueFamily

	curveAddress solana.PublicKey
	curve        *pump.BondingCurveState

	poolAddress solana.PublicKey
	pool        *pump.PoolState
}

// venuePath is one executable venue family. The engine dispatches through
// a map keyed by VenueFamily so an unclassified token can never reach a
// trade builder.
type venuePath interface {
	spotPrice(ctx context.Context, venue *venueState) (float64, error)
	prepareBuy(ctx context.Context, venue *venueState, user solana.PublicKey, lamports, slippageBps uint64) (*tradePlan, error)
	prepareSell(ctx context.Context, venue *venueState, user solana.PublicKey, tokens, slippageBps uint64) (*tradePlan, error)
}

// classify resolves the venue for a mint: bonding curve account first, then
// a pool scan once the curve is gone or complete.
func (e *Engine) classify(ctx context.Context, mint solana.PublicKey) (*venueState, error) {
	curveKey, _, err := pump.DeriveBondingCurvePDA(e.cfg.CurveProgramID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive bonding curve for %s: %w", mint, err)
	}

	data, err := e.fetchAccountData(ctx, curveKey)
	switch {
	case err == nil:
		state, decodeErr := pump.DecodeBondingCurve(data)
		if decodeErr != nil {
			return nil, fmt.Errorf("decode bonding curve %s: %w", curveKey, decodeErr)
		}
		if !state.Complete {
			return &venueState{
				mint:         mint,
				status:       StatusPreGraduation,
				family:       FamilyCurve,
				curveAddress: curveKey,
				curve:        state,
			}, nil
		}
		// Graduated; the pool is the venue now.
	case errors.Is(err, ErrAccountNotFound):
		// No curve was ever created, or it has been closed after
		// graduation. Either way the pool scan decides.
	default:
		return nil, err
	}

	poolKey, pool, err := e.scanPool(ctx, mint)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return &venueState{mint: mint, status: StatusUnknown}, nil
	}
	return &venueState{
		mint:        mint,
		status:      StatusPostGraduation,
		family:      FamilyAMM,
		poolAddress: poolKey,
		pool:        pool,
	}, nil
}

// scanPool looks for a WSOL-quoted pool whose base mint matches, via a
// memcmp filter on the base-mint field. A clean scan with no match returns
// a nil pool; only transport failures (including the scan timeout) error.
func (e *Engine) scanPool(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, *pump.PoolState, error) {
	scanCtx, cancel := context.WithTimeout(ctx, e.cfg.PoolScanTimeout)
	defer cancel()

	accounts, err := e.rpc.GetProgramAccountsWithOpts(scanCtx, e.cfg.AMMProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: e.cfg.Commitment,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: pump.PoolBaseMintOffset, Bytes: solana.Base58(mint.Bytes())}},
		},
	})
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("scan pools for %s: %w", mint, err)
	}

	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		pool, err := pump.DecodePool(item.Account.Data.GetBinary())
		if err != nil {
			// The memcmp filter matches raw bytes, not account types.
			e.logger.Debug("skipping non-pool scan match", "account", item.Pubkey, "err", err)
			continue
		}
		if !pool.QuoteMint.Equals(pump.WSOLMint) {
			e.logger.Debug("skipping pool with unsupported quote mint", "pool", item.Pubkey, "quote_mint", pool.QuoteMint)
			continue
		}
		return item.Pubkey, pool, nil
	}
	return solana.PublicKey{}, nil, nil
}
