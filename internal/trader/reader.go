package trader

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/greyfin/pumptrader/internal/pump"
)

// fetchAccountData does exactly one remote read and no retries.
func (e *Engine) fetchAccountData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	resp, err := e.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: e.cfg.Commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
		}
		return nil, fmt.Errorf("fetch account %s: %w", key, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	data := resp.Value.Data.GetBinary()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s holds no data", ErrAccountNotFound, key)
	}
	return data, nil
}

func (e *Engine) fetchCurveState(ctx context.Context, curveKey solana.PublicKey) (*pump.BondingCurveState, error) {
	data, err := e.fetchAccountData(ctx, curveKey)
	if err != nil {
		return nil, err
	}
	state, err := pump.DecodeBondingCurve(data)
	if err != nil {
		return nil, fmt.Errorf("decode bonding curve %s: %w", curveKey, err)
	}
	return state, nil
}

// fetchTokenBalance reads an SPL token account balance; a missing account
// is an empty wallet, not an error.
func (e *Engine) fetchTokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	data, err := e.fetchAccountData(ctx, account)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeTokenAmount(data, account)
}

// fetchPoolReserves reads the live pool reserves: the balances of the two
// pool token accounts, in one batched call.
func (e *Engine) fetchPoolReserves(ctx context.Context, pool *pump.PoolState) (uint64, uint64, error) {
	resp, err := e.rpc.GetMultipleAccountsWithOpts(ctx,
		[]solana.PublicKey{pool.PoolBaseTokenAccount, pool.PoolQuoteTokenAccount},
		&rpc.GetMultipleAccountsOpts{Commitment: e.cfg.Commitment},
	)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch pool reserve accounts: %w", err)
	}
	if resp == nil || len(resp.Value) != 2 || resp.Value[0] == nil || resp.Value[1] == nil {
		return 0, 0, fmt.Errorf("%w: pool reserve token accounts", ErrAccountNotFound)
	}

	base, err := decodeTokenAmount(resp.Value[0].Data.GetBinary(), pool.PoolBaseTokenAccount)
	if err != nil {
		return 0, 0, err
	}
	quote, err := decodeTokenAmount(resp.Value[1].Data.GetBinary(), pool.PoolQuoteTokenAccount)
	if err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}

func decodeTokenAmount(data []byte, account solana.PublicKey) (uint64, error) {
	var tokenAccount token.Account
	if err := bin.NewBinDecoder(data).Decode(&tokenAccount); err != nil {
		return 0, fmt.Errorf("decode token account %s: %w", account, err)
	}
	return tokenAccount.Amount, nil
}
