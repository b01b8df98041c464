package pump

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// CurveTradeAccounts carries every account a bonding-curve trade can touch.
// Buys append the two volume accumulators; sells do not reference them and
// also order the creator vault before the token program, so the two builders
// below lay the slice out independently.
type CurveTradeAccounts struct {
	Global                  solana.PublicKey
	FeeRecipient            solana.PublicKey
	Mint                    solana.PublicKey
	BondingCurve            solana.PublicKey
	CurveTokenAccount       solana.PublicKey
	UserTokenAccount        solana.PublicKey
	User                    solana.PublicKey
	CreatorVault            solana.PublicKey
	EventAuthority          solana.PublicKey
	Program                 solana.PublicKey
	GlobalVolumeAccumulator solana.PublicKey
	UserVolumeAccumulator   solana.PublicKey
}

// NewCurveBuyInstruction builds the curve program's buy. Amounts are the
// exact-token output and the slippage-widened lamport spend bound; the
// program enforces the bound on-chain.
func NewCurveBuyInstruction(accounts CurveTradeAccounts, tokenAmountOut, maxQuoteIn uint64) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Global, false, false),
		solana.NewAccountMeta(accounts.FeeRecipient, true, false),
		solana.NewAccountMeta(accounts.Mint, false, false),
		solana.NewAccountMeta(accounts.BondingCurve, true, false),
		solana.NewAccountMeta(accounts.CurveTokenAccount, true, false),
		solana.NewAccountMeta(accounts.UserTokenAccount, true, false),
		solana.NewAccountMeta(accounts.User, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(accounts.CreatorVault, true, false),
		solana.NewAccountMeta(accounts.EventAuthority, false, false),
		solana.NewAccountMeta(accounts.Program, false, false),
		solana.NewAccountMeta(accounts.GlobalVolumeAccumulator, true, false),
		solana.NewAccountMeta(accounts.UserVolumeAccumulator, true, false),
	}
	return solana.NewInstruction(accounts.Program, metas, tradeInstructionData(BuyInstructionDiscriminator, tokenAmountOut, maxQuoteIn))
}

// NewCurveSellInstruction builds the curve program's sell: exact-token input
// and the slippage-tightened lamport proceeds bound.
func NewCurveSellInstruction(accounts CurveTradeAccounts, tokenAmountIn, minQuoteOut uint64) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Global, false, false),
		solana.NewAccountMeta(accounts.FeeRecipient, true, false),
		solana.NewAccountMeta(accounts.Mint, false, false),
		solana.NewAccountMeta(accounts.BondingCurve, true, false),
		solana.NewAccountMeta(accounts.CurveTokenAccount, true, false),
		solana.NewAccountMeta(accounts.UserTokenAccount, true, false),
		solana.NewAccountMeta(accounts.User, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(accounts.CreatorVault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(accounts.EventAuthority, false, false),
		solana.NewAccountMeta(accounts.Program, false, false),
	}
	return solana.NewInstruction(accounts.Program, metas, tradeInstructionData(SellInstructionDiscriminator, tokenAmountIn, minQuoteOut))
}

// AMMTradeAccounts carries every account a pool trade can touch. Sells stop
// after the vault authority; buys append the two volume accumulators.
type AMMTradeAccounts struct {
	Pool                             solana.PublicKey
	User                             solana.PublicKey
	GlobalConfig                     solana.PublicKey
	BaseMint                         solana.PublicKey
	QuoteMint                        solana.PublicKey
	UserBaseTokenAccount             solana.PublicKey
	UserQuoteTokenAccount            solana.PublicKey
	PoolBaseTokenAccount             solana.PublicKey
	PoolQuoteTokenAccount            solana.PublicKey
	ProtocolFeeRecipient             solana.PublicKey
	ProtocolFeeRecipientTokenAccount solana.PublicKey
	EventAuthority                   solana.PublicKey
	Program                          solana.PublicKey
	CoinCreatorVaultTokenAccount     solana.PublicKey
	CoinCreatorVaultAuthority        solana.PublicKey
	GlobalVolumeAccumulator          solana.PublicKey
	UserVolumeAccumulator            solana.PublicKey
}

func (a AMMTradeAccounts) sharedMetas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Pool, false, false),
		solana.NewAccountMeta(a.User, true, true),
		solana.NewAccountMeta(a.GlobalConfig, false, false),
		solana.NewAccountMeta(a.BaseMint, false, false),
		solana.NewAccountMeta(a.QuoteMint, false, false),
		solana.NewAccountMeta(a.UserBaseTokenAccount, true, false),
		solana.NewAccountMeta(a.UserQuoteTokenAccount, true, false),
		solana.NewAccountMeta(a.PoolBaseTokenAccount, true, false),
		solana.NewAccountMeta(a.PoolQuoteTokenAccount, true, false),
		solana.NewAccountMeta(a.ProtocolFeeRecipient, false, false),
		solana.NewAccountMeta(a.ProtocolFeeRecipientTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(a.EventAuthority, false, false),
		solana.NewAccountMeta(a.Program, false, false),
		solana.NewAccountMeta(a.CoinCreatorVaultTokenAccount, true, false),
		solana.NewAccountMeta(a.CoinCreatorVaultAuthority, false, false),
	}
}

// NewAMMBuyInstruction builds the pool program's buy: exact-base output and
// the slippage-widened quote spend bound.
func NewAMMBuyInstruction(accounts AMMTradeAccounts, baseAmountOut, maxQuoteIn uint64) solana.Instruction {
	metas := append(accounts.sharedMetas(),
		solana.NewAccountMeta(accounts.GlobalVolumeAccumulator, true, false),
		solana.NewAccountMeta(accounts.UserVolumeAccumulator, true, false),
	)
	return solana.NewInstruction(accounts.Program, metas, tradeInstructionData(BuyInstructionDiscriminator, baseAmountOut, maxQuoteIn))
}

// NewAMMSellInstruction builds the pool program's sell: exact-base input and
// the slippage-tightened quote proceeds bound.
func NewAMMSellInstruction(accounts AMMTradeAccounts, baseAmountIn, minQuoteOut uint64) solana.Instruction {
	return solana.NewInstruction(accounts.Program, accounts.sharedMetas(), tradeInstructionData(SellInstructionDiscriminator, baseAmountIn, minQuoteOut))
}

// NewCreateATAIdempotentInstruction is the associated-token-program
// CreateIdempotent (discriminant 1): a no-op when the account already exists,
// which is what every trade prelude wants.
func NewCreateATAIdempotentInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, metas, []byte{1})
}

// NewSyncNativeInstruction is the token program's SyncNative (index 17),
// which folds lamports transferred into a WSOL account into its token
// balance before the swap reads it.
func NewSyncNativeInstruction(wsolAccount solana.PublicKey) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(wsolAccount, true, false),
	}
	return solana.NewInstruction(solana.TokenProgramID, metas, []byte{17})
}

func tradeInstructionData(discriminator [8]byte, amount, bound uint64) []byte {
	data := make([]byte, 24)
	copy(data[:8], discriminator[:])
	binary.LittleEndian.PutUint64(data[8:16], amount)
	binary.LittleEndian.PutUint64(data[16:24], bound)
	return data
}
