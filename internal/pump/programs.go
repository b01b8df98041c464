// Package pump holds the on-chain protocol surface shared by the two venues a
// token trades through: the pump.fun bonding curve before graduation and the
// PumpSwap AMM pool after. It derives addresses, decodes venue accounts,
// prices trades with integer math, and assembles venue instructions.
package pump

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// Mainnet deployments. Deployments on other clusters keep the seeds and
// layouts but live under different program IDs, so everything that derives or
// builds takes the program ID as an argument.
var (
	CurveProgramID      = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	CurveGlobalState    = solana.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	CurveFeeRecipient   = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	CurveEventAuthority = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")

	AMMProgramID                        = solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")
	AMMGlobalConfig                     = solana.MustPublicKeyFromBase58("ADyA8hdefvWN2dbGGWFotbzWxrAvLW83WG6QCVXvJKqw")
	AMMProtocolFeeRecipient             = solana.MustPublicKeyFromBase58("7VtfL8fvgNfhz17qKRMjzQEXgbdpnHHHQRh54R9jP2RJ")
	AMMProtocolFeeRecipientTokenAccount = solana.MustPublicKeyFromBase58("7GFUN3bWzJMKMRZ34JLsvcqdssDbXnp589SiE33KVwcC")
	AMMEventAuthority                   = solana.MustPublicKeyFromBase58("GS4CU59F31iL7aR2Q8zVS8DRrcRnXX1yjQ66TqNVQnaR")

	WSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// Both programs are Anchor programs and share the buy/sell method names, so
// one discriminator pair covers the two venues.
var (
	BuyInstructionDiscriminator  = anchorInstructionDiscriminator("buy")
	SellInstructionDiscriminator = anchorInstructionDiscriminator("sell")

	BondingCurveDiscriminator = anchorAccountDiscriminator("BondingCurve")
	PoolDiscriminator         = anchorAccountDiscriminator("Pool")

	CreateEventDiscriminator = anchorEventDiscriminator("CreateEvent")
)

func anchorInstructionDiscriminator(name string) [8]byte {
	return anchorDiscriminator("global:" + name)
}

func anchorAccountDiscriminator(name string) [8]byte {
	return anchorDiscriminator("account:" + name)
}

func anchorEventDiscriminator(name string) [8]byte {
	return anchorDiscriminator("event:" + name)
}

func anchorDiscriminator(preimage string) [8]byte {
	hash := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
