package pump

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed spellings differ between the two programs: the curve program uses
// hyphenated seeds, the AMM program uses underscores. The volume accumulator
// seeds are the one spelling both share.

func DeriveBondingCurvePDA(curveProgramID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, curveProgramID)
}

func DeriveCurveGlobalPDA(curveProgramID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("global")}, curveProgramID)
}

func DeriveCreatorVaultPDA(curveProgramID, creator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("creator-vault"), creator.Bytes()}, curveProgramID)
}

func DeriveCoinCreatorVaultAuthorityPDA(ammProgramID, coinCreator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("creator_vault"), coinCreator.Bytes()}, ammProgramID)
}

func DeriveEventAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, programID)
}

func DeriveGlobalVolumeAccumulatorPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("global_volume_accumulator")}, programID)
}

func DeriveUserVolumeAccumulatorPDA(programID, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("user_volume_accumulator"), user.Bytes()}, programID)
}

// DeriveAssociatedTokenAccount is the classic SPL ATA derivation; the curve's
// reserve token account is the ATA owned by the bonding curve PDA itself.
func DeriveAssociatedTokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return ata, nil
}

func MustDeriveAssociatedTokenAccount(owner, mint solana.PublicKey) solana.PublicKey {
	ata, err := DeriveAssociatedTokenAccount(owner, mint)
	if err != nil {
		panic(err)
	}
	return ata
}
