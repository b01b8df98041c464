package pump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidDiscriminator = errors.New("invalid account discriminator")
	ErrTruncatedData        = errors.New("truncated account data")
)

// BondingCurveState is the curve program's per-token account: an 8-byte
// discriminator, five little-endian u64 reserve fields, the graduation flag,
// and the creator key. Trailing bytes are tolerated so decoding survives
// program upgrades that append fields.
type BondingCurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              solana.PublicKey
}

// CompletionPercent reports how far the curve has progressed toward
// graduation, as the share of total supply already sold out of the curve.
func (s *BondingCurveState) CompletionPercent() float64 {
	if s.TokenTotalSupply == 0 {
		return 0
	}
	sold := s.TokenTotalSupply - s.RealTokenReserves
	return float64(sold) / float64(s.TokenTotalSupply) * 100
}

func DecodeBondingCurve(data []byte) (*BondingCurveState, error) {
	offset, err := checkDiscriminator(data, BondingCurveDiscriminator, "bonding curve")
	if err != nil {
		return nil, err
	}

	state := &BondingCurveState{}
	if state.VirtualTokenReserves, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.VirtualSolReserves, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.RealTokenReserves, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.RealSolReserves, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.TokenTotalSupply, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.Complete, offset, err = readBool(data, offset); err != nil {
		return nil, err
	}
	if state.Creator, _, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	return state, nil
}

// PoolState is the AMM program's pool account. The live reserves are NOT in
// here: they are the balances of the two pool token accounts this struct
// points at.
type PoolState struct {
	PoolBump              uint8
	Index                 uint16
	Creator               solana.PublicKey
	BaseMint              solana.PublicKey
	QuoteMint             solana.PublicKey
	LPMint                solana.PublicKey
	PoolBaseTokenAccount  solana.PublicKey
	PoolQuoteTokenAccount solana.PublicKey
	LPSupply              uint64
	CoinCreator           solana.PublicKey
}

// PoolBaseMintOffset is where the base mint sits in the raw account data,
// used for memcmp filters when scanning the AMM program for a token's pool.
const PoolBaseMintOffset = 43

func DecodePool(data []byte) (*PoolState, error) {
	offset, err := checkDiscriminator(data, PoolDiscriminator, "pool")
	if err != nil {
		return nil, err
	}

	state := &PoolState{}
	if state.PoolBump, offset, err = readU8(data, offset); err != nil {
		return nil, err
	}
	if state.Index, offset, err = readU16(data, offset); err != nil {
		return nil, err
	}
	if state.Creator, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.BaseMint, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.QuoteMint, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.LPMint, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.PoolBaseTokenAccount, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.PoolQuoteTokenAccount, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if state.LPSupply, offset, err = readU64(data, offset); err != nil {
		return nil, err
	}
	if state.CoinCreator, _, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	return state, nil
}

func checkDiscriminator(data []byte, want [8]byte, kind string) (int, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: %s account is %d bytes", ErrTruncatedData, kind, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return 0, fmt.Errorf("%w: not a %s account", ErrInvalidDiscriminator, kind)
	}
	return 8, nil
}

func readU8(data []byte, offset int) (uint8, int, error) {
	if len(data) < offset+1 {
		return 0, offset, fmt.Errorf("%w: u8 field at offset %d", ErrTruncatedData, offset)
	}
	return data[offset], offset + 1, nil
}

func readU16(data []byte, offset int) (uint16, int, error) {
	if len(data) < offset+2 {
		return 0, offset, fmt.Errorf("%w: u16 field at offset %d", ErrTruncatedData, offset)
	}
	return binary.LittleEndian.Uint16(data[offset : offset+2]), offset + 2, nil
}

func readU32(data []byte, offset int) (uint32, int, error) {
	if len(data) < offset+4 {
		return 0, offset, fmt.Errorf("%w: u32 field at offset %d", ErrTruncatedData, offset)
	}
	return binary.LittleEndian.Uint32(data[offset : offset+4]), offset + 4, nil
}

func readU64(data []byte, offset int) (uint64, int, error) {
	if len(data) < offset+8 {
		return 0, offset, fmt.Errorf("%w: u64 field at offset %d", ErrTruncatedData, offset)
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), offset + 8, nil
}

func readBool(data []byte, offset int) (bool, int, error) {
	value, next, err := readU8(data, offset)
	if err != nil {
		return false, offset, err
	}
	return value != 0, next, nil
}

func readPubkey(data []byte, offset int) (solana.PublicKey, int, error) {
	if len(data) < offset+32 {
		return solana.PublicKey{}, offset, fmt.Errorf("%w: pubkey field at offset %d", ErrTruncatedData, offset)
	}
	return solana.PublicKeyFromBytes(data[offset : offset+32]), offset + 32, nil
}

// readString reads a borsh string: u32 little-endian byte length, then the
// UTF-8 bytes.
func readString(data []byte, offset int) (string, int, error) {
	length, next, err := readU32(data, offset)
	if err != nil {
		return "", offset, err
	}
	end := next + int(length)
	if len(data) < end {
		return "", offset, fmt.Errorf("%w: string field at offset %d", ErrTruncatedData, offset)
	}
	return string(data[next:end]), end, nil
}
