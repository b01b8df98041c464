package pump

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func appendBorshString(buf []byte, value string) []byte {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(value)))
	buf = append(buf, length[:]...)
	return append(buf, value...)
}

func encodeCreateEvent(event CreateEvent, withCreator bool) []byte {
	buf := append([]byte(nil), CreateEventDiscriminator[:]...)
	buf = appendBorshString(buf, event.Name)
	buf = appendBorshString(buf, event.Symbol)
	buf = appendBorshString(buf, event.URI)
	buf = append(buf, event.Mint.Bytes()...)
	buf = append(buf, event.BondingCurve.Bytes()...)
	buf = append(buf, event.User.Bytes()...)
	if withCreator {
		buf = append(buf, event.Creator.Bytes()...)
	}
	return buf
}

func TestDecodeCreateEvent(t *testing.T) {
	want := CreateEvent{
		Name:         "Test Token",
		Symbol:       "TEST",
		URI:          "https://ipfs.io/ipfs/QmTest",
		Mint:         solana.NewWallet().PublicKey(),
		BondingCurve: solana.NewWallet().PublicKey(),
		User:         solana.NewWallet().PublicKey(),
		Creator:      solana.NewWallet().PublicKey(),
	}

	got, err := DecodeCreateEvent(encodeCreateEvent(want, true))
	require.NoError(t, err)
	require.Equal(t, &want, got)
}

// Events emitted before the creator-fee upgrade stop at the user key; the
// user doubles as the creator then.
func TestDecodeCreateEventWithoutCreatorField(t *testing.T) {
	want := CreateEvent{
		Name:         "Legacy",
		Symbol:       "OLD",
		URI:          "https://example.com/old.json",
		Mint:         solana.NewWallet().PublicKey(),
		BondingCurve: solana.NewWallet().PublicKey(),
		User:         solana.NewWallet().PublicKey(),
	}

	got, err := DecodeCreateEvent(encodeCreateEvent(want, false))
	require.NoError(t, err)
	require.Equal(t, want.User, got.Creator)
	require.Equal(t, want.Mint, got.Mint)
	require.Equal(t, want.Name, got.Name)
}

func TestDecodeCreateEventEmptyStrings(t *testing.T) {
	want := CreateEvent{
		Mint:         solana.NewWallet().PublicKey(),
		BondingCurve: solana.NewWallet().PublicKey(),
		User:         solana.NewWallet().PublicKey(),
		Creator:      solana.NewWallet().PublicKey(),
	}

	got, err := DecodeCreateEvent(encodeCreateEvent(want, true))
	require.NoError(t, err)
	require.Equal(t, &want, got)
}

func TestDecodeCreateEventRejectsWrongDiscriminator(t *testing.T) {
	// The curve program's log feed carries trade events too; they share the
	// shape of the prefix, not the discriminator.
	data := encodeCreateEvent(CreateEvent{Name: "x", Symbol: "X"}, true)
	copy(data[:8], anchorEventDiscriminator("TradeEvent")[:])

	_, err := DecodeCreateEvent(data)
	require.ErrorIs(t, err, ErrInvalidDiscriminator)
}

func TestDecodeCreateEventRejectsTruncated(t *testing.T) {
	data := encodeCreateEvent(CreateEvent{
		Name:         "Test Token",
		Symbol:       "TEST",
		URI:          "https://ipfs.io/ipfs/QmTest",
		Mint:         solana.NewWallet().PublicKey(),
		BondingCurve: solana.NewWallet().PublicKey(),
		User:         solana.NewWallet().PublicKey(),
	}, false)

	for _, cut := range []int{0, 7, 8, 10, 14, 30, 60, len(data) - 1} {
		_, err := DecodeCreateEvent(data[:cut])
		require.ErrorIs(t, err, ErrTruncatedData, "cut at %d bytes", cut)
	}
}

// A string length that claims more bytes than the payload holds must fail
// cleanly rather than read out of bounds.
func TestDecodeCreateEventRejectsOverlongString(t *testing.T) {
	data := append([]byte(nil), CreateEventDiscriminator[:]...)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], 1<<30)
	data = append(data, length[:]...)
	data = append(data, "short"...)

	_, err := DecodeCreateEvent(data)
	require.ErrorIs(t, err, ErrTruncatedData)
}
