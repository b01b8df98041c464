package pump

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// CreateEvent is the curve program's token-creation event, emitted base64 in
// a "Program data:" log line. User signed the creating transaction; Creator
// is who the curve credits fees to, which older events do not carry, in
// which case it defaults to User.
type CreateEvent struct {
	Name         string
	Symbol       string
	URI          string
	Mint         solana.PublicKey
	BondingCurve solana.PublicKey
	User         solana.PublicKey
	Creator      solana.PublicKey
}

func DecodeCreateEvent(data []byte) (*CreateEvent, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: create event is %d bytes", ErrTruncatedData, len(data))
	}
	if !bytes.Equal(data[:8], CreateEventDiscriminator[:]) {
		return nil, fmt.Errorf("%w: not a create event", ErrInvalidDiscriminator)
	}
	offset := 8

	event := &CreateEvent{}
	var err error
	if event.Name, offset, err = readString(data, offset); err != nil {
		return nil, err
	}
	if event.Symbol, offset, err = readString(data, offset); err != nil {
		return nil, err
	}
	if event.URI, offset, err = readString(data, offset); err != nil {
		return nil, err
	}
	if event.Mint, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if event.BondingCurve, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}
	if event.User, offset, err = readPubkey(data, offset); err != nil {
		return nil, err
	}

	event.Creator = event.User
	if len(data) >= offset+32 {
		event.Creator, _, _ = readPubkey(data, offset)
	}
	return event, nil
}
