package trader

import "errors"

// Sentinel errors returned by the engine. Callers match with errors.Is;
// wrapped messages carry the mint, venue, and step detail.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrAccountNotFound     = errors.New("account not found")
	ErrVenueNotFound       = errors.New("venue not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoBalance           = errors.New("no token balance")
	ErrSimulationRejected  = errors.New("simulation rejected")
	ErrSubmissionFailed    = errors.New("submission failed")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrNoWallet            = errors.New("no wallet configured")
)
