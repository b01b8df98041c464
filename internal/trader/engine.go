// Package trader classifies tokens onto their trading venue (pump.fun
// bonding curve before graduation, PumpSwap pool after) and executes
// buys and sells against whichever venue holds the token.
package trader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/journal"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/pump"
)

// Engine owns the chain client, the optional signer, the position book,
// and the optional trade journal. It is safe for concurrent use; trades
// share no mutable state beyond the ledger's own lock.
type Engine struct {
	cfg     config.TraderConfig
	rpc     *rpc.Client
	signer  *solana.PrivateKey
	book    *ledger.Ledger
	journal *journal.Journal
	logger  *slog.Logger

	paths map[VenueFamily]venuePath

	curveGlobal         solana.PublicKey
	curveEventAuthority solana.PublicKey
	ammEventAuthority   solana.PublicKey
	curveGlobalVolume   solana.PublicKey
	ammGlobalVolume     solana.PublicKey
	computeUnitPrice    uint64
}

func New(cfg config.TraderConfig, jrnl *journal.Journal, logger *slog.Logger) (*Engine, error) {
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}

	book, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open position ledger: %w", err)
	}

	curveGlobal, _, err := pump.DeriveCurveGlobalPDA(cfg.CurveProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive curve global state: %w", err)
	}
	curveEventAuthority, _, err := pump.DeriveEventAuthorityPDA(cfg.CurveProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive curve event authority: %w", err)
	}
	ammEventAuthority, _, err := pump.DeriveEventAuthorityPDA(cfg.AMMProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive pool event authority: %w", err)
	}
	curveGlobalVolume, _, err := pump.DeriveGlobalVolumeAccumulatorPDA(cfg.CurveProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive curve volume accumulator: %w", err)
	}
	ammGlobalVolume, _, err := pump.DeriveGlobalVolumeAccumulatorPDA(cfg.AMMProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive pool volume accumulator: %w", err)
	}

	computeUnitPrice := cfg.ComputeUnitPriceMicroLamports
	if cfg.ComputeUnitPriceCap > 0 && computeUnitPrice > cfg.ComputeUnitPriceCap {
		logger.Warn("compute unit price clamped",
			"configured", computeUnitPrice,
			"cap", cfg.ComputeUnitPriceCap,
		)
		computeUnitPrice = cfg.ComputeUnitPriceCap
	}

	engine := &Engine{
		cfg:                 cfg,
		rpc:                 rpc.New(cfg.RPCURL),
		signer:              signer,
		book:                book,
		journal:             jrnl,
		logger:              logger,
		curveGlobal:         curveGlobal,
		curveEventAuthority: curveEventAuthority,
		ammEventAuthority:   ammEventAuthority,
		curveGlobalVolume:   curveGlobalVolume,
		ammGlobalVolume:     ammGlobalVolume,
		computeUnitPrice:    computeUnitPrice,
	}
	engine.paths = map[VenueFamily]venuePath{
		FamilyCurve: &curvePath{engine: engine},
		FamilyAMM:   &ammPath{engine: engine},
	}
	return engine, nil
}

func loadSigner(cfg config.TraderConfig) (*solana.PrivateKey, error) {
	switch {
	case cfg.PrivateKey != "":
		key, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse trader private key: %w", err)
		}
		return &key, nil
	case cfg.KeypairPath != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("load keypair %s: %w", cfg.KeypairPath, err)
		}
		return &key, nil
	default:
		// Read-only engine; trades return ErrNoWallet.
		return nil, nil
	}
}

func (e *Engine) Close() error {
	return e.journal.Close()
}

// Wallet returns the signer public key, or ErrNoWallet in read-only mode.
func (e *Engine) Wallet() (solana.PublicKey, error) {
	if e.signer == nil {
		return solana.PublicKey{}, ErrNoWallet
	}
	return e.signer.PublicKey(), nil
}

// Status classifies a mint without touching funds.
func (e *Engine) Status(ctx context.Context, mint solana.PublicKey) (VenueStatus, error) {
	if mint.IsZero() {
		return StatusUnknown, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	venue, err := e.classify(ctx, mint)
	if err != nil {
		return StatusUnknown, err
	}
	return venue.status, nil
}

// Quote is a spot price in SOL per whole token at the resolved venue.
type Quote struct {
	Mint   solana.PublicKey `json:"mint"`
	Status VenueStatus      `json:"status"`
	Price  float64          `json:"price"`
}

func (e *Engine) Price(ctx context.Context, mint solana.PublicKey) (Quote, error) {
	if mint.IsZero() {
		return Quote{}, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	venue, err := e.classify(ctx, mint)
	if err != nil {
		return Quote{}, err
	}
	path, ok := e.paths[venue.family]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s trades on no known venue", ErrVenueNotFound, mint)
	}
	price, err := path.spotPrice(ctx, venue)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Mint: mint, Status: venue.status, Price: price}, nil
}

// CurveSnapshot is the decoded bonding curve account for a mint plus the
// quantities derived from it.
type CurveSnapshot struct {
	Address           solana.PublicKey       `json:"address"`
	State             pump.BondingCurveState `json:"state"`
	CompletionPercent float64                `json:"completion_percent"`
	Price             float64                `json:"price"`
}

func (e *Engine) CurveSnapshot(ctx context.Context, mint solana.PublicKey) (CurveSnapshot, error) {
	if mint.IsZero() {
		return CurveSnapshot{}, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	curveKey, _, err := pump.DeriveBondingCurvePDA(e.cfg.CurveProgramID, mint)
	if err != nil {
		return CurveSnapshot{}, fmt.Errorf("derive bonding curve for %s: %w", mint, err)
	}
	state, err := e.fetchCurveState(ctx, curveKey)
	if err != nil {
		return CurveSnapshot{}, err
	}

	// A drained curve has no quotable price; report zero instead of failing
	// the whole snapshot.
	price, err := pump.CurvePrice(state)
	if err != nil {
		price = 0
	}

	return CurveSnapshot{
		Address:           curveKey,
		State:             *state,
		CompletionPercent: state.CompletionPercent(),
		Price:             price,
	}, nil
}

// TokenAddresses are the accounts derivable from a mint alone; the
// user-side entries are present only when a wallet is configured.
type TokenAddresses struct {
	Mint              solana.PublicKey  `json:"mint"`
	BondingCurve      solana.PublicKey  `json:"bonding_curve"`
	BondingCurveBump  uint8             `json:"bonding_curve_bump"`
	CurveTokenAccount solana.PublicKey  `json:"curve_token_account"`
	UserTokenAccount  *solana.PublicKey `json:"user_token_account,omitempty"`
	UserQuoteAccount  *solana.PublicKey `json:"user_wsol_account,omitempty"`
}

// DeriveAddresses is pure derivation; it never touches the network.
func (e *Engine) DeriveAddresses(mint solana.PublicKey) (TokenAddresses, error) {
	if mint.IsZero() {
		return TokenAddresses{}, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	curveKey, bump, err := pump.DeriveBondingCurvePDA(e.cfg.CurveProgramID, mint)
	if err != nil {
		return TokenAddresses{}, fmt.Errorf("derive bonding curve for %s: %w", mint, err)
	}
	curveATA, err := pump.DeriveAssociatedTokenAccount(curveKey, mint)
	if err != nil {
		return TokenAddresses{}, fmt.Errorf("derive curve token account: %w", err)
	}

	addresses := TokenAddresses{
		Mint:              mint,
		BondingCurve:      curveKey,
		BondingCurveBump:  bump,
		CurveTokenAccount: curveATA,
	}
	if e.signer != nil {
		user := e.signer.PublicKey()
		userATA, err := pump.DeriveAssociatedTokenAccount(user, mint)
		if err != nil {
			return TokenAddresses{}, fmt.Errorf("derive user token account: %w", err)
		}
		userWSOL, err := pump.DeriveAssociatedTokenAccount(user, pump.WSOLMint)
		if err != nil {
			return TokenAddresses{}, fmt.Errorf("derive user wsol account: %w", err)
		}
		addresses.UserTokenAccount = &userATA
		addresses.UserQuoteAccount = &userWSOL
	}
	return addresses, nil
}

// Positions lists open positions, oldest entry first.
func (e *Engine) Positions() []ledger.Position {
	return e.book.List()
}

func (e *Engine) Position(mint solana.PublicKey) (ledger.Position, bool) {
	return e.book.Get(mint)
}

// AmendPosition applies fn to the open position for mint and persists the
// result. Returns false when no position is open.
func (e *Engine) AmendPosition(mint solana.PublicKey, fn func(*ledger.Position)) (bool, error) {
	position, ok := e.book.Get(mint)
	if !ok {
		return false, nil
	}
	fn(&position)
	if _, err := e.book.Record(position); err != nil {
		return true, fmt.Errorf("amend position: %w", err)
	}
	return true, nil
}

// WalletBalance returns the signer's SOL balance in lamports.
func (e *Engine) WalletBalance(ctx context.Context) (uint64, error) {
	if e.signer == nil {
		return 0, ErrNoWallet
	}
	out, err := e.rpc.GetBalance(ctx, e.signer.PublicKey(), e.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("get wallet balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the signer's raw balance of a mint; a missing
// associated token account reads as zero.
func (e *Engine) TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	if e.signer == nil {
		return 0, ErrNoWallet
	}
	if mint.IsZero() {
		return 0, fmt.Errorf("%w: mint is required", ErrInvalidInput)
	}
	userATA, err := pump.DeriveAssociatedTokenAccount(e.signer.PublicKey(), mint)
	if err != nil {
		return 0, fmt.Errorf("derive user token account: %w", err)
	}
	return e.fetchTokenBalance(ctx, userATA)
}
