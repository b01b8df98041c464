package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/ledger"
	"github.com/greyfin/pumptrader/internal/logging"
	"github.com/greyfin/pumptrader/internal/pump"
)

// newDiscoveryService builds a service with no engine and no journal, the
// discovery-only shape.
func newDiscoveryService(t *testing.T, cfg config.WatcherConfig) *Service {
	t.Helper()
	svc, err := New(cfg, nil, nil, logging.Discard())
	require.NoError(t, err)
	return svc
}

func TestMatches(t *testing.T) {
	creator := testKey(0x77)
	other := testKey(0x78)
	event := TokenEvent{Name: "Moon Dog Coin", Symbol: "MDOG", Creator: creator}

	cases := []struct {
		name string
		cfg  config.WatcherConfig
		want bool
	}{
		{"no filters", config.WatcherConfig{}, true},
		{"match on name", config.WatcherConfig{MatchString: "moon"}, true},
		{"match on symbol", config.WatcherConfig{MatchString: "mdog"}, true},
		{"match case insensitive", config.WatcherConfig{MatchString: "MOON DOG"}, true},
		{"no match", config.WatcherConfig{MatchString: "pepe"}, false},
		{"creator match", config.WatcherConfig{CreatorFilter: &creator}, true},
		{"creator mismatch", config.WatcherConfig{CreatorFilter: &other}, false},
		{"match but wrong creator", config.WatcherConfig{MatchString: "moon", CreatorFilter: &other}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &Service{cfg: tc.cfg, logger: logging.Discard()}
			require.Equal(t, tc.want, svc.matches(event))
		})
	}
}

func TestHandleTokenRecordsDiscovery(t *testing.T) {
	cfg := config.WatcherConfig{
		TokenLogPath: filepath.Join(t.TempDir(), "tokens.json"),
		MatchString:  "launch",
	}
	svc := newDiscoveryService(t, cfg)

	mint := testKey(0xD1)
	curve := testKey(0xD2)
	creator := testKey(0xD3)
	svc.handleToken(context.Background(), TokenEvent{
		Mint:         mint,
		BondingCurve: curve,
		User:         creator,
		Creator:      creator,
		Name:         "Big Launch",
		Symbol:       "BIGL",
		URI:          "https://example.com/bigl.json",
		Signature:    "createSig",
		Slot:         12,
		DiscoveredAt: time.Now().UTC(),
	})
	svc.handleToken(context.Background(), TokenEvent{
		Mint:   testKey(0xD4),
		Name:   "Other Coin",
		Symbol: "OTHR",
	})

	records := svc.tokens.List()
	require.Len(t, records, 1)
	record := records[0]
	require.Equal(t, mint.String(), record.Mint)
	require.Equal(t, "BIGL", record.Symbol)
	require.Equal(t, "Big Launch", record.Name)
	require.Equal(t, creator.String(), record.Creator)
	require.Equal(t, curve.String(), record.BondingCurve)

	associated, err := pump.DeriveAssociatedTokenAccount(curve, mint)
	require.NoError(t, err)
	require.Equal(t, associated.String(), record.AssociatedBondingCurve)

	reloaded, err := OpenTokenLog(cfg.TokenLogPath)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 1)
}

func TestApplyExitParameters(t *testing.T) {
	svc := &Service{
		cfg: config.WatcherConfig{
			TakeProfitPct: 50,
			StopLossPct:   20,
			MaxHold:       3 * time.Minute,
		},
		logger: logging.Discard(),
	}

	position := ledger.Position{EntryPrice: 2e-8}
	svc.applyExitParameters(&position, TokenEvent{Name: "Big Launch", Symbol: "BIGL"})

	require.Equal(t, "Big Launch", position.Name)
	require.Equal(t, "BIGL", position.Symbol)
	require.NotNil(t, position.TakeProfit)
	require.InEpsilon(t, 3e-8, *position.TakeProfit, 1e-9)
	require.NotNil(t, position.StopLoss)
	require.InEpsilon(t, 1.6e-8, *position.StopLoss, 1e-9)
	require.NotNil(t, position.MaxHoldSec)
	require.Equal(t, int64(180), *position.MaxHoldSec)
}

func TestApplyExitParametersUnsetLeavesPositionOpenEnded(t *testing.T) {
	svc := &Service{cfg: config.WatcherConfig{}, logger: logging.Discard()}

	position := ledger.Position{EntryPrice: 2e-8}
	svc.applyExitParameters(&position, TokenEvent{Symbol: "NONE"})

	require.Equal(t, "NONE", position.Symbol)
	require.Nil(t, position.TakeProfit)
	require.Nil(t, position.StopLoss)
	require.Nil(t, position.MaxHoldSec)
}
