package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/greyfin/pumptrader/internal/pump"
)

func TestNormalizeKeySegment(t *testing.T) {
	cases := map[string]string{
		"solana":          "SOLANA",
		"trader.rpc-url":  "TRADER_RPC_URL",
		"  spaced key  ":  "SPACED_KEY",
		"weird__key":      "WEIRD_KEY",
		"trailing-":       "TRAILING",
		"":                "",
		"log_level":       "LOG_LEVEL",
		"watcher.buy sol": "WATCHER_BUY_SOL",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeKeySegment(in), "input %q", in)
	}
}

func TestFlattenConfig(t *testing.T) {
	raw := map[string]any{
		"trader": map[string]any{
			"slippage_bps": 250,
			"skip":         true,
			"nested": map[string]any{
				"deep": "value",
			},
		},
		"origins": []any{"a", "b", 3},
		"empty":   nil,
	}

	flat, err := flattenConfig(raw)
	require.NoError(t, err)
	require.Equal(t, "250", flat["TRADER_SLIPPAGE_BPS"])
	require.Equal(t, "true", flat["TRADER_SKIP"])
	require.Equal(t, "value", flat["TRADER_NESTED_DEEP"])
	require.Equal(t, "a,b,3", flat["ORIGINS"])
	_, ok := flat["EMPTY"]
	require.False(t, ok)
}

func TestFlattenConfigRejectsStructuredListItems(t *testing.T) {
	_, err := flattenConfig(map[string]any{
		"bad": []any{map[string]any{"x": 1}},
	})
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_DURATION", "1500ms")
	d, err := envDuration("CFG_TEST_DURATION", time.Second)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, d)

	t.Setenv("CFG_TEST_DURATION", "-2s")
	_, err = envDuration("CFG_TEST_DURATION", time.Second)
	require.Error(t, err)

	d, err = envDuration("CFG_TEST_DURATION_UNSET", 7*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, d)

	t.Setenv("CFG_TEST_U64", "123456")
	u, err := envUint64("CFG_TEST_U64", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(123456), u)

	t.Setenv("CFG_TEST_FLOAT", "-0.5")
	_, err = envFloat("CFG_TEST_FLOAT", 0)
	require.Error(t, err)

	t.Setenv("CFG_TEST_PK", "not-base58!!!")
	_, err = envPubkey("CFG_TEST_PK", solana.PublicKey{})
	require.Error(t, err)

	t.Setenv("CFG_TEST_COMMITMENT", "almost")
	_, err = envCommitment("CFG_TEST_COMMITMENT", "confirmed")
	require.Error(t, err)

	t.Setenv("CFG_TEST_OPT_DURATION", "")
	d, err = envOptionalDuration("CFG_TEST_OPT_DURATION")
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestLoadTraderConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"SOLANA_RPC_URL", "SOLANA_COMMITMENT", "TRADER_PRIVATE_KEY", "SOLANA_PRIVATE_KEY",
		"CURVE_PROGRAM_ID", "AMM_PROGRAM_ID", "TRADER_SLIPPAGE_BPS",
		"TRADER_COMPUTE_UNIT_PRICE_MICRO_LAMPORTS", "TRADER_LISTEN_ADDR", "TRADER_LEDGER_PATH",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadTraderConfig()
	require.NoError(t, err)

	require.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPCURL)
	require.Equal(t, pump.CurveProgramID, cfg.CurveProgramID)
	require.Equal(t, pump.AMMProgramID, cfg.AMMProgramID)
	require.Equal(t, pump.CurveFeeRecipient, cfg.CurveFeeRecipient)
	require.Equal(t, uint64(500), cfg.DefaultSlippageBps)
	require.Equal(t, uint64(10_000), cfg.ComputeUnitPriceMicroLamports)
	require.Equal(t, uint64(500_000), cfg.ComputeUnitPriceCap)
	require.True(t, cfg.SkipPreflight)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "positions.json", cfg.LedgerPath)
	require.Empty(t, cfg.PrivateKey)
}

func TestLoadTraderConfigOverrides(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	t.Setenv("CURVE_PROGRAM_ID", program.String())
	t.Setenv("TRADER_SLIPPAGE_BPS", "250")
	t.Setenv("TRADER_TX_TIMEOUT", "5s")
	t.Setenv("TRADER_SKIP_PREFLIGHT", "false")

	cfg, err := LoadTraderConfig()
	require.NoError(t, err)
	require.Equal(t, program, cfg.CurveProgramID)
	require.Equal(t, uint64(250), cfg.DefaultSlippageBps)
	require.Equal(t, 5*time.Second, cfg.TxTimeout)
	require.False(t, cfg.SkipPreflight)
}

func TestLoadTraderConfigRejectsBadValues(t *testing.T) {
	t.Setenv("TRADER_TX_TIMEOUT", "soon")
	_, err := LoadTraderConfig()
	require.Error(t, err)
}

func TestLoadWatcherConfigOverrides(t *testing.T) {
	creator := solana.NewWallet().PublicKey()
	t.Setenv("WATCHER_AUTO_BUY", "true")
	t.Setenv("WATCHER_BUY_SOL", "0.5")
	t.Setenv("WATCHER_MAX_HOLD", "90s")
	t.Setenv("WATCHER_CREATOR", creator.String())
	t.Setenv("WATCHER_MATCH", "pepe")

	cfg, err := LoadWatcherConfig()
	require.NoError(t, err)
	require.True(t, cfg.AutoBuy)
	require.Equal(t, 0.5, cfg.BuySOL)
	require.Equal(t, 90*time.Second, cfg.MaxHold)
	require.NotNil(t, cfg.CreatorFilter)
	require.Equal(t, creator, *cfg.CreatorFilter)
	require.Equal(t, "pepe", cfg.MatchString)
}
