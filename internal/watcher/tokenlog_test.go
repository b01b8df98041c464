package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenLogAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	log, err := OpenTokenLog(path)
	require.NoError(t, err)
	require.Empty(t, log.List())

	first := TokenRecord{
		Mint:                   testKey(0x01).String(),
		Symbol:                 "AAA",
		Name:                   "First Token",
		Creator:                testKey(0x02).String(),
		BondingCurve:           testKey(0x03).String(),
		AssociatedBondingCurve: testKey(0x04).String(),
		DiscoveredAt:           time.Now().UTC(),
	}
	second := first
	second.Mint = testKey(0x05).String()
	second.Symbol = "BBB"

	require.NoError(t, log.Append(first))
	require.NoError(t, log.Append(second))
	require.Len(t, log.List(), 2)

	reloaded, err := OpenTokenLog(path)
	require.NoError(t, err)
	records := reloaded.List()
	require.Len(t, records, 2)
	require.Equal(t, first.Mint, records[0].Mint)
	require.Equal(t, "AAA", records[0].Symbol)
	require.Equal(t, "First Token", records[0].Name)
	require.Equal(t, first.AssociatedBondingCurve, records[0].AssociatedBondingCurve)
	require.Equal(t, "BBB", records[1].Symbol)
}

func TestTokenLogRecent(t *testing.T) {
	log, err := OpenTokenLog(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	stale := TokenRecord{Mint: testKey(0x0A).String(), Symbol: "OLD", DiscoveredAt: time.Now().Add(-2 * time.Hour)}
	fresh := TokenRecord{Mint: testKey(0x0B).String(), Symbol: "NEW", DiscoveredAt: time.Now().Add(-10 * time.Second)}
	require.NoError(t, log.Append(stale))
	require.NoError(t, log.Append(fresh))

	recent := log.Recent(time.Hour)
	require.Len(t, recent, 1)
	require.Equal(t, "NEW", recent[0].Symbol)

	require.Len(t, log.Recent(3*time.Hour), 2)
}

func TestOpenTokenLogMissingFile(t *testing.T) {
	log, err := OpenTokenLog(filepath.Join(t.TempDir(), "nested", "tokens.json"))
	require.NoError(t, err)
	require.Empty(t, log.List())
}

func TestOpenTokenLogRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenTokenLog(path)
	require.Error(t, err)
}

func TestOpenTokenLogRejectsEmptyPath(t *testing.T) {
	_, err := OpenTokenLog("")
	require.Error(t, err)
}
