package trader

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/logging"
	"github.com/greyfin/pumptrader/internal/pump"
)

var (
	testWallet = solana.NewWallet()

	testSignature = func() solana.Signature {
		var sig solana.Signature
		for i := range sig {
			sig[i] = 7
		}
		return sig
	}()

	testBlockhash = func() solana.Hash {
		var hash solana.Hash
		for i := range hash {
			hash[i] = 9
		}
		return hash
	}()

	// A curve part-way to graduation; the swap-output expectations in the
	// trade tests are computed from these reserves.
	liveCurve = pump.BondingCurveState{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    793_100_000_000_000,
		RealSolReserves:      0,
		TokenTotalSupply:     1_000_000_000_000_000,
		Creator:              testPubkey(0xC1),
	}
)

func testPubkey(seed byte) solana.PublicKey {
	var key solana.PublicKey
	for i := range key {
		key[i] = seed
	}
	return key
}

func testPool(mint solana.PublicKey) pump.PoolState {
	return pump.PoolState{
		PoolBump:              251,
		Index:                 1,
		Creator:               testPubkey(0xA1),
		BaseMint:              mint,
		QuoteMint:             pump.WSOLMint,
		LPMint:                testPubkey(0xA2),
		PoolBaseTokenAccount:  testPubkey(0xB1),
		PoolQuoteTokenAccount: testPubkey(0xB2),
		LPSupply:              1_000_000,
		CoinCreator:           testPubkey(0xA3),
	}
}

func appendU64(data []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(data, buf[:]...)
}

func encodeCurveAccount(state pump.BondingCurveState) []byte {
	data := make([]byte, 0, 81)
	data = append(data, pump.BondingCurveDiscriminator[:]...)
	data = appendU64(data, state.VirtualTokenReserves)
	data = appendU64(data, state.VirtualSolReserves)
	data = appendU64(data, state.RealTokenReserves)
	data = appendU64(data, state.RealSolReserves)
	data = appendU64(data, state.TokenTotalSupply)
	if state.Complete {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	return append(data, state.Creator.Bytes()...)
}

func encodePoolAccount(pool pump.PoolState) []byte {
	data := make([]byte, 0, 251)
	data = append(data, pump.PoolDiscriminator[:]...)
	data = append(data, pool.PoolBump)
	var idx [2]byte
	binary.LittleEndian.PutUint16(idx[:], pool.Index)
	data = append(data, idx[:]...)
	data = append(data, pool.Creator.Bytes()...)
	data = append(data, pool.BaseMint.Bytes()...)
	data = append(data, pool.QuoteMint.Bytes()...)
	data = append(data, pool.LPMint.Bytes()...)
	data = append(data, pool.PoolBaseTokenAccount.Bytes()...)
	data = append(data, pool.PoolQuoteTokenAccount.Bytes()...)
	data = appendU64(data, pool.LPSupply)
	return append(data, pool.CoinCreator.Bytes()...)
}

// encodeTokenAccount emits the full on-chain SPL token account layout with
// every optional field absent; only the leading mint, owner, and amount
// matter to the engine.
func encodeTokenAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 0, 165)
	data = append(data, mint.Bytes()...)
	data = append(data, owner.Bytes()...)
	data = appendU64(data, amount)
	return append(data, make([]byte, 93)...)
}

type stubAccount struct {
	owner solana.PublicKey
	data  []byte
}

type poolEntry struct {
	address solana.PublicKey
	account stubAccount
}

// stubChain speaks just enough of the Solana JSON-RPC surface for the
// engine: accounts keyed by base58 address, a fixed pool-scan result, and
// canned submit/simulate/confirm answers.
type stubChain struct {
	t   *testing.T
	url string

	mu            sync.Mutex
	accounts      map[string]stubAccount
	poolEntries   []poolEntry
	balance       uint64
	confirmStatus string
	simulateErr   interface{}
	simulateLogs  []string
	scanDelay     time.Duration
	calls         []string
	sentTx        []byte
	filterJSON    string
}

func newStubChain(t *testing.T) *stubChain {
	s := &stubChain{
		t:             t,
		accounts:      make(map[string]stubAccount),
		balance:       10 * solana.LAMPORTS_PER_SOL,
		confirmStatus: string(rpc.ConfirmationStatusConfirmed),
	}
	server := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(server.Close)
	s.url = server.URL
	return s
}

func (s *stubChain) setAccount(key, owner solana.PublicKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[key.String()] = stubAccount{owner: owner, data: data}
}

func (s *stubChain) addCurve(t *testing.T, mint solana.PublicKey, state pump.BondingCurveState) solana.PublicKey {
	t.Helper()
	curveKey, _, err := pump.DeriveBondingCurvePDA(pump.CurveProgramID, mint)
	require.NoError(t, err)
	s.setAccount(curveKey, pump.CurveProgramID, encodeCurveAccount(state))
	return curveKey
}

func (s *stubChain) addPool(address solana.PublicKey, pool pump.PoolState, baseReserves, quoteReserves uint64) {
	s.mu.Lock()
	s.poolEntries = append(s.poolEntries, poolEntry{
		address: address,
		account: stubAccount{owner: pump.AMMProgramID, data: encodePoolAccount(pool)},
	})
	s.mu.Unlock()
	s.setAccount(pool.PoolBaseTokenAccount, solana.TokenProgramID, encodeTokenAccount(pool.BaseMint, address, baseReserves))
	s.setAccount(pool.PoolQuoteTokenAccount, solana.TokenProgramID, encodeTokenAccount(pool.QuoteMint, address, quoteReserves))
}

func (s *stubChain) methodCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubChain) sentTransaction() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sentTx...)
}

func (s *stubChain) scanFilter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterJSON
}

func (s *stubChain) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.t.Errorf("read rpc request: %v", err)
		return
	}
	var req struct {
		ID     interface{}       `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.t.Errorf("decode rpc request: %v", err)
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, req.Method)
	s.mu.Unlock()

	var result interface{}
	switch req.Method {
	case "getAccountInfo":
		result = s.accountInfoResult(req.Params)
	case "getBalance":
		s.mu.Lock()
		balance := s.balance
		s.mu.Unlock()
		result = contextWrapped(balance)
	case "getProgramAccounts":
		result = s.programAccountsResult(req.Params)
	case "getMultipleAccounts":
		result = s.multipleAccountsResult(req.Params)
	case "getLatestBlockhash":
		result = contextWrapped(map[string]interface{}{
			"blockhash":            testBlockhash.String(),
			"lastValidBlockHeight": 5000,
		})
	case "sendTransaction":
		s.captureTransaction(req.Params)
		result = testSignature.String()
	case "simulateTransaction":
		s.mu.Lock()
		value := map[string]interface{}{
			"err":           s.simulateErr,
			"logs":          s.simulateLogs,
			"unitsConsumed": 42_000,
		}
		s.mu.Unlock()
		result = contextWrapped(value)
	case "getSignatureStatuses":
		result = s.signatureStatusesResult()
	default:
		s.t.Errorf("unhandled rpc method %q", req.Method)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	}); err != nil {
		s.t.Errorf("write rpc response: %v", err)
	}
}

func (s *stubChain) accountInfoResult(params []json.RawMessage) interface{} {
	var key string
	if len(params) == 0 || json.Unmarshal(params[0], &key) != nil {
		s.t.Errorf("getAccountInfo request carries no pubkey")
		return contextWrapped(nil)
	}
	s.mu.Lock()
	account, ok := s.accounts[key]
	s.mu.Unlock()
	if !ok {
		return contextWrapped(nil)
	}
	return contextWrapped(accountJSON(account))
}

func (s *stubChain) programAccountsResult(params []json.RawMessage) interface{} {
	s.mu.Lock()
	if len(params) > 1 {
		s.filterJSON = string(params[1])
	}
	delay := s.scanDelay
	entries := make([]interface{}, 0, len(s.poolEntries))
	for _, entry := range s.poolEntries {
		entries = append(entries, map[string]interface{}{
			"pubkey":  entry.address.String(),
			"account": accountJSON(entry.account),
		})
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return entries
}

func (s *stubChain) multipleAccountsResult(params []json.RawMessage) interface{} {
	var keys []string
	if len(params) == 0 || json.Unmarshal(params[0], &keys) != nil {
		s.t.Errorf("getMultipleAccounts request carries no pubkeys")
		return contextWrapped(nil)
	}
	values := make([]interface{}, len(keys))
	s.mu.Lock()
	for i, key := range keys {
		if account, ok := s.accounts[key]; ok {
			values[i] = accountJSON(account)
		}
	}
	s.mu.Unlock()
	return contextWrapped(values)
}

func (s *stubChain) signatureStatusesResult() interface{} {
	s.mu.Lock()
	status := s.confirmStatus
	s.mu.Unlock()
	if status == "" {
		return contextWrapped([]interface{}{nil})
	}
	return contextWrapped([]interface{}{map[string]interface{}{
		"slot":               1200,
		"confirmations":      3,
		"err":                nil,
		"confirmationStatus": status,
	}})
}

func (s *stubChain) captureTransaction(params []json.RawMessage) {
	var encoded string
	if len(params) == 0 || json.Unmarshal(params[0], &encoded) != nil {
		s.t.Errorf("sendTransaction request carries no payload")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.t.Errorf("decode sent transaction: %v", err)
		return
	}
	s.mu.Lock()
	s.sentTx = raw
	s.mu.Unlock()
}

func contextWrapped(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1000},
		"value":   value,
	}
}

func accountJSON(account stubAccount) map[string]interface{} {
	return map[string]interface{}{
		"lamports":   2_039_280,
		"owner":      account.owner.String(),
		"data":       []interface{}{base64.StdEncoding.EncodeToString(account.data), "base64"},
		"executable": false,
		"rentEpoch":  0,
	}
}

func testTraderConfig(t *testing.T, chain *stubChain) config.TraderConfig {
	t.Helper()
	return config.TraderConfig{
		RPCURL:     chain.url,
		Commitment: rpc.CommitmentConfirmed,
		PrivateKey: testWallet.PrivateKey.String(),

		CurveProgramID:     pump.CurveProgramID,
		AMMProgramID:       pump.AMMProgramID,
		CurveFeeRecipient:  pump.CurveFeeRecipient,
		AMMGlobalConfig:    pump.AMMGlobalConfig,
		AMMFeeRecipient:    pump.AMMProtocolFeeRecipient,
		AMMFeeRecipientATA: pump.AMMProtocolFeeRecipientTokenAccount,

		DefaultSlippageBps:            500,
		ComputeUnitPriceMicroLamports: 10_000,
		ComputeUnitPriceCap:           500_000,
		SkipPreflight:                 true,

		TxTimeout:       5 * time.Second,
		PoolScanTimeout: 2 * time.Second,

		LedgerPath: filepath.Join(t.TempDir(), "positions.json"),
	}
}

func newTestEngine(t *testing.T, chain *stubChain) *Engine {
	t.Helper()
	engine, err := New(testTraderConfig(t, chain), nil, logging.Discard())
	require.NoError(t, err)
	return engine
}
