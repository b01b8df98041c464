package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"

	"github.com/greyfin/pumptrader/internal/pump"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// TraderConfig drives the trade engine and the HTTP control plane. The
// wallet is optional: with neither a private key nor a keypair path the
// engine runs read-only and refuses buys and sells.
type TraderConfig struct {
	RPCURL     string
	Commitment rpc.CommitmentType

	PrivateKey  string
	KeypairPath string

	CurveProgramID     solana.PublicKey
	AMMProgramID       solana.PublicKey
	CurveFeeRecipient  solana.PublicKey
	AMMGlobalConfig    solana.PublicKey
	AMMFeeRecipient    solana.PublicKey
	AMMFeeRecipientATA solana.PublicKey

	DefaultSlippageBps            uint64
	ComputeUnitPriceMicroLamports uint64
	ComputeUnitPriceCap           uint64
	SkipPreflight                 bool

	TxTimeout       time.Duration
	PoolScanTimeout time.Duration

	LedgerPath string
	DBDSN      string

	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string

	Log LogConfig
}

// WatcherConfig drives the token-creation listener daemon. Trade-side
// settings come from TraderConfig, which the watcher daemon loads alongside
// this one.
type WatcherConfig struct {
	WSURL      string
	Commitment rpc.CommitmentType

	CurveProgramID solana.PublicKey

	TokenLogPath  string
	MatchString   string
	CreatorFilter *solana.PublicKey

	AutoBuy       bool
	BuySOL        float64
	SlippageBps   uint64
	TakeProfitPct float64
	StopLossPct   float64
	MaxHold       time.Duration

	ExitCheckInterval time.Duration
	ReconnectMaxDelay time.Duration

	Log LogConfig
}

func LoadTraderConfig() (TraderConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return TraderConfig{}, err
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return TraderConfig{}, err
	}

	keypairPath, err := expandHomePath(envOrDefault("TRADER_KEYPAIR_PATH", ""))
	if err != nil {
		return TraderConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	curveProgramID, err := envPubkey("CURVE_PROGRAM_ID", pump.CurveProgramID)
	if err != nil {
		return TraderConfig{}, err
	}
	ammProgramID, err := envPubkey("AMM_PROGRAM_ID", pump.AMMProgramID)
	if err != nil {
		return TraderConfig{}, err
	}
	curveFeeRecipient, err := envPubkey("CURVE_FEE_RECIPIENT", pump.CurveFeeRecipient)
	if err != nil {
		return TraderConfig{}, err
	}
	ammGlobalConfig, err := envPubkey("AMM_GLOBAL_CONFIG", pump.AMMGlobalConfig)
	if err != nil {
		return TraderConfig{}, err
	}
	ammFeeRecipient, err := envPubkey("AMM_FEE_RECIPIENT", pump.AMMProtocolFeeRecipient)
	if err != nil {
		return TraderConfig{}, err
	}
	ammFeeRecipientATA, err := envPubkey("AMM_FEE_RECIPIENT_TOKEN_ACCOUNT", pump.AMMProtocolFeeRecipientTokenAccount)
	if err != nil {
		return TraderConfig{}, err
	}

	slippageBps, err := envUint64("TRADER_SLIPPAGE_BPS", 500)
	if err != nil {
		return TraderConfig{}, err
	}
	cuPrice, err := envUint64("TRADER_COMPUTE_UNIT_PRICE_MICRO_LAMPORTS", 10_000)
	if err != nil {
		return TraderConfig{}, err
	}
	cuPriceCap, err := envUint64("TRADER_COMPUTE_UNIT_PRICE_CAP", 500_000)
	if err != nil {
		return TraderConfig{}, err
	}
	skipPreflight, err := envBool("TRADER_SKIP_PREFLIGHT", true)
	if err != nil {
		return TraderConfig{}, err
	}

	txTimeout, err := envDuration("TRADER_TX_TIMEOUT", 30*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	scanTimeout, err := envDuration("TRADER_POOL_SCAN_TIMEOUT", 60*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}

	readTimeout, err := envDuration("TRADER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	writeTimeout, err := envDuration("TRADER_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}
	idleTimeout, err := envDuration("TRADER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return TraderConfig{}, err
	}

	return TraderConfig{
		RPCURL:     envOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		Commitment: commitment,

		PrivateKey:  envOrDefault("TRADER_PRIVATE_KEY", envOrDefault("SOLANA_PRIVATE_KEY", "")),
		KeypairPath: keypairPath,

		CurveProgramID:     curveProgramID,
		AMMProgramID:       ammProgramID,
		CurveFeeRecipient:  curveFeeRecipient,
		AMMGlobalConfig:    ammGlobalConfig,
		AMMFeeRecipient:    ammFeeRecipient,
		AMMFeeRecipientATA: ammFeeRecipientATA,

		DefaultSlippageBps:            slippageBps,
		ComputeUnitPriceMicroLamports: cuPrice,
		ComputeUnitPriceCap:           cuPriceCap,
		SkipPreflight:                 skipPreflight,

		TxTimeout:       txTimeout,
		PoolScanTimeout: scanTimeout,

		LedgerPath: envOrDefault("TRADER_LEDGER_PATH", "positions.json"),
		DBDSN:      envOrDefault("TRADER_DB_DSN", ""),

		ListenAddr:     envOrDefault("TRADER_LISTEN_ADDR", ":8080"),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		AllowedOrigins: parseCSVEnv(envOrDefault("TRADER_ALLOWED_ORIGINS", "*"), []string{"*"}),

		Log: buildLogConfig("TRADER", "trader"),
	}, nil
}

func LoadWatcherConfig() (WatcherConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return WatcherConfig{}, err
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return WatcherConfig{}, err
	}

	curveProgramID, err := envPubkey("CURVE_PROGRAM_ID", pump.CurveProgramID)
	if err != nil {
		return WatcherConfig{}, err
	}

	creatorFilter, err := envOptionalPubkey("WATCHER_CREATOR")
	if err != nil {
		return WatcherConfig{}, err
	}

	autoBuy, err := envBool("WATCHER_AUTO_BUY", false)
	if err != nil {
		return WatcherConfig{}, err
	}
	buySOL, err := envFloat("WATCHER_BUY_SOL", 0.01)
	if err != nil {
		return WatcherConfig{}, err
	}
	slippageBps, err := envUint64("WATCHER_SLIPPAGE_BPS", 500)
	if err != nil {
		return WatcherConfig{}, err
	}
	takeProfitPct, err := envFloat("WATCHER_TAKE_PROFIT_PCT", 0)
	if err != nil {
		return WatcherConfig{}, err
	}
	stopLossPct, err := envFloat("WATCHER_STOP_LOSS_PCT", 0)
	if err != nil {
		return WatcherConfig{}, err
	}
	maxHold, err := envOptionalDuration("WATCHER_MAX_HOLD")
	if err != nil {
		return WatcherConfig{}, err
	}
	exitCheckInterval, err := envDuration("WATCHER_EXIT_CHECK_INTERVAL", 5*time.Second)
	if err != nil {
		return WatcherConfig{}, err
	}
	reconnectMaxDelay, err := envDuration("WATCHER_RECONNECT_MAX_DELAY", 30*time.Second)
	if err != nil {
		return WatcherConfig{}, err
	}

	return WatcherConfig{
		WSURL:      envOrDefault("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com"),
		Commitment: commitment,

		CurveProgramID: curveProgramID,

		TokenLogPath:  envOrDefault("WATCHER_TOKEN_LOG_PATH", "tokens.json"),
		MatchString:   envOrDefault("WATCHER_MATCH", ""),
		CreatorFilter: creatorFilter,

		AutoBuy:       autoBuy,
		BuySOL:        buySOL,
		SlippageBps:   slippageBps,
		TakeProfitPct: takeProfitPct,
		StopLossPct:   stopLossPct,
		MaxHold:       maxHold,

		ExitCheckInterval: exitCheckInterval,
		ReconnectMaxDelay: reconnectMaxDelay,

		Log: buildLogConfig("WATCHER", "watcher"),
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envOptionalPubkey(key string) (*solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &pk, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

// envOptionalDuration treats absence as zero, for settings where zero means
// disabled.
func envOptionalDuration(key string) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return d, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}
