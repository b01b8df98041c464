// Package watcher streams token creations from the curve program's log feed
// and runs the discovery daemon on top of it: token log, journal mirror,
// filters, and optional auto-buy with exit monitoring.
package watcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/pump"
)

const (
	websocketReadLimitBytes = 16 << 20
	websocketWriteTimeout   = 5 * time.Second

	pingInterval = 20 * time.Second
	pongWait     = 60 * time.Second

	subscribeRequestID = 1

	defaultReconnectMaxDelay = 30 * time.Second

	// Create instructions gate the scan; the program emits many event types
	// through "Program data:" lines and only create payloads decode.
	createInstructionMarker = "Program log: Instruction: Create"
	programDataPrefix       = "Program data: "
)

// TokenEvent is one decoded token creation. User signed the creating
// transaction; Creator is who the curve credits fees to.
type TokenEvent struct {
	Mint         solana.PublicKey `json:"mint"`
	BondingCurve solana.PublicKey `json:"bonding_curve"`
	User         solana.PublicKey `json:"user"`
	Creator      solana.PublicKey `json:"creator"`
	Name         string           `json:"name"`
	Symbol       string           `json:"symbol"`
	URI          string           `json:"uri"`
	Signature    string           `json:"signature"`
	Slot         uint64           `json:"slot"`
	DiscoveredAt time.Time        `json:"discovered_at"`
}

// Handler receives each decoded token creation, on the subscription's own
// goroutine. Blocking here stalls the feed; spawn for slow work.
type Handler func(TokenEvent)

// Listener subscribes to the curve program's logs over websocket and keeps
// the subscription alive across disconnects.
type Listener struct {
	cfg    config.WatcherConfig
	logger *slog.Logger
}

func NewListener(cfg config.WatcherConfig, logger *slog.Logger) *Listener {
	return &Listener{cfg: cfg, logger: logger}
}

// Subscription is one live log subscription. Stop is idempotent and blocks
// until the consume loop has exited; Done serves select-driven callers.
type Subscription struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (s *Subscription) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe starts the subscription loop and returns its handle. The loop
// reconnects on every failure until ctx ends or Stop is called.
func (l *Listener) Subscribe(ctx context.Context, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil token handler")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer cancel()
		defer close(sub.done)
		l.run(runCtx, handler)
	}()
	return sub, nil
}

func (l *Listener) run(ctx context.Context, handler Handler) {
	maxDelay := l.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultReconnectMaxDelay
	}
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = time.Second
	backoffCfg.MaxInterval = maxDelay

	for {
		if ctx.Err() != nil {
			return
		}

		err := l.consume(ctx, handler, backoffCfg.Reset)
		if ctx.Err() != nil {
			return
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxDelay
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("log stream disconnected", "err", err, "retry_in", sleep.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

type wsError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type wsMessage struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *wsError        `json:"error"`
	Params *logsParams     `json:"params"`
}

type logsParams struct {
	Subscription int64      `json:"subscription"`
	Result       logsResult `json:"result"`
}

type logsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string   `json:"signature"`
		Err       any      `json:"err"`
		Logs      []string `json:"logs"`
	} `json:"value"`
}

// consume owns one connection: subscribe, then read notifications until the
// peer or the context ends it. subscribed fires once the server accepts the
// subscription, so the caller can reset its reconnect backoff.
func (l *Listener) consume(ctx context.Context, handler Handler, subscribed func()) error {
	conn, _, err := dialWebsocket(ctx, l.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.WSURL, err)
	}
	defer conn.Close()
	stopClose := closeConnOnContextDone(ctx, conn)
	defer stopClose()

	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      subscribeRequestID,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{l.cfg.CurveProgramID.String()}},
			map[string]any{"commitment": string(l.cfg.Commitment)},
		},
	}
	if err := writeWebsocketJSON(conn, request); err != nil {
		return fmt.Errorf("send logsSubscribe: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stopPings := l.keepAlive(ctx, conn)
	defer stopPings()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var message wsMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			continue
		}

		if message.Error != nil {
			return fmt.Errorf("logsSubscribe rejected: code=%d msg=%s", message.Error.Code, message.Error.Message)
		}
		if message.Method == "" && message.ID == subscribeRequestID {
			var subscriptionID int64
			_ = json.Unmarshal(message.Result, &subscriptionID)
			subscribed()
			l.logger.Info("log subscription active",
				"subscription", subscriptionID,
				"program", l.cfg.CurveProgramID,
				"commitment", l.cfg.Commitment,
			)
			continue
		}
		if message.Method != "logsNotification" || message.Params == nil {
			continue
		}

		for _, event := range l.tokenEventsFromLogs(message.Params.Result) {
			l.dispatch(handler, event)
		}
	}
}

// keepAlive pings on a fixed cadence; the pong handler pushes the read
// deadline forward, so a silent peer times the read loop out.
func (l *Listener) keepAlive(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// tokenEventsFromLogs pulls every token creation out of one transaction's
// log lines. Reverted transactions and non-create payloads yield nothing.
func (l *Listener) tokenEventsFromLogs(result logsResult) []TokenEvent {
	value := result.Value
	if value.Err != nil {
		return nil
	}

	sawCreate := false
	for _, line := range value.Logs {
		if strings.Contains(line, createInstructionMarker) {
			sawCreate = true
			break
		}
	}
	if !sawCreate {
		return nil
	}

	now := time.Now().UTC()
	var events []TokenEvent
	for _, line := range value.Logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			continue
		}
		event, err := pump.DecodeCreateEvent(raw)
		if err != nil {
			continue
		}
		events = append(events, TokenEvent{
			Mint:         event.Mint,
			BondingCurve: event.BondingCurve,
			User:         event.User,
			Creator:      event.Creator,
			Name:         event.Name,
			Symbol:       event.Symbol,
			URI:          event.URI,
			Signature:    value.Signature,
			Slot:         result.Context.Slot,
			DiscoveredAt: now,
		})
	}
	return events
}

// dispatch shields the read loop from handler panics; one bad event must
// not tear down the subscription.
func (l *Listener) dispatch(handler Handler, event TokenEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("token handler panic", "mint", event.Mint, "panic", r)
		}
	}()
	handler(event)
}

func dialWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	return conn, resp, nil
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}
