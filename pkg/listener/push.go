package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/chainerr"
)

// PushConfig holds the reconnect/backoff and contract-reload knobs for a
// PushListener.
type PushConfig struct {
	ContractRefreshInterval time.Duration
	InitialBackoff          time.Duration
	MaxBackoff              time.Duration
	MaxReconnectAttempts    int
	RateLimitReportEvery    time.Duration
}

// DefaultPushConfig matches the spec's stated reconnect defaults: backoff
// doubling from 1s to a 32s cap, 5 attempts before Exhausted.
func DefaultPushConfig() PushConfig {
	return PushConfig{
		ContractRefreshInterval: 30 * time.Second,
		InitialBackoff:          1 * time.Second,
		MaxBackoff:              32 * time.Second,
		MaxReconnectAttempts:    5,
		RateLimitReportEvery:    10 * time.Second,
	}
}

type activeSub struct {
	watch   ContractWatch
	topic0  common.Hash
	sub     LogSubscription
}

// PushListener implements the eth_subscribe-based streaming strategy: one
// logical subscription per (contract, topic0), reloaded on a timer, with
// exponential backoff reconnect on transport error.
type PushListener struct {
	chainID   int64
	transport Transport
	contracts ContractSource
	sink      Sink
	cfg       PushConfig
	logger    *zap.Logger
	clock     Clock

	state  atomic.Value // State
	cursor atomic.Uint64

	callCount atomic.Int64

	mu   sync.Mutex
	subs []activeSub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPushListener constructs a push listener. Its cursor starts at zero; a
// caller may seed it with SetCursor, and it advances to the highest block of
// each dispatched log. The cursor is tracked for status reporting and
// strategy-switch handoff but is not consulted by the push algorithm itself,
// which only ever processes newly arriving logs.
func NewPushListener(chainID int64, transport Transport, contracts ContractSource, sink Sink, cfg PushConfig, logger *zap.Logger) *PushListener {
	l := &PushListener{
		chainID:   chainID,
		transport: transport,
		contracts: contracts,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		clock:     RealClock,
	}
	l.state.Store(StateStopped)
	return l
}

func (l *PushListener) Strategy() string { return "push" }

func (l *PushListener) State() State { return l.state.Load().(State) }

func (l *PushListener) Cursor() uint64 { return l.cursor.Load() }

func (l *PushListener) SetCursor(block uint64) { l.cursor.Store(block) }

// Start builds the initial subscription set and begins streaming.
func (l *PushListener) Start(ctx context.Context) error {
	if l.State() == StateRunning {
		l.logger.Warn("push listener already running, ignoring start", zap.Int64("chain_id", l.chainID))
		return nil
	}
	l.state.Store(StateStarting)

	if !l.transport.HasStream() {
		l.state.Store(StateFailed)
		return chainerr.New(chainerr.KindStrategyUnavailable, l.chainID, chainerr.ErrStrategyUnavailable)
	}

	if err := l.resubscribeAll(ctx); err != nil {
		l.state.Store(StateFailed)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state.Store(StateRunning)

	go l.run(runCtx)
	go l.reportRateLimit(runCtx)
	return nil
}

// Stop unsubscribes every active subscription and stops the run loop.
func (l *PushListener) Stop(ctx context.Context) error {
	if l.State() == StateStopped {
		l.logger.Warn("push listener already stopped, ignoring stop", zap.Int64("chain_id", l.chainID))
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.unsubscribeAll()
	l.state.Store(StateStopped)
	return nil
}

func (l *PushListener) resubscribeAll(ctx context.Context) error {
	watches, err := l.contracts.EnabledContracts(ctx, l.chainID)
	if err != nil {
		return err
	}
	l.unsubscribeAll()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, watch := range watches {
		for _, topic0 := range watch.Topics {
			sub, err := l.transport.SubscribeLogs(ctx, watch.Address, topic0)
			l.callCount.Add(1)
			if err != nil {
				return err
			}
			l.subs = append(l.subs, activeSub{watch: watch, topic0: topic0, sub: sub})
		}
	}
	return nil
}

func (l *PushListener) unsubscribeAll() {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, s := range subs {
		s.sub.Unsubscribe()
	}
}

// run fans every active subscription's log/err channels into a single
// select loop, reconnecting with exponential backoff on transport error and
// reloading the contract set on its own timer.
func (l *PushListener) run(ctx context.Context) {
	defer close(l.done)

	refresh := time.NewTicker(l.cfg.ContractRefreshInterval)
	defer refresh.Stop()

	errCh := make(chan error, 1)
	go l.pump(ctx, errCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := l.resubscribeAll(ctx); err != nil {
				l.logger.Warn("contract refresh failed, retrying next tick", zap.Error(err))
				continue
			}
			go l.pump(ctx, errCh)
		case err := <-errCh:
			if err == nil {
				continue
			}
			if !l.reconnectWithBackoff(ctx) {
				l.state.Store(StateFailed)
				l.logger.Error("push listener exhausted reconnect attempts, stopping",
					zap.Int64("chain_id", l.chainID))
				return
			}
			go l.pump(ctx, errCh)
		}
	}
}

// pump reads every active subscription concurrently and dispatches decoded
// events in arrival order per subscription. A single subscription error
// ends the pump and is reported on errCh to trigger reconnect.
func (l *PushListener) pump(ctx context.Context, errCh chan<- error) {
	l.mu.Lock()
	subs := append([]activeSub{}, l.subs...)
	l.mu.Unlock()

	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()

	var wg sync.WaitGroup
	localErr := make(chan error, len(subs)+1)

	for _, s := range subs {
		wg.Add(1)
		go func(s activeSub) {
			defer wg.Done()
			for {
				select {
				case <-pumpCtx.Done():
					return
				case lg, ok := <-s.sub.Logs():
					if !ok {
						return
					}
					ts, err := l.transport.BlockTimestamp(ctx, lg.BlockNumber)
					l.callCount.Add(1)
					if err != nil {
						ts = nowMs(l.clock)
					}
					receipt, err := l.transport.TransactionReceipt(ctx, lg.TxHash)
					l.callCount.Add(1)
					if err != nil {
						receipt = Receipt{}
					}
					ev, ok, err := buildEvent(l.chainID, s.watch, lg, ts, receipt)
					if err != nil {
						l.logger.Warn("decode failed, dropping log", zap.Error(err))
						continue
					}
					if !ok {
						continue
					}
					if lg.BlockNumber > l.cursor.Load() {
						l.cursor.Store(lg.BlockNumber)
					}
					if err := l.sink.DispatchEvent(ctx, ev); err != nil {
						localErr <- err
						return
					}
				case err := <-s.sub.Err():
					localErr <- err
					cancelPump()
					return
				}
			}
		}(s)
	}

	wg.Wait()
	select {
	case err := <-localErr:
		select {
		case errCh <- err:
		default:
		}
	default:
	}
}

// reconnectWithBackoff retries resubscribeAll with exponential backoff,
// doubling from InitialBackoff up to MaxBackoff, giving up after
// MaxReconnectAttempts and reporting Exhausted to the caller (false return).
func (l *PushListener) reconnectWithBackoff(ctx context.Context) bool {
	l.state.Store(StateReconnecting)
	backoff := l.cfg.InitialBackoff
	for attempt := 1; attempt <= l.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-l.clock.After(backoff):
		}
		if err := l.resubscribeAll(ctx); err == nil {
			l.state.Store(StateRunning)
			return true
		}
		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
	return false
}

func (l *PushListener) reportRateLimit(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.RateLimitReportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := l.callCount.Swap(0)
			if n > 0 {
				l.logger.Info("listener rpc call rate", zap.Int64("chain_id", l.chainID), zap.Int64("calls", n))
			}
		}
	}
}
