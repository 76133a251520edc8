package listener

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/chainerr"
)

// PullConfig holds the batching/backoff knobs for a PullListener, mirroring
// the *_BATCH_SIZE/*_BATCH_DELAY_MS/*_RPC_URL environment-driven defaults.
type PullConfig struct {
	ScanInterval           time.Duration
	BlocksPerScan          uint64
	ContractBatchSize      int
	ContractBatchDelay     time.Duration
	EventBatchSize         int
	EventBatchDelay        time.Duration
	BlockBatchSize         int
	BlockBatchDelay        time.Duration
	ContractRefreshInterval time.Duration
	RateLimitReportEvery   time.Duration
}

// DefaultPullConfig matches the spec's stated batching defaults.
func DefaultPullConfig() PullConfig {
	return PullConfig{
		ScanInterval:            5 * time.Second,
		BlocksPerScan:           50,
		ContractBatchSize:       3,
		ContractBatchDelay:      500 * time.Millisecond,
		EventBatchSize:          2,
		EventBatchDelay:         300 * time.Millisecond,
		BlockBatchSize:          5,
		BlockBatchDelay:         200 * time.Millisecond,
		ContractRefreshInterval: 30 * time.Second,
		RateLimitReportEvery:    10 * time.Second,
	}
}

type scannedLog struct {
	watch ContractWatch
	log   gethtypes.Log
}

// PullListener implements the ranged eth_getLogs scan strategy.
type PullListener struct {
	chainID   int64
	transport Transport
	contracts ContractSource
	sink      Sink
	cfg       PullConfig
	logger    *zap.Logger
	clock     Clock

	state  atomic.Value // State
	cursor atomic.Uint64

	watches   []ContractWatch
	callCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPullListener constructs a pull listener seeded at startCursor (the last
// fully-processed block; scanning resumes at startCursor+1).
func NewPullListener(chainID int64, transport Transport, contracts ContractSource, sink Sink, cfg PullConfig, startCursor uint64, logger *zap.Logger) *PullListener {
	l := &PullListener{
		chainID:   chainID,
		transport: transport,
		contracts: contracts,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		clock:     RealClock,
	}
	l.state.Store(StateStopped)
	l.cursor.Store(startCursor)
	return l
}

func (l *PullListener) Strategy() string { return "pull" }

func (l *PullListener) State() State { return l.state.Load().(State) }

func (l *PullListener) Cursor() uint64 { return l.cursor.Load() }

func (l *PullListener) SetCursor(block uint64) { l.cursor.Store(block) }

// Start begins the scan loop. Starting an already-Running listener is a
// no-op warning, matching the idempotency rule in the state machine.
func (l *PullListener) Start(ctx context.Context) error {
	if l.State() == StateRunning {
		l.logger.Warn("pull listener already running, ignoring start", zap.Int64("chain_id", l.chainID))
		return nil
	}
	l.state.Store(StateStarting)

	watches, err := l.contracts.EnabledContracts(ctx, l.chainID)
	if err != nil {
		l.state.Store(StateFailed)
		return err
	}
	l.watches = watches

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state.Store(StateRunning)

	go l.run(runCtx)
	go l.reportRateLimit(runCtx)
	return nil
}

// Stop signals the scan loop to exit after its current tick and waits for
// it to finish. Stopping an already-Stopped listener is a no-op warning.
func (l *PullListener) Stop(ctx context.Context) error {
	if l.State() == StateStopped {
		l.logger.Warn("pull listener already stopped, ignoring stop", zap.Int64("chain_id", l.chainID))
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
	l.state.Store(StateStopped)
	return nil
}

func (l *PullListener) run(ctx context.Context) {
	defer close(l.done)

	refresh := time.NewTicker(l.cfg.ContractRefreshInterval)
	defer refresh.Stop()
	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			watches, err := l.contracts.EnabledContracts(ctx, l.chainID)
			if err != nil {
				l.logger.Warn("contract refresh failed, retrying next tick", zap.Error(err))
				continue
			}
			l.watches = watches
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				l.logger.Error("pull scan tick failed", zap.Int64("chain_id", l.chainID), zap.Error(err))
			}
		}
	}
}

// tick runs one scan iteration of the pull algorithm. The cursor only
// advances once the full [from,to] range has been fully processed and
// enqueued; any transport-level failure leaves it untouched so the same
// range is retried on the next tick.
func (l *PullListener) tick(ctx context.Context) error {
	head, err := l.transport.LatestBlock(ctx)
	l.callCount.Add(1)
	if err != nil {
		return chainerr.New(chainerr.KindTransientRPC, l.chainID, err)
	}

	cursor := l.cursor.Load()
	if head <= cursor {
		return nil
	}
	from := cursor + 1
	to := head
	if to > from+l.cfg.BlocksPerScan-1 {
		to = from + l.cfg.BlocksPerScan - 1
	}

	logs := l.scanRange(ctx, from, to)
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].log.BlockNumber != logs[j].log.BlockNumber {
			return logs[i].log.BlockNumber < logs[j].log.BlockNumber
		}
		return logs[i].log.Index < logs[j].log.Index
	})

	if err := l.enqueueSorted(ctx, logs, to); err != nil {
		return err
	}

	if ctx.Err() != nil {
		// Stop was requested mid-range; do not advance the cursor past a
		// range we may not have fully drained.
		return nil
	}
	l.cursor.Store(to)
	return nil
}

// scanRange batches contracts and events per the configured batch
// size/delay, tolerating per-(contract,event) failures by logging and
// skipping rather than aborting the whole tick.
func (l *PullListener) scanRange(ctx context.Context, from, to uint64) []scannedLog {
	var results []scannedLog

	watches := l.watches
	for i := 0; i < len(watches); i += l.cfg.ContractBatchSize {
		end := min(i+l.cfg.ContractBatchSize, len(watches))
		batch := watches[i:end]
		for _, watch := range batch {
			results = append(results, l.scanContract(ctx, watch, from, to)...)
		}
		if end < len(watches) {
			select {
			case <-ctx.Done():
				return results
			case <-l.clock.After(l.cfg.ContractBatchDelay):
			}
		}
	}
	return results
}

func (l *PullListener) scanContract(ctx context.Context, watch ContractWatch, from, to uint64) []scannedLog {
	var results []scannedLog
	topics := watch.Topics
	for i := 0; i < len(topics); i += l.cfg.EventBatchSize {
		end := min(i+l.cfg.EventBatchSize, len(topics))
		batch := topics[i:end]
		for _, topic0 := range batch {
			l.callCount.Add(1)
			logs, err := l.transport.FilterLogs(ctx, from, to, watch.Address, topic0)
			if err != nil {
				l.logger.Warn("filter logs failed, skipping contract/event for this tick",
					zap.Int64("chain_id", l.chainID),
					zap.String("contract", watch.Address.Hex()),
					zap.String("topic0", topic0.Hex()),
					zap.Error(err))
				continue
			}
			for _, lg := range logs {
				results = append(results, scannedLog{watch: watch, log: lg})
			}
		}
		if end < len(topics) {
			select {
			case <-ctx.Done():
				return results
			case <-l.clock.After(l.cfg.EventBatchDelay):
			}
		}
	}
	return results
}

// enqueueSorted resolves block timestamps and transaction receipts in
// batches, decodes each log, and dispatches in the already-sorted order.
// to is the range's drained-to block, stamped onto every dispatched event so
// a handler can advance persisted progress through the whole scanned range
// rather than only as far as the last event it happened to see.
func (l *PullListener) enqueueSorted(ctx context.Context, logs []scannedLog, to uint64) error {
	timestamps := l.resolveTimestamps(ctx, logs)
	receipts := make(map[string]Receipt)

	for _, sl := range logs {
		if ctx.Err() != nil {
			return nil
		}
		txKey := sl.log.TxHash.Hex()
		receipt, ok := receipts[txKey]
		if !ok {
			l.callCount.Add(1)
			r, err := l.transport.TransactionReceipt(ctx, sl.log.TxHash)
			if err != nil {
				l.logger.Warn("transaction receipt fetch failed", zap.String("tx", txKey), zap.Error(err))
			} else {
				receipt = r
			}
			receipts[txKey] = receipt
		}

		ev, ok, err := buildEvent(l.chainID, sl.watch, sl.log, timestamps[sl.log.BlockNumber], receipt)
		if err != nil {
			l.logger.Warn("decode failed, dropping log", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		ev.ScanHeadBlock = to
		if err := l.sink.DispatchEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (l *PullListener) resolveTimestamps(ctx context.Context, logs []scannedLog) map[uint64]int64 {
	blocks := make(map[uint64]bool)
	for _, sl := range logs {
		blocks[sl.log.BlockNumber] = true
	}
	unique := make([]uint64, 0, len(blocks))
	for b := range blocks {
		unique = append(unique, b)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	out := make(map[uint64]int64, len(unique))
	for i := 0; i < len(unique); i += l.cfg.BlockBatchSize {
		end := min(i+l.cfg.BlockBatchSize, len(unique))
		for _, b := range unique[i:end] {
			l.callCount.Add(1)
			ts, err := l.transport.BlockTimestamp(ctx, b)
			if err != nil {
				l.logger.Warn("block timestamp fetch failed, defaulting to 0", zap.Uint64("block", b), zap.Error(err))
				out[b] = 0
				continue
			}
			out[b] = ts
		}
		if end < len(unique) {
			select {
			case <-ctx.Done():
				return out
			case <-l.clock.After(l.cfg.BlockBatchDelay):
			}
		}
	}
	return out
}

// reportRateLimit logs and resets the per-listener outbound-call counter
// every RateLimitReportEvery, independent of the scan loop's own timer.
func (l *PullListener) reportRateLimit(ctx context.Context) {
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

