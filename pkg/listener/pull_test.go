package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/model"
)

type fakeTransport struct {
	mu sync.Mutex

	latestBlock    uint64
	latestBlockErr error

	logsByTopic map[common.Hash][]gethtypes.Log
	filterErr   error

	blockTimestamps map[uint64]int64
	timestampErr    error

	receipt    Receipt
	receiptErr error

	hasStream          bool
	subscribeErr       error
	subscribeFailCount int
	subs               []common.Hash
}

func (f *fakeTransport) LatestBlock(ctx context.Context) (uint64, error) {
	return f.latestBlock, f.latestBlockErr
}

func (f *fakeTransport) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]gethtypes.Log, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	return f.logsByTopic[topic0], nil
}

func (f *fakeTransport) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	if f.timestampErr != nil {
		return 0, f.timestampErr
	}
	return f.blockTimestamps[blockNumber], nil
}

func (f *fakeTransport) TransactionReceipt(ctx context.Context, txHash common.Hash) (Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeTransport) HasStream() bool { return f.hasStream }

func (f *fakeTransport) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash) (LogSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeFailCount > 0 {
		f.subscribeFailCount--
		return nil, errors.New("subscribe temporarily unavailable")
	}
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subs = append(f.subs, topic0)
	return &fakeSubscription{logs: make(chan gethtypes.Log), errs: make(chan error, 1)}, nil
}

type fakeSubscription struct {
	logs         chan gethtypes.Log
	errs         chan error
	unsubscribed bool
}

func (s *fakeSubscription) Logs() <-chan gethtypes.Log { return s.logs }
func (s *fakeSubscription) Err() <-chan error          { return s.errs }
func (s *fakeSubscription) Unsubscribe()               { s.unsubscribed = true }

type fakeSink struct {
	mu     sync.Mutex
	events []*model.BlockchainEvent
}

func (s *fakeSink) DispatchEvent(ctx context.Context, ev *model.BlockchainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) seen() []*model.BlockchainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.BlockchainEvent, len(s.events))
	copy(out, s.events)
	return out
}

func testPullListener(t *testing.T, transport Transport, sink Sink, cursor uint64) *PullListener {
	t.Helper()
	cfg := DefaultPullConfig()
	cfg.ContractBatchDelay = 0
	cfg.EventBatchDelay = 0
	cfg.BlockBatchDelay = 0
	l := NewPullListener(1, transport, nil, sink, cfg, cursor, zap.NewNop())
	l.watches = []ContractWatch{buildTransferWatch()}
	return l
}

func TestPullListener_TickHappyPath(t *testing.T) {
	from := common.HexToAddress("0x0101010101010101010101010101010101010101")
	to := common.HexToAddress("0x0202020202020202020202020202020202020202")
	log := gethtypes.Log{
		Address:     buildTransferWatch().Address,
		Topics:      []common.Hash{buildTransferWatch().Topics[0], topicFromAddress(from), topicFromAddress(to)},
		Data:        common.LeftPadBytes(big.NewInt(250_000_000_000).Bytes(), 32),
		BlockNumber: 95,
		TxHash:      common.HexToHash("0xtx1"),
		Index:       0,
	}

	transport := &fakeTransport{
		latestBlock:     100,
		logsByTopic:     map[common.Hash][]gethtypes.Log{log.Topics[0]: {log}},
		blockTimestamps: map[uint64]int64{95: 1700000000000},
		receipt:         Receipt{GasUsed: 21000, Status: 1},
	}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 89)

	require.NoError(t, l.tick(context.Background()))

	assert.Equal(t, uint64(100), l.Cursor())
	events := sink.seen()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(95), events[0].BlockNumber)
	assert.Equal(t, int64(1700000000000), events[0].TimestampMs)
	assert.Equal(t, uint64(100), events[0].ScanHeadBlock, "event must carry the scanned range's drained-to head")
}

func TestPullListener_HeadBehindCursorIsNoop(t *testing.T) {
	transport := &fakeTransport{latestBlock: 50}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 89)

	require.NoError(t, l.tick(context.Background()))

	assert.Equal(t, uint64(89), l.Cursor())
	assert.Empty(t, sink.seen())
}

func TestPullListener_LatestBlockFailureLeavesCursorUntouched(t *testing.T) {
	transport := &fakeTransport{latestBlockErr: errors.New("rpc down")}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 89)

	err := l.tick(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(89), l.Cursor())
}

func TestPullListener_RangeCappedByBlocksPerScan(t *testing.T) {
	transport := &fakeTransport{latestBlock: 1000}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 0)
	l.cfg.BlocksPerScan = 10

	require.NoError(t, l.tick(context.Background()))

	assert.Equal(t, uint64(10), l.Cursor(), "scan range must cap at BlocksPerScan even with a far-ahead head")
}

func TestPullListener_FilterLogsFailureSkipsContractWithoutAbortingTick(t *testing.T) {
	transport := &fakeTransport{latestBlock: 100, filterErr: errors.New("rate limited")}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 89)

	require.NoError(t, l.tick(context.Background()))

	assert.Equal(t, uint64(100), l.Cursor(), "cursor still advances past a range with no successfully-fetched logs")
	assert.Empty(t, sink.seen())
}

func TestPullListener_ResolveTimestampsDefaultsToZeroOnTransportFailure(t *testing.T) {
	transport := &fakeTransport{timestampErr: errors.New("block not found")}
	sink := &fakeSink{}
	l := testPullListener(t, transport, sink, 0)

	logs := []scannedLog{{watch: buildTransferWatch(), log: gethtypes.Log{BlockNumber: 7}}}
	out := l.resolveTimestamps(context.Background(), logs)

	assert.Equal(t, int64(0), out[7])
}
