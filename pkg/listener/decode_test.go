package listener

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/model"
)

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func buildTransferWatch() ContractWatch {
	cfg := &model.ContractConfig{Events: []string{"Transfer"}}
	return ContractWatch{
		Address:  common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Name:     "Test Token",
		Symbol:   "TST",
		Type:     "erc20",
		Registry: abi.BuildRegistry(cfg),
		Topics:   []common.Hash{abi.TransferTopic0},
		Metadata: model.ContractMetadata{Decimals: 6, IsStablecoin: true},
	}
}

func TestBuildEvent_DecodesConfiguredTransfer(t *testing.T) {
	watch := buildTransferWatch()
	from := common.HexToAddress("0x0101010101010101010101010101010101010101")
	to := common.HexToAddress("0x0202020202020202020202020202020202020202")

	log := gethtypes.Log{
		Address:     watch.Address,
		Topics:      []common.Hash{abi.TransferTopic0, topicFromAddress(from), topicFromAddress(to)},
		Data:        common.LeftPadBytes([]byte{0x3b, 0x9a, 0xca, 0x00}, 32), // 1_000_000_000
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xdeadbeef"),
		Index:       3,
	}

	ev, ok, err := buildEvent(1, watch, log, 1700000000000, Receipt{GasUsed: 21000, Status: 1})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(1), ev.ChainID)
	assert.Equal(t, uint64(42), ev.BlockNumber)
	assert.Equal(t, uint(3), ev.LogIndex)
	assert.Equal(t, "Transfer", ev.Data.Event.Name)
	assert.Equal(t, watch.Address.Hex(), common.HexToAddress(ev.ContractAddress).Hex())
	assert.Equal(t, from.Hex(), ev.Data.Event.Args["from"])
	assert.Equal(t, to.Hex(), ev.Data.Event.Args["to"])
	assert.Equal(t, uint64(21000), ev.Data.GasUsed)
}

func TestBuildEvent_UnconfiguredTopicIsSkippedNotErrored(t *testing.T) {
	watch := buildTransferWatch()
	log := gethtypes.Log{
		Address: watch.Address,
		Topics:  []common.Hash{abi.ApprovalTopic0},
	}
	ev, ok, err := buildEvent(1, watch, log, 0, Receipt{})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestBuildEvent_DecodeFailureIsReportedAsError(t *testing.T) {
	watch := buildTransferWatch()
	log := gethtypes.Log{
		Address: watch.Address,
		Topics:  []common.Hash{abi.TransferTopic0}, // missing indexed from/to
	}
	ev, ok, err := buildEvent(1, watch, log, 0, Receipt{})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestBuildEvent_NoTopicsIsSkipped(t *testing.T) {
	watch := buildTransferWatch()
	ev, ok, err := buildEvent(1, watch, gethtypes.Log{}, 0, Receipt{})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestNowMs_UsesClockNow(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := nowMs(fixedClock{now: fixed})
	assert.Equal(t, fixed.UnixMilli(), got)
}
