// Package listener implements the push and pull log-ingestion strategies.
// Both strategies drive the same Transport interface so they can be swapped
// under a running chain without either implementation knowing about the
// other, following the start/stop/status lifecycle ChainInstance used before
// this rework (context + cancelFunc + WaitGroup + graceful-stop-with-timeout).
package listener

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/model"
)

// AbiRegistry is the topic-0 lookup table for one contract's configured
// events, built once per reload by BuildContractWatch.
type AbiRegistry = abi.Registry

// State is one node of the listener state machine:
// Stopped -> Starting -> Running -> Reconnecting -> Running | Stopped | Failed.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// LogSubscription is a live push subscription for one (contract, topic0)
// pair. Implementations wrap go-ethereum's rpc.ClientSubscription.
type LogSubscription interface {
	Logs() <-chan types.Log
	Err() <-chan error
	Unsubscribe()
}

// Receipt carries the fields a decoded event needs from a transaction
// receipt. The pull listener resolves it once per transaction within a scan
// and reuses it across that transaction's logs; the push listener resolves
// it for every log.
type Receipt struct {
	GasUsed uint64
	Status  uint64
}

// Transport is everything a listener needs from the chain, independent of
// push vs pull. An adapter implements this once; both listener strategies
// consume it.
type Transport interface {
	// LatestBlock returns the chain head. Fails with TransportUnavailable
	// wrapped errors when no request transport is connected.
	LatestBlock(ctx context.Context) (uint64, error)

	// FilterLogs runs a bounded eth_getLogs query for one contract/topic0.
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]types.Log, error)

	// BlockTimestamp resolves a block's timestamp in milliseconds, or 0 if
	// the block cannot be resolved.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)

	// TransactionReceipt resolves gasUsed/status for a transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (Receipt, error)

	// HasStream reports whether this transport can serve SubscribeLogs,
	// i.e. whether a streaming connection is live.
	HasStream() bool

	// SubscribeLogs opens one logical push subscription for a
	// (contract, topic0) pair. Only valid when HasStream() is true.
	SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash) (LogSubscription, error)
}

// ContractSource resolves the enabled contracts a listener should watch for
// one chain, refreshed on a timer rather than held as a static list.
type ContractSource interface {
	EnabledContracts(ctx context.Context, chainID int64) ([]ContractWatch, error)
}

// ContractWatch is one monitored contract, carrying everything the decode
// step needs so a listener never has to look ABI metadata back up mid-scan.
type ContractWatch struct {
	Address  common.Address
	Name     string
	Symbol   string
	Type     string
	Registry *AbiRegistry
	Topics   []common.Hash // one entry per configured event's topic-0
	Metadata model.ContractMetadata
}

// Sink receives fully decoded, ordered events and owns persistence/dispatch.
// Implementations must not block indefinitely; the dispatcher's own
// EnqueueTimeout bounds DispatchEvent.
type Sink interface {
	DispatchEvent(ctx context.Context, ev *model.BlockchainEvent) error
}

// Listener is the common lifecycle surface both strategies implement.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
	Cursor() uint64
	SetCursor(block uint64)
	Strategy() string
}

// Clock abstracts time.Now/time.After for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the production Clock implementation.
var RealClock Clock = realClock{}
