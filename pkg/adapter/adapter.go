// Package adapter implements the chain-connection side of the ingestion
// core: chain-id verification, request/response and streaming transport
// ownership, and listener construction, following the same wrap-ethclient
// shape the generic EVM adapter used before this rework (client.go's
// rpc.DialContext + ethclient.NewClient pairing, now folded in here since
// the Adapter interface only needs a narrow slice of it).
package adapter

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/dispatcher"
	"github.com/chainsift/indexer/pkg/listener"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
)

// DefaultDialTimeout bounds Connect. LatestBlock, FilterLogs,
// BlockTimestamp, TransactionReceipt and SubscribeLogs apply no timeout of
// their own; they are bounded only by the context the caller passes in.
const DefaultDialTimeout = 10 * time.Second

// Adapter owns one chain's RPC and (optional) stream connections and mints
// listeners against them. A single Adapter is shared by at most one running
// Listener at a time; switchStrategy stops the old listener before a new
// one is built from the same Adapter.
type Adapter struct {
	cfg    *model.ChainConfig
	logger *zap.Logger

	rpcClient    *rpc.Client
	ethClient    *ethclient.Client
	streamClient *rpc.Client

	limiter *rate.Limiter
}

// Option configures rate limiting for outbound calls. Unset means
// unlimited, matching a chain with no configured ceiling.
type Option func(*Adapter)

// WithRateLimit caps outbound RPC calls to ratePerSecond with the given
// burst allowance.
func WithRateLimit(ratePerSecond float64, burst int) Option {
	return func(a *Adapter) {
		a.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
}

// New constructs an unconnected Adapter for cfg.
func New(cfg *model.ChainConfig, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect dials the chain's RPC endpoint (and stream endpoint, if
// configured) and verifies the live chain id matches cfg.ChainID. A mismatch
// is fatal for this chain and is never retried by the caller.
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, a.cfg.RPCURL)
	if err != nil {
		return chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, fmt.Errorf("dial rpc: %w", err))
	}
	a.rpcClient = rpcClient
	a.ethClient = ethclient.NewClient(rpcClient)

	liveID, err := a.ethClient.ChainID(ctx)
	if err != nil {
		a.disconnectLocked()
		return chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, fmt.Errorf("fetch chain id: %w", err))
	}
	if liveID.Cmp(big.NewInt(a.cfg.ChainID)) != 0 {
		a.disconnectLocked()
		return chainerr.New(chainerr.KindConfigMismatch, a.cfg.ChainID,
			fmt.Errorf("configured chain id %d, node reports %s", a.cfg.ChainID, liveID.String()))
	}

	if a.cfg.StreamURL != "" {
		streamClient, err := rpc.DialContext(ctx, a.cfg.StreamURL)
		if err != nil {
			a.logger.Warn("stream endpoint dial failed, push strategy unavailable",
				zap.Int64("chain_id", a.cfg.ChainID), zap.Error(err))
		} else {
			a.streamClient = streamClient
		}
	}

	a.logger.Info("adapter connected", zap.Int64("chain_id", a.cfg.ChainID), zap.String("name", a.cfg.Name))
	return nil
}

// Disconnect releases both connections. Safe to call on an unconnected or
// already-disconnected Adapter.
func (a *Adapter) Disconnect() error {
	a.disconnectLocked()
	return nil
}

func (a *Adapter) disconnectLocked() {
	if a.streamClient != nil {
		a.streamClient.Close()
		a.streamClient = nil
	}
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
	a.ethClient = nil
}

// LatestBlock returns the chain head. Fails with TransportUnavailable when
// no request transport is connected.
func (a *Adapter) LatestBlock(ctx context.Context) (uint64, error) {
	if a.ethClient == nil {
		return 0, chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, chainerr.ErrTransportUnavailable)
	}
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	n, err := a.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return n, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return nil
}

// FilterLogs runs a bounded eth_getLogs query for one contract/topic0.
func (a *Adapter) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]gethtypes.Log, error) {
	if a.ethClient == nil {
		return nil, chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, chainerr.ErrTransportUnavailable)
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic0}},
	}
	logs, err := a.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return logs, nil
}

// BlockTimestamp resolves a block's timestamp in milliseconds, or 0 if the
// block cannot be resolved.
func (a *Adapter) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	if a.ethClient == nil {
		return 0, chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, chainerr.ErrTransportUnavailable)
	}
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	header, err := a.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return int64(header.Time) * 1000, nil
}

// TransactionReceipt resolves gasUsed/status for a transaction.
func (a *Adapter) TransactionReceipt(ctx context.Context, txHash common.Hash) (listener.Receipt, error) {
	if a.ethClient == nil {
		return listener.Receipt{}, chainerr.New(chainerr.KindTransportUnavailable, a.cfg.ChainID, chainerr.ErrTransportUnavailable)
	}
	if err := a.wait(ctx); err != nil {
		return listener.Receipt{}, err
	}
	receipt, err := a.ethClient.TransactionReceipt(ctx, txHash)
	if err != nil {
		return listener.Receipt{}, chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return listener.Receipt{GasUsed: receipt.GasUsed, Status: receipt.Status}, nil
}

// HasStream reports whether a live streaming connection is available.
func (a *Adapter) HasStream() bool {
	return a.streamClient != nil
}

// SubscribeLogs opens one eth_subscribe("logs", ...) subscription for a
// (contract, topic0) pair.
func (a *Adapter) SubscribeLogs(ctx context.Context, address common.Address, topic0 common.Hash) (listener.LogSubscription, error) {
	if a.streamClient == nil {
		return nil, chainerr.New(chainerr.KindStrategyUnavailable, a.cfg.ChainID, chainerr.ErrStrategyUnavailable)
	}
	logs := make(chan gethtypes.Log, 256)
	sub, err := a.streamClient.EthSubscribe(ctx, logs, "logs", map[string]interface{}{
		"address": address,
		"topics":  [][]common.Hash{{topic0}},
	})
	if err != nil {
		return nil, chainerr.New(chainerr.KindTransientRPC, a.cfg.ChainID, err)
	}
	return &subscription{ch: logs, sub: sub}, nil
}

type subscription struct {
	ch  chan gethtypes.Log
	sub *rpc.ClientSubscription
}

func (s *subscription) Logs() <-chan gethtypes.Log { return s.ch }
func (s *subscription) Err() <-chan error           { return s.sub.Err() }
func (s *subscription) Unsubscribe()                { s.sub.Unsubscribe() }

// MakeListener builds a Listener for strategy, wired to contracts (the
// config-store-backed ContractSource) and sink (the dispatcher). hybrid
// prefers push when the stream connection is live, falling back to pull.
// Requesting a strategy with no usable transport fails with
// StrategyUnavailable.
func (a *Adapter) MakeListener(strategy model.Strategy, contracts *ContractSource, sink *dispatcher.Dispatcher, startCursor uint64, pullCfg listener.PullConfig, pushCfg listener.PushConfig) (listener.Listener, error) {
	effective := strategy
	if effective == model.StrategyHybrid {
		if a.HasStream() {
			effective = model.StrategyPush
		} else {
			effective = model.StrategyPull
		}
	}

	switch effective {
	case model.StrategyPull:
		return listener.NewPullListener(a.cfg.ChainID, a, contracts, sink, pullCfg, startCursor, a.logger), nil
	case model.StrategyPush:
		if !a.HasStream() {
			return nil, chainerr.New(chainerr.KindStrategyUnavailable, a.cfg.ChainID, chainerr.ErrStrategyUnavailable)
		}
		pl := listener.NewPushListener(a.cfg.ChainID, a, contracts, sink, pushCfg, a.logger)
		pl.SetCursor(startCursor)
		return pl, nil
	default:
		return nil, chainerr.New(chainerr.KindStrategyUnavailable, a.cfg.ChainID, fmt.Errorf("unknown strategy %q", strategy))
	}
}

// ContractSource adapts a store.ConfigStore into a listener.ContractSource,
// compiling each enabled ContractConfig into a listener.ContractWatch (ABI
// registry + topic-0 list) on every refresh.
type ContractSource struct {
	configs store.ConfigStore
}

// NewContractSource wraps a ConfigStore for listener consumption.
func NewContractSource(configs store.ConfigStore) *ContractSource {
	return &ContractSource{configs: configs}
}

// EnabledContracts implements listener.ContractSource.
func (s *ContractSource) EnabledContracts(ctx context.Context, chainID int64) ([]listener.ContractWatch, error) {
	cfgs, err := s.configs.ContractConfigs(ctx, chainID)
	if err != nil {
		return nil, err
	}
	watches := make([]listener.ContractWatch, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		watches = append(watches, BuildContractWatch(cfg))
	}
	return watches, nil
}
