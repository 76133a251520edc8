// Package store declares the external configuration store and event store
// collaborators the ingestion core depends on (see spec §6: both are
// out-of-scope persistence layers with a specified interface boundary), plus
// a Pebble-backed reference implementation and an in-memory test double.
package store

import (
	"context"
	"errors"

	"github.com/chainsift/indexer/pkg/model"
)

// ErrNotFound is returned when a lookup by identity finds nothing, mirroring
// pkg/storage.ErrNotFound from the archival storage layer this was grounded on.
var ErrNotFound = errors.New("not found")

// ConfigStore is the read side of the chain_configs and contract_configs
// collections (spec §6). The ingestion core only reads it; the operator API
// flips Enabled flags through SetChainEnabled/SetContractEnabledBySymbol, and
// other chain/contract rows are written by operator tooling and seeders.
type ConfigStore interface {
	// ChainConfigs returns every configured chain, enabled or not.
	ChainConfigs(ctx context.Context) ([]*model.ChainConfig, error)
	// ChainConfig returns a single chain by id, or ErrNotFound.
	ChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error)
	// ContractConfigs returns every contract configured for a chain. Callers
	// filter for Enabled themselves, matching the listener's reload contract.
	ContractConfigs(ctx context.Context, chainID int64) ([]*model.ContractConfig, error)
	// ContractConfig returns a single contract by (chainId, address), or ErrNotFound.
	ContractConfig(ctx context.Context, chainID int64, address string) (*model.ContractConfig, error)
	// ContractsBySymbol returns every contract across all chains with the given symbol.
	ContractsBySymbol(ctx context.Context, symbol string) ([]*model.ContractConfig, error)
	// SetChainEnabled flips a chain's Enabled flag.
	SetChainEnabled(ctx context.Context, chainID int64, enabled bool) error
	// SetContractEnabledBySymbol flips Enabled on every contract matching symbol.
	SetContractEnabledBySymbol(ctx context.Context, symbol string, enabled bool) error
}

// EventStore is the append-mostly sink for decoded BlockchainEvent records
// and the per-contract runtime cache a handler maintains alongside them.
type EventStore interface {
	// InsertEvent appends ev, enforcing the unique index on
	// (chainId, transactionHash, logIndex). A duplicate insert returns
	// ErrDuplicateEvent-compatible error (see pkg/chainerr) and is non-fatal.
	InsertEvent(ctx context.Context, ev *model.BlockchainEvent) error
	// HasEvent reports whether (chainId, txHash, logIndex) is already stored.
	HasEvent(ctx context.Context, chainID int64, txHash string, logIndex uint) (bool, error)
	// ContractData returns the cached runtime facts for a contract, or ErrNotFound.
	ContractData(ctx context.Context, chainID int64, address string) (*model.ContractData, error)
	// UpsertContractData creates or replaces the cached row for its identity.
	UpsertContractData(ctx context.Context, data *model.ContractData) error
}
