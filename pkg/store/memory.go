package store

import (
	"context"
	"strings"
	"sync"

	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
)

// MemoryStore is an in-memory ConfigStore and EventStore, used in tests and
// as the "memory" store backend for local/dev runs without a Pebble data
// directory.
type MemoryStore struct {
	mu sync.RWMutex

	chains    map[int64]*model.ChainConfig
	contracts map[string]*model.ContractConfig // key: ContractKey(chainId, address)

	events        map[string]*model.BlockchainEvent // key: EventKey
	contractData  map[string]*model.ContractData    // key: ContractKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:       make(map[int64]*model.ChainConfig),
		contracts:    make(map[string]*model.ContractConfig),
		events:       make(map[string]*model.BlockchainEvent),
		contractData: make(map[string]*model.ContractData),
	}
}

// SeedChain registers a chain config, for tests and local bootstrap.
func (m *MemoryStore) SeedChain(cfg *model.ChainConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[cfg.ChainID] = cfg
}

// SeedContract registers a contract config, for tests and local bootstrap.
func (m *MemoryStore) SeedContract(cfg *model.ContractConfig) {
	cfg.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[cfg.Key()] = cfg
}

func (m *MemoryStore) ChainConfigs(ctx context.Context) ([]*model.ChainConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ChainConfig, 0, len(m.chains))
	for _, c := range m.chains {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[chainID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ContractConfigs(ctx context.Context, chainID int64) ([]*model.ContractConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ContractConfig
	for _, c := range m.contracts {
		if c.ChainID == chainID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ContractConfig(ctx context.Context, chainID int64, address string) (*model.ContractConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[model.ContractKey(chainID, address)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ContractsBySymbol(ctx context.Context, symbol string) ([]*model.ContractConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ContractConfig
	for _, c := range m.contracts {
		if strings.EqualFold(c.Symbol, symbol) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetChainEnabled(ctx context.Context, chainID int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[chainID]
	if !ok {
		return ErrNotFound
	}
	c.Enabled = enabled
	return nil
}

func (m *MemoryStore) SetContractEnabledBySymbol(ctx context.Context, symbol string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, c := range m.contracts {
		if strings.EqualFold(c.Symbol, symbol) {
			c.Enabled = enabled
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev *model.BlockchainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ev.Key()
	if _, exists := m.events[key]; exists {
		return chainerr.ErrDuplicateEvent
	}
	cp := *ev
	m.events[key] = &cp
	return nil
}

func (m *MemoryStore) HasEvent(ctx context.Context, chainID int64, txHash string, logIndex uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[model.EventKey(chainID, txHash, logIndex)]
	return ok, nil
}

func (m *MemoryStore) ContractData(ctx context.Context, chainID int64, address string) (*model.ContractData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.contractData[model.ContractKey(chainID, address)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpsertContractData(ctx context.Context, data *model.ContractData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *data
	m.contractData[data.Key()] = &cp
	return nil
}

// EventCount returns the number of persisted events, for tests.
func (m *MemoryStore) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
