package store

import (
	"context"
	"errors"
	"testing"

	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ChainConfigNotFound(t *testing.T) {
	ms := NewMemoryStore()
	_, err := ms.ChainConfig(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ChainConfigsReturnsIsolatedCopies(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedChain(&model.ChainConfig{ChainID: 1, Name: "ethereum"})

	configs, err := ms.ChainConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	configs[0].Name = "mutated"

	fresh, err := ms.ChainConfig(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", fresh.Name, "mutating a returned copy must not affect the store")
}

func TestMemoryStore_SetChainEnabled(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedChain(&model.ChainConfig{ChainID: 1, Enabled: false})

	require.NoError(t, ms.SetChainEnabled(context.Background(), 1, true))
	cfg, err := ms.ChainConfig(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	err = ms.SetChainEnabled(context.Background(), 99, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SeedContractNormalizesAddress(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedContract(&model.ContractConfig{ChainID: 1, Address: "0xABCDEF0000000000000000000000000000000001"})

	cfg, err := ms.ContractConfig(context.Background(), 1, "0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", cfg.Address)
}

func TestMemoryStore_ContractsBySymbolIsCaseInsensitive(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedContract(&model.ContractConfig{ChainID: 1, Address: "0x01", Symbol: "USDC"})
	ms.SeedContract(&model.ContractConfig{ChainID: 2, Address: "0x02", Symbol: "usdc"})
	ms.SeedContract(&model.ContractConfig{ChainID: 3, Address: "0x03", Symbol: "DAI"})

	matches, err := ms.ContractsBySymbol(context.Background(), "UsDc")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryStore_SetContractEnabledBySymbolFlipsAllMatches(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedContract(&model.ContractConfig{ChainID: 1, Address: "0x01", Symbol: "USDC", Enabled: false})
	ms.SeedContract(&model.ContractConfig{ChainID: 2, Address: "0x02", Symbol: "USDC", Enabled: false})

	require.NoError(t, ms.SetContractEnabledBySymbol(context.Background(), "usdc", true))

	c1, err := ms.ContractConfig(context.Background(), 1, "0x01")
	require.NoError(t, err)
	assert.True(t, c1.Enabled)
	c2, err := ms.ContractConfig(context.Background(), 2, "0x02")
	require.NoError(t, err)
	assert.True(t, c2.Enabled)

	err = ms.SetContractEnabledBySymbol(context.Background(), "nonexistent", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InsertEventRejectsDuplicateKey(t *testing.T) {
	ms := NewMemoryStore()
	ev := &model.BlockchainEvent{ChainID: 1, TransactionHash: "0xtx1", LogIndex: 0}

	require.NoError(t, ms.InsertEvent(context.Background(), ev))
	err := ms.InsertEvent(context.Background(), ev)
	assert.True(t, errors.Is(err, chainerr.ErrDuplicateEvent))
	assert.Equal(t, 1, ms.EventCount())
}

func TestMemoryStore_HasEvent(t *testing.T) {
	ms := NewMemoryStore()
	exists, err := ms.HasEvent(context.Background(), 1, "0xtx1", 0)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, ms.InsertEvent(context.Background(), &model.BlockchainEvent{ChainID: 1, TransactionHash: "0xtx1", LogIndex: 0}))

	exists, err = ms.HasEvent(context.Background(), 1, "0xtx1", 0)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryStore_UpsertContractDataCreatesThenReplaces(t *testing.T) {
	ms := NewMemoryStore()
	_, err := ms.ContractData(context.Background(), 1, "0x01")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ms.UpsertContractData(context.Background(), &model.ContractData{
		ChainID: 1, ContractAddress: "0x01", LastProcessedBlock: 10,
	}))
	data, err := ms.ContractData(context.Background(), 1, "0x01")
	require.NoError(t, err)
	assert.EqualValues(t, 10, data.LastProcessedBlock)

	require.NoError(t, ms.UpsertContractData(context.Background(), &model.ContractData{
		ChainID: 1, ContractAddress: "0x01", LastProcessedBlock: 20,
	}))
	data, err = ms.ContractData(context.Background(), 1, "0x01")
	require.NoError(t, err)
	assert.EqualValues(t, 20, data.LastProcessedBlock)
}
