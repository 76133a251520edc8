package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
)

func openTestPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenPebbleStore(PebbleOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPebbleStore_ChainConfigRoundTrip(t *testing.T) {
	s := openTestPebbleStore(t)
	ctx := context.Background()

	_, err := s.ChainConfig(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutChainConfig(ctx, &model.ChainConfig{ChainID: 1, Name: "ethereum", Enabled: false}))

	got, err := s.ChainConfig(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", got.Name)

	require.NoError(t, s.SetChainEnabled(ctx, 1, true))
	got, err = s.ChainConfig(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestPebbleStore_ContractConfigScopedByChainAndNormalized(t *testing.T) {
	s := openTestPebbleStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContractConfig(ctx, &model.ContractConfig{ChainID: 1, Address: "0xABCDEF0000000000000000000000000000000001", Symbol: "AAA"}))
	require.NoError(t, s.PutContractConfig(ctx, &model.ContractConfig{ChainID: 2, Address: "0x01", Symbol: "BBB"}))

	chain1, err := s.ContractConfigs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, chain1, 1)

	cfg, err := s.ContractConfig(ctx, 1, "0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "AAA", cfg.Symbol)
}

func TestPebbleStore_ContractsBySymbolAndSetEnabled(t *testing.T) {
	s := openTestPebbleStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContractConfig(ctx, &model.ContractConfig{ChainID: 1, Address: "0x01", Symbol: "USDC", Enabled: false}))
	require.NoError(t, s.PutContractConfig(ctx, &model.ContractConfig{ChainID: 2, Address: "0x02", Symbol: "usdc", Enabled: false}))

	matches, err := s.ContractsBySymbol(ctx, "UsDc")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	require.NoError(t, s.SetContractEnabledBySymbol(ctx, "usdc", true))
	cfg, err := s.ContractConfig(ctx, 1, "0x01")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	err = s.SetContractEnabledBySymbol(ctx, "nonexistent", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleStore_InsertEventRejectsDuplicateAndWritesIndexes(t *testing.T) {
	s := openTestPebbleStore(t)
	ctx := context.Background()

	ev := &model.BlockchainEvent{ChainID: 1, TransactionHash: "0xtx1", LogIndex: 0, BlockNumber: 10, ContractAddress: "0xabc", EventType: model.EventTypeContractLog}
	require.NoError(t, s.InsertEvent(ctx, ev))

	exists, err := s.HasEvent(ctx, 1, "0xtx1", 0)
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.InsertEvent(ctx, ev)
	assert.True(t, errors.Is(err, chainerr.ErrDuplicateEvent))
}

func TestPebbleStore_ContractDataUpsert(t *testing.T) {
	s := openTestPebbleStore(t)
	ctx := context.Background()

	_, err := s.ContractData(ctx, 1, "0x01")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertContractData(ctx, &model.ContractData{ChainID: 1, ContractAddress: "0x01", LastProcessedBlock: 5}))
	data, err := s.ContractData(ctx, 1, "0x01")
	require.NoError(t, err)
	assert.EqualValues(t, 5, data.LastProcessedBlock)

	require.NoError(t, s.UpsertContractData(ctx, &model.ContractData{ChainID: 1, ContractAddress: "0X01", LastProcessedBlock: 8}))
	data, err = s.ContractData(ctx, 1, "0x01")
	require.NoError(t, err)
	assert.EqualValues(t, 8, data.LastProcessedBlock)
}

func TestPebbleStore_PebbleOptionsDefaults(t *testing.T) {
	opts := PebbleOptions{Dir: t.TempDir()}.withDefaults()
	assert.Greater(t, opts.CacheMB, 0)
	assert.Greater(t, opts.WriteBufferMB, 0)
	assert.Greater(t, opts.MaxOpenFiles, 0)
}
