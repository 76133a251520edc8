package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/chainsift/indexer/internal/constants"
	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
)

// PebbleOptions configures the on-disk reference store.
type PebbleOptions struct {
	Dir          string
	CacheMB      int
	WriteBufferMB int
	MaxOpenFiles int
	DisableWAL   bool
}

func (o PebbleOptions) withDefaults() PebbleOptions {
	if o.CacheMB <= 0 {
		o.CacheMB = constants.DefaultCacheSize
	}
	if o.WriteBufferMB <= 0 {
		o.WriteBufferMB = constants.DefaultWriteBuffer
	}
	if o.MaxOpenFiles <= 0 {
		o.MaxOpenFiles = constants.DefaultMaxOpenFiles
	}
	return o
}

// PebbleStore is the on-disk ConfigStore/EventStore reference implementation,
// laid out with the key-prefix schema in schema.go.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if absent) a Pebble database at opts.Dir.
func OpenPebbleStore(opts PebbleOptions) (*PebbleStore, error) {
	opts = opts.withDefaults()
	cache := pebble.NewCache(int64(opts.CacheMB) << 20)
	defer cache.Unref()
	db, err := pebble.Open(opts.Dir, &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: opts.MaxOpenFiles,
		MemTableSize: uint64(opts.WriteBufferMB) << 20,
		DisableWAL:   opts.DisableWAL,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %s: %w", opts.Dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) get(key []byte, out interface{}) error {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, out)
}

func (s *PebbleStore) put(key []byte, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Set(key, b, pebble.Sync)
}

func (s *PebbleStore) scanPrefix(prefix string, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the first key lexicographically past every key
// sharing prefix, for a half-open [prefix, upperBound) range scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded above
}

func (s *PebbleStore) ChainConfigs(ctx context.Context) ([]*model.ChainConfig, error) {
	var out []*model.ChainConfig
	err := s.scanPrefix(prefixChainConfig, func(_, value []byte) error {
		var c model.ChainConfig
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

func (s *PebbleStore) ChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	var c model.ChainConfig
	if err := s.get(chainConfigKey(chainID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutChainConfig writes a chain config, for seeders and operator tooling.
func (s *PebbleStore) PutChainConfig(ctx context.Context, c *model.ChainConfig) error {
	return s.put(chainConfigKey(c.ChainID), c)
}

func (s *PebbleStore) ContractConfigs(ctx context.Context, chainID int64) ([]*model.ContractConfig, error) {
	var out []*model.ContractConfig
	err := s.scanPrefix(prefixContractConfig+padInt20(chainID)+"/", func(_, value []byte) error {
		var c model.ContractConfig
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

func (s *PebbleStore) ContractConfig(ctx context.Context, chainID int64, address string) (*model.ContractConfig, error) {
	var c model.ContractConfig
	if err := s.get(contractConfigKey(chainID, strings.ToLower(address)), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutContractConfig writes a contract config, for seeders and operator tooling.
func (s *PebbleStore) PutContractConfig(ctx context.Context, c *model.ContractConfig) error {
	c.Normalize()
	return s.put(contractConfigKey(c.ChainID, c.Address), c)
}

func (s *PebbleStore) ContractsBySymbol(ctx context.Context, symbol string) ([]*model.ContractConfig, error) {
	var out []*model.ContractConfig
	err := s.scanPrefix(prefixContractConfig, func(_, value []byte) error {
		var c model.ContractConfig
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		if strings.EqualFold(c.Symbol, symbol) {
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (s *PebbleStore) SetChainEnabled(ctx context.Context, chainID int64, enabled bool) error {
	c, err := s.ChainConfig(ctx, chainID)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	return s.PutChainConfig(ctx, c)
}

func (s *PebbleStore) SetContractEnabledBySymbol(ctx context.Context, symbol string, enabled bool) error {
	matches, err := s.ContractsBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return ErrNotFound
	}
	for _, c := range matches {
		c.Enabled = enabled
		if err := s.PutContractConfig(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent appends ev and maintains its secondary indexes in one batch.
// A pre-existing primary key is reported as chainerr.ErrDuplicateEvent and
// the batch is abandoned without side effects.
func (s *PebbleStore) InsertEvent(ctx context.Context, ev *model.BlockchainEvent) error {
	primary := eventKey(ev.ChainID, ev.TransactionHash, ev.LogIndex)
	if _, closer, err := s.db.Get(primary); err == nil {
		closer.Close()
		return chainerr.ErrDuplicateEvent
	} else if err != pebble.ErrNotFound {
		return err
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(primary, value, nil); err != nil {
		return err
	}
	if err := batch.Set(indexEventByBlockKey(ev.ChainID, ev.BlockNumber, primary), primary, nil); err != nil {
		return err
	}
	if err := batch.Set(indexEventByContractKey(ev.ContractAddress, string(ev.EventType), primary), primary, nil); err != nil {
		return err
	}
	if err := batch.Set(indexEventProcessedKey(ev.Processed, primary), primary, nil); err != nil {
		return err
	}
	if err := batch.Set(indexEventTimestampKey(ev.TimestampMs, primary), primary, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) HasEvent(ctx context.Context, chainID int64, txHash string, logIndex uint) (bool, error) {
	_, closer, err := s.db.Get(eventKey(chainID, txHash, logIndex))
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) ContractData(ctx context.Context, chainID int64, address string) (*model.ContractData, error) {
	var d model.ContractData
	if err := s.get(contractDataKey(chainID, strings.ToLower(address)), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PebbleStore) UpsertContractData(ctx context.Context, data *model.ContractData) error {
	return s.put(contractDataKey(data.ChainID, strings.ToLower(data.ContractAddress)), data)
}
