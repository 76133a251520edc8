// Package model defines the core data types shared by every component of the
// ingestion core: chain and contract configuration, the cached per-contract
// runtime facts, and the decoded log record that flows from a listener
// through the dispatcher to a handler.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ChainType identifies the family of network a ChainConfig describes.
// Only ChainTypeEVM is implemented; the others are declared so the registry
// stays extensible without stub adapters backing them.
type ChainType string

const (
	ChainTypeEVM    ChainType = "evm"
	ChainTypeSolana ChainType = "solana"
	ChainTypeSui    ChainType = "sui"
)

// Strategy selects how a listener ingests logs for a chain.
type Strategy string

const (
	StrategyPush   Strategy = "push"
	StrategyPull   Strategy = "pull"
	StrategyHybrid Strategy = "hybrid"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyPush, StrategyPull, StrategyHybrid:
		return true
	default:
		return false
	}
}

// NativeCurrency describes a chain's gas/native asset.
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// ChainConfig is a single network's connection and ingestion configuration.
// Identity is ChainID; the core treats it as an immutable snapshot and never
// mutates a config it has already handed to a listener in place.
type ChainConfig struct {
	ChainID        int64             `json:"chainId" yaml:"chain_id"`
	Name           string            `json:"name" yaml:"name"`
	Type           ChainType         `json:"type" yaml:"type"`
	RPCURL         string            `json:"rpcUrl" yaml:"rpc_url"`
	StreamURL      string            `json:"streamUrl,omitempty" yaml:"stream_url,omitempty"`
	Strategy       Strategy          `json:"strategy" yaml:"strategy"`
	ScanIntervalMs int               `json:"scanIntervalMs" yaml:"scan_interval_ms"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	NativeCurrency NativeCurrency    `json:"nativeCurrency" yaml:"native_currency"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EffectiveStrategy resolves push/hybrid down to pull when no stream URL is
// configured, per the ChainConfig invariant in the data model.
func (c *ChainConfig) EffectiveStrategy() Strategy {
	if (c.Strategy == StrategyPush || c.Strategy == StrategyHybrid) && c.StreamURL == "" {
		return StrategyPull
	}
	return c.Strategy
}

// Validate checks the ChainConfig invariants.
func (c *ChainConfig) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chainId is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpcUrl is required")
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("invalid strategy %q", c.Strategy)
	}
	if c.ScanIntervalMs <= 0 {
		c.ScanIntervalMs = 5000
	}
	return nil
}

// ContractMetadata carries the free-form token facts a ContractConfig needs
// for decoding and classification (decimals, stablecoin threshold, priority).
type ContractMetadata struct {
	Decimals     int    `json:"decimals" yaml:"decimals"`
	IsStablecoin bool   `json:"isStablecoin" yaml:"is_stablecoin"`
	Priority     string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// ContractConfig is a single monitored contract on a single chain. Identity
// is (ChainID, Address); Address is always normalized to lowercase.
type ContractConfig struct {
	ChainID  int64            `json:"chainId" yaml:"chain_id"`
	Address  string           `json:"address" yaml:"address"`
	Name     string           `json:"name" yaml:"name"`
	Symbol   string           `json:"symbol" yaml:"symbol"`
	Type     string           `json:"type" yaml:"type"`
	Events   []string         `json:"events" yaml:"events"`
	ABI      []string         `json:"abi" yaml:"abi"`
	Enabled  bool             `json:"enabled" yaml:"enabled"`
	Metadata ContractMetadata `json:"metadata" yaml:"metadata"`
}

// Key returns the (chainId, address) identity string used as a map key.
func (c *ContractConfig) Key() string {
	return ContractKey(c.ChainID, c.Address)
}

// ContractKey builds the (chainId, address) identity string for a contract.
func ContractKey(chainID int64, address string) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(address))
}

// Normalize lowercases Address in place, matching the identity invariant.
func (c *ContractConfig) Normalize() {
	c.Address = strings.ToLower(c.Address)
}

// Validate checks the ContractConfig invariants: ChainID, Address and a
// non-empty Events list are required, and the same ABI signature may not be
// listed twice. It does not check that each configured event has a matching
// ABI signature, nor that an event name matches only one signature.
func (c *ContractConfig) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chainId is required")
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	seen := make(map[string]bool, len(c.ABI))
	for _, sig := range c.ABI {
		if seen[sig] {
			return fmt.Errorf("ambiguous duplicate ABI signature %q", sig)
		}
		seen[sig] = true
	}
	return nil
}

// ContractDataMetadata holds the running counters a handler maintains.
type ContractDataMetadata struct {
	TransferCount         uint64 `json:"transferCount"`
	LargeTransferCount    uint64 `json:"largeTransferCount"`
	LastTransferTimestamp int64  `json:"lastTransferTimestamp,omitempty"`
}

// ContractData is the cached runtime state a handler maintains per observed
// contract. Identity is (ChainID, ContractAddress).
type ContractData struct {
	ChainID            int64                 `json:"chainId"`
	ContractAddress    string                `json:"contractAddress"`
	ContractType       string                `json:"contractType"`
	Name               string                `json:"name"`
	Symbol             string                `json:"symbol"`
	Decimals           int                   `json:"decimals"`
	TotalSupply        string                `json:"totalSupply,omitempty"`
	Owner              string                `json:"owner,omitempty"`
	IsActive           bool                  `json:"isActive"`
	LastUpdated        time.Time             `json:"lastUpdated"`
	FirstSeenBlock     uint64                `json:"firstSeenBlock"`
	LastProcessedBlock uint64                `json:"lastProcessedBlock"`
	StartFromBlock     uint64                `json:"startFromBlock"`
	Metadata           ContractDataMetadata  `json:"metadata"`
}

// CollectionKey reproduces the "{type}_{chainId}" grouping key.
func (d *ContractData) CollectionKey() string {
	return fmt.Sprintf("%s_%d", d.ContractType, d.ChainID)
}

// Key returns the (chainId, contractAddress) identity string.
func (d *ContractData) Key() string {
	return ContractKey(d.ChainID, d.ContractAddress)
}

// EventType enumerates the kinds of BlockchainEvent the core produces.
// Only EventTypeContractLog is currently emitted.
type EventType string

const EventTypeContractLog EventType = "contract_log"

// ContractRef is the denormalized contract identity embedded in every
// persisted event, so downstream consumers need no join to read a label.
type ContractRef struct {
	Name   string `json:"name,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Type   string `json:"type,omitempty"`
}

// EventInfo is the decoded event name/signature/args payload.
type EventInfo struct {
	Name      string                 `json:"name"`
	Signature string                 `json:"signature"`
	Args      map[string]interface{} `json:"args"`
}

// EventData is the full raw+decoded payload of a BlockchainEvent.
type EventData struct {
	Topics           []string    `json:"topics"`
	RawData          string      `json:"rawData"`
	LogIndex         uint        `json:"logIndex"`
	TransactionIndex uint        `json:"transactionIndex"`
	GasUsed          uint64      `json:"gasUsed"`
	TxStatus         uint64      `json:"txStatus"`
	Contract         ContractRef `json:"contract"`
	Event            EventInfo   `json:"event"`
}

// BlockchainEvent is a single decoded log, ready for persistence. Identity is
// (ChainID, TransactionHash, LogIndex); once built from a log it is only
// mutated to stamp ScanHeadBlock (pull listener), to fill in the derived
// transfer fields below, and for Processed/ProcessedAt/ProcessingResult
// bookkeeping.
//
// TransferType/TokenAmount/ValueFormatted/IsLargeTransfer are derived fields
// a transfer-shaped handler fills in before persisting; they are empty for
// any event that isn't a Transfer.
type BlockchainEvent struct {
	ChainID         int64     `json:"chainId"`
	TransactionHash string    `json:"transactionHash"`
	LogIndex        uint      `json:"logIndex"`
	BlockNumber     uint64    `json:"blockNumber"`
	TimestampMs     int64     `json:"timestampMs"`
	EventType       EventType `json:"eventType"`
	ContractAddress string    `json:"contractAddress"`
	Data            EventData `json:"data"`

	TransferType    string  `json:"transferType,omitempty"`
	TokenAmount     float64 `json:"tokenAmount,omitempty"`
	ValueFormatted  string  `json:"valueFormatted,omitempty"`
	IsLargeTransfer bool    `json:"isLargeTransfer,omitempty"`

	// ScanHeadBlock is the pull listener's drained-to block for the range
	// this event was found in, zero for push-delivered events. A handler
	// persisting ContractData.LastProcessedBlock should advance to this
	// rather than BlockNumber so a scanned range with no events near its
	// end still records progress through the whole range.
	ScanHeadBlock uint64 `json:"-"`

	Processed        bool       `json:"processed"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	ProcessingResult string     `json:"processingResult,omitempty"`
}

// Key returns the (chainId, transactionHash, logIndex) identity string.
func (e *BlockchainEvent) Key() string {
	return EventKey(e.ChainID, e.TransactionHash, e.LogIndex)
}

// EventKey builds the (chainId, transactionHash, logIndex) identity string.
func EventKey(chainID int64, txHash string, logIndex uint) string {
	return fmt.Sprintf("%d:%s:%d", chainID, strings.ToLower(txHash), logIndex)
}
