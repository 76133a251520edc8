package adapter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/listener"
	"github.com/chainsift/indexer/pkg/model"
)

// BuildContractWatch compiles a ContractConfig into the ABI registry and
// topic-0 list a listener needs to watch it, without looking the config
// back up mid-scan.
func BuildContractWatch(cfg *model.ContractConfig) listener.ContractWatch {
	registry := abi.BuildRegistry(cfg)
	topics := topic0sFor(cfg)
	return listener.ContractWatch{
		Address:  common.HexToAddress(cfg.Address),
		Name:     cfg.Name,
		Symbol:   cfg.Symbol,
		Type:     cfg.Type,
		Registry: registry,
		Topics:   topics,
		Metadata: cfg.Metadata,
	}
}

func topic0sFor(cfg *model.ContractConfig) []common.Hash {
	wanted := make(map[string]bool, len(cfg.Events))
	for _, name := range cfg.Events {
		wanted[name] = true
	}
	var topics []common.Hash
	seen := make(map[common.Hash]bool)
	add := func(h common.Hash) {
		if !seen[h] {
			seen[h] = true
			topics = append(topics, h)
		}
	}
	for _, sig := range cfg.ABI {
		name := eventNameOf(sig)
		if wanted[name] {
			add(crypto.Keccak256Hash([]byte(sig)))
		}
	}
	if wanted["Transfer"] {
		add(abi.TransferTopic0)
	}
	if wanted["Approval"] {
		add(abi.ApprovalTopic0)
	}
	return topics
}

func eventNameOf(sig string) string {
	for i, r := range sig {
		if r == '(' {
			return sig[:i]
		}
	}
	return sig
}
