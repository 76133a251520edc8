package listener

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
)

// buildEvent decodes one raw log against watch's registry and assembles the
// persisted record shape. A log whose topic-0 is not configured for this
// contract is skipped (ok=false, err=nil); a log that matches a configured
// topic-0 but fails to decode is reported as DecodeFailed.
func buildEvent(chainID int64, watch ContractWatch, log gethtypes.Log, timestampMs int64, receipt Receipt) (*model.BlockchainEvent, bool, error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}
	raw := abi.RawLog{
		Address:     log.Address,
		Topics:      log.Topics,
		Data:        log.Data,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
	}
	if _, _, ok := watch.Registry.Lookup(log.Topics[0]); !ok {
		return nil, false, nil
	}
	decoded, err := abi.Decode(watch.Registry, raw, watch.Metadata)
	if err != nil {
		return nil, false, chainerr.New(chainerr.KindDecodeFailed, chainID, err)
	}

	ev := &model.BlockchainEvent{
		ChainID:         chainID,
		TransactionHash: log.TxHash.Hex(),
		LogIndex:        log.Index,
		BlockNumber:     log.BlockNumber,
		TimestampMs:     timestampMs,
		EventType:       model.EventTypeContractLog,
		ContractAddress: strings.ToLower(log.Address.Hex()),
		Data: model.EventData{
			Topics:           hashesToHex(log.Topics),
			RawData:          common.Bytes2Hex(log.Data),
			LogIndex:         log.Index,
			TransactionIndex: log.TxIndex,
			GasUsed:          receipt.GasUsed,
			TxStatus:         receipt.Status,
			Contract: model.ContractRef{
				Name:   watch.Name,
				Symbol: watch.Symbol,
				Type:   watch.Type,
			},
			Event: model.EventInfo{
				Name:      decoded.EventName,
				Signature: decoded.Signature,
				Args:      decoded.Args,
			},
		},
	}
	return ev, true, nil
}

func hashesToHex(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

func nowMs(clock Clock) int64 {
	return clock.Now().UnixMilli()
}
