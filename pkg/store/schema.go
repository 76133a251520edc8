package store

import "fmt"

// Key-prefix schema for the Pebble-backed reference store. Each collection
// gets its own prefix so compaction and iteration stay scoped; secondary
// indexes store the primary key as their value so a range scan can resolve
// straight to the primary record without a second lookup.
const (
	prefixChainConfig    = "meta/chain/"
	prefixContractConfig = "meta/contract/"
	prefixContractData   = "data/contractdata/"
	prefixEvent          = "data/event/"

	prefixIndexEventByBlock    = "index/event/block/"
	prefixIndexEventByContract = "index/event/contract/"
	prefixIndexEventProcessed  = "index/event/processed/"
	prefixIndexEventTimestamp  = "index/event/timestamp/"
)

// pad20 zero-pads a uint64 for lexicographic ordering, matching the
// uintToString helper the chain-scoped key builders used before this rework.
func pad20(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func padInt20(n int64) string {
	if n < 0 {
		return "-" + pad20(uint64(-n))
	}
	return pad20(uint64(n))
}

func chainConfigKey(chainID int64) []byte {
	return []byte(prefixChainConfig + padInt20(chainID))
}

func contractConfigKey(chainID int64, address string) []byte {
	return []byte(prefixContractConfig + padInt20(chainID) + "/" + address)
}

func contractDataKey(chainID int64, address string) []byte {
	return []byte(prefixContractData + padInt20(chainID) + "/" + address)
}

func eventKey(chainID int64, txHash string, logIndex uint) []byte {
	return []byte(prefixEvent + padInt20(chainID) + "/" + txHash + "/" + pad20(uint64(logIndex)))
}

func indexEventByBlockKey(chainID int64, blockNumber uint64, primary []byte) []byte {
	return []byte(prefixIndexEventByBlock + padInt20(chainID) + "/" + pad20(blockNumber) + "/" + string(primary))
}

func indexEventByContractKey(contractAddress string, eventType string, primary []byte) []byte {
	return []byte(prefixIndexEventByContract + contractAddress + "/" + eventType + "/" + string(primary))
}

func indexEventProcessedKey(processed bool, primary []byte) []byte {
	flag := "0"
	if processed {
		flag = "1"
	}
	return []byte(prefixIndexEventProcessed + flag + "/" + string(primary))
}

func indexEventTimestampKey(timestampMs int64, primary []byte) []byte {
	return []byte(prefixIndexEventTimestamp + padInt20(timestampMs) + "/" + string(primary))
}
