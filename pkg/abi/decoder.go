// Package abi decodes raw EVM logs into typed records, following the
// ABI-handling approach of abi.Decoder (LoadABI/DecodeLog via go-ethereum's
// accounts/abi package) but narrowed to the two built-in ERC-20 events the
// core understands natively, plus a generic fallback for any other event a
// ContractConfig names.
package abi

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsift/indexer/pkg/model"
)

// Canonical signatures for the two built-in events. Topic-0 for any event is
// the keccak256 hash of its canonical signature string.
const (
	TransferSignature = "Transfer(address,address,uint256)"
	ApprovalSignature = "Approval(address,address,uint256)"
)

var (
	TransferTopic0 = crypto.Keccak256Hash([]byte(TransferSignature))
	ApprovalTopic0 = crypto.Keccak256Hash([]byte(ApprovalSignature))
)

// ZeroAddress is the sentinel "no address" value used to detect mint/burn.
var ZeroAddress = common.Address{}

// RawLog is the minimal raw-log shape a listener hands to the decoder,
// independent of whether it arrived via eth_getLogs or eth_subscribe.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
}

// TransferFields is the built-in decode result for a Transfer event.
type TransferFields struct {
	From            common.Address
	To              common.Address
	ValueRaw        *big.Int
	ValueFormatted  string
	IsLargeTransfer bool
}

// ApprovalFields is the built-in decode result for an Approval event.
type ApprovalFields struct {
	Owner          common.Address
	Spender        common.Address
	ValueRaw       *big.Int
	ValueFormatted string
}

// Decoded is the outcome of decoding one raw log against a contract's
// configured events: the event name/signature plus args ready to embed in a
// model.EventData, and the built-in Transfer fields when applicable (the
// transfer handler needs the un-stringified ValueRaw/IsLargeTransfer).
type Decoded struct {
	EventName string
	Signature string
	Args      map[string]interface{}
	Transfer  *TransferFields
	Approval  *ApprovalFields
}

// Registry resolves a contract's configured event names to the topic-0 hash
// that identifies them on the wire, built fresh from each ContractConfig
// rather than held globally, so reloads never race a concurrent decode.
type Registry struct {
	byTopic0 map[common.Hash]eventDef
}

type eventDef struct {
	name      string
	signature string
}

// BuildRegistry derives topic-0 hashes for every event named in cfg.Events,
// matching it against cfg.ABI's canonical signatures. An event present in
// Events with no matching ABI signature is silently skipped: it has no
// topic-0 in the registry, so it is never subscribed to or decoded, and
// Lookup reports its topic-0 as not configured.
func BuildRegistry(cfg *model.ContractConfig) *Registry {
	r := &Registry{byTopic0: make(map[common.Hash]eventDef, len(cfg.Events))}
	wanted := make(map[string]bool, len(cfg.Events))
	for _, name := range cfg.Events {
		wanted[name] = true
	}
	for _, sig := range cfg.ABI {
		name := signatureName(sig)
		if !wanted[name] {
			continue
		}
		topic0 := crypto.Keccak256Hash([]byte(sig))
		r.byTopic0[topic0] = eventDef{name: name, signature: sig}
	}
	// Transfer and Approval are recognized even when the contract's ABI
	// list omits them, as long as the event name was requested.
	if wanted["Transfer"] {
		r.byTopic0[TransferTopic0] = eventDef{name: "Transfer", signature: TransferSignature}
	}
	if wanted["Approval"] {
		r.byTopic0[ApprovalTopic0] = eventDef{name: "Approval", signature: ApprovalSignature}
	}
	return r
}

func signatureName(sig string) string {
	if idx := strings.Index(sig, "("); idx > 0 {
		return sig[:idx]
	}
	return sig
}

// Lookup resolves a log's topic-0 against the registry. ok is false when the
// contract has no event configured for this topic, meaning the log should be
// skipped without being treated as a decode failure.
func (r *Registry) Lookup(topic0 common.Hash) (name, signature string, ok bool) {
	def, found := r.byTopic0[topic0]
	if !found {
		return "", "", false
	}
	return def.name, def.signature, true
}

// Decode decodes log against the event identified by topic0 in reg, using
// the built-in Transfer/Approval paths when the signature matches and a
// generic positional decode otherwise. meta supplies decimals/stablecoin
// classification for the built-in value formatting.
func Decode(reg *Registry, log RawLog, meta model.ContractMetadata) (*Decoded, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	name, signature, ok := reg.Lookup(log.Topics[0])
	if !ok {
		return nil, fmt.Errorf("no configured event for topic0 %s", log.Topics[0].Hex())
	}

	switch signature {
	case TransferSignature:
		return decodeTransfer(log, meta)
	case ApprovalSignature:
		return decodeApproval(log, meta)
	default:
		return decodeGeneric(name, signature, log)
	}
}

func decodeTransfer(log RawLog, meta model.ContractMetadata) (*Decoded, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("transfer log missing indexed topics")
	}
	from := common.HexToAddress(log.Topics[1].Hex())
	to := common.HexToAddress(log.Topics[2].Hex())
	value := new(big.Int).SetBytes(log.Data)
	if len(log.Data) == 0 {
		return nil, fmt.Errorf("transfer log has no value data")
	}

	formatted, scaled := formatAmount(value, meta.Decimals)
	large := isLargeTransferInternal(scaled, meta.IsStablecoin)

	args := map[string]interface{}{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": value.String(),
	}
	return &Decoded{
		EventName: "Transfer",
		Signature: TransferSignature,
		Args:      args,
		Transfer: &TransferFields{
			From:            from,
			To:              to,
			ValueRaw:        value,
			ValueFormatted:  formatted,
			IsLargeTransfer: large,
		},
	}, nil
}

func decodeApproval(log RawLog, meta model.ContractMetadata) (*Decoded, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("approval log missing indexed topics")
	}
	owner := common.HexToAddress(log.Topics[1].Hex())
	spender := common.HexToAddress(log.Topics[2].Hex())
	value := new(big.Int).SetBytes(log.Data)

	formatted, _ := formatAmount(value, meta.Decimals)
	args := map[string]interface{}{
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"value":   value.String(),
	}
	return &Decoded{
		EventName: "Approval",
		Signature: ApprovalSignature,
		Args:      args,
		Approval: &ApprovalFields{
			Owner:          owner,
			Spender:        spender,
			ValueRaw:       value,
			ValueFormatted: formatted,
		},
	}, nil
}

// decodeGeneric decodes any other configured event positionally: the first
// len(topics)-1 arguments are taken as indexed (read from topics, in
// declared order), the rest as non-indexed (unpacked from data).
func decodeGeneric(name, signature string, log RawLog) (*Decoded, error) {
	types, err := parseSignatureTypes(signature)
	if err != nil {
		return nil, err
	}
	indexedCount := len(log.Topics) - 1
	if indexedCount < 0 || indexedCount > len(types) {
		return nil, fmt.Errorf("topic count %d incompatible with signature %s", len(log.Topics), signature)
	}

	args := make(map[string]interface{})
	var nonIndexed gethabi.Arguments
	for i, t := range types {
		gt, err := gethabi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("unsupported type %q in %s: %w", t, signature, err)
		}
		argName := fmt.Sprintf("arg%d", i)
		if i < indexedCount {
			topicArgs := gethabi.Arguments{{Type: gt, Indexed: true}}
			parsed := make(map[string]interface{})
			if err := gethabi.ParseTopicsIntoMap(parsed, topicArgs, []common.Hash{log.Topics[i+1]}); err != nil {
				return nil, fmt.Errorf("decode indexed arg %d: %w", i, err)
			}
			for _, v := range parsed {
				args[argName] = serializeValue(v)
			}
			continue
		}
		nonIndexed = append(nonIndexed, gethabi.Argument{Type: gt, Name: argName})
	}
	if len(nonIndexed) > 0 {
		unpacked := make(map[string]interface{})
		if err := nonIndexed.UnpackIntoMap(unpacked, log.Data); err != nil {
			return nil, fmt.Errorf("decode data args: %w", err)
		}
		for k, v := range unpacked {
			args[k] = serializeValue(v)
		}
	}

	return &Decoded{EventName: name, Signature: signature, Args: args}, nil
}

func serializeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return common.Bytes2Hex(v)
	default:
		return value
	}
}

// parseSignatureTypes splits "Name(type1,type2,...)" into its argument
// types. It does not support nested tuples; every configured event is
// expected to use primitive Solidity types.
func parseSignatureTypes(signature string) ([]string, error) {
	open := strings.Index(signature, "(")
	close := strings.LastIndex(signature, ")")
	if open < 0 || close < open {
		return nil, fmt.Errorf("malformed signature %q", signature)
	}
	inner := strings.TrimSpace(signature[open+1 : close])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts, nil
}

// FormatAmount applies the fixed-precision display formula described below
// and is exported so the transfer handler can recompute it independently
// from a raw value it extracts itself.
func FormatAmount(raw *big.Int, decimals int) (formatted string, scaled float64) {
	return formatAmount(raw, decimals)
}

// formatAmount applies the fixed-precision display formula: multiply by
// 10^6, integer-divide by 10^decimals, then render as a float with exactly
// six fractional digits. This deliberately caps display precision at 1e-6
// regardless of the token's actual decimals; it is not a bug to "fix".
func formatAmount(raw *big.Int, decimals int) (formatted string, scaled float64) {
	numerator := new(big.Int).Mul(raw, big.NewInt(1_000_000))
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	microUnits := new(big.Int).Quo(numerator, denom)
	scaled = float64(microUnits.Int64()) / 1_000_000
	if !microUnits.IsInt64() {
		f := new(big.Float).Quo(new(big.Float).SetInt(microUnits), big.NewFloat(1_000_000))
		scaled, _ = f.Float64()
	}
	return addThousandsSeparators(scaled), scaled
}

func addThousandsSeparators(value float64) string {
	s := strconv.FormatFloat(value, 'f', 6, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if idx := strings.Index(s, "."); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx:]
	}
	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	out := grouped.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// IsLargeTransfer applies the large-transfer threshold rule, exported for
// reuse by the transfer handler.
func IsLargeTransfer(scaled float64, isStablecoin bool) bool {
	return isLargeTransferInternal(scaled, isStablecoin)
}

// isLargeTransferInternal applies the scaled-amount threshold: 100,000 for
// stablecoins, 1,000,000 otherwise, boundary inclusive.
func isLargeTransferInternal(scaled float64, isStablecoin bool) bool {
	if isStablecoin {
		return scaled >= 100_000
	}
	return scaled >= 1_000_000
}
