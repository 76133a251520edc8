// Package handler implements the dispatcher.Handler collaborators that turn
// a decoded BlockchainEvent into persisted state and operator-facing side
// effects, following the EventName()-keyed handler shape used throughout
// events/event_handlers.go before this rework.
package handler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/chainerr"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
)

func eventTime(ev *model.BlockchainEvent) time.Time {
	return time.UnixMilli(ev.TimestampMs)
}

// ZeroAddressHex is the conventional mint/burn sentinel address. It has no
// letters, so it equals the checksummed hex form the decoder puts in
// BlockchainEvent.Data's address args.
const ZeroAddressHex = "0x0000000000000000000000000000000000000000"

// TransferHandler persists Transfer events and maintains each contract's
// running ContractData counters. It re-derives valueFormatted/isLargeTransfer
// from the raw decoded args rather than trusting any value the listener may
// have attached, keeping decode and classification independently auditable.
type TransferHandler struct {
	configs store.ConfigStore
	events  store.EventStore
	logger  *zap.Logger
}

// NewTransferHandler wires a TransferHandler against the config and event
// stores it needs to look up contract metadata and persist results.
func NewTransferHandler(configs store.ConfigStore, events store.EventStore, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{configs: configs, events: events, logger: logger.Named("transfer_handler")}
}

func (h *TransferHandler) Name() string { return "transfer" }

// CanHandle matches any decoded Transfer event, regardless of chain.
func (h *TransferHandler) CanHandle(ev *model.BlockchainEvent) bool {
	return ev.Data.Event.Name == "Transfer"
}

// Handle looks up the contract's configuration, skips the event outright if
// it is already stored (so a replay never double-counts), recomputes the
// formatted amount and large-transfer/mint/burn classification, upserts the
// running contract counters, and persists the event.
func (h *TransferHandler) Handle(ctx context.Context, ev *model.BlockchainEvent) error {
	cfg, err := h.configs.ContractConfig(ctx, ev.ChainID, ev.ContractAddress)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	exists, err := h.events.HasEvent(ctx, ev.ChainID, ev.TransactionHash, ev.LogIndex)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	from, _ := ev.Data.Event.Args["from"].(string)
	to, _ := ev.Data.Event.Args["to"].(string)
	valueRaw, _ := ev.Data.Event.Args["value"].(string)

	raw, ok := new(big.Int).SetString(valueRaw, 10)
	if !ok {
		raw = big.NewInt(0)
	}
	formatted, scaled := abi.FormatAmount(raw, cfg.Metadata.Decimals)
	isLarge := abi.IsLargeTransfer(scaled, cfg.Metadata.IsStablecoin)

	ev.ValueFormatted = formatted
	ev.IsLargeTransfer = isLarge
	ev.TransferType = transferType(from, to)
	ev.TokenAmount = scaled

	h.logTransfer(ev, cfg, from, to, formatted, isLarge)

	if err := h.upsertContractData(ctx, ev, cfg, isLarge); err != nil {
		h.logger.Warn("contract data upsert failed", zap.Error(err), zap.String("contract", ev.ContractAddress))
	}

	if err := h.events.InsertEvent(ctx, ev); err != nil {
		if errors.Is(err, chainerr.ErrDuplicateEvent) {
			// Expected on Push/Pull overlap at a strategy switch boundary;
			// not a handler failure.
			return nil
		}
		return err
	}
	return nil
}

// transferType classifies a transfer by zero-address comparison.
func transferType(from, to string) string {
	switch {
	case from == ZeroAddressHex:
		return "mint"
	case to == ZeroAddressHex:
		return "burn"
	default:
		return "transfer"
	}
}

func (h *TransferHandler) logTransfer(ev *model.BlockchainEvent, cfg *model.ContractConfig, from, to, formatted string, isLarge bool) {
	fields := []zap.Field{
		zap.Int64("chain_id", ev.ChainID),
		zap.String("contract", ev.ContractAddress),
		zap.String("symbol", cfg.Symbol),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("value", formatted),
		zap.Uint64("block", ev.BlockNumber),
		zap.String("tx", ev.TransactionHash),
	}

	switch {
	case isLarge:
		h.logger.Warn("large transfer detected", fields...)
	case cfg.Metadata.Priority == "high":
		h.logger.Info("high priority transfer", fields...)
	default:
		h.logger.Info("transfer processed", fields...)
	}

	// Additional to the priority line above, never instead of it.
	switch {
	case from == ZeroAddressHex:
		h.logger.Info(fmt.Sprintf("MINT: %s minted to %s", formatted, to), fields...)
	case to == ZeroAddressHex:
		h.logger.Info(fmt.Sprintf("BURN: %s burned from %s", formatted, from), fields...)
	}
}

func (h *TransferHandler) upsertContractData(ctx context.Context, ev *model.BlockchainEvent, cfg *model.ContractConfig, isLarge bool) error {
	data, err := h.events.ContractData(ctx, ev.ChainID, ev.ContractAddress)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		data = &model.ContractData{
			ChainID:         ev.ChainID,
			ContractAddress: ev.ContractAddress,
			ContractType:    cfg.Type,
			Name:            cfg.Name,
			Symbol:          cfg.Symbol,
			Decimals:        cfg.Metadata.Decimals,
			IsActive:        true,
			FirstSeenBlock:  ev.BlockNumber,
			StartFromBlock:  ev.BlockNumber,
		}
	}

	data.LastUpdated = eventTime(ev)
	// A pull-scanned event carries the range's drained-to head in
	// ScanHeadBlock, which may be ahead of the event's own block number;
	// advancing to it records progress through the whole scanned range,
	// not just up to the last event found in it. Push-delivered events
	// leave ScanHeadBlock at zero, so BlockNumber wins there.
	head := ev.BlockNumber
	if ev.ScanHeadBlock > head {
		head = ev.ScanHeadBlock
	}
	if head > data.LastProcessedBlock {
		data.LastProcessedBlock = head
	}
	if data.FirstSeenBlock == 0 {
		data.FirstSeenBlock = ev.BlockNumber
	}
	data.Metadata.TransferCount++
	if isLarge {
		data.Metadata.LargeTransferCount++
	}
	data.Metadata.LastTransferTimestamp = ev.TimestampMs

	return h.events.UpsertContractData(ctx, data)
}
