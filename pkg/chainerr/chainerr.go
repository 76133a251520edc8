// Package chainerr defines the error taxonomy shared by the adapter,
// listener, dispatcher, and supervisor layers, following the sentinel-error
// style used throughout the codebase (compare pkg/storage.ErrNotFound).
package chainerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error taxonomy's entries.
type Kind string

const (
	KindConfigMismatch      Kind = "ConfigMismatch"
	KindTransportUnavailable Kind = "TransportUnavailable"
	KindStrategyUnavailable Kind = "StrategyUnavailable"
	KindTransientRPC        Kind = "TransientRpc"
	KindDecodeFailed        Kind = "DecodeFailed"
	KindDuplicateEvent      Kind = "DuplicateEvent"
	KindHandlerError        Kind = "HandlerError"
	KindExhausted           Kind = "Exhausted"
)

// Sentinel errors. Callers match with errors.Is; IndexerError.Is delegates
// to these so a wrapped error still satisfies errors.Is(err, ErrXxx).
var (
	ErrConfigMismatch      = errors.New("adapter chain id does not match configured chain id")
	ErrTransportUnavailable = errors.New("no request transport available")
	ErrStrategyUnavailable  = errors.New("requested strategy has no usable transport")
	ErrTransientRPC         = errors.New("transient rpc error")
	ErrDecodeFailed         = errors.New("log decode failed")
	ErrDuplicateEvent       = errors.New("duplicate event")
	ErrHandlerError         = errors.New("handler error")
	ErrExhausted            = errors.New("reconnect budget exhausted")
)

var sentinelByKind = map[Kind]error{
	KindConfigMismatch:      ErrConfigMismatch,
	KindTransportUnavailable: ErrTransportUnavailable,
	KindStrategyUnavailable: ErrStrategyUnavailable,
	KindTransientRPC:        ErrTransientRPC,
	KindDecodeFailed:        ErrDecodeFailed,
	KindDuplicateEvent:      ErrDuplicateEvent,
	KindHandlerError:        ErrHandlerError,
	KindExhausted:           ErrExhausted,
}

// IndexerError wraps a taxonomy Kind with the chain it occurred on and the
// underlying cause, mirroring multichain.ChainError from the pre-rework tree.
type IndexerError struct {
	Kind  Kind
	Chain int64
	Err   error
}

func New(kind Kind, chainID int64, err error) *IndexerError {
	return &IndexerError{Kind: kind, Chain: chainID, Err: err}
}

func (e *IndexerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain %d: %s: %v", e.Chain, e.Kind, e.Err)
	}
	return fmt.Sprintf("chain %d: %s", e.Chain, e.Kind)
}

func (e *IndexerError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, chainerr.ErrConfigMismatch) succeed against an
// IndexerError of the matching Kind even when Err is nil or unrelated.
func (e *IndexerError) Is(target error) bool {
	if sentinel, ok := sentinelByKind[e.Kind]; ok && errors.Is(sentinel, target) {
		return true
	}
	return errors.Is(e.Err, target)
}
