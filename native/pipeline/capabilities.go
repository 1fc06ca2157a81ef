package pipeline

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultguard/native/vault"
)

// PriceQuote is a point-in-time oracle reading with the already-scheduled
// next value.
type PriceQuote struct {
	Current *big.Rat
	Next    *big.Rat
}

// PriceFeed resolves oracle prices per collateral token.
type PriceFeed interface {
	MarketPrice(ctx context.Context, token string) (PriceQuote, error)
}

// MarketRegistry exposes the live set of valid market identifiers.
type MarketRegistry interface {
	ValidMarkets(ctx context.Context) ([]string, error)
}

// ProxyRegistry resolves the owner's execution proxy, if one exists.
type ProxyRegistry interface {
	ProxyAddress(ctx context.Context, owner common.Address) (common.Address, bool, error)
}

// AllowanceSource reads the raw ERC-20 allowance granted by owner to spender.
type AllowanceSource interface {
	Allowance(ctx context.Context, token string, owner, spender common.Address) (*uint256.Int, error)
}

// NativeSource fetches the protocol-native position snapshot fed to the
// vault adapter.
type NativeSource interface {
	PositionState(ctx context.Context, protocol vault.Protocol, owner common.Address) (vault.NativeState, error)
}

// TxKind names the transaction a stage submits.
type TxKind string

const (
	TxKindProxyCreate  TxKind = "proxyCreate"
	TxKindAllowanceSet TxKind = "allowanceSet"
	TxKindOpenPosition TxKind = "openPosition"
)

// TxDescriptor is the opaque submission request. ABI encoding is the
// submitter's concern; the pipeline only routes it.
type TxDescriptor struct {
	Kind   TxKind
	Market string
	Owner  common.Address
	Data   []byte
}

// SubmitEventKind classifies events on the submission stream.
type SubmitEventKind uint8

const (
	SubmitApproved SubmitEventKind = iota
	SubmitRejected
	SubmitReceiptSuccess
	SubmitReceiptRevert
	SubmitTimeout
)

// SubmitEvent is one lifecycle observation from the submission layer.
// Timeouts are the submitter's responsibility; the pipeline only surfaces
// them as stage failures.
type SubmitEvent struct {
	Kind   SubmitEventKind
	TxHash common.Hash
	Reason string
}

// Submitter sends a transaction and streams its lifecycle. The returned
// channel is closed after a terminal event.
type Submitter interface {
	Submit(ctx context.Context, tx TxDescriptor) (<-chan SubmitEvent, error)
}
