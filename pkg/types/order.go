package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the trading side of an order.
type Side int

const (
	Sell Side = iota
	Buy
)

// Class distinguishes market orders, resting limit orders, and
// protocol-owned liquidity orders.
type Class int

const (
	ClassMarket Class = iota
	ClassLimit
	ClassLiquidity
)

// SellTokenSource and BuyTokenDestination describe where funds are pulled
// from / delivered to by the settlement contract.
type SellTokenSource int

const (
	SourceErc20 SellTokenSource = iota
	SourceExternal
	SourceInternal
)

type BuyTokenDestination int

const (
	DestinationErc20 BuyTokenDestination = iota
	DestinationInternal
)

// SigningScheme identifies how an order's signature is verified.
type SigningScheme int

const (
	SchemeEip712 SigningScheme = iota
	SchemeEthSign
	SchemePredicate
	SchemePreSign
)

// FeePolicyKind enumerates the supported protocol fee policies.
type FeePolicyKind int

const (
	FeeSurplus FeePolicyKind = iota
	FeePriceImprovement
	FeeVolume
)

// FeePolicy is one entry in an order's ordered fee-policy list.
type FeePolicy struct {
	Kind FeePolicyKind
	// Factor is the fraction of the measured quantity (surplus, price
	// improvement, or volume) taken as a fee.
	Factor float64
	// Cap bounds the absolute fee amount. Zero means uncapped.
	Cap Amount
	// ReferenceQuote is only populated for FeePriceImprovement.
	ReferenceQuote *Quote
}

// UID uniquely identifies an order: a deterministic hash of its fields,
// owner and domain separator.
type UID [56]byte

// Signature carries the variant-tagged proof of order authorization.
type Signature struct {
	Scheme SigningScheme
	// Bytes holds the raw ECDSA/ethsign signature bytes for the
	// off-chain schemes; empty for Predicate/PreSign.
	Bytes []byte
}

// Order is a user's signed intent to trade, as admitted into the book.
type Order struct {
	UID   UID
	Owner common.Address

	SellToken common.Address
	BuyToken  common.Address
	SellAmount Amount
	BuyAmount  Amount

	ValidTo time.Time
	Side    Side
	Class   Class

	PartiallyFillable bool

	// Receiver is the address that receives the buy-side proceeds;
	// zero means the order owner.
	Receiver common.Address

	// SellSource and BuyDestination select where the settlement
	// contract pulls the sell token from / delivers the buy token to
	// (spec §6's trade flag bits 2-3 and bit 4).
	SellSource      SellTokenSource
	BuyDestination  BuyTokenDestination

	// AppDataHash is the declared hash of the order's app-data payload,
	// verified during validation (internal/validate) and carried
	// through to settlement encoding (spec §4.10's app-data-hash field).
	AppDataHash common.Hash

	PreInteractions  []Interaction
	PostInteractions []Interaction

	Signature Signature

	FeePolicies []FeePolicy

	// ExecutedAmount is monotonic and only meaningful for partially
	// fillable orders; it is <= the order's relevant-side amount.
	ExecutedAmount Amount

	CreatedAt time.Time

	// Quote is an optional snapshot attached at validation time.
	Quote *Quote
}

// Validate checks the structural invariants from spec §3: sell != buy,
// amounts > 0, deadline > creation. It does not run the full validation
// pipeline (internal/validate) — only the invariants an Order must never
// violate regardless of how it was constructed.
func (o *Order) Validate() error {
	if o.SellToken == o.BuyToken {
		return errSameToken
	}
	if o.SellAmount.IsZero() || o.BuyAmount.IsZero() {
		return errZeroAmount
	}
	if !o.ValidTo.After(o.CreatedAt) {
		return errDeadlineNotAfterCreation
	}
	if !o.PartiallyFillable && !o.ExecutedAmount.IsZero() {
		fullAmount := o.relevantAmount()
		if o.ExecutedAmount.Cmp(fullAmount) != 0 {
			return errPartialFillNotAllowed
		}
	}
	return nil
}

func (o *Order) relevantAmount() Amount {
	if o.Side == Sell {
		return o.SellAmount
	}
	return o.BuyAmount
}

// Quote is a durable (sell,buy,side,amount) -> (counter-amount,fee) record.
type Quote struct {
	SellToken common.Address
	BuyToken  common.Address
	Side      Side
	Amount    Amount

	CounterAmount Amount
	Fee           Amount
	SolverID      string
	Expiry        time.Time
	Verified      bool

	// Kind distinguishes plain quotes from ones implying a native-token
	// wrap/unwrap at settlement time (supplemented detail, see
	// SPEC_FULL.md §4.4).
	Kind QuoteKind
}

type QuoteKind int

const (
	QuoteStandard QuoteKind = iota
	QuoteEthWrap
)

func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.Expiry)
}
