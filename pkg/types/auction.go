package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionID identifies one round.
type AuctionID uint64

// Price is a per-token clearing or reference price expressed in a chosen
// numéraire. Kept as a rational to avoid premature rounding anywhere in
// the pipeline except the final scoring comparison.
type Price struct {
	Rat *big.Rat
}

func NewPrice(r *big.Rat) Price { return Price{Rat: r} }

// Auction is the immutable input the solver competition runs against.
type Auction struct {
	ID       AuctionID
	Deadline time.Time
	// DeadlineBlock is the block-number-derived component of the
	// deadline; the round's actual deadline is min(wall clock, this).
	DeadlineBlock uint64

	Orders []Order

	// Prices maps token address to its per-token reference price in the
	// auction's numéraire.
	Prices map[common.Address]Price

	// SurplusCapturingJitOwners lists addresses whose JIT trades count
	// toward surplus (spec §3).
	SurplusCapturingJitOwners map[common.Address]bool

	GasPrice *big.Rat
}

// Clone returns a deep-enough copy so the auction snapshot never aliases
// the order book's live orders (spec §3 ownership: "Auctions hold cloned
// snapshots and never mutate Orders").
func (a *Auction) Clone() *Auction {
	out := &Auction{
		ID:            a.ID,
		Deadline:      a.Deadline,
		DeadlineBlock: a.DeadlineBlock,
		Orders:        append([]Order(nil), a.Orders...),
		Prices:        make(map[common.Address]Price, len(a.Prices)),
		SurplusCapturingJitOwners: make(map[common.Address]bool, len(a.SurplusCapturingJitOwners)),
		GasPrice:      new(big.Rat).Set(a.GasPrice),
	}
	for k, v := range a.Prices {
		out.Prices[k] = v
	}
	for k, v := range a.SurplusCapturingJitOwners {
		out.SurplusCapturingJitOwners[k] = v
	}
	return out
}

// Asset pairs a token with an amount; used by interactions' declared
// inputs/outputs and by JIT trade legs.
type Asset struct {
	Token  common.Address
	Amount Amount
}

// InteractionPhase partitions interactions into the three settlement
// buckets; ordering is a DAG (pre, exec, post) with no forward references.
type InteractionPhase int

const (
	PhasePre InteractionPhase = iota
	PhaseExecution
	PhasePost
)

// InteractionKind distinguishes an arbitrary external call from a
// liquidity-source swap.
type InteractionKind int

const (
	InteractionCustom InteractionKind = iota
	InteractionLiquidity
)

// Interaction is one settlement-contract call, in either the Custom or
// Liquidity shape described in spec §3.
type Interaction struct {
	Kind  InteractionKind
	Phase InteractionPhase

	// Custom fields.
	Target      common.Address
	Value       Amount
	CallData    []byte
	Allowances  []RequiredAllowance
	Inputs      []Asset
	Outputs     []Asset

	// Liquidity fields.
	LiquidityID string
	InputAsset  Asset
	OutputAsset Asset

	Internalize bool
}

// RequiredAllowance names a spender/token pair the encoder must ensure has
// a sufficient ERC-20 allowance before the interaction executes.
type RequiredAllowance struct {
	Spender common.Address
	Token   common.Address
	Amount  Amount
}

// Fulfillment references an existing order and the amount executed
// against it this round.
type Fulfillment struct {
	OrderUID       UID
	ExecutedAmount Amount
}

// JitTrade is an inline order the solver signs itself, used to inject
// liquidity within a settlement.
type JitTrade struct {
	Order          Order
	ExecutedAmount Amount
}

// Trade is either a Fulfillment or a JitTrade (exactly one of the two
// pointer fields is non-nil).
type Trade struct {
	Fulfillment *Fulfillment
	Jit         *JitTrade
}

// Solution is one solver's proposed settlement plan for a round.
type Solution struct {
	ID       string
	SolverID string

	// Prices maps token -> uniform clearing price (non-zero).
	Prices map[common.Address]Price

	Trades       []Trade
	Interactions []Interaction
}

// RatedSolution is a Solution augmented with the scoring values computed
// by the solver driver (§4.9). All scoring quantities are exact rationals
// until the final comparison at winner selection.
type RatedSolution struct {
	Solution Solution

	Surplus      *big.Rat // native-token numéraire
	SolverFees   *big.Rat
	GasEstimate  *big.Rat
	GasPrice     *big.Rat

	// RejectionReason is non-empty when the solution was disqualified and
	// therefore excluded from winner selection.
	RejectionReason string
}

// Objective computes surplus + solver_fees - gas_estimate*gas_price as an
// exact rational, per spec §3/§4.9. No rounding happens here.
func (r *RatedSolution) Objective() *big.Rat {
	gasCost := new(big.Rat).Mul(r.GasEstimate, r.GasPrice)
	obj := new(big.Rat).Add(r.Surplus, r.SolverFees)
	obj.Sub(obj, gasCost)
	return obj
}

// SettlementTransaction is the encoded winning plan ready for submission.
type SettlementTransaction struct {
	CallData   []byte
	From       common.Address
	To         common.Address
	Value      *big.Int
	GasLimit   uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	AccessList *AccessList

	AuctionID AuctionID
}

// AccessList is the EIP-2930 access list computed by the submitter.
type AccessList struct {
	Entries []AccessListEntry
}

type AccessListEntry struct {
	Address     common.Address
	StorageKeys []common.Hash
}
