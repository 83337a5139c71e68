package solver

import "time"

// The wire DTOs below mirror the field names of the CoW Protocol driver's
// solver API, the shape original_source's
// crates/solvers/src/api/dto/auction.rs and
// crates/driver/src/infra/solver/dto/solution.rs define — a real solver
// implementation already speaks this wire format, and tests rely on that
// stability.

type orderDTO struct {
	UID               string   `json:"uid"`
	SellToken         string   `json:"sellToken"`
	BuyToken          string   `json:"buyToken"`
	SellAmount        string   `json:"sellAmount"`
	BuyAmount         string   `json:"buyAmount"`
	FeePolicies       []string `json:"feePolicies,omitempty"`
	Class             string   `json:"class"`
	Side              string   `json:"side"`
	PartiallyFillable bool     `json:"partiallyFillable"`
}

type auctionDTO struct {
	ID             uint64              `json:"id"`
	Orders         []orderDTO          `json:"orders"`
	Tokens         map[string]priceDTO `json:"tokens"`
	Deadline       time.Time           `json:"deadline"`
	LiquiditySubset []string           `json:"liquidity,omitempty"`
}

type priceDTO struct {
	// Price is the reference price as math/big.Rat's RatString renders it
	// ("a/b", or "a" for an integer), avoiding float precision loss over
	// the wire.
	Price string `json:"price"`
}

type solveResponseDTO struct {
	Solutions []solutionDTO `json:"solutions"`
}

type solutionDTO struct {
	ID           string              `json:"id"`
	Prices       map[string]string   `json:"prices"`
	Trades       []tradeDTO          `json:"trades"`
	Interactions []interactionDTO    `json:"interactions"`
}

type tradeDTO struct {
	Kind           string `json:"kind"` // "fulfillment" | "jit"
	OrderUID       string `json:"orderUid,omitempty"`
	ExecutedAmount string `json:"executedAmount"`

	// JIT-only fields.
	JitOrder *orderDTO `json:"jitOrder,omitempty"`
}

type interactionDTO struct {
	Kind  string `json:"kind"` // "custom" | "liquidity"
	Phase string `json:"phase"` // "pre" | "execution" | "post"

	Target      string          `json:"target,omitempty"`
	Value       string          `json:"value,omitempty"`
	CallData    string          `json:"callData,omitempty"`
	Allowances  []allowanceDTO  `json:"allowances,omitempty"`
	Inputs      []assetDTO      `json:"inputs,omitempty"`
	Outputs     []assetDTO      `json:"outputs,omitempty"`

	LiquidityID string   `json:"liquidityId,omitempty"`
	InputAsset  *assetDTO `json:"inputAsset,omitempty"`
	OutputAsset *assetDTO `json:"outputAsset,omitempty"`

	Internalize bool `json:"internalize"`
}

type allowanceDTO struct {
	Spender string `json:"spender"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type assetDTO struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}
