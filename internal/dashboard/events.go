package dashboard

import (
	"time"

	"auction-coordinator/pkg/types"
)

// Event wraps every payload pushed down the WebSocket stream, mirroring
// the teacher's DashboardEvent envelope: one JSON shape, a Type
// discriminator, and an opaque Data payload the client switches on.
type Event struct {
	Type      string      `json:"type"` // "snapshot", "round", "solution", "settlement", "order"
	Timestamp time.Time   `json:"timestamp"`
	AuctionID types.AuctionID `json:"auction_id,omitempty"`
	Data      interface{} `json:"data"`
}

// RoundEvent reports the outcome of one completed auction round (spec
// §4.8/§4.9): how many orders and solvers competed, who won, and the
// winning objective value. Objective is formatted as a decimal string —
// math/big.Rat has no idiomatic JSON number mapping, and truncating it to
// float64 here would misrepresent the exact value the solver competition
// actually scored on.
type RoundEvent struct {
	AuctionID     types.AuctionID `json:"auction_id"`
	OrderCount    int             `json:"order_count"`
	SolverCount   int             `json:"solver_count"`
	WinningSolver string          `json:"winning_solver,omitempty"`
	Objective     string          `json:"objective,omitempty"`
	Duration      time.Duration   `json:"duration_ns"`
}

// SolutionEvent reports one solver's submission to a round, accepted or
// rejected, grounded on the teacher's per-event pattern of one struct per
// notification kind rather than one overloaded type.
type SolutionEvent struct {
	AuctionID types.AuctionID `json:"auction_id"`
	Solver    string          `json:"solver"`
	Accepted  bool            `json:"accepted"`
	Objective string          `json:"objective,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// SettlementEvent reports a settlement submission's state transition
// (spec §4.11: Pending -> Mined|Reverted|Expired).
type SettlementEvent struct {
	AuctionID types.AuctionID `json:"auction_id"`
	TxHash    string          `json:"tx_hash"`
	Mempool   string          `json:"mempool"`
	State     string          `json:"state"`
	Block     uint64          `json:"block,omitempty"`
}

// OrderEvent reports one order-book mutation (spec §4.6/§4.12): placed,
// replaced, cancelled, filled, or reorged.
type OrderEvent struct {
	UID   string `json:"uid"`
	Kind  string `json:"kind"`
	Block uint64 `json:"block,omitempty"`
}

func newEvent(kind string, auctionID types.AuctionID, data interface{}) Event {
	return Event{Type: kind, Timestamp: time.Now(), AuctionID: auctionID, Data: data}
}

// NewRoundEvent wraps a RoundEvent for broadcast.
func NewRoundEvent(e RoundEvent) Event { return newEvent("round", e.AuctionID, e) }

// NewSolutionEvent wraps a SolutionEvent for broadcast.
func NewSolutionEvent(e SolutionEvent) Event { return newEvent("solution", e.AuctionID, e) }

// NewSettlementEvent wraps a SettlementEvent for broadcast.
func NewSettlementEvent(e SettlementEvent) Event { return newEvent("settlement", e.AuctionID, e) }

// NewOrderEvent wraps an OrderEvent for broadcast.
func NewOrderEvent(e OrderEvent) Event { return newEvent("order", 0, e) }
