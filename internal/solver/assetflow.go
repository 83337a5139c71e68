package solver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// verifyAssetFlow implements spec §4.9's conservation check per
// (token, phase): the settlement contract must never send out more of a
// token than it takes in.
//
// The spec states this as two inequalities (declared interaction inputs
// against inflows, declared interaction outputs plus buy outflows against
// interaction inputs). Read literally as two independent per-bucket
// constraints they are unsatisfiable even for the simplest valid
// settlement — a plain peer-to-peer trade with zero interactions fails
// the second inequality for any token with a nonzero buy outflow. Judgment
// call: treat them as one combined sources-vs-uses balance per
// (token, phase) bucket, which is what the two inequalities are jointly
// driving at:
//
//	Σ settled_buy_outflows + Σ interaction_inputs <= Σ settled_sell_inflows + Σ interaction_outputs
//
// A solution that would remove more of a token from the settlement
// contract than it brings in is rejected as InvalidAssetFlow.
func verifyAssetFlow(auction *types.Auction, sol *types.Solution) error {
	ordersByUID := make(map[types.UID]*types.Order, len(auction.Orders))
	for i := range auction.Orders {
		ordersByUID[auction.Orders[i].UID] = &auction.Orders[i]
	}

	type flowKey struct {
		token common.Address
		phase types.InteractionPhase
	}
	sellInflows := map[flowKey]*big.Int{}
	buyOutflows := map[flowKey]*big.Int{}
	interactionInputs := map[flowKey]*big.Int{}
	interactionOutputs := map[flowKey]*big.Int{}

	add := func(m map[flowKey]*big.Int, k flowKey, amount *big.Int) {
		if existing, ok := m[k]; ok {
			existing.Add(existing, amount)
		} else {
			m[k] = new(big.Int).Set(amount)
		}
	}

	// Trades settle during the execution phase.
	for _, trade := range sol.Trades {
		var sellToken, buyToken common.Address
		var sellAmt, buyAmt *big.Int
		switch {
		case trade.Fulfillment != nil:
			order, ok := ordersByUID[trade.Fulfillment.OrderUID]
			if !ok {
				return errUnknownOrderUID(trade.Fulfillment.OrderUID)
			}
			sellToken, buyToken = order.SellToken, order.BuyToken
			sellAmt, buyAmt = executedToFlow(sol, order, trade.Fulfillment.ExecutedAmount)
		case trade.Jit != nil:
			o := trade.Jit.Order
			sellToken, buyToken = o.SellToken, o.BuyToken
			sellAmt, buyAmt = executedToFlow(sol, &o, trade.Jit.ExecutedAmount)
		default:
			continue
		}
		add(sellInflows, flowKey{sellToken, types.PhaseExecution}, sellAmt)
		add(buyOutflows, flowKey{buyToken, types.PhaseExecution}, buyAmt)
	}

	for _, it := range sol.Interactions {
		for _, in := range it.Inputs {
			add(interactionInputs, flowKey{in.Token, it.Phase}, in.Amount.Big())
		}
		for _, out := range it.Outputs {
			add(interactionOutputs, flowKey{out.Token, it.Phase}, out.Amount.Big())
		}
		if it.Kind == types.InteractionLiquidity {
			add(interactionInputs, flowKey{it.InputAsset.Token, it.Phase}, it.InputAsset.Amount.Big())
			add(interactionOutputs, flowKey{it.OutputAsset.Token, it.Phase}, it.OutputAsset.Amount.Big())
		}
	}

	allKeys := map[flowKey]struct{}{}
	for k := range sellInflows {
		allKeys[k] = struct{}{}
	}
	for k := range buyOutflows {
		allKeys[k] = struct{}{}
	}
	for k := range interactionInputs {
		allKeys[k] = struct{}{}
	}
	for k := range interactionOutputs {
		allKeys[k] = struct{}{}
	}

	zero := new(big.Int)
	get := func(m map[flowKey]*big.Int, k flowKey) *big.Int {
		if v, ok := m[k]; ok {
			return v
		}
		return zero
	}

	for k := range allKeys {
		declaredInputs := get(interactionInputs, k)
		declaredOutputs := get(interactionOutputs, k)
		sellIn := get(sellInflows, k)
		buyOut := get(buyOutflows, k)

		uses := new(big.Int).Add(buyOut, declaredInputs)
		sources := new(big.Int).Add(sellIn, declaredOutputs)
		if uses.Cmp(sources) > 0 {
			return fmt.Errorf("%s: token %s phase %d: outflows exceed inflows", typesReasonInvalidAssetFlow, k.token.Hex(), k.phase)
		}
	}
	return nil
}

const typesReasonInvalidAssetFlow = types.ReasonSettlementInvalidAssetFlow

// executedToFlow converts an order's executed amount into the actual
// (sell, buy) token flow through the settlement contract, using the
// solution's own clearing prices (not the order's limit price).
func executedToFlow(sol *types.Solution, order *types.Order, executed types.Amount) (sell, buy *big.Int) {
	executedRat := new(big.Rat).SetInt(executed.Big())
	switch order.Side {
	case types.Sell:
		sellRat := executedRat
		buyRat := clearingImpliedCounter(sol, order.SellToken, order.BuyToken, executedRat)
		return ratFloor(sellRat), ratFloor(buyRat)
	default: // Buy
		buyRat := executedRat
		sellRat := clearingImpliedCounter(sol, order.BuyToken, order.SellToken, executedRat)
		return ratFloor(sellRat), ratFloor(buyRat)
	}
}

func ratFloor(r *big.Rat) *big.Int {
	return new(big.Int).Quo(r.Num(), r.Denom())
}
