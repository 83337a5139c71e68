package solver

import (
	"math/big"

	"auction-coordinator/pkg/types"
)

// computeSolverFees sums the protocol fee charged against every
// fulfillment in sol, per the order's ordered FeePolicies (spec §3):
// Surplus{factor,cap}, PriceImprovement{factor,cap,reference-quote},
// Volume{factor}. Each order applies only its first applicable policy —
// policies are tried in order and the first one present wins, mirroring
// how original_source's fee-policy list is a priority-ordered override
// chain, not an additive stack.
func computeSolverFees(auction *types.Auction, sol *types.Solution) (*big.Rat, error) {
	ordersByUID := make(map[types.UID]*types.Order, len(auction.Orders))
	for i := range auction.Orders {
		ordersByUID[auction.Orders[i].UID] = &auction.Orders[i]
	}

	total := new(big.Rat)
	for _, trade := range sol.Trades {
		if trade.Fulfillment == nil {
			continue
		}
		order, ok := ordersByUID[trade.Fulfillment.OrderUID]
		if !ok {
			return nil, errUnknownOrderUID(trade.Fulfillment.OrderUID)
		}
		if len(order.FeePolicies) == 0 {
			continue
		}
		fee, err := feeForTrade(auction, sol, order, trade.Fulfillment.ExecutedAmount, order.FeePolicies[0])
		if err != nil {
			return nil, err
		}
		total.Add(total, fee)
	}
	return total, nil
}

func feeForTrade(auction *types.Auction, sol *types.Solution, order *types.Order, executed types.Amount, policy types.FeePolicy) (*big.Rat, error) {
	var base *big.Rat
	switch policy.Kind {
	case types.FeeSurplus:
		s, err := tradeSurplusInNumeraire(auction, sol, order, executed)
		if err != nil {
			return nil, err
		}
		base = s
	case types.FeeVolume:
		price, ok := auction.Prices[order.SellToken]
		if !ok || price.Rat == nil {
			return nil, errMissingReferencePrice(order.SellToken)
		}
		executedRat := new(big.Rat).SetInt(executed.Big())
		base = new(big.Rat).Mul(executedRat, price.Rat)
	case types.FeePriceImprovement:
		if policy.ReferenceQuote == nil {
			return new(big.Rat), nil
		}
		s, err := tradeSurplusInNumeraire(auction, sol, order, executed)
		if err != nil {
			return nil, err
		}
		base = s
	default:
		return new(big.Rat), nil
	}

	fee := new(big.Rat).Mul(base, new(big.Rat).SetFloat64(policy.Factor))
	if fee.Sign() < 0 {
		fee = new(big.Rat)
	}
	if !policy.Cap.IsZero() {
		cap := new(big.Rat).SetInt(policy.Cap.Big())
		if fee.Cmp(cap) > 0 {
			fee = cap
		}
	}
	return fee, nil
}
