package solver

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// computeSurplus implements spec §4.9's surplus formula: for each
// fulfillment, surplus in the buy token is
//
//	executed_buy − order.buy·executed_sell/order.sell     (sells)
//
// and the mirror for buys, converted to the auction's numéraire via
// reference prices and summed. JIT trades from surplus-capturing owners
// contribute; other JITs do not. executed_buy (the amount actually
// realized) comes from the Solution's own uniform clearing prices, never
// from the order's limit price or the auction's reference prices.
func computeSurplus(auction *types.Auction, sol *types.Solution) (*big.Rat, error) {
	ordersByUID := make(map[types.UID]*types.Order, len(auction.Orders))
	for i := range auction.Orders {
		ordersByUID[auction.Orders[i].UID] = &auction.Orders[i]
	}

	total := new(big.Rat)
	for _, trade := range sol.Trades {
		switch {
		case trade.Fulfillment != nil:
			order, ok := ordersByUID[trade.Fulfillment.OrderUID]
			if !ok {
				return nil, errUnknownOrderUID(trade.Fulfillment.OrderUID)
			}
			s, err := tradeSurplusInNumeraire(auction, sol, order, trade.Fulfillment.ExecutedAmount)
			if err != nil {
				return nil, err
			}
			total.Add(total, s)
		case trade.Jit != nil:
			if !auction.SurplusCapturingJitOwners[trade.Jit.Order.Owner] {
				continue
			}
			s, err := tradeSurplusInNumeraire(auction, sol, &trade.Jit.Order, trade.Jit.ExecutedAmount)
			if err != nil {
				return nil, err
			}
			total.Add(total, s)
		}
	}
	return total, nil
}

// tradeSurplusInNumeraire computes one trade's surplus, then converts to
// the auction's numéraire via the relevant token's reference price.
func tradeSurplusInNumeraire(auction *types.Auction, sol *types.Solution, order *types.Order, executedAmount types.Amount) (*big.Rat, error) {
	sellAmt := new(big.Rat).SetInt(order.SellAmount.Big())
	buyAmt := new(big.Rat).SetInt(order.BuyAmount.Big())
	executed := new(big.Rat).SetInt(executedAmount.Big())

	var surplus *big.Rat
	switch order.Side {
	case types.Sell:
		// executed is on the sell side; surplus is measured in the buy
		// token: what the settlement actually delivers versus the order's
		// limit-implied minimum.
		expectedBuy := new(big.Rat).Mul(buyAmt, executed)
		expectedBuy.Quo(expectedBuy, sellAmt)
		actualBuy := clearingImpliedCounter(sol, order.SellToken, order.BuyToken, executed)
		surplus = new(big.Rat).Sub(actualBuy, expectedBuy)
	case types.Buy:
		// executed is on the buy side; surplus is measured in the sell
		// token: what the limit would have paid versus what settlement
		// actually charges.
		expectedSell := new(big.Rat).Mul(sellAmt, executed)
		expectedSell.Quo(expectedSell, buyAmt)
		actualSell := clearingImpliedCounter(sol, order.BuyToken, order.SellToken, executed)
		surplus = new(big.Rat).Sub(expectedSell, actualSell)
	default:
		return nil, errUnsupportedSide
	}

	token := order.BuyToken
	if order.Side == types.Buy {
		token = order.SellToken
	}
	price, ok := auction.Prices[token]
	if !ok || price.Rat == nil {
		return nil, errMissingReferencePrice(token)
	}
	return new(big.Rat).Mul(surplus, price.Rat), nil
}

// clearingImpliedCounter converts amount of fromToken into toToken using
// the Solution's own uniform clearing prices (the actual price the
// settlement executes at, never the order's limit price or the auction's
// reference price).
func clearingImpliedCounter(sol *types.Solution, fromToken, toToken common.Address, amount *big.Rat) *big.Rat {
	fromPrice, okF := sol.Prices[fromToken]
	toPrice, okT := sol.Prices[toToken]
	if !okF || !okT || fromPrice.Rat == nil || toPrice.Rat == nil || toPrice.Rat.Sign() == 0 {
		return new(big.Rat)
	}
	out := new(big.Rat).Mul(amount, fromPrice.Rat)
	out.Quo(out, toPrice.Rat)
	return out
}
