package validate

import (
	"auction-coordinator/pkg/types"
)

// OffMarket implements spec §4.5's off-market test:
//
//	Buy:  order.sell · quote.buy < (quote.sell + quote.fee) · order.buy
//	Sell: quote.buy' = quote.buy − quote.fee·quote.buy/quote.sell;
//	      order.sell · quote.buy' < quote.sell · order.buy
//
// Multiplications are performed in widened (512-bit-equivalent) precision
// via types.WidenedLess/types.MulDiv so a near-ceiling order never
// silently overflows; on overflow the order is conservatively treated as
// off-market (spec §9(b) — a known, intentional conservative choice).
func OffMarket(side types.Side, orderSell, orderBuy, quoteSell, quoteBuy, quoteFee types.Amount) bool {
	switch side {
	case types.Buy:
		lhs := orderSell
		rhsLeft, ok := quoteSell.Add(quoteFee)
		if !ok {
			return true // overflow -> conservatively off-market
		}
		return types.WidenedLess(lhs, quoteBuy, rhsLeft, orderBuy)
	case types.Sell:
		if quoteSell.IsZero() {
			return true
		}
		feeShare, ok := types.MulDiv(quoteFee, quoteBuy, quoteSell)
		if !ok {
			return true
		}
		adjustedBuy, ok := quoteBuy.Sub(feeShare)
		if !ok {
			return true
		}
		return types.WidenedLess(orderSell, adjustedBuy, quoteSell, orderBuy)
	default:
		return true
	}
}

// OffMarketSymmetric is the mirror form used by Testable Property #2: for
// a Buy order (sell=a,buy=b) and a zero-fee quote (sell=s,buy=q), it
// returns off_market(a,b,s,q) with side=Buy and off_market(s,q,a,b) with
// side swapped to Sell (fee=0 on both sides). These reduce to a*q < s*b
// and s*b < a*q, so the two results are complementary except at
// a*q == s*b, where both are false (see DESIGN.md's Property #2 note).
func OffMarketSymmetric(a, b, s, q types.Amount) (buyResult, sellResult bool) {
	zero := types.NewAmount(0)
	buyResult = OffMarket(types.Buy, a, b, s, q, zero)
	sellResult = OffMarket(types.Sell, s, q, a, b, zero)
	return
}
