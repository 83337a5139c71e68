package validate

import (
	"testing"

	"auction-coordinator/pkg/types"
)

func amt(v uint64) types.Amount { return types.NewAmount(v) }

func TestOffMarketBuyOnMarket(t *testing.T) {
	// order.sell=10, order.buy=5; quote.sell=10, quote.buy=5, fee=0:
	// 10*5 < 10*5 is false -> on market.
	if OffMarket(types.Buy, amt(10), amt(5), amt(10), amt(5), amt(0)) {
		t.Fatalf("expected on-market order to not be flagged off-market")
	}
}

func TestOffMarketBuyOffMarket(t *testing.T) {
	// order wants far more buy per sell than the quote offers.
	if !OffMarket(types.Buy, amt(10), amt(100), amt(10), amt(5), amt(0)) {
		t.Fatalf("expected clearly unfavorable buy order to be off-market")
	}
}

// TestOffMarketSymmetry checks Testable Property #2's underlying algebraic
// relationship: the Buy-side and Sell-side formulas are mirrors of one
// another (see DESIGN.md note), so swapping which pair is the "order" and
// which is the "quote" complements the result away from the exact-price
// boundary.
func TestOffMarketSymmetry(t *testing.T) {
	cases := []struct{ a, b, s, q uint64 }{
		{10, 100, 10, 5},
		{10, 1, 10, 5},
		{7, 3, 11, 4},
	}
	for _, c := range cases {
		buyResult, sellResult := OffMarketSymmetric(amt(c.a), amt(c.b), amt(c.s), amt(c.q))
		if buyResult == sellResult {
			t.Fatalf("case %+v: expected complementary results, got buy=%v sell=%v", c, buyResult, sellResult)
		}
	}
}

func TestOffMarketSellZeroQuoteSellIsConservativelyOffMarket(t *testing.T) {
	if !OffMarket(types.Sell, amt(5), amt(5), amt(0), amt(5), amt(0)) {
		t.Fatalf("zero quote.sell must be treated conservatively as off-market")
	}
}

func TestOffMarketOverflowIsConservativelyOffMarket(t *testing.T) {
	max, _ := types.AmountFromDecimalString("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if !OffMarket(types.Buy, max, max, max, max, max) {
		t.Fatalf("an overflowing comparison must be treated conservatively as off-market")
	}
}
