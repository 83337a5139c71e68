package encode

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// tokenVector builds spec §4.10 step 1's token vector: the union of sol's
// clearing-price tokens, followed by each trade's sell- and buy-token,
// skipping tokens already present.
//
// Judgment call: sol.Prices is a map, and so is the wire DTO it was
// decoded from (a JSON object keyed by token address) — neither one
// preserves the solver's original insertion order, so "insertion-ordered"
// is not literally recoverable. Sorting the clearing-price tokens
// lexicographically by address is the deterministic substitute: the
// calldata must come out identical for identical inputs regardless of Go
// map iteration order, which a sort guarantees and a map range does not.
func tokenVector(sol *types.Solution, orderByUID map[types.UID]*types.Order) ([]common.Address, map[common.Address]int, error) {
	index := make(map[common.Address]int)
	var tokens []common.Address

	add := func(tok common.Address) {
		if _, ok := index[tok]; ok {
			return
		}
		index[tok] = len(tokens)
		tokens = append(tokens, tok)
	}

	priced := make([]common.Address, 0, len(sol.Prices))
	for tok := range sol.Prices {
		priced = append(priced, tok)
	}
	sort.Slice(priced, func(i, j int) bool { return bytes.Compare(priced[i][:], priced[j][:]) < 0 })
	for _, tok := range priced {
		add(tok)
	}

	for _, trade := range sol.Trades {
		var sellToken, buyToken common.Address
		switch {
		case trade.Fulfillment != nil:
			order, ok := orderByUID[trade.Fulfillment.OrderUID]
			if !ok {
				return nil, nil, errUnknownOrderUID(trade.Fulfillment.OrderUID)
			}
			sellToken, buyToken = order.SellToken, order.BuyToken
		case trade.Jit != nil:
			sellToken, buyToken = trade.Jit.Order.SellToken, trade.Jit.Order.BuyToken
		default:
			continue
		}
		add(sellToken)
		add(buyToken)
	}

	return tokens, index, nil
}

// scaledClearingPrices converts each token's rational clearing price into
// a single common-scale integer vector: multiplying every price by the
// product of all denominators preserves every pairwise ratio exactly
// while landing on plain integers, which is all the settlement contract's
// on-chain price check needs (spec §6: executed amounts compared via
// clearingPrice[sellIndex] vs clearingPrice[buyIndex], never an absolute
// unit).
func scaledClearingPrices(tokens []common.Address, prices map[common.Address]types.Price) ([]*big.Int, error) {
	denom := big.NewInt(1)
	for _, tok := range tokens {
		p, ok := prices[tok]
		if !ok || p.Rat == nil {
			return nil, errMissingClearingPrice(tok)
		}
		denom.Mul(denom, p.Rat.Denom())
	}

	out := make([]*big.Int, len(tokens))
	for i, tok := range tokens {
		p := prices[tok]
		scaled := new(big.Int).Mul(p.Rat.Num(), denom)
		scaled.Div(scaled, p.Rat.Denom())
		out[i] = scaled
	}
	return out, nil
}
