package solver

import (
	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// mergeCompatible reports whether a and b can be merged per spec §4.9:
// their clearing-price maps must agree on the intersection of tokens, and
// their trade sets must be disjoint.
func mergeCompatible(a, b *types.Solution) bool {
	for tok, pa := range a.Prices {
		pb, ok := b.Prices[tok]
		if !ok {
			continue
		}
		if pa.Rat == nil || pb.Rat == nil || pa.Rat.Cmp(pb.Rat) != 0 {
			return false
		}
	}

	seen := make(map[types.UID]bool, len(a.Trades))
	for _, t := range a.Trades {
		if t.Fulfillment != nil {
			seen[t.Fulfillment.OrderUID] = true
		}
	}
	for _, t := range b.Trades {
		if t.Fulfillment != nil && seen[t.Fulfillment.OrderUID] {
			return false
		}
	}
	return true
}

// merge concatenates a and b's trades and interactions and unions their
// clearing-price maps (already verified consistent by mergeCompatible).
func merge(a, b *types.Solution, mergedID string) *types.Solution {
	prices := make(map[common.Address]types.Price, len(a.Prices)+len(b.Prices))
	for tok, p := range a.Prices {
		prices[tok] = p
	}
	for tok, p := range b.Prices {
		prices[tok] = p
	}
	return &types.Solution{
		ID:           mergedID,
		SolverID:     a.SolverID,
		Prices:       prices,
		Trades:       append(append([]types.Trade{}, a.Trades...), b.Trades...),
		Interactions: append(append([]types.Interaction{}, a.Interactions...), b.Interactions...),
	}
}

// tryMergeAll attempts to merge solutions pairwise, up to maxMerges
// successful merges, greedily combining any two merge-compatible
// solutions it finds. Returns the (possibly extended) solution set.
func tryMergeAll(solutions []*types.Solution, maxMerges int) []*types.Solution {
	out := append([]*types.Solution{}, solutions...)
	merges := 0
	for merges < maxMerges {
		merged := false
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				if !mergeCompatible(out[i], out[j]) {
					continue
				}
				combined := merge(out[i], out[j], out[i].ID+"+"+out[j].ID)
				out = append(out, combined)
				merges++
				merged = true
				break
			}
			if merged {
				break
			}
		}
		if !merged {
			break
		}
	}
	return out
}
