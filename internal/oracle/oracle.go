// Package oracle implements the price oracle (spec §4.3): native-token
// prices and a gas-price estimate, both served from a competition of
// pluggable estimators. Grounded on the teacher's
// internal/exchange/auth.go PriceToAmounts discipline of never touching
// float64 for money, generalized from shopspring/decimal-valued order
// prices to shopspring/decimal-valued oracle quotes.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RankingMode selects how competing estimator results are ranked against
// each other (spec §4.3).
type RankingMode int

const (
	// MaxOutAmount prefers the estimator reporting the largest raw
	// out-amount, ignoring gas cost.
	MaxOutAmount RankingMode = iota
	// BestBangForBuck prefers the estimator whose out-amount, minus the
	// gas cost the estimator reports (in token units), is largest.
	BestBangForBuck
)

// VerificationPolicy controls how verified vs unverified estimates are
// ranked relative to one another.
type VerificationPolicy int

const (
	// Prefer ranks verified estimates above unverified ones but still
	// falls back to an unverified estimate if none are verified.
	Prefer VerificationPolicy = iota
	// RequireWhenPossible discards unverified estimates whenever at
	// least one verified estimate exists.
	RequireWhenPossible
)

// GasEstimate mirrors EIP-1559 fee parameters.
type GasEstimate struct {
	BaseFee     decimal.Decimal
	MaxFee      decimal.Decimal
	PriorityFee decimal.Decimal
}

// priceResult is one estimator's answer to NativePrice, prior to ranking.
type priceResult struct {
	estimatorName string
	price         decimal.Decimal // token amount per unit of native token
	outAmount     decimal.Decimal // raw out-amount this estimate implies, for ranking
	gasCost       decimal.Decimal // gas cost of realizing this price, in token units
	verified      bool
}

// Estimator is an external price source (spec §1: price-feed integrations
// are out of scope; this is the seam a real estimator plugs into).
type Estimator interface {
	Name() string
	// NativePrice returns token amount per unit of native token, the
	// out-amount the estimate implies, the gas cost of realizing it (in
	// token units), and whether the estimate is cryptographically or
	// liquidity-verified.
	NativePrice(ctx context.Context, token common.Address) (price, outAmount, gasCost decimal.Decimal, verified bool, err error)
	GasPrice(ctx context.Context) (GasEstimate, error)
}

var (
	// ErrNoEstimators is returned when no estimator produced a usable
	// (non-zero-gas) result.
	ErrNoEstimators = errors.New("oracle: no estimator produced a usable price")
)

// Oracle competes a set of Estimators and serves the winning price per
// the configured RankingMode/VerificationPolicy.
type Oracle struct {
	estimators []Estimator
	ranking    RankingMode
	policy     VerificationPolicy
}

// New constructs an Oracle over the given estimators.
func New(estimators []Estimator, ranking RankingMode, policy VerificationPolicy) *Oracle {
	return &Oracle{estimators: estimators, ranking: ranking, policy: policy}
}

// NativePrice runs every registered estimator and returns the winner's
// price per spec §4.3. Estimators reporting zero gas cost are discarded
// (spec: "Estimators reporting zero gas are discarded").
func (o *Oracle) NativePrice(ctx context.Context, token common.Address) (decimal.Decimal, bool, error) {
	var results []priceResult
	for _, e := range o.estimators {
		price, outAmount, gasCost, verified, err := e.NativePrice(ctx, token)
		if err != nil {
			continue
		}
		if gasCost.IsZero() {
			continue
		}
		results = append(results, priceResult{
			estimatorName: e.Name(),
			price:         price,
			outAmount:     outAmount,
			gasCost:       gasCost,
			verified:      verified,
		})
	}
	if len(results) == 0 {
		return decimal.Decimal{}, false, ErrNoEstimators
	}

	candidates := results
	if o.policy == RequireWhenPossible && anyVerified(results) {
		candidates = onlyVerified(results)
	}

	best := rankBest(candidates, o.ranking, o.policy)
	return best.price, best.verified, nil
}

// GasPrice returns the gas-price estimate from the first estimator that
// succeeds, in registration order — gas price is a market-wide quantity,
// not a per-token one, so there is nothing to rank across estimators
// beyond "first that answers."
func (o *Oracle) GasPrice(ctx context.Context) (GasEstimate, error) {
	var lastErr error
	for _, e := range o.estimators {
		g, err := e.GasPrice(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return g, nil
	}
	if lastErr != nil {
		return GasEstimate{}, fmt.Errorf("oracle: all gas price estimators failed: %w", lastErr)
	}
	return GasEstimate{}, ErrNoEstimators
}

func anyVerified(rs []priceResult) bool {
	for _, r := range rs {
		if r.verified {
			return true
		}
	}
	return false
}

func onlyVerified(rs []priceResult) []priceResult {
	out := make([]priceResult, 0, len(rs))
	for _, r := range rs {
		if r.verified {
			out = append(out, r)
		}
	}
	return out
}

func rankBest(rs []priceResult, ranking RankingMode, policy VerificationPolicy) priceResult {
	best := rs[0]
	for _, r := range rs[1:] {
		if better(r, best, ranking, policy) {
			best = r
		}
	}
	return best
}

// better reports whether candidate outranks current under Prefer's
// verified-first tie-break, then the configured ranking score.
func better(candidate, current priceResult, ranking RankingMode, policy VerificationPolicy) bool {
	if policy == Prefer && candidate.verified != current.verified {
		return candidate.verified
	}
	return score(candidate, ranking).GreaterThan(score(current, ranking))
}

func score(r priceResult, ranking RankingMode) decimal.Decimal {
	if ranking == MaxOutAmount {
		return r.outAmount
	}
	// BestBangForBuck: out-amount net of gas cost.
	return r.outAmount.Sub(r.gasCost)
}
