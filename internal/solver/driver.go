// Package solver implements the Solver Driver (spec §4.9): broadcasts an
// auction to every registered solver endpoint, collects Solutions under
// deadline, filters and scores them, optionally merges compatible ones,
// and selects a winner.
package solver

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"auction-coordinator/pkg/types"
)

// Evaluator speculatively encodes and simulates a candidate Solution to
// produce a gas estimate (spec §4.9: "encode the settlement speculatively
// (§4.10) and simulate eth_call"). This is the seam the real settlement
// encoder + an eth_call-capable RPC client satisfy; the driver never
// constructs calldata itself.
type Evaluator interface {
	EstimateGas(ctx context.Context, auction *types.Auction, sol *types.Solution) (gas uint64, reverted bool, err error)
}

// Config bounds one round's competition.
type Config struct {
	ScoringBuffer time.Duration
	MaxMerges     int
}

// NewOutcomesCollector builds the solver-outcomes counter vec this
// package reports through. Construction is the caller's responsibility
// (spec §9: "a process-wide metrics registry with explicit
// initialization at startup; no mutable global per round") — the caller
// registers it against its own *prometheus.Registry and passes it to New.
func NewOutcomesCollector() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Subsystem: "solver",
		Name:      "outcomes_total",
		Help:      "Count of solver competition outcomes, labelled by solver and outcome.",
	}, []string{"solver", "outcome"})
}

// Driver runs one round's solver competition.
type Driver struct {
	endpoints []*Endpoint
	evaluator Evaluator
	cfg       Config
	logger    *slog.Logger
	outcomes  *prometheus.CounterVec
}

// New constructs a Solver Driver over the given endpoints. outcomes may
// be nil to disable outcome counting (e.g. in tests).
func New(endpoints []*Endpoint, evaluator Evaluator, cfg Config, outcomes *prometheus.CounterVec, logger *slog.Logger) *Driver {
	return &Driver{endpoints: endpoints, evaluator: evaluator, cfg: cfg, outcomes: outcomes, logger: logger.With("component", "solver_driver")}
}

// countOutcome is a nil-safe wrapper since outcomes may be unset in tests.
func (d *Driver) countOutcome(solver, outcome string) {
	if d.outcomes != nil {
		d.outcomes.WithLabelValues(solver, outcome).Inc()
	}
}

// Compete runs the full spec §4.9 flow for one auction and returns the
// winning RatedSolution, or nil if no valid solution exists.
func (d *Driver) Compete(ctx context.Context, auction *types.Auction, gasPrice *big.Rat) (*types.RatedSolution, error) {
	ctx, cancel := context.WithDeadline(ctx, auction.Deadline.Add(-d.cfg.ScoringBuffer))
	defer cancel()

	raw := d.broadcast(ctx, auction)
	filtered := d.filterDuplicatesAndEmpty(raw)
	merged := tryMergeAll(filtered, d.cfg.MaxMerges)

	var best *types.RatedSolution
	for _, sol := range merged {
		rated := d.score(ctx, auction, sol, gasPrice)
		if rated.RejectionReason != "" {
			d.countOutcome(sol.SolverID, rated.RejectionReason)
			continue
		}
		d.countOutcome(sol.SolverID, "success")
		if best == nil || winnerLess(best, rated) {
			best = rated
		}
	}
	return best, nil
}

// RunOnce satisfies internal/quote.SolverRunner: run one competition pass
// and return the raw winning Solution (without scoring metadata), for the
// quote service's counter-amount derivation.
func (d *Driver) RunOnce(ctx context.Context, auction *types.Auction) (*types.Solution, error) {
	rated, err := d.Compete(ctx, auction, big.NewRat(0, 1))
	if err != nil || rated == nil {
		return nil, err
	}
	return &rated.Solution, nil
}

// broadcast issues /solve against every endpoint concurrently and
// collects whatever Solutions arrive before ctx's deadline.
func (d *Driver) broadcast(ctx context.Context, auction *types.Auction) []*types.Solution {
	req := toAuctionDTO(auction)

	var (
		mu      sync.Mutex
		results []*types.Solution
		wg      sync.WaitGroup
	)
	for _, ep := range d.endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			resp, err := ep.Solve(ctx, req)
			if err != nil {
				d.logger.Warn("solver call failed", "solver", ep.ID, "error", err)
				d.countOutcome(ep.ID, string(types.ReasonSolverHTTP))
				return
			}
			for _, dto := range resp.Solutions {
				sol, err := fromSolutionDTO(ep.ID, dto)
				if err != nil {
					d.logger.Warn("malformed solution", "solver", ep.ID, "error", err)
					d.countOutcome(ep.ID, string(types.ReasonSolverDeserialize))
					continue
				}
				mu.Lock()
				results = append(results, sol)
				mu.Unlock()
			}
		}(ep)
	}
	wg.Wait()
	return results
}

// filterDuplicatesAndEmpty drops solutions with a duplicate id per solver
// and solutions with no trades at all (spec §4.9). Any JIT trade makes a
// solution non-empty, whether or not its owner is in the auction's
// surplus-capturing set.
func (d *Driver) filterDuplicatesAndEmpty(sols []*types.Solution) []*types.Solution {
	seen := make(map[string]map[string]bool)
	out := make([]*types.Solution, 0, len(sols))
	for _, s := range sols {
		if seen[s.SolverID] == nil {
			seen[s.SolverID] = make(map[string]bool)
		}
		if seen[s.SolverID][s.ID] {
			d.countOutcome(s.SolverID, string(types.ReasonSolverDuplicateID))
			continue
		}
		seen[s.SolverID][s.ID] = true

		if isEmpty(s) {
			d.countOutcome(s.SolverID, string(types.ReasonSolverEmptySolution))
			continue
		}
		out = append(out, s)
	}
	return out
}

func isEmpty(s *types.Solution) bool {
	for _, t := range s.Trades {
		if t.Fulfillment != nil {
			return false
		}
		if t.Jit != nil {
			return false
		}
	}
	return true
}

// score runs the surplus/gas/asset-flow pipeline for one candidate
// solution and returns a RatedSolution; a disqualifying condition sets
// RejectionReason instead of returning an error, since disqualification
// is an expected outcome, not a driver failure.
func (d *Driver) score(ctx context.Context, auction *types.Auction, sol *types.Solution, gasPrice *big.Rat) *types.RatedSolution {
	if err := verifyAssetFlow(auction, sol); err != nil {
		return &types.RatedSolution{Solution: *sol, RejectionReason: string(types.ReasonSettlementInvalidAssetFlow)}
	}

	gas, reverted, err := d.evaluator.EstimateGas(ctx, auction, sol)
	if err != nil {
		return &types.RatedSolution{Solution: *sol, RejectionReason: string(types.ReasonSettlementSimulationRevert)}
	}
	if reverted || gas == 0 {
		return &types.RatedSolution{Solution: *sol, RejectionReason: string(types.ReasonSettlementSimulationRevert)}
	}

	surplus, err := computeSurplus(auction, sol)
	if err != nil {
		return &types.RatedSolution{Solution: *sol, RejectionReason: string(types.ReasonSettlementScoring)}
	}
	fees, err := computeSolverFees(auction, sol)
	if err != nil {
		return &types.RatedSolution{Solution: *sol, RejectionReason: string(types.ReasonSettlementScoring)}
	}

	return &types.RatedSolution{
		Solution:    *sol,
		Surplus:     surplus,
		SolverFees:  fees,
		GasEstimate: new(big.Rat).SetUint64(gas),
		GasPrice:    gasPrice,
	}
}

// winnerLess reports whether candidate outranks current: maximum
// objective wins; ties broken by lower gas estimate, then solver id
// lexicographic (spec §4.9).
func winnerLess(current, candidate *types.RatedSolution) bool {
	cmp := candidate.Objective().Cmp(current.Objective())
	if cmp != 0 {
		return cmp > 0
	}
	gasCmp := candidate.GasEstimate.Cmp(current.GasEstimate)
	if gasCmp != 0 {
		return gasCmp < 0
	}
	return candidate.Solution.SolverID < current.Solution.SolverID
}
