// Package coordinator is the top-level per-round orchestrator: it owns
// every component's lifecycle (spec §5's concurrency model) and drives
// the build -> compete -> score -> encode -> submit pipeline on a fixed
// interval, the same way the teacher's internal/engine.Engine owns every
// market-maker goroutine's lifecycle and drives its per-market loop.
package coordinator

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"auction-coordinator/internal/auction"
	"auction-coordinator/internal/chain"
	"auction-coordinator/internal/dashboard"
	"auction-coordinator/internal/index"
	"auction-coordinator/internal/observability"
	"auction-coordinator/internal/orderbook"
	"auction-coordinator/internal/settlement/encode"
	"auction-coordinator/internal/settlement/submit"
	"auction-coordinator/internal/solver"
	"auction-coordinator/pkg/types"
)

// GasPriceSource supplies the current gas price used to cost a
// candidate's objective (spec §4.9's Surplus + Fees - Gas*GasPrice).
type GasPriceSource interface {
	GasPrice(ctx context.Context) (*big.Rat, error)
}

// Config bounds one round's cadence and history retention.
type Config struct {
	RoundInterval       time.Duration
	DeadlineBlockBuffer uint64
	AvgBlockTime        time.Duration
	RoundHistory        int
	SolverCount         int
}

// Coordinator wires the Auction Builder, Solver Driver, Settlement
// Encoder, and Settlement Submitter into one per-round pipeline, and
// feeds its outcomes to the dashboard's event stream and the process's
// metrics registry.
type Coordinator struct {
	book      *orderbook.Book
	builder   *auction.Builder
	driver    *solver.Driver
	encoder   *encode.Encoder
	submitter *submit.Submitter
	watcher   *chain.Watcher
	indexer   *index.Indexer
	keys      []submit.Key
	gasPrice  GasPriceSource
	dash      *dashboard.Server
	metrics   *observability.Metrics
	cfg       Config
	logger    *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	rounds   []dashboard.RoundEvent
	pending  map[types.AuctionID][]dashboard.SettlementEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator. dash and metrics may be nil to disable
// dashboard broadcast / metrics recording (e.g. in tests).
func New(
	book *orderbook.Book,
	builder *auction.Builder,
	driver *solver.Driver,
	encoder *encode.Encoder,
	submitter *submit.Submitter,
	watcher *chain.Watcher,
	indexer *index.Indexer,
	keys []submit.Key,
	gasPrice GasPriceSource,
	dash *dashboard.Server,
	metrics *observability.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if cfg.RoundHistory <= 0 {
		cfg.RoundHistory = 50
	}
	return &Coordinator{
		book:      book,
		builder:   builder,
		driver:    driver,
		encoder:   encoder,
		submitter: submitter,
		watcher:   watcher,
		indexer:   indexer,
		keys:      keys,
		gasPrice:  gasPrice,
		dash:      dash,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With("component", "coordinator"),
		pending:   make(map[types.AuctionID][]dashboard.SettlementEvent),
	}
}

// Start launches the block watcher, event indexer, and the round loop,
// each in its own goroutine, and returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watcher.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.indexer.Run(ctx, c.watcher.BufferingSubscribe())
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.roundLoop(ctx)
	}()

	c.logger.Info("coordinator started", "round_interval", c.cfg.RoundInterval)
}

// SetDashboard wires a dashboard server in after construction, since the
// dashboard's Provider (this Coordinator) must itself exist before the
// dashboard server can be built.
func (c *Coordinator) SetDashboard(dash *dashboard.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dash = dash
}

// Stop cancels every owned goroutine and waits for them to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) roundLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RoundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runRound(ctx)
		}
	}
}

func (c *Coordinator) runRound(ctx context.Context) {
	id := c.allocateID()
	start := time.Now()

	current, _ := c.watcher.Current()
	auc := c.builder.Build(ctx, id, auction.Config{
		RoundInterval: c.cfg.RoundInterval,
		DeadlineBlock: current.Number + c.cfg.DeadlineBlockBuffer,
	})

	if len(auc.Orders) == 0 {
		c.logger.Debug("round skipped: no solvable orders", "auction_id", id)
		return
	}

	gasPrice, err := c.gasPrice.GasPrice(ctx)
	if err != nil {
		c.logger.Warn("gas price lookup failed", "auction_id", id, "error", err)
		gasPrice = big.NewRat(0, 1)
	}

	rated, err := c.driver.Compete(ctx, auc, gasPrice)
	if err != nil {
		c.logger.Error("solver competition failed", "auction_id", id, "error", err)
		c.recordRound(id, auc, nil, time.Since(start))
		c.countOutcome("error")
		return
	}
	if rated == nil {
		c.logger.Info("round produced no winning solution", "auction_id", id, "orders", len(auc.Orders))
		c.recordRound(id, auc, nil, time.Since(start))
		c.countOutcome("no_solution")
		return
	}

	c.recordRound(id, auc, rated, time.Since(start))
	c.countOutcome("won")

	tx, err := c.encoder.Encode(ctx, auc, &rated.Solution)
	if err != nil {
		c.logger.Error("settlement encoding failed", "auction_id", id, "error", err)
		return
	}

	updates := c.submitter.Submit(ctx, tx, c.keys, auc.DeadlineBlock)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watchSubmission(id, updates)
	}()
}

func (c *Coordinator) allocateID() types.AuctionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return types.AuctionID(c.nextID)
}

func (c *Coordinator) recordRound(id types.AuctionID, auc *types.Auction, rated *types.RatedSolution, dur time.Duration) {
	evt := dashboard.RoundEvent{
		AuctionID:   id,
		OrderCount:  len(auc.Orders),
		SolverCount: c.cfg.SolverCount,
		Duration:    dur,
	}
	if rated != nil {
		evt.WinningSolver = rated.Solution.SolverID
		evt.Objective = rated.Objective().FloatString(18)
	}

	c.mu.Lock()
	c.rounds = append(c.rounds, evt)
	if len(c.rounds) > c.cfg.RoundHistory {
		c.rounds = c.rounds[len(c.rounds)-c.cfg.RoundHistory:]
	}
	c.mu.Unlock()

	if c.dash != nil {
		c.dash.Broadcast(dashboard.NewRoundEvent(evt))
	}
	if c.metrics != nil {
		c.metrics.AuctionRoundDuration.Observe(dur.Seconds())
	}
}

func (c *Coordinator) countOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.AuctionRoundsTotal.WithLabelValues(outcome).Inc()
	}
}

// watchSubmission drains one auction's submission attempts, broadcasting
// each state transition and keeping the PendingSettlements read-model
// current until every key's attempt reaches a terminal state.
func (c *Coordinator) watchSubmission(id types.AuctionID, updates <-chan submit.Attempt) {
	for a := range updates {
		evt := dashboard.SettlementEvent{
			AuctionID: id,
			TxHash:    a.TxHash.Hex(),
			Mempool:   a.Key.Mempool.Name(),
			State:     a.State.String(),
			Block:     a.Block,
		}

		c.mu.Lock()
		c.updatePendingLocked(id, evt, a.State)
		c.mu.Unlock()

		if c.dash != nil {
			c.dash.Broadcast(dashboard.NewSettlementEvent(evt))
		}
		if c.metrics != nil {
			c.metrics.SettlementAttempts.WithLabelValues(evt.Mempool, evt.State).Inc()
		}
		c.logger.Info("settlement attempt", "auction_id", id, "mempool", evt.Mempool, "state", evt.State, "reason", a.Reason)
	}
}

func (c *Coordinator) updatePendingLocked(id types.AuctionID, evt dashboard.SettlementEvent, state submit.State) {
	attempts := c.pending[id]
	replaced := false
	for i, existing := range attempts {
		if existing.Mempool == evt.Mempool {
			attempts[i] = evt
			replaced = true
			break
		}
	}
	if !replaced {
		attempts = append(attempts, evt)
	}

	if state != submit.StatePending {
		allTerminal := true
		for _, existing := range attempts {
			if existing.State == submit.StatePending.String() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			delete(c.pending, id)
			return
		}
	}
	c.pending[id] = attempts
}

// ActiveOrderCount satisfies dashboard.Provider.
func (c *Coordinator) ActiveOrderCount() int {
	return len(c.book.SolvableOrders())
}

// RecentRounds satisfies dashboard.Provider.
func (c *Coordinator) RecentRounds(limit int) []dashboard.RoundEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 || limit >= len(c.rounds) {
		out := make([]dashboard.RoundEvent, len(c.rounds))
		copy(out, c.rounds)
		return out
	}
	out := make([]dashboard.RoundEvent, limit)
	copy(out, c.rounds[len(c.rounds)-limit:])
	return out
}

// PendingSettlements satisfies dashboard.Provider.
func (c *Coordinator) PendingSettlements() []dashboard.SettlementEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]dashboard.SettlementEvent, 0, len(c.pending))
	for _, attempts := range c.pending {
		out = append(out, attempts...)
	}
	return out
}
