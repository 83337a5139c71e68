// Auction coordinator — an off-chain batch-auction exchange coordination
// core modeled on CoW Protocol's driver: collects signed orders, runs a
// periodic solver competition over them, and submits the winning
// settlement across one or more mempools.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	rpc.go, liquidity.go — concrete RPC/HTTP adapters satisfying the package interfaces below
//	internal/chain        — block watcher (C1)
//	internal/balance       — balance/allowance cache (C2)
//	internal/oracle        — price/gas oracle (C3)
//	internal/orderbook     — order book, the exclusive owner of active orders (C6)
//	internal/validate      — order validation pipeline (C5)
//	internal/quote         — quote service (C4)
//	internal/auction       — auction builder (C8)
//	internal/solver        — solver driver (C9)
//	internal/settlement/encode — settlement encoder (C10)
//	internal/settlement/submit — settlement submitter (C11)
//	internal/index         — event indexer (C12)
//	internal/coordinator   — top-level per-round orchestrator
//	internal/dashboard     — read-only operator status surface
//	internal/observability — logging + metrics
//
// Grounded on the teacher's cmd/bot/main.go: same config-load/validate,
// logger construction, dashboard-then-engine start order, and
// SIGINT/SIGTERM shutdown sequence, generalized from one market-making
// engine to this module's coordinator.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"auction-coordinator/internal/auction"
	"auction-coordinator/internal/balance"
	"auction-coordinator/internal/chain"
	"auction-coordinator/internal/config"
	"auction-coordinator/internal/coordinator"
	"auction-coordinator/internal/dashboard"
	"auction-coordinator/internal/index"
	"auction-coordinator/internal/observability"
	"auction-coordinator/internal/oracle"
	"auction-coordinator/internal/orderbook"
	"auction-coordinator/internal/quote"
	"auction-coordinator/internal/ratelimit"
	"auction-coordinator/internal/settlement/encode"
	"auction-coordinator/internal/settlement/submit"
	"auction-coordinator/internal/solver"
	"auction-coordinator/internal/validate"
	"auction-coordinator/pkg/types"
)

// avgBlockTime approximates the wall-clock spacing between blocks for
// the deadline estimator (coordinator.blockDeadlineAdapter); the chain
// itself is the out-of-scope external collaborator (spec §1), so this is
// a coarse operator-tunable constant rather than a derived measurement.
const avgBlockTime = 12 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AUCTION_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	metrics := observability.NewMetrics()

	eth, err := ethclient.DialContext(context.Background(), cfg.Chain.RPCURL)
	if err != nil {
		logger.Error("failed to dial chain RPC", "error", err)
		os.Exit(1)
	}

	signerKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		logger.Error("invalid chain.private_key", "error", err)
		os.Exit(1)
	}
	signerAddr := crypto.PubkeyToAddress(signerKey.PublicKey)

	settlementAddr := common.HexToAddress(cfg.Chain.SettlementAddr)
	authAddr := common.HexToAddress(cfg.Chain.AuthenticatorAddr)
	chainID := big.NewInt(cfg.Chain.ChainID)

	rpc := newChainClient(eth, settlementAddr, authAddr, chainID, signerKey)

	watcher := chain.New(rpc, cfg.Chain.UpdateInterval, logger)
	balanceCache := balance.New(rpc)

	book, err := orderbook.Load(bookSnapshotPath())
	if err != nil {
		logger.Error("failed to load order book snapshot", "error", err)
		os.Exit(1)
	}
	idx := index.New(rpc, rpc, book, logger)

	estimators := buildEstimators(logger)
	priceOracle := oracle.New(estimators, oracle.MaxOutAmount, oracle.Prefer)

	quoteStore, err := quote.OpenFileStore(quoteStoreDir())
	if err != nil {
		logger.Error("failed to open quote store", "error", err)
		os.Exit(1)
	}

	limitStrategy := ratelimit.Strategy{
		GrowthFactor: cfg.RateLimit.GrowthFactor,
		MinBackOff:   cfg.RateLimit.MinBackOff,
		MaxBackOff:   cfg.RateLimit.MaxBackOff,
	}

	endpoints := make([]*solver.Endpoint, 0, len(cfg.Solvers))
	for _, sc := range cfg.Solvers {
		ep, err := solver.NewEndpoint(sc.Name, sc.URL, limitStrategy)
		if err != nil {
			logger.Error("failed to construct solver endpoint", "solver", sc.Name, "error", err)
			os.Exit(1)
		}
		endpoints = append(endpoints, ep)
	}

	liquidityRouter := newLiquidityRouter(cfg.Chain.LiquidityRouterURL)
	encoder := encode.New(liquidityRouter, rpc, rpc, encode.Config{
		SettlementContract: settlementAddr,
		Solver:             signerAddr,
		Internalize:        true,
		NativeToken:        common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"),
		WrappedNativeToken: common.HexToAddress(cfg.Chain.SettlementAddr),
	})

	rpcEvaluator := solver.NewRPCEvaluator(encoder, rpc)
	solverOutcomes := solver.NewOutcomesCollector()
	metrics.Registry.MustRegister(solverOutcomes)
	driver := solver.New(endpoints, rpcEvaluator, solver.Config{
		ScoringBuffer: 2 * time.Second,
		MaxMerges:     cfg.Auction.MaxSolutionsMerged,
	}, solverOutcomes, logger)

	// Wired per spec §4.4 but unreachable from any intake surface in this
	// binary: the HTTP framing of the external order/quote API is an
	// out-of-scope external collaborator (spec §1). It is exercised by
	// internal/quote's own tests instead of being called at runtime here.
	quoteService := quote.New(quoteStore, driver, "auction-coordinator")
	_ = quoteService

	supportedSources, err := parseSources(cfg.Validator.SupportedSources)
	if err != nil {
		logger.Error("invalid validator.supported_sources", "error", err)
		os.Exit(1)
	}
	supportedDestinations, err := parseDestinations(cfg.Validator.SupportedDestinations)
	if err != nil {
		logger.Error("invalid validator.supported_destinations", "error", err)
		os.Exit(1)
	}
	supportedClasses, err := parseClasses(cfg.Validator.SupportedClasses)
	if err != nil {
		logger.Error("invalid validator.supported_classes", "error", err)
		os.Exit(1)
	}

	// Likewise constructed but not driven by a live intake surface; kept
	// here so every SPEC_FULL.md component has a concrete wiring a future
	// HTTP front end can call directly.
	validatorPipeline := validate.New(validate.Config{
		MinValidTo:            cfg.Validator.MinValidTo,
		MaxValidTo:            cfg.Validator.MaxValidTo,
		MaxLimitOrdersPerUser: cfg.Auction.MaxLimitOrdersPerUser,
		MaxGasPerOrder:        cfg.Auction.MaxGasPerOrder,
		SupportedSources:      supportedSources,
		SupportedDestinations: supportedDestinations,
		SupportedClasses:      supportedClasses,
	}, noopBadTokenFilter{}, nil, nil, nil, balanceCache, nil, noopLimitOrderCounter{})
	_ = validatorPipeline

	builder := auction.New(
		book,
		coordinator.NewBalanceAdapter(balanceCache),
		coordinator.NewPriceAdapter(priceOracle),
		noopFeePolicyResolver{},
		coordinator.NewBlockDeadlineAdapter(watcher, avgBlockTime),
	)

	submitter := submit.New(rpc, rpc, rpc, rpc, nil, submit.Config{
		MaxRetries:   cfg.Submission.MaxRetries,
		RetryBackoff: cfg.RateLimit.MinBackOff,
	}, logger)

	keys := []submit.Key{{Address: signerAddr, Mempool: newPublicMempool(eth)}}

	coordCfg := coordinator.Config{
		RoundInterval:       cfg.Auction.RoundInterval,
		DeadlineBlockBuffer: cfg.Auction.DeadlineBlockBuffer,
		AvgBlockTime:        avgBlockTime,
		RoundHistory:        50,
		SolverCount:         len(endpoints),
	}
	coord := coordinator.New(book, builder, driver, encoder, submitter, watcher, idx, keys,
		coordinator.NewGasPriceAdapter(priceOracle), nil, metrics, coordCfg, logger)

	var dashServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		cfgSumm := dashboard.ConfigSummary{
			ChainID:            cfg.Chain.ChainID,
			SettlementContract: cfg.Chain.SettlementAddr,
			SolvingWindow:      cfg.Auction.RoundInterval.String(),
		}
		dashServer = dashboard.NewServer(fmt.Sprintf(":%d", cfg.Dashboard.Port), coord, cfgSumm, cfg.Dashboard, logger)
		coord.SetDashboard(dashServer)
		go func() {
			if err := dashServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "port", cfg.Dashboard.Port)
	}

	var metricsServer *observability.Server
	if cfg.Metrics.Port != 0 {
		metricsServer = observability.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), metrics, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	go refreshBalancesOnNewBlocks(ctx, watcher, balanceCache)

	logger.Info("auction coordinator started",
		"chain_id", cfg.Chain.ChainID,
		"round_interval", cfg.Auction.RoundInterval,
		"solvers", len(endpoints),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	coord.Stop()

	if dashServer != nil {
		if err := dashServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("failed to stop metrics", "error", err)
		}
	}
}

// refreshBalancesOnNewBlocks keeps the balance cache's refresh clock
// (spec §4.2: "refreshed on every new block") moving off the watcher's
// most-recent-value stream — a dropped block here only means a cache
// entry refreshes on a later block than ideal, never incorrect data.
func refreshBalancesOnNewBlocks(ctx context.Context, watcher *chain.Watcher, cache *balance.Cache) {
	sub := watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-sub:
			if !ok {
				return
			}
			cache.Refresh(ctx, b.Number)
		}
	}
}

func bookSnapshotPath() string {
	if p := os.Getenv("AUCTION_BOOK_SNAPSHOT"); p != "" {
		return p
	}
	return "data/orderbook-snapshot.json"
}

func quoteStoreDir() string {
	if d := os.Getenv("AUCTION_QUOTE_STORE_DIR"); d != "" {
		return d
	}
	return "data/quotes"
}

// buildEstimators returns no price estimators by default: spec §1 names
// individual AMM/liquidity-source math as an out-of-scope external
// collaborator, and every concrete oracle.Estimator would need exactly
// that. Oracle degrades gracefully with zero estimators (returns
// ErrNoEstimators); when the gasPriceAdapter's lookup fails, the
// coordinator's round loop uses a zero gas price instead.
func buildEstimators(logger interface {
	Info(msg string, args ...any)
}) []oracle.Estimator {
	logger.Info("no price estimators configured; oracle running in degraded mode")
	return nil
}

// parseSources, parseDestinations, and parseClasses convert
// validator.supported_* config strings into the typed enum slices
// validate.Config expects, via validate's own ParseSource/
// ParseDestination/ParseClass.
func parseSources(raw []string) ([]types.SellTokenSource, error) {
	out := make([]types.SellTokenSource, 0, len(raw))
	for _, s := range raw {
		v, err := validate.ParseSource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseDestinations(raw []string) ([]types.BuyTokenDestination, error) {
	out := make([]types.BuyTokenDestination, 0, len(raw))
	for _, s := range raw {
		v, err := validate.ParseDestination(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseClasses(raw []string) ([]types.Class, error) {
	out := make([]types.Class, 0, len(raw))
	for _, s := range raw {
		v, err := validate.ParseClass(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type noopBadTokenFilter struct{}

func (noopBadTokenFilter) IsDenied(common.Address) bool { return false }

type noopLimitOrderCounter struct{}

func (noopLimitOrderCounter) CountOpenLimitOrders(common.Address) int { return 0 }

// noopFeePolicyResolver applies the spec §3 default (no fee policies)
// until a config-driven policy source is wired; the Auction Builder
// treats an empty result as "no fee policies for this order."
type noopFeePolicyResolver struct{}

func (noopFeePolicyResolver) FeePoliciesFor(*types.Order) []types.FeePolicy { return nil }
