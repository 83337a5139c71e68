// Package validate implements the order validation pipeline (spec §4.5):
// an ordered sequence of stages, each returning a specific rejection
// reason. The pipeline runs top to bottom and halts at the first failure.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"auction-coordinator/internal/balance"
	"auction-coordinator/pkg/types"
)

// RejectionError pairs a stable reason label with the human-readable
// cause, surfaced to the API per spec §7.
type RejectionError struct {
	Reason types.RejectionReason
	Cause  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Cause)
}

func reject(reason types.RejectionReason, cause string) error {
	return &RejectionError{Reason: reason, Cause: cause}
}

// BadTokenFilter answers whether a token pair is denied outright
// (spec §4.5 stage 1, "token pair passes a bad-token deny filter").
type BadTokenFilter interface {
	IsDenied(token common.Address) bool
}

// QuoteLookup resolves the quote used by stages 3 and 7.
type QuoteLookup interface {
	Lookup(ctx context.Context, o *types.Order) (*types.Quote, error)
}

// PredicateChecker and PreSignChecker cover the two on-chain signature
// variants (spec §4.5 stage 4); both are external collaborators.
type PredicateChecker interface {
	CheckPredicate(ctx context.Context, predicate common.Address, orderHash common.Hash) (bool, error)
}
type PreSignChecker interface {
	IsPreSigned(ctx context.Context, orderHash common.Hash) (bool, error)
}

// GasEstimator supplies the quoted gas + additional-gas figure checked in
// stage 8.
type GasEstimator interface {
	EstimateGas(ctx context.Context, o *types.Order) (uint64, error)
}

// LimitOrderCounter tracks, per owner, how many off-market limit orders
// are currently open (spec §4.5 stage 7 count cap, scenario B).
type LimitOrderCounter interface {
	CountOpenLimitOrders(owner common.Address) int
}

// Config bounds the pipeline the way spec §6's CLI/env fields do.
//
// SupportedSources, SupportedDestinations, and SupportedClasses declare
// the subset of types.SellTokenSource / types.BuyTokenDestination /
// types.Class this deployment accepts (spec §4.5 stage 1's "supported
// token-source/destination, class allowed"). A nil or empty slice means
// every value is supported, so existing callers that don't set these
// fields keep admitting every source/destination/class as before.
type Config struct {
	MinValidTo            time.Duration
	MaxValidTo            time.Duration
	MaxLimitOrdersPerUser int
	MaxGasPerOrder        uint64

	SupportedSources      []types.SellTokenSource
	SupportedDestinations []types.BuyTokenDestination
	SupportedClasses      []types.Class
}

// ParseSource, ParseDestination, and ParseClass translate the lowercase
// config-file spellings of Config's supported-set fields into their
// typed enum values, the same string-to-enum-by-switch pattern
// internal/observability's parseLogLevel uses for its own config field.
func ParseSource(s string) (types.SellTokenSource, error) {
	switch s {
	case "erc20":
		return types.SourceErc20, nil
	case "external":
		return types.SourceExternal, nil
	case "internal":
		return types.SourceInternal, nil
	default:
		return 0, fmt.Errorf("validate: unknown sell-token source %q", s)
	}
}

func ParseDestination(s string) (types.BuyTokenDestination, error) {
	switch s {
	case "erc20":
		return types.DestinationErc20, nil
	case "internal":
		return types.DestinationInternal, nil
	default:
		return 0, fmt.Errorf("validate: unknown buy-token destination %q", s)
	}
}

func ParseClass(s string) (types.Class, error) {
	switch s {
	case "market":
		return types.ClassMarket, nil
	case "limit":
		return types.ClassLimit, nil
	case "liquidity":
		return types.ClassLiquidity, nil
	default:
		return 0, fmt.Errorf("validate: unknown order class %q", s)
	}
}

// Pipeline runs the ordered validation stages of spec §4.5.
type Pipeline struct {
	cfg Config

	supportedSources      map[types.SellTokenSource]bool
	supportedDestinations map[types.BuyTokenDestination]bool
	supportedClasses      map[types.Class]bool

	badTokens  BadTokenFilter
	quotes     QuoteLookup
	predicates PredicateChecker
	presigns   PreSignChecker
	balances   *balance.Cache
	gas        GasEstimator
	limits     LimitOrderCounter

	// AppDataHash recomputes an order's app-data hash for stage 2's
	// comparison; left pluggable since app-data schemas are external.
	AppDataHash func(o *types.Order) common.Hash
}

// New constructs a validation pipeline.
func New(cfg Config, badTokens BadTokenFilter, quotes QuoteLookup, predicates PredicateChecker, presigns PreSignChecker, balances *balance.Cache, gas GasEstimator, limits LimitOrderCounter) *Pipeline {
	return &Pipeline{
		cfg:                   cfg,
		supportedSources:      toSet(cfg.SupportedSources),
		supportedDestinations: toSet(cfg.SupportedDestinations),
		supportedClasses:      toSet(cfg.SupportedClasses),
		badTokens:             badTokens, quotes: quotes, predicates: predicates,
		presigns: presigns, balances: balances, gas: gas, limits: limits,
	}
}

func toSet[T comparable](values []T) map[T]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[T]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Run executes the full pipeline against o, returning the first
// RejectionError encountered, or nil if the order is admissible.
func (p *Pipeline) Run(ctx context.Context, o *types.Order, declaredAppDataHash common.Hash, signerFrom *common.Address, additionalGas uint64) error {
	if err := p.partialChecks(o); err != nil {
		return err
	}
	if err := p.appData(o, declaredAppDataHash, signerFrom); err != nil {
		return err
	}
	quote, err := p.quoteAndZeroFee(ctx, o)
	if err != nil {
		return err
	}
	if err := p.signature(ctx, o); err != nil {
		return err
	}
	if err := p.balanceAndAllowance(ctx, o); err != nil {
		return err
	}
	if err := p.transferSimulation(ctx, o); err != nil {
		return err
	}
	if err := p.marketPriceAndCountCap(o, quote); err != nil {
		return err
	}
	if err := p.gasBudget(ctx, o, additionalGas); err != nil {
		return err
	}
	return nil
}

// Stage 1: partial checks, independent of owner funds.
func (p *Pipeline) partialChecks(o *types.Order) error {
	if p.supportedSources != nil && !p.supportedSources[o.SellSource] {
		return reject(types.ReasonUnsupportedSource, "sell-token source not supported by this deployment")
	}
	if p.supportedDestinations != nil && !p.supportedDestinations[o.BuyDestination] {
		return reject(types.ReasonUnsupportedDestination, "buy-token destination not supported by this deployment")
	}
	if p.supportedClasses != nil && !p.supportedClasses[o.Class] {
		return reject(types.ReasonUnsupportedType, "order class not supported by this deployment")
	}
	if o.SellToken == (common.Address{}) {
		return reject(types.ReasonNativeSellToken, "sell token is the native placeholder")
	}
	if o.SellToken == o.BuyToken {
		return reject(types.ReasonSameBuyAndSellToken, "sell and buy token are identical")
	}
	now := time.Now()
	minValidTo := now.Add(p.cfg.MinValidTo)
	maxValidTo := now.Add(p.cfg.MaxValidTo)
	if o.ValidTo.Before(minValidTo) {
		return reject(types.ReasonInsufficientValidTo, "valid-to is too close to now")
	}
	if o.ValidTo.After(maxValidTo) {
		return reject(types.ReasonExcessiveValidTo, "valid-to is too far in the future")
	}
	if p.badTokens != nil && (p.badTokens.IsDenied(o.SellToken) || p.badTokens.IsDenied(o.BuyToken)) {
		return reject(types.ReasonForbidden, "token pair denied by bad-token filter")
	}
	return nil
}

// Stage 2: app-data hash and signer consistency.
func (p *Pipeline) appData(o *types.Order, declaredHash common.Hash, signerFrom *common.Address) error {
	if p.AppDataHash != nil {
		if p.AppDataHash(o) != declaredHash {
			return reject(types.ReasonAppDataHashMismatch, "declared app-data hash does not match order")
		}
	}
	if signerFrom != nil && *signerFrom != o.Owner {
		return reject(types.ReasonSignatureFromMismatch, "app-data signer does not match order.from")
	}
	return nil
}

// Stage 3: quote retrieval and zero-fee check.
func (p *Pipeline) quoteAndZeroFee(ctx context.Context, o *types.Order) (*types.Quote, error) {
	quote, err := p.quotes.Lookup(ctx, o)
	if err != nil {
		return nil, reject(types.ReasonPriceForQuote, err.Error())
	}
	if !quote.Fee.IsZero() {
		return nil, reject(types.ReasonNonZeroFee, "quote fee must be zero at validation time")
	}
	if o.SellAmount.IsZero() || o.BuyAmount.IsZero() {
		return nil, reject(types.ReasonZeroAmount, "sell or buy amount is zero")
	}
	return quote, nil
}

// Stage 4: signature verification, branching on scheme.
func (p *Pipeline) signature(ctx context.Context, o *types.Order) error {
	orderHash := OrderHash(o)

	switch o.Signature.Scheme {
	case types.SchemeEip712, types.SchemeEthSign:
		pub, err := crypto.SigToPub(orderHash.Bytes(), o.Signature.Bytes)
		if err != nil {
			return reject(types.ReasonSignatureInvalidEcdsa, err.Error())
		}
		recovered := crypto.PubkeyToAddress(*pub)
		if recovered != o.Owner {
			return reject(types.ReasonSignatureWrongOwner, "recovered signer does not match order owner")
		}
	case types.SchemePredicate:
		ok, err := p.predicates.CheckPredicate(ctx, o.Owner, orderHash)
		if err != nil {
			return reject(types.ReasonSignatureInvalidPredicate, err.Error())
		}
		if !ok {
			return reject(types.ReasonSignatureInvalidPredicate, "predicate contract did not return the magic value")
		}
	case types.SchemePreSign:
		ok, err := p.presigns.IsPreSigned(ctx, orderHash)
		if err != nil {
			return reject(types.ReasonSignatureInvalidEcdsa, err.Error())
		}
		if !ok {
			return reject(types.ReasonSignatureMissingFrom, "order is not pre-signed")
		}
	default:
		return reject(types.ReasonSignatureMissingFrom, "unknown signing scheme")
	}
	return nil
}

// Stage 5: balance and allowance, via the C2 cache. Balance and
// allowance are distinct funds checks (spec §4.2, §4.5 stage 5, §7) and
// must surface distinct rejection reasons so an operator can tell "the
// owner is out of funds" apart from "the owner never approved the
// settlement contract."
func (p *Pipeline) balanceAndAllowance(ctx context.Context, o *types.Order) error {
	q := balance.Query{Owner: o.Owner, Token: o.SellToken, Source: o.SellSource}

	balances := p.balances.GetBalances(ctx, []balance.Query{q})
	bal, ok := balances[q]
	if !ok || bal.Err != nil {
		return reject(types.ReasonInsufficientBalance, "balance lookup failed")
	}
	if bal.Balance.Cmp(o.SellAmount) < 0 {
		return reject(types.ReasonInsufficientBalance, "insufficient balance for sell amount")
	}

	if o.SellSource != types.SourceErc20 {
		// External/internal vault sources are pulled without a standing
		// ERC20 approval to the settlement contract; only the direct
		// Erc20 source needs an allowance check.
		return nil
	}
	allowances := p.balances.GetAllowances(ctx, []balance.Query{q})
	allowance, ok := allowances[q]
	if !ok || allowance.Err != nil {
		return reject(types.ReasonInsufficientAllowance, "allowance lookup failed")
	}
	if allowance.Balance.Cmp(o.SellAmount) < 0 {
		return reject(types.ReasonInsufficientAllowance, "insufficient allowance for sell amount")
	}
	return nil
}

// Stage 6: transfer simulation.
func (p *Pipeline) transferSimulation(ctx context.Context, o *types.Order) error {
	q := balance.Query{Owner: o.Owner, Token: o.SellToken}
	if err := p.balances.CanTransfer(ctx, q, o.SellAmount); err != nil {
		return reject(types.ReasonTransferSimulationFailed, err.Error())
	}
	return nil
}

// Stage 7: off-market test plus the per-owner limit-order count cap.
func (p *Pipeline) marketPriceAndCountCap(o *types.Order, quote *types.Quote) error {
	if o.Class != types.ClassLimit {
		return nil
	}
	if !OffMarket(o.Side, o.SellAmount, o.BuyAmount, quote.Amount, quote.CounterAmount, quote.Fee) {
		return nil
	}
	if p.limits.CountOpenLimitOrders(o.Owner) >= p.cfg.MaxLimitOrdersPerUser {
		return reject(types.ReasonTooManyLimitOrders, "owner has too many open off-market limit orders")
	}
	return nil
}

// Stage 8: gas budget.
func (p *Pipeline) gasBudget(ctx context.Context, o *types.Order, additionalGas uint64) error {
	quoted, err := p.gas.EstimateGas(ctx, o)
	if err != nil {
		return reject(types.ReasonTooMuchGas, err.Error())
	}
	if quoted+additionalGas > p.cfg.MaxGasPerOrder {
		return reject(types.ReasonTooMuchGas, "quoted gas plus additional gas exceeds max_gas_per_order")
	}
	return nil
}

// OrderHash is a placeholder for the deterministic order-identifier hash
// (domain separator + fields + owner); EIP-712 domain hashing itself is
// an external collaborator concern (signature-scheme cryptography
// primitives, spec §1 Non-goals) — callers that need the canonical wire
// hash should inject it instead of relying on this stand-in.
func OrderHash(o *types.Order) common.Hash {
	return crypto.Keccak256Hash(o.UID[:])
}
