// Package quote implements the quote service (spec §4.4): look up a
// cached quote or synthesize one by running a single solver pass over a
// one-order auction.
package quote

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// SearchParams identifies the trade a quote is requested for; it is also
// the cache-lookup key (spec §4.4: "(sell, buy, side, amount,
// verification, signing-scheme, additional-gas)").
type SearchParams struct {
	SellToken      common.Address
	BuyToken       common.Address
	Side           types.Side
	Amount         types.Amount
	Verified       bool
	SigningScheme  types.SigningScheme
	AdditionalGas  uint64
}

// Fingerprint returns a stable cache key for these search params.
func (p SearchParams) Fingerprint() [32]byte {
	h := sha256.New()
	h.Write(p.SellToken[:])
	h.Write(p.BuyToken[:])
	binary.Write(h, binary.BigEndian, uint8(p.Side))
	h.Write([]byte(p.Amount.String()))
	if p.Verified {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	binary.Write(h, binary.BigEndian, uint8(p.SigningScheme))
	binary.Write(h, binary.BigEndian, p.AdditionalGas)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Store persists quotes by fingerprint (spec §4.4: "persists, returns").
type Store interface {
	Lookup(ctx context.Context, fingerprint [32]byte) (*types.Quote, bool, error)
	Save(ctx context.Context, fingerprint [32]byte, q *types.Quote) error
}

// SolverRunner runs a single solver pass over a synthetic one-order
// auction, used to price an uncached quote. This is the seam the real
// Solver Driver (C9) satisfies; it is intentionally the minimal surface
// the quote service needs, so this package never imports internal/solver.
type SolverRunner interface {
	RunOnce(ctx context.Context, auction *types.Auction) (*types.Solution, error)
}

var (
	errNonZeroFee   = fmt.Errorf("quote: %s", types.ReasonNonZeroFee)
	errZeroAmount   = fmt.Errorf("quote: %s", types.ReasonZeroAmount)
	errPriceForQuote = fmt.Errorf("quote: %s", types.ReasonPriceForQuote)
)

// Err returns the sentinel error matching a RejectionReason, for callers
// that need to branch on it.
func Err(reason types.RejectionReason) error {
	switch reason {
	case types.ReasonNonZeroFee:
		return errNonZeroFee
	case types.ReasonZeroAmount:
		return errZeroAmount
	case types.ReasonPriceForQuote:
		return errPriceForQuote
	default:
		return fmt.Errorf("quote: %s", reason)
	}
}

// Service implements get_or_create (spec §4.4).
type Service struct {
	store  Store
	solver SolverRunner
	now    func() time.Time

	// solverID is attached to freshly synthesized quotes.
	solverID string
}

// New constructs a quote Service.
func New(store Store, solver SolverRunner, solverID string) *Service {
	return &Service{store: store, solver: solver, solverID: solverID, now: time.Now}
}

// GetOrCreate implements spec §4.4's get_or_create. quoteID is currently
// unused by this implementation (no quote-id-keyed store variant exists
// yet) but is accepted to match the spec's signature for forward
// compatibility.
func (s *Service) GetOrCreate(ctx context.Context, params SearchParams, quoteID *string, feeAmount *types.Amount) (*types.Quote, error) {
	if feeAmount != nil && !feeAmount.IsZero() {
		return nil, Err(types.ReasonNonZeroFee)
	}
	if params.Amount.IsZero() {
		return nil, Err(types.ReasonZeroAmount)
	}

	fp := params.Fingerprint()
	if cached, ok, err := s.store.Lookup(ctx, fp); err == nil && ok {
		if !cached.Expired(s.now()) {
			return cached, nil
		}
	}

	q, err := s.synthesize(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, fp, q); err != nil {
		return nil, fmt.Errorf("quote: persisting synthesized quote: %w", err)
	}
	return q, nil
}

// synthesize builds a one-order auction for params, runs a single solver
// pass, and derives the counter-amount from the winning clearing prices
// per spec §4.4: "sell_price × amount / buy_price for sells; inverse for
// buys."
func (s *Service) synthesize(ctx context.Context, params SearchParams) (*types.Quote, error) {
	order := s.syntheticOrder(params)
	auction := &types.Auction{
		ID:     0,
		Orders: []types.Order{*order},
	}

	sol, err := s.solver.RunOnce(ctx, auction)
	if err != nil || sol == nil {
		return nil, Err(types.ReasonPriceForQuote)
	}

	sellPrice, ok := sol.Prices[params.SellToken]
	if !ok || sellPrice.Rat == nil || sellPrice.Rat.Sign() == 0 {
		return nil, Err(types.ReasonPriceForQuote)
	}
	buyPrice, ok := sol.Prices[params.BuyToken]
	if !ok || buyPrice.Rat == nil || buyPrice.Rat.Sign() == 0 {
		return nil, Err(types.ReasonPriceForQuote)
	}

	counter, ok := deriveCounterAmount(params.Side, params.Amount, sellPrice, buyPrice)
	if !ok {
		return nil, Err(types.ReasonPriceForQuote)
	}

	return &types.Quote{
		SellToken:     params.SellToken,
		BuyToken:      params.BuyToken,
		Side:          params.Side,
		Amount:        params.Amount,
		CounterAmount: counter,
		Fee:           types.NewAmount(0),
		SolverID:      s.solverID,
		Expiry:        s.now().Add(defaultQuoteTTL),
		Verified:      params.Verified,
		Kind:          types.QuoteStandard,
	}, nil
}

const defaultQuoteTTL = 2 * time.Minute

func (s *Service) syntheticOrder(params SearchParams) *types.Order {
	sellAmount, buyAmount := params.Amount, params.Amount
	return &types.Order{
		SellToken:  params.SellToken,
		BuyToken:   params.BuyToken,
		SellAmount: sellAmount,
		BuyAmount:  buyAmount,
		Side:       params.Side,
		Class:      types.ClassMarket,
		ValidTo:    s.now().Add(defaultQuoteTTL),
		CreatedAt:  s.now(),
	}
}

// deriveCounterAmount implements spec §4.4's "sell_price × amount /
// buy_price for sells; inverse for buys," kept as an exact rational
// throughout and floored to an integer Amount only at the end.
func deriveCounterAmount(side types.Side, amount types.Amount, sellPrice, buyPrice types.Price) (types.Amount, bool) {
	amountRat := new(big.Rat).SetInt(amount.Big())

	var result *big.Rat
	switch side {
	case types.Sell:
		result = new(big.Rat).Mul(amountRat, sellPrice.Rat)
		result.Quo(result, buyPrice.Rat)
	case types.Buy:
		result = new(big.Rat).Mul(amountRat, buyPrice.Rat)
		result.Quo(result, sellPrice.Rat)
	default:
		return types.Amount{}, false
	}

	floored := new(big.Int).Quo(result.Num(), result.Denom())
	return types.AmountFromBigInt(floored)
}
