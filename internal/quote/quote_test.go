package quote

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

type memStore struct {
	entries map[[32]byte]*types.Quote
}

func newMemStore() *memStore { return &memStore{entries: map[[32]byte]*types.Quote{}} }

func (m *memStore) Lookup(_ context.Context, fp [32]byte) (*types.Quote, bool, error) {
	q, ok := m.entries[fp]
	return q, ok, nil
}

func (m *memStore) Save(_ context.Context, fp [32]byte, q *types.Quote) error {
	m.entries[fp] = q
	return nil
}

type fakeSolver struct {
	sol *types.Solution
	err error
}

func (f *fakeSolver) RunOnce(context.Context, *types.Auction) (*types.Solution, error) {
	return f.sol, f.err
}

var (
	sellTok = common.HexToAddress("0xA")
	buyTok  = common.HexToAddress("0xB")
)

func ratPrice(num, den int64) types.Price {
	return types.NewPrice(big.NewRat(num, den))
}

func TestGetOrCreateRejectsNonZeroFee(t *testing.T) {
	svc := New(newMemStore(), &fakeSolver{}, "solver-1")
	fee := types.NewAmount(1)
	_, err := svc.GetOrCreate(context.Background(), SearchParams{
		SellToken: sellTok, BuyToken: buyTok, Amount: types.NewAmount(100),
	}, nil, &fee)
	if err != errNonZeroFee {
		t.Fatalf("expected non-zero-fee rejection, got %v", err)
	}
}

func TestGetOrCreateRejectsZeroAmount(t *testing.T) {
	svc := New(newMemStore(), &fakeSolver{}, "solver-1")
	_, err := svc.GetOrCreate(context.Background(), SearchParams{
		SellToken: sellTok, BuyToken: buyTok, Amount: types.NewAmount(0),
	}, nil, nil)
	if err != errZeroAmount {
		t.Fatalf("expected zero-amount rejection, got %v", err)
	}
}

func TestGetOrCreateSynthesizesAndCaches(t *testing.T) {
	sol := &types.Solution{
		Prices: map[common.Address]types.Price{
			sellTok: ratPrice(2, 1), // 1 sell-token is worth 2 units of numéraire
			buyTok:  ratPrice(1, 1), // 1 buy-token is worth 1 unit of numéraire
		},
	}
	solver := &fakeSolver{sol: sol}
	store := newMemStore()
	svc := New(store, solver, "solver-1")

	params := SearchParams{SellToken: sellTok, BuyToken: buyTok, Side: types.Sell, Amount: types.NewAmount(100)}
	q, err := svc.GetOrCreate(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sell_price*amount/buy_price = 2*100/1 = 200.
	if q.CounterAmount.Cmp(types.NewAmount(200)) != 0 {
		t.Fatalf("expected counter-amount 200, got %s", q.CounterAmount)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected the synthesized quote to be persisted")
	}

	// A second call with the same params should hit the cache, not the
	// solver, even if the solver is now broken.
	solver.err = errBoomSolver
	q2, err := svc.GetOrCreate(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error on cached lookup: %v", err)
	}
	if q2.CounterAmount.Cmp(q.CounterAmount) != 0 {
		t.Fatalf("expected cached quote to be returned unchanged")
	}
}

func TestGetOrCreateReturnsPriceForQuoteWhenSolverFails(t *testing.T) {
	svc := New(newMemStore(), &fakeSolver{err: errBoomSolver}, "solver-1")
	_, err := svc.GetOrCreate(context.Background(), SearchParams{
		SellToken: sellTok, BuyToken: buyTok, Amount: types.NewAmount(10),
	}, nil, nil)
	if err != errPriceForQuote {
		t.Fatalf("expected price-for-quote rejection, got %v", err)
	}
}

func TestGetOrCreateReturnsPriceForQuoteWhenClearingPriceMissing(t *testing.T) {
	sol := &types.Solution{Prices: map[common.Address]types.Price{sellTok: ratPrice(1, 1)}}
	svc := New(newMemStore(), &fakeSolver{sol: sol}, "solver-1")
	_, err := svc.GetOrCreate(context.Background(), SearchParams{
		SellToken: sellTok, BuyToken: buyTok, Amount: types.NewAmount(10),
	}, nil, nil)
	if err != errPriceForQuote {
		t.Fatalf("expected price-for-quote rejection when buy-token price is missing, got %v", err)
	}
}

var errBoomSolver = &solverBoom{}

type solverBoom struct{}

func (*solverBoom) Error() string { return "solver boom" }
