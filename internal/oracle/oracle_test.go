package oracle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type fakeEstimator struct {
	name               string
	price, out, gasCost decimal.Decimal
	verified           bool
	priceErr           error
	gas                GasEstimate
	gasErr             error
}

func (f *fakeEstimator) Name() string { return f.name }

func (f *fakeEstimator) NativePrice(context.Context, common.Address) (decimal.Decimal, decimal.Decimal, decimal.Decimal, bool, error) {
	return f.price, f.out, f.gasCost, f.verified, f.priceErr
}

func (f *fakeEstimator) GasPrice(context.Context) (GasEstimate, error) {
	return f.gas, f.gasErr
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestNativePriceDiscardsZeroGasEstimators(t *testing.T) {
	o := New([]Estimator{
		&fakeEstimator{name: "zero-gas", price: d(1), out: d(1000), gasCost: d(0)},
		&fakeEstimator{name: "real", price: d(2), out: d(10), gasCost: d(1)},
	}, MaxOutAmount, Prefer)

	price, _, err := o.NativePrice(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(2)) {
		t.Fatalf("expected the only usable estimator's price, got %s", price)
	}
}

func TestNativePriceMaxOutAmountRanking(t *testing.T) {
	o := New([]Estimator{
		&fakeEstimator{name: "small", price: d(1), out: d(100), gasCost: d(1)},
		&fakeEstimator{name: "big", price: d(2), out: d(500), gasCost: d(1)},
	}, MaxOutAmount, Prefer)

	price, _, err := o.NativePrice(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(2)) {
		t.Fatalf("expected the larger out-amount estimator to win, got %s", price)
	}
}

func TestNativePriceBestBangForBuckAccountsForGas(t *testing.T) {
	o := New([]Estimator{
		// Raw out-amount 500 but eats 450 in gas -> net 50.
		&fakeEstimator{name: "expensive", price: d(1), out: d(500), gasCost: d(450)},
		// Raw out-amount 200 with negligible gas -> net 199.
		&fakeEstimator{name: "cheap", price: d(2), out: d(200), gasCost: d(1)},
	}, BestBangForBuck, Prefer)

	price, _, err := o.NativePrice(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(2)) {
		t.Fatalf("expected net-of-gas ranking to prefer the cheap estimator, got %s", price)
	}
}

func TestNativePricePreferVerifiedOverUnverified(t *testing.T) {
	o := New([]Estimator{
		&fakeEstimator{name: "unverified-bigger", price: d(1), out: d(1000), gasCost: d(1), verified: false},
		&fakeEstimator{name: "verified-smaller", price: d(2), out: d(10), gasCost: d(1), verified: true},
	}, MaxOutAmount, Prefer)

	price, verified, err := o.NativePrice(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verified || !price.Equal(d(2)) {
		t.Fatalf("expected the verified estimator to win despite smaller out-amount, got price=%s verified=%v", price, verified)
	}
}

func TestNativePriceRequireWhenPossibleDiscardsUnverified(t *testing.T) {
	o := New([]Estimator{
		&fakeEstimator{name: "unverified", price: d(1), out: d(10), gasCost: d(1), verified: false},
		&fakeEstimator{name: "verified", price: d(2), out: d(5), gasCost: d(1), verified: true},
	}, MaxOutAmount, RequireWhenPossible)

	price, verified, err := o.NativePrice(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verified || !price.Equal(d(2)) {
		t.Fatalf("expected only the verified estimator to be considered, got price=%s verified=%v", price, verified)
	}
}

func TestNativePriceReturnsErrNoEstimatorsWhenAllFail(t *testing.T) {
	o := New([]Estimator{
		&fakeEstimator{name: "zero-gas", price: d(1), out: d(10), gasCost: d(0)},
	}, MaxOutAmount, Prefer)

	if _, _, err := o.NativePrice(context.Background(), common.Address{}); err != ErrNoEstimators {
		t.Fatalf("expected ErrNoEstimators, got %v", err)
	}
}

func TestGasPriceReturnsFirstSuccess(t *testing.T) {
	want := GasEstimate{BaseFee: d(1), MaxFee: d(2), PriorityFee: d(1)}
	o := New([]Estimator{
		&fakeEstimator{name: "broken", gasErr: errBoom},
		&fakeEstimator{name: "ok", gas: want},
	}, MaxOutAmount, Prefer)

	got, err := o.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.MaxFee.Equal(want.MaxFee) {
		t.Fatalf("expected first successful estimator's gas price, got %+v", got)
	}
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
