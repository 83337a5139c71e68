package quote

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

func TestFileStoreSaveThenLookupRoundTrips(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	q := &types.Quote{
		SellToken:     common.HexToAddress("0x1"),
		BuyToken:      common.HexToAddress("0x2"),
		Side:          types.Sell,
		Amount:        types.NewAmount(100),
		CounterAmount: types.NewAmount(95),
		SolverID:      "solver-a",
		Expiry:        time.Now().Add(time.Minute).Truncate(time.Second),
	}
	var fp [32]byte
	fp[0] = 7

	if err := store.Save(context.Background(), fp, q); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Lookup(context.Background(), fp)
	if err != nil || !ok {
		t.Fatalf("expected lookup hit, ok=%v err=%v", ok, err)
	}
	if got.SolverID != "solver-a" || got.CounterAmount.Cmp(types.NewAmount(95)) != 0 {
		t.Fatalf("expected round-tripped quote to match, got %+v", got)
	}
}

func TestFileStoreLookupMissReturnsOkFalse(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var fp [32]byte
	fp[0] = 9

	_, ok, err := store.Lookup(context.Background(), fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected a miss for an unsaved fingerprint")
	}
}
