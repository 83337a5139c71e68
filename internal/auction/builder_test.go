package auction

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

type fakeBook struct{ orders []types.Order }

func (f *fakeBook) SolvableOrders() []types.Order { return f.orders }

type fakeBalances struct{ deny map[common.Address]bool }

func (f *fakeBalances) CanTransfer(_ context.Context, owner, _ common.Address, _ types.Amount) bool {
	return !f.deny[owner]
}

type fakePrices struct{}

func (fakePrices) ReferencePrice(context.Context, common.Address) (types.Price, bool) {
	return types.NewPrice(nil), true
}

type fakeFees struct{ policies []types.FeePolicy }

func (f fakeFees) FeePoliciesFor(*types.Order) []types.FeePolicy { return f.policies }

type fakeBlocks struct{ at time.Time }

func (f fakeBlocks) NextBlockAt(uint64) time.Time { return f.at }

func order(owner common.Address, sellAmount uint64) types.Order {
	return types.Order{
		Owner:      owner,
		SellToken:  common.HexToAddress("0xA"),
		BuyToken:   common.HexToAddress("0xB"),
		SellAmount: types.NewAmount(sellAmount),
		BuyAmount:  types.NewAmount(1),
	}
}

func TestBuildDropsZeroRemainingOrders(t *testing.T) {
	owner := common.HexToAddress("0x1")
	book := &fakeBook{orders: []types.Order{order(owner, 0), order(owner, 100)}}
	b := New(book, &fakeBalances{deny: map[common.Address]bool{}}, fakePrices{}, nil, nil)

	a := b.Build(context.Background(), 1, Config{RoundInterval: time.Minute})
	if len(a.Orders) != 1 {
		t.Fatalf("expected zero-sell-amount order to be dropped, got %d orders", len(a.Orders))
	}
}

func TestBuildDropsOrdersFailingBalanceCheck(t *testing.T) {
	owner := common.HexToAddress("0x1")
	other := common.HexToAddress("0x2")
	book := &fakeBook{orders: []types.Order{order(owner, 100), order(other, 100)}}
	b := New(book, &fakeBalances{deny: map[common.Address]bool{owner: true}}, fakePrices{}, nil, nil)

	a := b.Build(context.Background(), 1, Config{RoundInterval: time.Minute})
	if len(a.Orders) != 1 || a.Orders[0].Owner != other {
		t.Fatalf("expected only the funded owner's order to survive, got %+v", a.Orders)
	}
}

func TestBuildAttachesFeePolicies(t *testing.T) {
	owner := common.HexToAddress("0x1")
	book := &fakeBook{orders: []types.Order{order(owner, 100)}}
	policies := []types.FeePolicy{{Kind: types.FeeSurplus, Factor: 0.1}}
	b := New(book, &fakeBalances{}, fakePrices{}, fakeFees{policies: policies}, nil)

	a := b.Build(context.Background(), 1, Config{RoundInterval: time.Minute})
	if len(a.Orders[0].FeePolicies) != 1 {
		t.Fatalf("expected fee policies to be attached")
	}
}

func TestBuildDeadlineIsEarlierOfWallClockAndBlockDeadline(t *testing.T) {
	book := &fakeBook{}
	earlyBlockDeadline := time.Now().Add(time.Second)
	b := New(book, &fakeBalances{}, fakePrices{}, nil, fakeBlocks{at: earlyBlockDeadline})

	a := b.Build(context.Background(), 1, Config{RoundInterval: time.Hour})
	if !a.Deadline.Equal(earlyBlockDeadline) {
		t.Fatalf("expected the earlier block-derived deadline to win, got %v vs %v", a.Deadline, earlyBlockDeadline)
	}
}

func TestBuildDeadlineFallsBackToWallClockWithoutBlockResolver(t *testing.T) {
	book := &fakeBook{}
	b := New(book, &fakeBalances{}, fakePrices{}, nil, nil)

	before := time.Now()
	a := b.Build(context.Background(), 1, Config{RoundInterval: time.Minute})
	if a.Deadline.Before(before.Add(59 * time.Second)) {
		t.Fatalf("expected wall-clock-derived deadline, got %v", a.Deadline)
	}
}
