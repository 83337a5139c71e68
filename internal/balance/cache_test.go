package balance

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

type fakeFetcher struct {
	calls   [][]Query
	respond func(q Query) Result
}

func (f *fakeFetcher) GetBalances(_ context.Context, queries []Query) map[Query]Result {
	f.calls = append(f.calls, append([]Query(nil), queries...))
	out := make(map[Query]Result, len(queries))
	for _, q := range queries {
		out[q] = f.respond(q)
	}
	return out
}

func (f *fakeFetcher) GetAllowances(_ context.Context, queries []Query) map[Query]Result {
	f.calls = append(f.calls, append([]Query(nil), queries...))
	out := make(map[Query]Result, len(queries))
	for _, q := range queries {
		out[q] = f.respond(q)
	}
	return out
}

func (f *fakeFetcher) CanTransfer(context.Context, Query, types.Amount) error { return nil }

func query(tokenByte byte) Query {
	return Query{
		Owner: common.BytesToAddress([]byte{1}),
		Token: common.BytesToAddress([]byte{tokenByte}),
	}
}

func TestCachesOKResults(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(1)} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})
	c.GetBalances(context.Background(), []Query{query(1)})

	if len(fetcher.calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(fetcher.calls))
	}
}

func TestDoesNotCacheErrors(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Err: errBoom} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})
	c.GetBalances(context.Background(), []Query{query(1)})

	if len(fetcher.calls) != 2 {
		t.Fatalf("expected errors to never be cached (2 upstream calls), got %d", len(fetcher.calls))
	}
}

func TestBackgroundRefreshUpdatesCacheOnNewBlock(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(1)} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})
	c.Refresh(context.Background(), 1)

	if len(fetcher.calls) != 2 {
		t.Fatalf("expected background refresh to call upstream once more, got %d calls", len(fetcher.calls))
	}

	// A third lookup should hit the now-refreshed cache, not call upstream again.
	c.GetBalances(context.Background(), []Query{query(1)})
	if len(fetcher.calls) != 2 {
		t.Fatalf("expected lookup after refresh to hit cache, got %d calls", len(fetcher.calls))
	}
}

// TestUnusedBalancesGetEvicted mirrors original_source's
// unused_balances_get_evicted: an entry not re-requested within
// EvictionBlocks blocks of background refresh disappears from the cache.
func TestUnusedBalancesGetEvicted(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(1)} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})

	for block := BlockNumber(1); block <= EvictionBlocks; block++ {
		c.Refresh(context.Background(), block)
		c.mu.Lock()
		_, ok := c.data[query(1)]
		c.mu.Unlock()
		if !ok {
			t.Fatalf("entry evicted too early at block %d", block)
		}
	}

	c.Refresh(context.Background(), EvictionBlocks+1)
	c.mu.Lock()
	_, ok := c.data[query(1)]
	c.mu.Unlock()
	if ok {
		t.Fatalf("entry should have been evicted by block %d", EvictionBlocks+1)
	}
}

// TestMonotonicity is Testable Property #1: updated_at never decreases,
// an entry updated at block N is never overwritten by data observed at
// an earlier block M < N.
func TestMonotonicity(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(5)} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})
	c.Refresh(context.Background(), 5)

	c.mu.Lock()
	c.updateBalance(query(1), types.NewAmount(999), 3) // stale: block 3 < lastSeenBlock 5
	got := c.data[query(1)].balance
	c.mu.Unlock()

	if got.Cmp(types.NewAmount(999)) == 0 {
		t.Fatalf("a stale update must not overwrite a fresher entry")
	}
}

// TestAllowancesCachedIndependentlyOfBalances confirms the allowance
// dimension added for spec §4.5 stage 5 gets its own cache slot: a miss
// on GetAllowances must not be satisfied by a prior GetBalances call for
// the same query, and vice versa.
func TestAllowancesCachedIndependentlyOfBalances(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(7)} }}
	c := New(fetcher)

	c.GetBalances(context.Background(), []Query{query(1)})
	c.GetAllowances(context.Background(), []Query{query(1)})

	if len(fetcher.calls) != 2 {
		t.Fatalf("expected balance and allowance lookups to each miss once, got %d calls", len(fetcher.calls))
	}

	c.GetBalances(context.Background(), []Query{query(1)})
	c.GetAllowances(context.Background(), []Query{query(1)})

	if len(fetcher.calls) != 2 {
		t.Fatalf("expected both lookups to now be cache hits, got %d calls", len(fetcher.calls))
	}
}

func TestCanTransferNeverCached(t *testing.T) {
	calls := 0
	fetcher := &fakeFetcher{respond: func(Query) Result { return Result{Balance: types.NewAmount(1)} }}
	wrapped := &countingFetcher{fakeFetcher: fetcher, calls: &calls}
	c := New(wrapped)

	c.CanTransfer(context.Background(), query(1), types.NewAmount(1))
	c.CanTransfer(context.Background(), query(1), types.NewAmount(1))

	if calls != 2 {
		t.Fatalf("CanTransfer must never be served from cache, got %d calls", calls)
	}
}

type countingFetcher struct {
	*fakeFetcher
	calls *int
}

func (c *countingFetcher) CanTransfer(ctx context.Context, q Query, amount types.Amount) error {
	*c.calls++
	return c.fakeFetcher.CanTransfer(ctx, q, amount)
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
