// Package balance implements the balance/allowance cache (spec §4.2): a
// block-indexed cache in front of an on-chain balance fetcher. Balances
// are refreshed on every new block, but only for entries requested
// recently; entries that go unrequested for EvictionBlocks blocks are
// dropped instead of refreshed forever.
package balance

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// SellTokenSource mirrors pkg/types.SellTokenSource to avoid a cyclic
// import; balance queries are keyed on it directly.
type SellTokenSource = types.SellTokenSource

// Query is the cache key: owner, token, funding source, a fingerprint of
// the order's pre-interactions (which can change the effective balance),
// and an optional balance override used by some order classes.
type Query struct {
	Owner                common.Address
	Token                common.Address
	Source               SellTokenSource
	InteractionsFingerprint string
	BalanceOverride      *types.Amount
}

// BlockNumber matches spec §4.2's "refresh on new blocks" indexing.
type BlockNumber = uint64

// EvictionBlocks is the number of blocks an entry may go unrequested
// before it is dropped on the next refresh (spec §4.2: "evict entries
// whose updated_at < current block after refresh", grounded on
// original_source's EVICTION_TIME = 5).
const EvictionBlocks BlockNumber = 5

// Fetcher is the external collaborator that actually reads balances and
// allowances on-chain; RPC transport is out of scope for this module
// (spec §1).
type Fetcher interface {
	// GetBalances returns, for each query, the current on-chain balance
	// or an error. Implementations may batch internally.
	GetBalances(ctx context.Context, queries []Query) map[Query]Result
	// GetAllowances returns, for each query, the current on-chain
	// allowance the settlement contract holds over query.Owner's
	// query.Token, tracked as its own cached dimension alongside balance
	// (spec §4.2, §4.5 stage 5: balance and allowance are distinct
	// funds checks and must be distinguishable on rejection).
	GetAllowances(ctx context.Context, queries []Query) map[Query]Result
	// CanTransfer simulates an actual transfer; never cached (spec §4.2).
	CanTransfer(ctx context.Context, query Query, amount types.Amount) error
}

// Result is one GetBalances outcome.
type Result struct {
	Balance types.Amount
	Err     error
}

type entry struct {
	requestedAt BlockNumber
	updatedAt   BlockNumber
	balance     types.Amount
}

// Cache is the C2 balance/allowance cache. The zero value is not usable;
// construct with New.
type Cache struct {
	fetcher Fetcher

	mu            sync.Mutex
	lastSeenBlock BlockNumber
	data          map[Query]entry
	allowances    map[Query]entry

	hits   uint64
	misses uint64
}

// New constructs a Cache wrapping fetcher.
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher:    fetcher,
		data:       make(map[Query]entry),
		allowances: make(map[Query]entry),
	}
}

// Stats reports cache size and hit/miss counters (supplemented observability
// surface, SPEC_FULL.md §9.2).
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.data) + len(c.allowances), Hits: c.hits, Misses: c.misses}
}

// getCachedBalance returns the cached balance for query and bumps its
// requestedAt to the current lastSeenBlock, per spec §4.2's "get_balances
// ... bumps requested_at". Must be called with c.mu held.
func (c *Cache) getCachedBalance(q Query) (types.Amount, bool) {
	e, ok := c.data[q]
	if !ok {
		return types.Amount{}, false
	}
	e.requestedAt = c.lastSeenBlock
	c.data[q] = e
	return e.balance, true
}

// updateBalance only updates an existing entry, and only with data at
// least as fresh as the block we last saw — it never lets a background
// refresh regress updatedAt. This realizes Testable Property #1 (balance
// cache monotonicity).
func (c *Cache) updateBalance(q Query, balance types.Amount, updateBlock BlockNumber) {
	if updateBlock < c.lastSeenBlock {
		return
	}
	e, ok := c.data[q]
	if !ok {
		return
	}
	e.updatedAt = updateBlock
	e.balance = balance
	c.data[q] = e
}

// insertBalance inserts a brand-new entry for a foreground cache miss.
func (c *Cache) insertBalance(q Query, balance types.Amount, requestedAt BlockNumber) {
	existing, ok := c.data[q]
	if ok && existing.updatedAt > requestedAt {
		// Never overwrite an entry with a fresher updated_at (spec §4.2).
		return
	}
	c.data[q] = entry{requestedAt: requestedAt, updatedAt: requestedAt, balance: balance}
}

// getCachedAllowance, updateAllowance, and insertAllowance mirror their
// balance counterparts above against the allowances map, so allowance
// lookups get the same block-indexed caching, monotonicity, and
// eviction behavior as balance lookups (spec §4.2).
func (c *Cache) getCachedAllowance(q Query) (types.Amount, bool) {
	e, ok := c.allowances[q]
	if !ok {
		return types.Amount{}, false
	}
	e.requestedAt = c.lastSeenBlock
	c.allowances[q] = e
	return e.balance, true
}

func (c *Cache) updateAllowance(q Query, allowance types.Amount, updateBlock BlockNumber) {
	if updateBlock < c.lastSeenBlock {
		return
	}
	e, ok := c.allowances[q]
	if !ok {
		return
	}
	e.updatedAt = updateBlock
	e.balance = allowance
	c.allowances[q] = e
}

func (c *Cache) insertAllowance(q Query, allowance types.Amount, requestedAt BlockNumber) {
	existing, ok := c.allowances[q]
	if ok && existing.updatedAt > requestedAt {
		return
	}
	c.allowances[q] = entry{requestedAt: requestedAt, updatedAt: requestedAt, balance: allowance}
}

// GetBalances serves cached values for hits and fetches misses from the
// underlying fetcher, inserting fresh results into the cache without
// overwriting anything fresher. Never blocks on the whole batch if only
// some queries miss.
func (c *Cache) GetBalances(ctx context.Context, queries []Query) map[Query]Result {
	out := make(map[Query]Result, len(queries))

	var missing []Query
	var requestedAt BlockNumber

	c.mu.Lock()
	requestedAt = c.lastSeenBlock
	for _, q := range queries {
		if balance, ok := c.getCachedBalance(q); ok {
			out[q] = Result{Balance: balance}
			c.hits++
		} else {
			missing = append(missing, q)
			c.misses++
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out
	}

	fresh := c.fetcher.GetBalances(ctx, missing)

	c.mu.Lock()
	for q, r := range fresh {
		if r.Err == nil {
			c.insertBalance(q, r.Balance, requestedAt)
		}
		out[q] = r
	}
	c.mu.Unlock()

	return out
}

// GetAllowances serves cached values for hits and fetches misses from the
// underlying fetcher, exactly mirroring GetBalances but against the
// allowances dimension of the cache (spec §4.5 stage 5 needs balance and
// allowance as independently checkable funds reasons).
func (c *Cache) GetAllowances(ctx context.Context, queries []Query) map[Query]Result {
	out := make(map[Query]Result, len(queries))

	var missing []Query
	var requestedAt BlockNumber

	c.mu.Lock()
	requestedAt = c.lastSeenBlock
	for _, q := range queries {
		if allowance, ok := c.getCachedAllowance(q); ok {
			out[q] = Result{Balance: allowance}
			c.hits++
		} else {
			missing = append(missing, q)
			c.misses++
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out
	}

	fresh := c.fetcher.GetAllowances(ctx, missing)

	c.mu.Lock()
	for q, r := range fresh {
		if r.Err == nil {
			c.insertAllowance(q, r.Balance, requestedAt)
		}
		out[q] = r
	}
	c.mu.Unlock()

	return out
}

// CanTransfer always delegates directly to the fetcher; it is only
// invoked when creating or replacing an order, which doesn't profit from
// caching (spec §4.2).
func (c *Cache) CanTransfer(ctx context.Context, query Query, amount types.Amount) error {
	return c.fetcher.CanTransfer(ctx, query, amount)
}

// Refresh is invoked once per new block by the block watcher subscriber
// (C1 -> C2 dependency, spec §2). It refreshes entries requested within
// the last EvictionBlocks blocks and evicts everything that didn't get a
// fresh update this round.
func (c *Cache) Refresh(ctx context.Context, block BlockNumber) {
	c.mu.Lock()
	c.lastSeenBlock = block
	oldestAllowed := uint64(0)
	if block > uint64(EvictionBlocks) {
		oldestAllowed = block - uint64(EvictionBlocks)
	}
	var toRefresh, allowancesToRefresh []Query
	for q, e := range c.data {
		if e.requestedAt >= oldestAllowed {
			toRefresh = append(toRefresh, q)
		}
	}
	for q, e := range c.allowances {
		if e.requestedAt >= oldestAllowed {
			allowancesToRefresh = append(allowancesToRefresh, q)
		}
	}
	c.mu.Unlock()

	if len(toRefresh) > 0 {
		results := c.fetcher.GetBalances(ctx, toRefresh)
		c.mu.Lock()
		for q, r := range results {
			if r.Err == nil {
				c.updateBalance(q, r.Balance, block)
			}
		}
		c.mu.Unlock()
	}

	if len(allowancesToRefresh) > 0 {
		results := c.fetcher.GetAllowances(ctx, allowancesToRefresh)
		c.mu.Lock()
		for q, r := range results {
			if r.Err == nil {
				c.updateAllowance(q, r.Balance, block)
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.evict(block)
	c.mu.Unlock()
}

// evict drops every entry whose updatedAt lags the current block — i.e.
// anything that wasn't freshly refreshed this round — from both the
// balance and allowance maps. Must be called with c.mu held.
func (c *Cache) evict(block BlockNumber) {
	for q, e := range c.data {
		if e.updatedAt < block {
			delete(c.data, q)
		}
	}
	for q, e := range c.allowances {
		if e.updatedAt < block {
			delete(c.allowances, q)
		}
	}
}
