package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/internal/balance"
	"auction-coordinator/internal/chain"
	"auction-coordinator/internal/oracle"
	"auction-coordinator/pkg/types"
)

// priceAdapter satisfies auction.PriceSource over the C3 Price Oracle,
// converting its decimal-precise native-token price into the exact
// big.Rat the Auction Builder's Auction.Prices map carries.
type priceAdapter struct {
	oracle *oracle.Oracle
}

func (p *priceAdapter) ReferencePrice(ctx context.Context, token common.Address) (types.Price, bool) {
	d, ok, err := p.oracle.NativePrice(ctx, token)
	if err != nil || !ok {
		return types.Price{}, false
	}
	r, ok := new(big.Rat).SetString(d.String())
	if !ok {
		return types.Price{}, false
	}
	return types.NewPrice(r), true
}

// balanceAdapter satisfies auction.BalanceChecker over the C2
// Balance/Allowance Cache's cached balances, assuming plain ERC-20
// transfers — the auction builder only needs a coarse solvability filter,
// not the transfer-source nuance the order validator's own balance check
// already enforced.
type balanceAdapter struct {
	cache *balance.Cache
}

func (b *balanceAdapter) CanTransfer(ctx context.Context, owner, token common.Address, amount types.Amount) bool {
	q := balance.Query{Owner: owner, Token: token, Source: types.SourceErc20}
	r, ok := b.cache.GetBalances(ctx, []balance.Query{q})[q]
	return ok && r.Err == nil && r.Balance.Cmp(amount) >= 0
}

// blockDeadlineAdapter satisfies auction.BlockDeadlineResolver, estimating
// a future block's wall-clock time from the watcher's latest observed
// block plus a configured average block interval.
type blockDeadlineAdapter struct {
	watcher       *chain.Watcher
	avgBlockTime  time.Duration
}

func (a *blockDeadlineAdapter) NextBlockAt(deadlineBlock uint64) time.Time {
	current, ok := a.watcher.Current()
	if !ok || deadlineBlock <= current.Number {
		return time.Now().Add(a.avgBlockTime)
	}
	blocksAway := deadlineBlock - current.Number
	base := time.Unix(int64(current.Timestamp), 0)
	return base.Add(time.Duration(blocksAway) * a.avgBlockTime)
}

// gasPriceAdapter satisfies coordinator.GasPriceSource over the C3 Price
// Oracle's EIP-1559 MaxFee estimate — the fee a solver's settlement
// transaction must actually bid to land, which is what spec §4.9's
// objective (Surplus + Fees - Gas*GasPrice) means by "gas price".
type gasPriceAdapter struct {
	oracle *oracle.Oracle
}

func (g *gasPriceAdapter) GasPrice(ctx context.Context) (*big.Rat, error) {
	est, err := g.oracle.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := new(big.Rat).SetString(est.MaxFee.String())
	if !ok {
		return nil, fmt.Errorf("coordinator: gas price %q is not a valid rational", est.MaxFee.String())
	}
	return r, nil
}

// NewPriceAdapter builds the auction.PriceSource backing for o.
func NewPriceAdapter(o *oracle.Oracle) *priceAdapter { return &priceAdapter{oracle: o} }

// NewBalanceAdapter builds the auction.BalanceChecker backing for c.
func NewBalanceAdapter(c *balance.Cache) *balanceAdapter { return &balanceAdapter{cache: c} }

// NewBlockDeadlineAdapter builds the auction.BlockDeadlineResolver
// backing for w, assuming avgBlockTime between blocks.
func NewBlockDeadlineAdapter(w *chain.Watcher, avgBlockTime time.Duration) *blockDeadlineAdapter {
	return &blockDeadlineAdapter{watcher: w, avgBlockTime: avgBlockTime}
}

// NewGasPriceAdapter builds the GasPriceSource backing for o.
func NewGasPriceAdapter(o *oracle.Oracle) *gasPriceAdapter { return &gasPriceAdapter{oracle: o} }
