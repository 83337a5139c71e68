// Package auction implements the Auction Builder (spec §4.8): at each
// round start, snapshot the order book, filter out orders that can't be
// settled, attach prices and fee policies, and freeze the result into an
// immutable Auction.
package auction

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// Book is the subset of internal/orderbook.Book the builder needs.
type Book interface {
	SolvableOrders() []types.Order
}

// BalanceChecker answers whether owner currently has enough of token to
// cover amount, backed by the C2 balance/allowance cache.
type BalanceChecker interface {
	CanTransfer(ctx context.Context, owner, token common.Address, amount types.Amount) bool
}

// PriceSource supplies the per-token reference price used to populate
// Auction.Prices.
type PriceSource interface {
	ReferencePrice(ctx context.Context, token common.Address) (types.Price, bool)
}

// FeePolicyResolver attaches the fee-policy list applicable to an order
// at this round (spec §4.8: "attach the fee-policy list applicable to
// each order at this round").
type FeePolicyResolver interface {
	FeePoliciesFor(o *types.Order) []types.FeePolicy
}

// BlockDeadlineResolver converts a deadline expressed in blocks into a
// wall-clock estimate ("next_block_at(deadline_blocks)").
type BlockDeadlineResolver interface {
	NextBlockAt(deadlineBlock uint64) time.Time
}

// Config bounds one round's construction.
type Config struct {
	RoundInterval time.Duration
	DeadlineBlock uint64
}

// Builder implements spec §4.8.
type Builder struct {
	book     Book
	balances BalanceChecker
	prices   PriceSource
	fees     FeePolicyResolver
	blocks   BlockDeadlineResolver
	now      func() time.Time
}

// New constructs an Auction Builder.
func New(book Book, balances BalanceChecker, prices PriceSource, fees FeePolicyResolver, blocks BlockDeadlineResolver) *Builder {
	return &Builder{book: book, balances: balances, prices: prices, fees: fees, blocks: blocks, now: time.Now}
}

// Build snapshots the book and produces an immutable Auction for id.
func (b *Builder) Build(ctx context.Context, id types.AuctionID, cfg Config) *types.Auction {
	candidates := b.book.SolvableOrders()

	orders := make([]types.Order, 0, len(candidates))
	pricesUsed := make(map[common.Address]types.Price)
	for _, o := range candidates {
		full := o.SellAmount
		if o.Side == types.Buy {
			full = o.BuyAmount
		}
		if remaining, ok := full.Sub(o.ExecutedAmount); !ok || remaining.IsZero() {
			continue
		}
		if b.balances != nil && !b.balances.CanTransfer(ctx, o.Owner, o.SellToken, o.SellAmount) {
			continue
		}
		o.FeePolicies = b.feePoliciesFor(&o)
		orders = append(orders, o)

		for _, tok := range []common.Address{o.SellToken, o.BuyToken} {
			if _, ok := pricesUsed[tok]; ok {
				continue
			}
			if p, ok := b.priceFor(ctx, tok); ok {
				pricesUsed[tok] = p
			}
		}
	}

	return &types.Auction{
		ID:            id,
		Deadline:      b.deadline(cfg),
		DeadlineBlock: cfg.DeadlineBlock,
		Orders:        orders,
		Prices:        pricesUsed,
		SurplusCapturingJitOwners: make(map[common.Address]bool),
	}
}

func (b *Builder) feePoliciesFor(o *types.Order) []types.FeePolicy {
	if b.fees == nil {
		return o.FeePolicies
	}
	return b.fees.FeePoliciesFor(o)
}

func (b *Builder) priceFor(ctx context.Context, token common.Address) (types.Price, bool) {
	if b.prices == nil {
		return types.Price{}, false
	}
	return b.prices.ReferencePrice(ctx, token)
}

// deadline implements "min(wall_clock + T, next_block_at(deadline_blocks))".
func (b *Builder) deadline(cfg Config) time.Time {
	wallClock := b.now().Add(cfg.RoundInterval)
	if b.blocks == nil {
		return wallClock
	}
	blockDeadline := b.blocks.NextBlockAt(cfg.DeadlineBlock)
	if blockDeadline.Before(wallClock) {
		return blockDeadline
	}
	return wallClock
}
