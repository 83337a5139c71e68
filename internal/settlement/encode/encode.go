// Package encode implements the Settlement Encoder (spec §4.10): turns a
// winning Solution into calldata for GPv2Settlement.settle, plus the
// transaction envelope the submitter (internal/settlement/submit) fills
// in access-list and gas-price fields for.
package encode

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// LiquiditySource materializes one Liquidity interaction into a concrete
// on-chain call. The specific AMM math (constant-product, stable-swap,
// order-book) is an external collaborator per spec §1/§4.10 — this
// package only asks for the encoded result.
type LiquiditySource interface {
	EncodeSwap(ctx context.Context, liquidityID string, input, output types.Asset) (target common.Address, value *big.Int, callData []byte, err error)
}

// AllowanceReader reports the settlement contract's currently cached
// ERC-20 allowance, used to decide whether an approve top-up is needed.
type AllowanceReader interface {
	Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error)
}

// PreBalanceChecker reports whether the settlement contract already holds
// enough of a token to skip materializing an internalize-flagged
// interaction (spec §4.10 step 3's elision rule).
type PreBalanceChecker interface {
	HasSufficientBalance(ctx context.Context, token common.Address, amount types.Amount) bool
}

// Config parameterizes one Encoder.
type Config struct {
	SettlementContract common.Address
	Solver             common.Address
	Internalize        bool

	// NativeToken is the placeholder address (e.g. the conventional
	// 0xEeee...Eeee sentinel) a buy-to-native order's Quote targets.
	// WrappedNativeToken is the ERC-20 wrapper (e.g. WETH) actually held
	// and unwrapped by the post-interaction spec §4.10 describes.
	NativeToken        common.Address
	WrappedNativeToken common.Address
}

// Encoder builds settlement transactions from winning Solutions.
type Encoder struct {
	liquidity  LiquiditySource
	allowances AllowanceReader
	balances   PreBalanceChecker
	cfg        Config
}

// New constructs an Encoder. balances may be nil, in which case
// internalize-flagged interactions are never elided (the conservative
// default: materialize everything).
func New(liquidity LiquiditySource, allowances AllowanceReader, balances PreBalanceChecker, cfg Config) *Encoder {
	return &Encoder{liquidity: liquidity, allowances: allowances, balances: balances, cfg: cfg}
}

// Encode implements spec §4.10 in full: token/price vectors, trade
// tuples, the three interaction buckets (with allowance top-ups,
// liquidity materialization, and internalize elision), the eth-wrap
// equivalency/unwrap, and the 8-byte auction-id calldata trailer.
func (e *Encoder) Encode(ctx context.Context, auction *types.Auction, sol *types.Solution) (*types.SettlementTransaction, error) {
	ordersByUID := make(map[types.UID]*types.Order, len(auction.Orders))
	for i := range auction.Orders {
		ordersByUID[auction.Orders[i].UID] = &auction.Orders[i]
	}

	prices := cloneprices(sol.Prices)
	unwrapAmount := new(big.Int)
	for _, trade := range sol.Trades {
		order, err := resolveOrder(trade, ordersByUID)
		if err != nil {
			return nil, err
		}
		if order.Quote != nil && order.Quote.Kind == types.QuoteEthWrap {
			if err := addEthWrapEquivalency(prices, e.cfg); err != nil {
				return nil, err
			}
			executed := executedAmountFor(trade)
			unwrapAmount.Add(unwrapAmount, executed.Big())
		}
	}

	tokens, index, err := tokenVector(sol, ordersByUID)
	if err != nil {
		return nil, err
	}
	clearingPrices, err := scaledClearingPrices(tokens, prices)
	if err != nil {
		return nil, err
	}

	trades := make([]gpv2Trade, 0, len(sol.Trades))
	for _, trade := range sol.Trades {
		order, err := resolveOrder(trade, ordersByUID)
		if err != nil {
			return nil, err
		}
		sellIdx, ok := index[order.SellToken]
		if !ok {
			return nil, errMissingClearingPrice(order.SellToken)
		}
		buyIdx, ok := index[order.BuyToken]
		if !ok {
			return nil, errMissingClearingPrice(order.BuyToken)
		}
		executed := executedAmountFor(trade)
		trades = append(trades, gpv2Trade{
			SellTokenIndex: big.NewInt(int64(sellIdx)),
			BuyTokenIndex:  big.NewInt(int64(buyIdx)),
			Receiver:       order.Receiver,
			SellAmount:     order.SellAmount.Big(),
			BuyAmount:      order.BuyAmount.Big(),
			ValidTo:        uint32(order.ValidTo.Unix()),
			AppData:        [32]byte(order.AppDataHash),
			FeeAmount:      new(big.Int),
			Flags:          new(big.Int).SetUint64(tradeFlags(order)),
			ExecutedAmount: executed.Big(),
			Signature:      order.Signature.Bytes,
		})
	}

	buckets := [3][]gpv2Interaction{}
	for _, it := range sol.Interactions {
		bucket, err := e.materialize(ctx, it)
		if err != nil {
			return nil, err
		}
		buckets[it.Phase] = append(buckets[it.Phase], bucket...)
	}
	if unwrapAmount.Sign() > 0 {
		buckets[types.PhasePost] = append(buckets[types.PhasePost], gpv2Interaction{
			Target:   e.cfg.WrappedNativeToken,
			Value:    new(big.Int),
			CallData: unwrapCallData(unwrapAmount),
		})
	}

	callData, err := settleABI.Pack("settle", tokens, clearingPrices, trades, buckets)
	if err != nil {
		return nil, encodingErr("abi pack: %v", err)
	}
	callData = append(callData, auctionIDTrailer(auction.ID)...)

	return &types.SettlementTransaction{
		CallData:  callData,
		From:      e.cfg.Solver,
		To:        e.cfg.SettlementContract,
		Value:     new(big.Int),
		AuctionID: auction.ID,
	}, nil
}

func orderFor(trade types.Trade, byUID map[types.UID]*types.Order) *types.Order {
	if trade.Fulfillment != nil {
		return byUID[trade.Fulfillment.OrderUID]
	}
	if trade.Jit != nil {
		return &trade.Jit.Order
	}
	return nil
}

// resolveOrder wraps orderFor with trade-shape-aware errors: a trade with
// neither Fulfillment nor Jit set is malformed; a Fulfillment whose
// OrderUID isn't in the auction is an unknown-order reference.
func resolveOrder(trade types.Trade, byUID map[types.UID]*types.Order) (*types.Order, error) {
	if order := orderFor(trade, byUID); order != nil {
		return order, nil
	}
	if trade.Fulfillment != nil {
		return nil, errUnknownOrderUID(trade.Fulfillment.OrderUID)
	}
	return nil, encodingErr("trade has neither fulfillment nor jit order")
}

func executedAmountFor(trade types.Trade) types.Amount {
	if trade.Fulfillment != nil {
		return trade.Fulfillment.ExecutedAmount
	}
	return trade.Jit.ExecutedAmount
}

func cloneprices(in map[common.Address]types.Price) map[common.Address]types.Price {
	out := make(map[common.Address]types.Price, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// addEthWrapEquivalency gives the wrapped-native token the native
// placeholder's clearing price (spec §4.10: "injects an equivalency of
// the wrapped-native token to the native placeholder in the price map").
func addEthWrapEquivalency(prices map[common.Address]types.Price, cfg Config) error {
	native, ok := prices[cfg.NativeToken]
	if !ok || native.Rat == nil {
		return errMissingClearingPrice(cfg.NativeToken)
	}
	prices[cfg.WrappedNativeToken] = native
	return nil
}

// unwrapCallData encodes unwrap(amount) against the wrapped-native
// contract's conventional withdraw(uint256) selector.
func unwrapCallData(amount *big.Int) []byte {
	selector := []byte{0x2e, 0x1a, 0x7d, 0x4d} // withdraw(uint256)
	padded := make([]byte, 32)
	amount.FillBytes(padded)
	return append(append([]byte{}, selector...), padded...)
}

func auctionIDTrailer(id types.AuctionID) []byte {
	var buf [8]byte
	v := uint64(id)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf[:]
}

// materialize turns one Solution Interaction into zero or more concrete
// calls: allowance top-ups, then the interaction itself (elided if
// internalize-eligible and the contract already holds enough balance).
func (e *Encoder) materialize(ctx context.Context, it types.Interaction) ([]gpv2Interaction, error) {
	var out []gpv2Interaction

	for _, req := range it.Allowances {
		needed := req.Amount.Big()
		current := new(big.Int)
		if e.allowances != nil {
			var err error
			current, err = e.allowances.Allowance(ctx, e.cfg.SettlementContract, req.Spender, req.Token)
			if err != nil {
				return nil, encodingErr("allowance lookup for %s: %v", req.Token.Hex(), err)
			}
		}
		if current.Cmp(needed) < 0 {
			calldata, err := packApprove(req.Spender, maxUint256)
			if err != nil {
				return nil, encodingErr("pack approve: %v", err)
			}
			out = append(out, gpv2Interaction{Target: req.Token, Value: new(big.Int), CallData: calldata})
		}
	}

	if it.Internalize && e.cfg.Internalize && e.elidable(ctx, it) {
		return out, nil
	}

	switch it.Kind {
	case types.InteractionCustom:
		out = append(out, gpv2Interaction{Target: it.Target, Value: it.Value.Big(), CallData: it.CallData})
	case types.InteractionLiquidity:
		target, value, callData, err := e.liquidity.EncodeSwap(ctx, it.LiquidityID, it.InputAsset, it.OutputAsset)
		if err != nil {
			return nil, encodingErr("liquidity %s: %v", it.LiquidityID, err)
		}
		out = append(out, gpv2Interaction{Target: target, Value: value, CallData: callData})
	}
	return out, nil
}

func (e *Encoder) elidable(ctx context.Context, it types.Interaction) bool {
	if e.balances == nil {
		return false
	}
	token := it.OutputAsset.Token
	amount := it.OutputAsset.Amount
	if it.Kind == types.InteractionCustom && len(it.Outputs) > 0 {
		token = it.Outputs[0].Token
		amount = it.Outputs[0].Amount
	}
	return e.balances.HasSufficientBalance(ctx, token, amount)
}
