package solver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

func sideToString(s types.Side) string {
	if s == types.Buy {
		return "buy"
	}
	return "sell"
}

func classToString(c types.Class) string {
	switch c {
	case types.ClassLimit:
		return "limit"
	case types.ClassLiquidity:
		return "liquidity"
	default:
		return "market"
	}
}

func uidToString(u types.UID) string {
	return "0x" + common.Bytes2Hex(u[:])
}

func toAuctionDTO(a *types.Auction) auctionDTO {
	orders := make([]orderDTO, len(a.Orders))
	for i, o := range a.Orders {
		orders[i] = orderDTO{
			UID:               uidToString(o.UID),
			SellToken:         o.SellToken.Hex(),
			BuyToken:          o.BuyToken.Hex(),
			SellAmount:        o.SellAmount.String(),
			BuyAmount:         o.BuyAmount.String(),
			Class:             classToString(o.Class),
			Side:              sideToString(o.Side),
			PartiallyFillable: o.PartiallyFillable,
		}
	}
	tokens := make(map[string]priceDTO, len(a.Prices))
	for tok, p := range a.Prices {
		if p.Rat == nil {
			continue
		}
		tokens[tok.Hex()] = priceDTO{Price: p.Rat.RatString()}
	}
	return auctionDTO{
		ID:       uint64(a.ID),
		Orders:   orders,
		Tokens:   tokens,
		Deadline: a.Deadline,
	}
}

// fromSolutionDTO parses one wire solution into the domain type. Order
// UIDs are parsed but not checked against any auction here (JIT trades
// carry their own full order instead); the driver's scoring rejects
// unknown UIDs later. Returns an error on any malformed field —
// a malformed solution is dropped by the driver, not partially accepted.
func fromSolutionDTO(solverID string, d solutionDTO) (*types.Solution, error) {
	prices := make(map[common.Address]types.Price, len(d.Prices))
	for tokHex, priceStr := range d.Prices {
		rat, ok := new(big.Rat).SetString(priceStr)
		if !ok {
			return nil, fmt.Errorf("solver %s: malformed price %q for token %s", solverID, priceStr, tokHex)
		}
		if rat.Sign() == 0 {
			return nil, fmt.Errorf("solver %s: zero clearing price for token %s", solverID, tokHex)
		}
		prices[common.HexToAddress(tokHex)] = types.NewPrice(rat)
	}

	trades := make([]types.Trade, 0, len(d.Trades))
	for _, t := range d.Trades {
		switch t.Kind {
		case "fulfillment":
			amount, err := types.AmountFromDecimalString(t.ExecutedAmount)
			if err != nil {
				return nil, fmt.Errorf("solver %s: malformed executed amount: %w", solverID, err)
			}
			uidBytes := common.FromHex(t.OrderUID)
			var uid types.UID
			copy(uid[:], uidBytes)
			trades = append(trades, types.Trade{Fulfillment: &types.Fulfillment{OrderUID: uid, ExecutedAmount: amount}})
		case "jit":
			if t.JitOrder == nil {
				return nil, fmt.Errorf("solver %s: jit trade missing jitOrder", solverID)
			}
			order, err := fromOrderDTO(*t.JitOrder)
			if err != nil {
				return nil, fmt.Errorf("solver %s: malformed jit order: %w", solverID, err)
			}
			amount, err := types.AmountFromDecimalString(t.ExecutedAmount)
			if err != nil {
				return nil, fmt.Errorf("solver %s: malformed jit executed amount: %w", solverID, err)
			}
			trades = append(trades, types.Trade{Jit: &types.JitTrade{Order: *order, ExecutedAmount: amount}})
		default:
			return nil, fmt.Errorf("solver %s: unknown trade kind %q", solverID, t.Kind)
		}
	}

	interactions := make([]types.Interaction, 0, len(d.Interactions))
	for _, id := range d.Interactions {
		interaction, err := fromInteractionDTO(id)
		if err != nil {
			return nil, fmt.Errorf("solver %s: %w", solverID, err)
		}
		interactions = append(interactions, interaction)
	}

	return &types.Solution{
		ID:           d.ID,
		SolverID:     solverID,
		Prices:       prices,
		Trades:       trades,
		Interactions: interactions,
	}, nil
}

func fromOrderDTO(d orderDTO) (*types.Order, error) {
	sellAmount, err := types.AmountFromDecimalString(d.SellAmount)
	if err != nil {
		return nil, err
	}
	buyAmount, err := types.AmountFromDecimalString(d.BuyAmount)
	if err != nil {
		return nil, err
	}
	side := types.Sell
	if d.Side == "buy" {
		side = types.Buy
	}
	return &types.Order{
		SellToken:         common.HexToAddress(d.SellToken),
		BuyToken:          common.HexToAddress(d.BuyToken),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		Side:              side,
		PartiallyFillable: d.PartiallyFillable,
	}, nil
}

func parsePhase(s string) types.InteractionPhase {
	switch s {
	case "pre":
		return types.PhasePre
	case "post":
		return types.PhasePost
	default:
		return types.PhaseExecution
	}
}

func fromInteractionDTO(d interactionDTO) (types.Interaction, error) {
	phase := parsePhase(d.Phase)
	if d.Kind == "liquidity" {
		if d.InputAsset == nil || d.OutputAsset == nil {
			return types.Interaction{}, fmt.Errorf("liquidity interaction missing input/output asset")
		}
		in, err := toAsset(*d.InputAsset)
		if err != nil {
			return types.Interaction{}, err
		}
		out, err := toAsset(*d.OutputAsset)
		if err != nil {
			return types.Interaction{}, err
		}
		return types.Interaction{
			Kind:        types.InteractionLiquidity,
			Phase:       phase,
			LiquidityID: d.LiquidityID,
			InputAsset:  in,
			OutputAsset: out,
			Internalize: d.Internalize,
		}, nil
	}

	value, err := types.AmountFromDecimalString(orEmptyZero(d.Value))
	if err != nil {
		return types.Interaction{}, fmt.Errorf("malformed interaction value: %w", err)
	}
	allowances := make([]types.RequiredAllowance, len(d.Allowances))
	for i, a := range d.Allowances {
		amt, err := types.AmountFromDecimalString(a.Amount)
		if err != nil {
			return types.Interaction{}, fmt.Errorf("malformed allowance amount: %w", err)
		}
		allowances[i] = types.RequiredAllowance{
			Spender: common.HexToAddress(a.Spender),
			Token:   common.HexToAddress(a.Token),
			Amount:  amt,
		}
	}
	inputs, err := toAssets(d.Inputs)
	if err != nil {
		return types.Interaction{}, err
	}
	outputs, err := toAssets(d.Outputs)
	if err != nil {
		return types.Interaction{}, err
	}
	return types.Interaction{
		Kind:        types.InteractionCustom,
		Phase:       phase,
		Target:      common.HexToAddress(d.Target),
		Value:       value,
		CallData:    common.FromHex(d.CallData),
		Allowances:  allowances,
		Inputs:      inputs,
		Outputs:     outputs,
		Internalize: d.Internalize,
	}, nil
}

func orEmptyZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func toAsset(d assetDTO) (types.Asset, error) {
	amt, err := types.AmountFromDecimalString(d.Amount)
	if err != nil {
		return types.Asset{}, fmt.Errorf("malformed asset amount: %w", err)
	}
	return types.Asset{Token: common.HexToAddress(d.Token), Amount: amt}, nil
}

func toAssets(ds []assetDTO) ([]types.Asset, error) {
	out := make([]types.Asset, len(ds))
	for i, d := range ds {
		a, err := toAsset(d)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
