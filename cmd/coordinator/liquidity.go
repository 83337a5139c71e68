// Liquidity source adapter: encode.LiquiditySource's implementation,
// backed by an external liquidity-routing HTTP service. The AMM/liquidity
// math itself (constant-product, stable-swap, order-book matching) is an
// explicit external collaborator per spec §1/§4.10 — this client only
// asks a router for the encoded call and relays it, the same resty
// request/response shape internal/solver/client.go uses for solver RFQs.
package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"auction-coordinator/pkg/types"
)

func hexDecode(s string) ([]byte, error) { return hexutil.Decode(s) }

type liquidityRouter struct {
	http *resty.Client
}

func newLiquidityRouter(baseURL string) *liquidityRouter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &liquidityRouter{http: client}
}

type swapRequestDTO struct {
	LiquidityID string `json:"liquidity_id"`
	InputToken  string `json:"input_token"`
	InputAmount string `json:"input_amount"`
	OutputToken string `json:"output_token"`
}

type swapResponseDTO struct {
	Target   string `json:"target"`
	Value    string `json:"value"`
	CallData string `json:"call_data"`
}

// EncodeSwap satisfies encode.LiquiditySource.
func (r *liquidityRouter) EncodeSwap(ctx context.Context, liquidityID string, input, output types.Asset) (common.Address, *big.Int, []byte, error) {
	req := swapRequestDTO{
		LiquidityID: liquidityID,
		InputToken:  input.Token.Hex(),
		InputAmount: input.Amount.String(),
		OutputToken: output.Token.Hex(),
	}

	var resp swapResponseDTO
	apiResp, err := r.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post("/swap")
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("liquidity: request failed: %w", err)
	}
	if apiResp.IsError() {
		return common.Address{}, nil, nil, fmt.Errorf("liquidity: router returned %s", apiResp.Status())
	}

	value, ok := new(big.Int).SetString(resp.Value, 10)
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("liquidity: router returned non-numeric value %q", resp.Value)
	}
	callData, err := hexDecode(resp.CallData)
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("liquidity: decode call data: %w", err)
	}

	return common.HexToAddress(resp.Target), value, callData, nil
}
