package solver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// Encoder is the settlement-calldata seam this package depends on, kept
// minimal so internal/solver never imports internal/settlement/encode
// directly (spec §4.9: "encode the settlement speculatively and simulate
// eth_call" names the step, not a concrete encoder).
type Encoder interface {
	Encode(ctx context.Context, auction *types.Auction, sol *types.Solution) (*types.SettlementTransaction, error)
}

// ChainCaller is the subset of ethclient.Client's interface this package
// needs: a raw eth_call and its companion gas estimate. Grounded on the
// ethclient.Dial / CallContract idiom used in the example pack's
// blackholedex settlement checks, the closest precedent in the corpus for
// a read-only simulation call against an EVM node.
type ChainCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber interface{}) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
}

// RPCEvaluator is the production Evaluator: it speculatively encodes a
// Solution then runs it through eth_call before asking the node for a gas
// estimate, matching the two-step "simulate, then price" sequence spec
// §4.9 requires.
type RPCEvaluator struct {
	encoder Encoder
	chain   ChainCaller
}

// NewRPCEvaluator wires a settlement encoder to a chain client.
func NewRPCEvaluator(encoder Encoder, chain ChainCaller) *RPCEvaluator {
	return &RPCEvaluator{encoder: encoder, chain: chain}
}

// EstimateGas implements Evaluator: encode, eth_call, and only on a clean
// call ask for a gas estimate. Any eth_call error, whether a revert or a
// failure to reach the node, is reported through the reverted return
// value; err carries only encode and gas-estimate failures.
func (e *RPCEvaluator) EstimateGas(ctx context.Context, auction *types.Auction, sol *types.Solution) (uint64, bool, error) {
	tx, err := e.encoder.Encode(ctx, auction, sol)
	if err != nil {
		return 0, false, fmt.Errorf("speculative encode: %w", err)
	}

	call := ethereum.CallMsg{
		From: tx.From,
		To:   addrPtr(tx.To),
		Data: tx.CallData,
	}

	if _, err := e.chain.CallContract(ctx, call, nil); err != nil {
		return 0, true, nil
	}

	gas, err := e.chain.EstimateGas(ctx, call)
	if err != nil {
		return 0, false, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, false, nil
}

func addrPtr(a common.Address) *common.Address { return &a }
