// RPC adapters: the concrete go-ethereum-backed collaborators the rest
// of the module only ever sees through narrow interfaces (chain.Reader,
// index.LogFetcher, submit.Signer, ...). Grounded on
// internal/solver/evaluator.go's RPCEvaluator/ChainCaller split, itself
// grounded on the pack's only chain-RPC precedent (the blackholedex
// example's direct *ethclient.Client use) — blockchain RPC transport
// itself is an out-of-scope external collaborator (spec §1), but a
// runnable binary needs something real behind every interface.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"auction-coordinator/internal/balance"
	"auction-coordinator/internal/chain"
	"auction-coordinator/internal/index"
	"auction-coordinator/internal/settlement/submit"
	domtypes "auction-coordinator/pkg/types"
)

// tradeEventABIJSON is GPv2Settlement's Trade event — the one index.New
// consumes to reconcile fills into the order book (spec §4.12).
const tradeEventABIJSON = `[{
	"anonymous": false,
	"name": "Trade",
	"type": "event",
	"inputs": [
		{"name": "owner", "type": "address", "indexed": true},
		{"name": "sellToken", "type": "address", "indexed": false},
		{"name": "buyToken", "type": "address", "indexed": false},
		{"name": "sellAmount", "type": "uint256", "indexed": false},
		{"name": "buyAmount", "type": "uint256", "indexed": false},
		{"name": "feeAmount", "type": "uint256", "indexed": false},
		{"name": "orderUid", "type": "bytes", "indexed": false}
	]
}]`

// erc20ReadABIJSON covers the two read-only calls this binary needs:
// balanceOf and allowance. approve's write-path encoding already lives in
// internal/settlement/encode, which owns the approval interactions.
const erc20ReadABIJSON = `[
	{"name": "balanceOf", "type": "function", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"name": "allowance", "type": "function", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]}
]`

// isSolverABIJSON is GPv2AllowListAuthentication's solver predicate
// (spec §4.12's "on-chain solver-authentication predicate").
const isSolverABIJSON = `[{
	"name": "isSolver", "type": "function", "stateMutability": "view",
	"inputs": [{"name": "solver", "type": "address"}],
	"outputs": [{"name": "", "type": "bool"}]
}]`

var (
	tradeEventABI abi.ABI
	erc20ReadABI  abi.ABI
	isSolverABI   abi.ABI
	tradeEventSig common.Hash
)

func init() {
	var err error
	tradeEventABI, err = abi.JSON(strings.NewReader(tradeEventABIJSON))
	if err != nil {
		panic("main: invalid trade event ABI: " + err.Error())
	}
	erc20ReadABI, err = abi.JSON(strings.NewReader(erc20ReadABIJSON))
	if err != nil {
		panic("main: invalid erc20 read ABI: " + err.Error())
	}
	isSolverABI, err = abi.JSON(strings.NewReader(isSolverABIJSON))
	if err != nil {
		panic("main: invalid isSolver ABI: " + err.Error())
	}
	tradeEventSig = tradeEventABI.Events["Trade"].ID
}

// chainClient wraps *ethclient.Client once and implements every
// RPC-backed interface the module's packages declare. A single
// underlying connection is shared; each method is a thin, independent
// translation and none of them hold state across calls.
type chainClient struct {
	eth                *ethclient.Client
	settlementContract common.Address
	authContract       common.Address
	chainID            *big.Int
	signerKey          *ecdsa.PrivateKey
}

func newChainClient(eth *ethclient.Client, settlementContract, authContract common.Address, chainID *big.Int, signerKey *ecdsa.PrivateKey) *chainClient {
	return &chainClient{
		eth:                eth,
		settlementContract: settlementContract,
		authContract:       authContract,
		chainID:            chainID,
		signerKey:          signerKey,
	}
}

// --- chain.Reader ---

func (c *chainClient) HeaderByNumber(ctx context.Context, number *big.Int) (chain.BlockInfo, error) {
	h, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return chain.BlockInfo{}, fmt.Errorf("rpc: header by number: %w", err)
	}
	baseFee := h.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return chain.BlockInfo{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
		GasLimit:   h.GasLimit,
		BaseFee:    baseFee,
	}, nil
}

// --- index.LogFetcher ---

func (c *chainClient) TradeLogs(ctx context.Context, blockHash common.Hash) ([]index.SettlementLog, error) {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		BlockHash: &blockHash,
		Addresses: []common.Address{c.settlementContract},
		Topics:    [][]common.Hash{{tradeEventSig}},
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: filter trade logs: %w", err)
	}

	out := make([]index.SettlementLog, 0, len(logs))
	for _, l := range logs {
		decoded, err := tradeEventABI.Unpack("Trade", l.Data)
		if err != nil {
			continue
		}
		if len(decoded) < 6 {
			continue
		}
		buyAmount, _ := decoded[3].(*big.Int)
		orderUID, _ := decoded[5].([]byte)

		tx, _, err := c.eth.TransactionByHash(ctx, l.TxHash)
		var sender common.Address
		var callData []byte
		if err == nil && tx != nil {
			callData = tx.Data()
			if s, serr := gethtypes.Sender(gethtypes.LatestSignerForChainID(c.chainID), tx); serr == nil {
				sender = s
			}
		}

		var uid domtypes.UID
		copy(uid[:], orderUID)

		executed, _ := domtypes.AmountFromBigInt(buyAmount)

		out = append(out, index.SettlementLog{
			BlockNumber:    l.BlockNumber,
			BlockHash:      l.BlockHash,
			LogIndex:       uint64(l.Index),
			TxHash:         l.TxHash,
			OrderUID:       uid,
			ExecutedAmount: executed,
			CallData:       callData,
			TxSender:       sender,
		})
	}
	return out, nil
}

// --- index.SolverAuthenticator ---

func (c *chainClient) IsSolver(ctx context.Context, addr common.Address, block uint64) (bool, error) {
	data, err := isSolverABI.Pack("isSolver", addr)
	if err != nil {
		return false, fmt.Errorf("rpc: pack isSolver: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.authContract, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return false, fmt.Errorf("rpc: call isSolver: %w", err)
	}
	decoded, err := isSolverABI.Unpack("isSolver", out)
	if err != nil || len(decoded) == 0 {
		return false, fmt.Errorf("rpc: unpack isSolver: %w", err)
	}
	ok, _ := decoded[0].(bool)
	return ok, nil
}

// --- submit.BlockSource ---

func (c *chainClient) CurrentBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *chainClient) NewHeads(ctx context.Context) (<-chan uint64, error) {
	heads := make(chan *gethtypes.Header, 16)
	sub, err := c.eth.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribe new heads: %w", err)
	}
	out := make(chan uint64, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				_ = err
				return
			case h, ok := <-heads:
				if !ok {
					return
				}
				select {
				case out <- h.Number.Uint64():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// --- submit.ReceiptFetcher ---

func (c *chainClient) Receipt(ctx context.Context, txHash common.Hash) (submit.ReceiptStatus, uint64, error) {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return submit.ReceiptNotFound, 0, nil
	}
	if r.Status == gethtypes.ReceiptStatusSuccessful {
		return submit.ReceiptSuccess, r.BlockNumber.Uint64(), nil
	}
	return submit.ReceiptFailed, r.BlockNumber.Uint64(), nil
}

// --- submit.Simulator ---

func (c *chainClient) WouldRevert(ctx context.Context, tx *domtypes.SettlementTransaction) (bool, error) {
	_, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		From: tx.From,
		To:   &tx.To,
		Data: tx.CallData,
	}, nil)
	return err != nil, nil
}

// --- submit.Signer ---

func (c *chainClient) Sign(ctx context.Context, key common.Address, nonce uint64, tx *domtypes.SettlementTransaction) ([]byte, error) {
	if c.signerKey == nil {
		return nil, fmt.Errorf("rpc: no signing key configured for %s", key.Hex())
	}
	gasTip, gasFeeCap, err := c.suggestGas(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: key,
		To:   &tx.To,
		Data: tx.CallData,
	})
	if err != nil {
		gasLimit = 500000
	}

	unsigned := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &tx.To,
		Value:     tx.Value,
		Data:      tx.CallData,
	})

	signed, err := gethtypes.SignTx(unsigned, gethtypes.LatestSignerForChainID(c.chainID), c.signerKey)
	if err != nil {
		return nil, fmt.Errorf("rpc: sign tx: %w", err)
	}
	return signed.MarshalBinary()
}

func (c *chainClient) suggestGas(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: suggest gas tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: header for fee cap: %w", err)
	}
	base := head.BaseFee
	if base == nil {
		base = big.NewInt(0)
	}
	feeCap = new(big.Int).Add(tip, new(big.Int).Mul(base, big.NewInt(2)))
	return tip, feeCap, nil
}

// --- submit.Mempool (public mempool channel) ---

// publicMempool broadcasts signed transactions through the node's
// ordinary eth_sendRawTransaction path (spec §4.11's "public mempool"
// channel). Private-relay and delegated-EOA channels are additional
// Mempool implementations an operator can register; this binary wires
// only the public channel by default.
type publicMempool struct {
	eth *ethclient.Client
}

func newPublicMempool(eth *ethclient.Client) *publicMempool { return &publicMempool{eth: eth} }

func (m *publicMempool) Name() string { return "public" }

func (m *publicMempool) Send(ctx context.Context, signedTx []byte) (common.Hash, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("rpc: decode signed tx: %w", err)
	}
	if err := m.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("rpc: send transaction: %w", err)
	}
	return tx.Hash(), nil
}

// --- encode.AllowanceReader / encode.PreBalanceChecker ---

func (c *chainClient) Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error) {
	data, err := erc20ReadABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("rpc: pack allowance: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: call allowance: %w", err)
	}
	decoded, err := erc20ReadABI.Unpack("allowance", out)
	if err != nil || len(decoded) == 0 {
		return nil, fmt.Errorf("rpc: unpack allowance: %w", err)
	}
	v, _ := decoded[0].(*big.Int)
	return v, nil
}

func (c *chainClient) HasSufficientBalance(ctx context.Context, token common.Address, amount domtypes.Amount) bool {
	bal, err := c.erc20BalanceOf(ctx, token, c.settlementContract)
	if err != nil {
		return false
	}
	return bal.Cmp(amount.Big()) >= 0
}

func (c *chainClient) erc20BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ReadABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("rpc: pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: call balanceOf: %w", err)
	}
	decoded, err := erc20ReadABI.Unpack("balanceOf", out)
	if err != nil || len(decoded) == 0 {
		return nil, fmt.Errorf("rpc: unpack balanceOf: %w", err)
	}
	v, _ := decoded[0].(*big.Int)
	return v, nil
}

// --- solver.ChainCaller ---

func (c *chainClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber interface{}) ([]byte, error) {
	var bn *big.Int
	if blockNumber != nil {
		bn, _ = blockNumber.(*big.Int)
	}
	return c.eth.CallContract(ctx, call, bn)
}

func (c *chainClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, call)
}

// --- balance.Fetcher ---

func (c *chainClient) GetBalances(ctx context.Context, queries []balance.Query) map[balance.Query]balance.Result {
	out := make(map[balance.Query]balance.Result, len(queries))
	for _, q := range queries {
		bal, err := c.erc20BalanceOf(ctx, q.Token, q.Owner)
		if err != nil {
			out[q] = balance.Result{Err: err}
			continue
		}
		amt, ok := domtypes.AmountFromBigInt(bal)
		if !ok {
			out[q] = balance.Result{Err: fmt.Errorf("rpc: balance overflow for %s", q.Token.Hex())}
			continue
		}
		out[q] = balance.Result{Balance: amt}
	}
	return out
}

// GetAllowances answers balance.Fetcher's allowance dimension by reusing
// the same erc20 "allowance" read Allowance already exposes for the
// settlement encoder, with the settlement contract as the fixed spender.
func (c *chainClient) GetAllowances(ctx context.Context, queries []balance.Query) map[balance.Query]balance.Result {
	out := make(map[balance.Query]balance.Result, len(queries))
	for _, q := range queries {
		allowance, err := c.Allowance(ctx, q.Owner, c.settlementContract, q.Token)
		if err != nil {
			out[q] = balance.Result{Err: err}
			continue
		}
		amt, ok := domtypes.AmountFromBigInt(allowance)
		if !ok {
			out[q] = balance.Result{Err: fmt.Errorf("rpc: allowance overflow for %s", q.Token.Hex())}
			continue
		}
		out[q] = balance.Result{Balance: amt}
	}
	return out
}

func (c *chainClient) CanTransfer(ctx context.Context, q balance.Query, amount domtypes.Amount) error {
	bal, err := c.erc20BalanceOf(ctx, q.Token, q.Owner)
	if err != nil {
		return err
	}
	if bal.Cmp(amount.Big()) < 0 {
		return fmt.Errorf("rpc: insufficient balance: have %s, need %s", bal.String(), amount.String())
	}
	return nil
}

