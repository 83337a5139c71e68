package encode

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// settleABIJSON is GPv2Settlement.settle's function signature, the
// on-chain entrypoint spec §4.10/§6 describe ("(tokens[], clearingPrices[],
// trades[], interactions[3][])"). Only the one function this package
// calls is declared.
const settleABIJSON = `[{
	"name": "settle",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "tokens", "type": "address[]"},
		{"name": "clearingPrices", "type": "uint256[]"},
		{"name": "trades", "type": "tuple[]", "components": [
			{"name": "sellTokenIndex", "type": "uint256"},
			{"name": "buyTokenIndex", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "sellAmount", "type": "uint256"},
			{"name": "buyAmount", "type": "uint256"},
			{"name": "validTo", "type": "uint32"},
			{"name": "appData", "type": "bytes32"},
			{"name": "feeAmount", "type": "uint256"},
			{"name": "flags", "type": "uint256"},
			{"name": "executedAmount", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		]},
		{"name": "interactions", "type": "tuple[][3]", "components": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "callData", "type": "bytes"}
		]}
	],
	"outputs": []
}]`

// erc20ABIJSON covers only approve, used to build the cached-allowance
// top-up interactions spec §4.10 requires.
const erc20ABIJSON = `[{
	"name": "approve",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "spender", "type": "address"},
		{"name": "value", "type": "uint256"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`

var (
	settleABI abi.ABI
	erc20ABI  abi.ABI
)

func init() {
	var err error
	settleABI, err = abi.JSON(strings.NewReader(settleABIJSON))
	if err != nil {
		panic("encode: invalid settle ABI: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("encode: invalid erc20 ABI: " + err.Error())
	}
}

// gpv2Trade mirrors GPv2Trade.Data's field order exactly; go-ethereum's
// abi package packs tuples positionally against a matching Go struct.
type gpv2Trade struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

// gpv2Interaction mirrors GPv2Interaction.Data.
type gpv2Interaction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// maxUint256 is the sentinel "infinite" approval amount spec §4.10 names.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func packApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}
