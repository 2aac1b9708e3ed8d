package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC-20 transfer function and Transfer event
const erc20ABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// Smart account batch execution entry point
const accountABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"name": "target", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "data", "type": "bytes"}
				],
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "executeBatch",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// ERC-4337 v0.6 EntryPoint subset
const entryPointABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"name": "sender", "type": "address"},
					{"name": "nonce", "type": "uint256"},
					{"name": "initCode", "type": "bytes"},
					{"name": "callData", "type": "bytes"},
					{"name": "callGasLimit", "type": "uint256"},
					{"name": "verificationGasLimit", "type": "uint256"},
					{"name": "preVerificationGas", "type": "uint256"},
					{"name": "maxFeePerGas", "type": "uint256"},
					{"name": "maxPriorityFeePerGas", "type": "uint256"},
					{"name": "paymasterAndData", "type": "bytes"},
					{"name": "signature", "type": "bytes"}
				],
				"name": "ops",
				"type": "tuple[]"
			},
			{"name": "beneficiary", "type": "address"}
		],
		"name": "handleOps",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "sender", "type": "address"},
			{"name": "key", "type": "uint192"}
		],
		"name": "getNonce",
		"outputs": [{"name": "nonce", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "userOpHash", "type": "bytes32"},
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": true, "name": "paymaster", "type": "address"},
			{"indexed": false, "name": "nonce", "type": "uint256"},
			{"indexed": false, "name": "success", "type": "bool"},
			{"indexed": false, "name": "actualGasCost", "type": "uint256"},
			{"indexed": false, "name": "actualGasUsed", "type": "uint256"}
		],
		"name": "UserOperationEvent",
		"type": "event"
	}
]`

// Passkey account factory
const factoryABIJSON = `[
	{
		"inputs": [
			{"name": "owners", "type": "bytes[]"},
			{"name": "nonce", "type": "uint256"}
		],
		"name": "createAccount",
		"outputs": [{"name": "account", "type": "address"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owners", "type": "bytes[]"},
			{"name": "nonce", "type": "uint256"}
		],
		"name": "getAddress",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	ERC20ABI      = mustParseABI("erc20", erc20ABIJSON)
	AccountABI    = mustParseABI("account", accountABIJSON)
	EntryPointABI = mustParseABI("entrypoint", entryPointABIJSON)
	FactoryABI    = mustParseABI("factory", factoryABIJSON)

	// TransferEventID is topic 0 of the ERC-20 Transfer event.
	TransferEventID = ERC20ABI.Events["Transfer"].ID
	// UserOperationEventID is topic 0 of the EntryPoint UserOperationEvent.
	UserOperationEventID = EntryPointABI.Events["UserOperationEvent"].ID
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}
