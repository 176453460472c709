package feed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const dataFeedABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "_poolSalt", "type": "bytes32"},
      {"indexed": false, "internalType": "uint24", "name": "_poolNonce", "type": "uint24"},
      {
        "components": [
          {"internalType": "uint32", "name": "blockTimestamp", "type": "uint32"},
          {"internalType": "int24", "name": "observedTick", "type": "int24"}
        ],
        "indexed": false,
        "internalType": "struct IOracleSidechain.ObservationData[]",
        "name": "_observationsData",
        "type": "tuple[]"
      }
    ],
    "name": "PoolObserved",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "whitelistedPools",
    "outputs": [{"internalType": "bytes32[]", "name": "", "type": "bytes32[]"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const jobABIJSON = `[
  {
    "inputs": [
      {"internalType": "uint32", "name": "_chainId", "type": "uint32"},
      {"internalType": "bytes32", "name": "_poolSalt", "type": "bytes32"},
      {"internalType": "uint24", "name": "_poolNonce", "type": "uint24"},
      {
        "components": [
          {"internalType": "uint32", "name": "blockTimestamp", "type": "uint32"},
          {"internalType": "int24", "name": "observedTick", "type": "int24"}
        ],
        "internalType": "struct IOracleSidechain.ObservationData[]",
        "name": "_observationsData",
        "type": "tuple[]"
      }
    ],
    "name": "work",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint32", "name": "_chainId", "type": "uint32"},
      {"internalType": "bytes32", "name": "_poolSalt", "type": "bytes32"}
    ],
    "name": "lastPoolNonceBridged",
    "outputs": [{"internalType": "uint24", "name": "_lastPoolNonceBridged", "type": "uint24"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "dataFeed",
    "outputs": [{"internalType": "contract IDataFeed", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const strategyJobABIJSON = `[
  {
    "inputs": [
      {"internalType": "bytes32", "name": "_poolSalt", "type": "bytes32"},
      {"internalType": "uint8", "name": "_reason", "type": "uint8"}
    ],
    "name": "work",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "dataFeed",
    "outputs": [{"internalType": "contract IDataFeed", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

// Method signatures submitted through the broadcast channel.
const (
	WorkMethod         = "work(uint32,bytes32,uint24,(uint32,int24)[])"
	StrategyWorkMethod = "work(bytes32,uint8)"
)

var (
	dataFeedABI     abi.ABI
	dataFeedABIOnce sync.Once
	dataFeedABIErr  error

	jobABI     abi.ABI
	jobABIOnce sync.Once
	jobABIErr  error

	strategyJobABI     abi.ABI
	strategyJobABIOnce sync.Once
	strategyJobABIErr  error
)

// DataFeedABI returns the parsed DataFeed ABI.
func DataFeedABI() (abi.ABI, error) {
	dataFeedABIOnce.Do(func() {
		dataFeedABI, dataFeedABIErr = abi.JSON(strings.NewReader(dataFeedABIJSON))
	})
	return dataFeedABI, dataFeedABIErr
}

// JobABI returns the parsed DataFeedJob ABI.
func JobABI() (abi.ABI, error) {
	jobABIOnce.Do(func() {
		jobABI, jobABIErr = abi.JSON(strings.NewReader(jobABIJSON))
	})
	return jobABI, jobABIErr
}

// StrategyJobABI returns the parsed ABI of the time-triggered strategy job.
func StrategyJobABI() (abi.ABI, error) {
	strategyJobABIOnce.Do(func() {
		strategyJobABI, strategyJobABIErr = abi.JSON(strings.NewReader(strategyJobABIJSON))
	})
	return strategyJobABI, strategyJobABIErr
}

// MethodBySignature finds a method by its canonical signature, e.g. "work(bytes32,uint8)".
func MethodBySignature(parsed abi.ABI, sig string) (abi.Method, error) {
	for _, method := range parsed.Methods {
		if method.Sig == sig {
			return method, nil
		}
	}
	return abi.Method{}, fmt.Errorf("method %s not found in abi", sig)
}
