package feed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Job reads state from the DataFeedJob contract.
type Job struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

// NewJob binds the DataFeedJob at address.
func NewJob(caller ContractCaller, address common.Address) (*Job, error) {
	parsed, err := JobABI()
	if err != nil {
		return nil, fmt.Errorf("parse job abi: %w", err)
	}
	return &Job{caller: caller, address: address, abi: parsed}, nil
}

// Address returns the job contract address.
func (j *Job) Address() common.Address {
	return j.address
}

// ABI returns the job ABI used to encode work calls.
func (j *Job) ABI() abi.ABI {
	return j.abi
}

// LastConfirmedSequence returns the last pool nonce bridged to the target chain.
func (j *Job) LastConfirmedSequence(ctx context.Context, targetID uint32, poolID common.Hash) (uint32, error) {
	values, err := callMethod(ctx, j.caller, j.address, j.abi, "lastPoolNonceBridged", nil, targetID, [32]byte(poolID))
	if err != nil {
		return 0, err
	}
	nonce, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("lastPoolNonceBridged: %w", err)
	}
	return uint24ToUint32(nonce)
}

// DataFeed returns the data feed the job is bound to.
func (j *Job) DataFeed(ctx context.Context) (common.Address, error) {
	return dataFeedOf(ctx, j.caller, j.address, j.abi)
}

// DataFeed reads state from the DataFeed contract.
type DataFeed struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

// NewDataFeed binds the DataFeed at address.
func NewDataFeed(caller ContractCaller, address common.Address) (*DataFeed, error) {
	parsed, err := DataFeedABI()
	if err != nil {
		return nil, fmt.Errorf("parse data feed abi: %w", err)
	}
	return &DataFeed{caller: caller, address: address, abi: parsed}, nil
}

// Address returns the data feed contract address.
func (f *DataFeed) Address() common.Address {
	return f.address
}

// WhitelistedPools returns the salts of every pool the feed observes.
func (f *DataFeed) WhitelistedPools(ctx context.Context) ([]common.Hash, error) {
	values, err := callMethod(ctx, f.caller, f.address, f.abi, "whitelistedPools", nil)
	if err != nil {
		return nil, err
	}
	return asHashes(values[0])
}

// StrategyJob is the job worked on a cooldown or twap trigger.
type StrategyJob struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

// NewStrategyJob binds the strategy job at address.
func NewStrategyJob(caller ContractCaller, address common.Address) (*StrategyJob, error) {
	parsed, err := StrategyJobABI()
	if err != nil {
		return nil, fmt.Errorf("parse strategy job abi: %w", err)
	}
	return &StrategyJob{caller: caller, address: address, abi: parsed}, nil
}

// Address returns the strategy job address.
func (j *StrategyJob) Address() common.Address {
	return j.address
}

// ABI returns the strategy job ABI.
func (j *StrategyJob) ABI() abi.ABI {
	return j.abi
}

// DataFeed returns the data feed the strategy job is bound to.
func (j *StrategyJob) DataFeed(ctx context.Context) (common.Address, error) {
	return dataFeedOf(ctx, j.caller, j.address, j.abi)
}

func dataFeedOf(ctx context.Context, caller ContractCaller, address common.Address, parsed abi.ABI) (common.Address, error) {
	values, err := callMethod(ctx, caller, address, parsed, "dataFeed", nil)
	if err != nil {
		return common.Address{}, err
	}
	feed, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("dataFeed: %w", err)
	}
	return feed, nil
}

func callMethod(ctx context.Context, caller ContractCaller, address common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &address, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}
