package feed

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"feedKeeper/internal/model"
)

type fakeCaller struct {
	responses map[string][]byte
	calls     []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	for selector, resp := range f.responses {
		if bytes.HasPrefix(msg.Data, common.FromHex(selector)) {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("no response for %x", msg.Data[:4])
}

func TestJobLastConfirmedSequence(t *testing.T) {
	parsed, err := JobABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	method := parsed.Methods["lastPoolNonceBridged"]
	out, err := method.Outputs.Pack(big.NewInt(5))
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}

	caller := &fakeCaller{responses: map[string][]byte{common.Bytes2Hex(method.ID): out}}
	jobAddr := common.HexToAddress("0x1f5f0DA9391AB08c7F0150d45B41F6900fb4Fd0C")
	job, err := NewJob(caller, jobAddr)
	if err != nil {
		t.Fatalf("job: %v", err)
	}

	pool := common.HexToHash("0x01")
	last, err := job.LastConfirmedSequence(context.Background(), 137, pool)
	if err != nil {
		t.Fatalf("last confirmed: %v", err)
	}
	if last != 5 {
		t.Fatalf("last confirmed mismatch: %d", last)
	}

	if len(caller.calls) != 1 || *caller.calls[0].To != jobAddr {
		t.Fatalf("unexpected calls: %+v", caller.calls)
	}
	args, err := method.Inputs.Unpack(caller.calls[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack call: %v", err)
	}
	if args[0].(uint32) != 137 || common.Hash(args[1].([32]byte)) != pool {
		t.Fatalf("call args mismatch: %+v", args)
	}
}

func TestDataFeedWhitelistedPools(t *testing.T) {
	parsed, err := DataFeedABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	method := parsed.Methods["whitelistedPools"]
	out, err := method.Outputs.Pack([][32]byte{{1}, {2}})
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}

	caller := &fakeCaller{responses: map[string][]byte{common.Bytes2Hex(method.ID): out}}
	feed, err := NewDataFeed(caller, common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("data feed: %v", err)
	}

	pools, err := feed.WhitelistedPools(context.Background())
	if err != nil {
		t.Fatalf("whitelisted pools: %v", err)
	}
	if len(pools) != 2 || pools[0] != (common.Hash{1}) || pools[1] != (common.Hash{2}) {
		t.Fatalf("pools mismatch: %v", pools)
	}
}

func TestWorkArgumentsPack(t *testing.T) {
	parsed, err := JobABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	method, err := MethodBySignature(parsed, WorkMethod)
	if err != nil {
		t.Fatalf("method: %v", err)
	}

	req := model.WorkRequest{
		TargetID: 10,
		PoolID:   common.HexToHash("0xaa"),
		Sequence: 6,
		Points: []model.ObservationPoint{
			{Timestamp: 1700000000, Tick: -12},
		},
	}

	packed, err := method.Inputs.Pack(WorkArguments(req)...)
	if err != nil {
		t.Fatalf("pack work: %v", err)
	}

	values, err := method.Inputs.Unpack(packed)
	if err != nil {
		t.Fatalf("unpack work: %v", err)
	}
	if values[0].(uint32) != 10 {
		t.Fatalf("chain id mismatch: %v", values[0])
	}
	if values[2].(*big.Int).Int64() != 6 {
		t.Fatalf("nonce mismatch: %v", values[2])
	}
}
