package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"feedKeeper/internal/model"
)

type logQuery struct {
	from uint64
	to   uint64
}

// fakeNode answers the handful of JSON-RPC methods the pollers use.
type fakeNode struct {
	mu       sync.Mutex
	heads    []uint64
	failLogs int
	logs     []types.Log
	queries  []logQuery
}

func (n *fakeNode) head() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	head := n.heads[0]
	if len(n.heads) > 1 {
		n.heads = n.heads[1:]
	}
	return head
}

func (n *fakeNode) setHeads(heads ...uint64) {
	n.mu.Lock()
	n.heads = heads
	n.mu.Unlock()
}

func (n *fakeNode) getLogs(raw json.RawMessage) (interface{}, *rpcError) {
	var params []struct {
		FromBlock hexutil.Uint64 `json:"fromBlock"`
		ToBlock   hexutil.Uint64 `json:"toBlock"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || len(params) != 1 {
		return nil, &rpcError{Code: -32602, Message: "bad params"}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.queries = append(n.queries, logQuery{from: uint64(params[0].FromBlock), to: uint64(params[0].ToBlock)})
	if n.failLogs > 0 {
		n.failLogs--
		return nil, &rpcError{Code: -32000, Message: "logs unavailable"}
	}
	var out []types.Log
	for _, log := range n.logs {
		if log.BlockNumber >= uint64(params[0].FromBlock) && log.BlockNumber <= uint64(params[0].ToBlock) {
			out = append(out, log)
		}
	}
	if out == nil {
		out = []types.Log{}
	}
	return out, nil
}

func (n *fakeNode) logQueries() []logQuery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]logQuery(nil), n.queries...)
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *fakeNode) serve(t *testing.T) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		var result interface{}
		var rpcErr *rpcError
		switch req.Method {
		case "eth_blockNumber":
			result = hexutil.Uint64(n.head())
		case "eth_getBlockByNumber":
			header := &types.Header{
				Number:     new(big.Int).SetUint64(n.head()),
				Difficulty: big.NewInt(0),
				Time:       1_700_000_000,
				BaseFee:    big.NewInt(7),
			}
			result = header
		case "eth_getLogs":
			result, rpcErr = n.getLogs(req.Params)
		default:
			rpcErr = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), server.URL, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPollBlocksSkipsSeenHeads(t *testing.T) {
	node := &fakeNode{heads: []uint64{5, 5, 5, 6}}
	client := node.serve(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks := make(chan model.BlockRef, 8)
	sub, err := client.SubscribeBlocks(ctx, blocks)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for _, want := range []uint64{5, 6} {
		select {
		case block := <-blocks:
			if block.Number != want {
				t.Fatalf("expected block %d, got %d", want, block.Number)
			}
			if block.BaseFee == nil || block.BaseFee.Int64() != 7 {
				t.Fatalf("base fee should be carried, got %v", block.BaseFee)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for block %d", want)
		}
	}

	select {
	case block := <-blocks:
		t.Fatalf("head %d delivered twice", block.Number)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollEventsAdvancesOnlyAfterSuccessfulQuery(t *testing.T) {
	feed := common.HexToAddress("0x1ce81290Eb4c10cC9Fa71256799665423e87b628")
	node := &fakeNode{
		heads:    []uint64{100},
		failLogs: 1,
		logs: []types.Log{{
			Address:     feed,
			Topics:      []common.Hash{common.HexToHash("0x01")},
			Data:        []byte{},
			BlockNumber: 102,
			TxHash:      common.HexToHash("0xaa"),
		}},
	}
	client := node.serve(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logs := make(chan types.Log, 8)
	sub, err := client.SubscribeEvents(ctx, EventFilter{Addresses: []common.Address{feed}}, logs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	node.setHeads(102)
	select {
	case log := <-logs:
		if log.BlockNumber != 102 || log.TxHash != common.HexToHash("0xaa") {
			t.Fatalf("unexpected log: %+v", log)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for log")
	}

	queries := node.logQueries()
	if len(queries) < 2 {
		t.Fatalf("expected a failed and a successful query, got %+v", queries)
	}
	if queries[0] != (logQuery{from: 101, to: 102}) || queries[1] != (logQuery{from: 101, to: 102}) {
		t.Fatalf("failed query must not advance the cursor: %+v", queries)
	}

	node.setHeads(103)
	deadline := time.After(2 * time.Second)
	for {
		queries = node.logQueries()
		if last := queries[len(queries)-1]; last.from == 103 {
			if last.to != 103 {
				t.Fatalf("unexpected range after success: %+v", last)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cursor never moved past block 102: %+v", queries)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
