package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"feedKeeper/internal/model"
)

func signedTestTx(t *testing.T) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to := common.HexToAddress("0x01")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

func TestBundleSenderSignsAndTargetsNextBlocks(t *testing.T) {
	authKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authAddr := crypto.PubkeyToAddress(authKey.PublicKey)

	var mu sync.Mutex
	var blocks []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		header := r.Header.Get(signatureHeader)
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 || common.HexToAddress(parts[0]) != authAddr {
			t.Errorf("unexpected signature header %q", header)
		}
		sig, err := hexutil.Decode(parts[1])
		if err != nil {
			t.Errorf("decode signature: %v", err)
		}
		digest := accounts.TextHash([]byte(crypto.Keccak256Hash(body).Hex()))
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil || crypto.PubkeyToAddress(*pub) != authAddr {
			t.Errorf("signature does not recover to auth address")
		}

		var req struct {
			Method string         `json:"method"`
			Params []bundleParams `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "eth_sendBundle" || len(req.Params) != 1 || len(req.Params[0].Txs) != 1 {
			t.Errorf("unexpected request: %s", body)
		}
		mu.Lock()
		blocks = append(blocks, req.Params[0].BlockNumber)
		mu.Unlock()

		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x01"}}`))
	}))
	defer server.Close()

	sender, err := NewBundleSender(server.URL, authKey, 2)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), signedTestTx(t), model.BlockRef{Number: 100}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(blocks) != 2 || blocks[0] != "0x65" || blocks[1] != "0x66" {
		t.Fatalf("expected bundles for blocks 101 and 102, got %v", blocks)
	}
}

func TestBundleSenderRelayError(t *testing.T) {
	authKey, _ := crypto.GenerateKey()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle rejected"}}`))
	}))
	defer server.Close()

	sender, err := NewBundleSender(server.URL, authKey, 1)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = sender.Send(context.Background(), signedTestTx(t), model.BlockRef{Number: 1})
	if err == nil || !strings.Contains(err.Error(), "bundle rejected") {
		t.Fatalf("expected relay error, got %v", err)
	}
}
