package broadcast

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"feedKeeper/internal/model"
)

const (
	DefaultBundleRelay = "https://relay.flashbots.net"

	defaultBlocksAhead = 2
	signatureHeader    = "X-Flashbots-Signature"
)

// BundleSender submits single-transaction bundles to a Flashbots-style relay
// for the next few blocks. Requests are authenticated with a dedicated key
// that never holds funds.
type BundleSender struct {
	relay       string
	authKey     *ecdsa.PrivateKey
	authAddr    common.Address
	blocksAhead uint64
	httpClient  *http.Client
}

var _ Sender = (*BundleSender)(nil)

// NewBundleSender creates a sender for relay authenticated with authKey.
func NewBundleSender(relay string, authKey *ecdsa.PrivateKey, blocksAhead uint64) (*BundleSender, error) {
	if authKey == nil {
		return nil, fmt.Errorf("bundle signer key is required")
	}
	if relay == "" {
		relay = DefaultBundleRelay
	}
	if blocksAhead == 0 {
		blocksAhead = defaultBlocksAhead
	}
	return &BundleSender{
		relay:       relay,
		authKey:     authKey,
		authAddr:    crypto.PubkeyToAddress(authKey.PublicKey),
		blocksAhead: blocksAhead,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *BundleSender) Name() string { return "bundle" }

type bundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send targets every block in (block, block+blocksAhead]. It succeeds when the
// relay accepts at least one of them.
func (s *BundleSender) Send(ctx context.Context, tx *types.Transaction, block model.BlockRef) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	encoded := hexutil.Encode(raw)

	var errs []error
	for i := uint64(1); i <= s.blocksAhead; i++ {
		target := block.Number + i
		err := s.sendBundle(ctx, bundleParams{
			Txs:         []string{encoded},
			BlockNumber: hexutil.EncodeUint64(target),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", target, err))
		}
	}
	if uint64(len(errs)) == s.blocksAhead {
		return errors.Join(errs...)
	}
	return nil
}

func (s *BundleSender) sendBundle(ctx context.Context, params bundleParams) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params:  []interface{}{params},
	})
	if err != nil {
		return err
	}
	signature, err := s.sign(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relay, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("relay error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return nil
}

// sign produces "<address>:<signature>" over the keccak hash of the body,
// signed as an EIP-191 text message.
func (s *BundleSender) sign(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), s.authKey)
	if err != nil {
		return "", fmt.Errorf("sign bundle: %w", err)
	}
	return s.authAddr.Hex() + ":" + hexutil.Encode(sig), nil
}
