package broadcast

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

const (
	DefaultGasLimit = 700_000
)

// DefaultPriorityFee is the tip paid on every transaction.
var DefaultPriorityFee = big.NewInt(2 * params.GWei)

// ParsePrivateKey decodes a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NonceSource reports the next nonce known to the node.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceTracker hands out nonces for concurrent submissions from one account.
// Nonces are never handed out below one still in flight: the node's pending
// nonce only moves the counter forward, and a released nonce is either rolled
// back (when it was the last one issued) or reissued lowest-first.
type NonceTracker struct {
	source  NonceSource
	account common.Address

	mu       sync.Mutex
	next     uint64
	released []uint64
}

func NewNonceTracker(source NonceSource, account common.Address) *NonceTracker {
	return &NonceTracker{source: source, account: account}
}

// Acquire reserves the next nonce.
func (n *NonceTracker) Acquire(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	pending, err := n.source.PendingNonceAt(ctx, n.account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	if pending > n.next {
		n.next = pending
	}

	// Released nonces the node has already seen used elsewhere are gone.
	for len(n.released) > 0 && n.released[0] < pending {
		n.released = n.released[1:]
	}
	if len(n.released) > 0 {
		nonce := n.released[0]
		n.released = n.released[1:]
		return nonce, nil
	}

	nonce := n.next
	n.next++
	return nonce, nil
}

// Release returns a nonce whose transaction never reached the network.
func (n *NonceTracker) Release(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if nonce >= n.next {
		return
	}
	i := sort.Search(len(n.released), func(i int) bool { return n.released[i] >= nonce })
	if i < len(n.released) && n.released[i] == nonce {
		return
	}
	n.released = append(n.released, 0)
	copy(n.released[i+1:], n.released[i:])
	n.released[i] = nonce

	// Fold released nonces at the top back into the counter.
	for len(n.released) > 0 && n.released[len(n.released)-1] == n.next-1 {
		n.released = n.released[:len(n.released)-1]
		n.next--
	}
}

// TxConfig holds the fee and gas settings for built transactions.
type TxConfig struct {
	ChainID     *big.Int
	GasLimit    uint64
	PriorityFee *big.Int
}

// TxSigner builds and signs dynamic fee transactions for calls.
type TxSigner struct {
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	chainID  *big.Int
	gasLimit uint64
	tip      *big.Int
	nonces   *NonceTracker
}

// NewTxSigner creates a signer for key on cfg.ChainID.
func NewTxSigner(key *ecdsa.PrivateKey, cfg TxConfig, nonces NonceSource) (*TxSigner, error) {
	if key == nil {
		return nil, fmt.Errorf("signer key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.PriorityFee == nil {
		cfg.PriorityFee = DefaultPriorityFee
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	return &TxSigner{
		key:      key,
		from:     from,
		signer:   types.LatestSignerForChainID(cfg.ChainID),
		chainID:  new(big.Int).Set(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		tip:      new(big.Int).Set(cfg.PriorityFee),
		nonces:   NewNonceTracker(nonces, from),
	}, nil
}

// Address returns the sending account.
func (s *TxSigner) Address() common.Address {
	return s.from
}

// Sign builds and signs a transaction for call. Max fee is twice the block base
// fee plus the tip.
func (s *TxSigner) Sign(ctx context.Context, call Call) (*types.Transaction, error) {
	data, err := call.Data()
	if err != nil {
		return nil, err
	}
	nonce, err := s.nonces.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	maxFee := new(big.Int).Set(s.tip)
	if call.Block.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Mul(call.Block.BaseFee, big.NewInt(2)))
	}

	to := call.Contract
	tx, err := types.SignNewTx(s.key, s.signer, &types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: new(big.Int).Set(s.tip),
		GasFeeCap: maxFee,
		Gas:       s.gasLimit,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		s.nonces.Release(nonce)
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return tx, nil
}

// Abandon releases the nonce of a transaction that never reached the network.
// A transaction that was sent must not be abandoned: it may still be mined.
func (s *TxSigner) Abandon(tx *types.Transaction) {
	s.nonces.Release(tx.Nonce())
}
