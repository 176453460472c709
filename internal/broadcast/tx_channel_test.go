package broadcast

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"feedKeeper/internal/feed"
	"feedKeeper/internal/model"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*types.Transaction
	err  error
}

func (s *recordingSender) Name() string { return "test" }

func (s *recordingSender) Send(_ context.Context, tx *types.Transaction, _ model.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tx)
	return s.err
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// receiptBackend mines every transaction with the configured status.
// A nil status leaves transactions pending forever.
type receiptBackend struct {
	mu     sync.Mutex
	status *uint64
}

func (b *receiptBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == nil {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      *b.status,
		TxHash:      hash,
		BlockNumber: big.NewInt(101),
		GasUsed:     50_000,
	}, nil
}

func (b *receiptBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func (b *receiptBackend) mine(status uint64) {
	b.mu.Lock()
	b.status = &status
	b.mu.Unlock()
}

func newTestChannel(t *testing.T, sender Sender, backend *receiptBackend, timeout time.Duration) *TxChannel {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewTxSigner(key, TxConfig{ChainID: big.NewInt(1)}, &stubNonces{pending: 3})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return NewTxChannel(signer, sender, backend, timeout, nil)
}

func strategyCall(t *testing.T) Call {
	t.Helper()
	parsed, err := feed.StrategyJobABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	return Call{
		Contract: common.HexToAddress("0x1f5f0DA9391AB08c7F0150d45B41F6900fb4Fd0C"),
		ABI:      parsed,
		Method:   feed.StrategyWorkMethod,
		Args:     []interface{}{[32]byte{1}, uint8(1)},
		Block:    model.BlockRef{Number: 100, BaseFee: big.NewInt(1_000_000_000)},
	}
}

func TestTxChannelConfirmsMinedTx(t *testing.T) {
	sender := &recordingSender{}
	backend := &receiptBackend{}
	backend.mine(types.ReceiptStatusSuccessful)
	channel := newTestChannel(t, sender, backend, time.Second)

	receipt, err := channel.Submit(context.Background(), strategyCall(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	if receipt.TxHash != sender.sent[0].Hash() || receipt.BlockNumber != 101 || receipt.Channel != "test" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestTxChannelRevertIsFailure(t *testing.T) {
	sender := &recordingSender{}
	backend := &receiptBackend{}
	backend.mine(types.ReceiptStatusFailed)
	channel := newTestChannel(t, sender, backend, time.Second)

	_, err := channel.Submit(context.Background(), strategyCall(t))
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != "confirm" {
		t.Fatalf("expected confirm failure, got %v", err)
	}
	if !errors.Is(err, ErrBroadcast) {
		t.Fatalf("failure should wrap ErrBroadcast: %v", err)
	}

	backend.mine(types.ReceiptStatusSuccessful)
	if _, err := channel.Submit(context.Background(), strategyCall(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sender.sent[1].Nonce() != sender.sent[0].Nonce()+1 {
		t.Fatalf("a mined revert consumes its nonce, got %d then %d", sender.sent[0].Nonce(), sender.sent[1].Nonce())
	}
}

func TestTxChannelConfirmTimeoutKeepsNonce(t *testing.T) {
	sender := &recordingSender{}
	backend := &receiptBackend{}
	channel := newTestChannel(t, sender, backend, 50*time.Millisecond)

	_, err := channel.Submit(context.Background(), strategyCall(t))
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != "confirm" {
		t.Fatalf("expected confirm failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	backend.mine(types.ReceiptStatusSuccessful)
	if _, err := channel.Submit(context.Background(), strategyCall(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sender.sent[1].Nonce() == sender.sent[0].Nonce() {
		t.Fatalf("nonce %d of a sent tx must not be reused after a timeout", sender.sent[0].Nonce())
	}
}

func TestTxChannelSendFailureReleasesNonce(t *testing.T) {
	sender := &recordingSender{err: errors.New("builder unavailable")}
	backend := &receiptBackend{}
	backend.mine(types.ReceiptStatusSuccessful)
	channel := newTestChannel(t, sender, backend, time.Second)

	_, err := channel.Submit(context.Background(), strategyCall(t))
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != "send" {
		t.Fatalf("expected send failure, got %v", err)
	}

	sender.fail(nil)
	if _, err := channel.Submit(context.Background(), strategyCall(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sender.sent[0].Nonce() != 3 || sender.sent[1].Nonce() != 3 {
		t.Fatalf("unsent nonce should be reused, got %d then %d", sender.sent[0].Nonce(), sender.sent[1].Nonce())
	}
}
