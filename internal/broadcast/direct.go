package broadcast

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"feedKeeper/internal/model"
)

// TxSender submits transactions to a node.
type TxSender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// DirectSender broadcasts through the public mempool of the configured RPC.
type DirectSender struct {
	client TxSender
}

var _ Sender = (*DirectSender)(nil)

func NewDirectSender(client TxSender) *DirectSender {
	return &DirectSender{client: client}
}

func (s *DirectSender) Name() string { return "direct" }

func (s *DirectSender) Send(ctx context.Context, tx *types.Transaction, _ model.BlockRef) error {
	return s.client.SendTransaction(ctx, tx)
}
