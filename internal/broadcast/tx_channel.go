package broadcast

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"feedKeeper/internal/model"
)

// Sender hands a signed transaction to the network.
type Sender interface {
	Name() string
	Send(ctx context.Context, tx *types.Transaction, block model.BlockRef) error
}

// TxChannel signs a call, sends it through a Sender and waits for inclusion.
type TxChannel struct {
	signer         *TxSigner
	sender         Sender
	backend        bind.DeployBackend
	confirmTimeout time.Duration
	logger         *zap.Logger
}

var _ Channel = (*TxChannel)(nil)

func NewTxChannel(signer *TxSigner, sender Sender, backend bind.DeployBackend, confirmTimeout time.Duration, logger *zap.Logger) *TxChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxChannel{
		signer:         signer,
		sender:         sender,
		backend:        backend,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}
}

// Submit implements Channel.
func (c *TxChannel) Submit(ctx context.Context, call Call) (Receipt, error) {
	name := c.sender.Name()

	tx, err := c.signer.Sign(ctx, call)
	if err != nil {
		return Receipt{}, newFailure(name, "sign", err)
	}

	if err := c.sender.Send(ctx, tx, call.Block); err != nil {
		c.signer.Abandon(tx)
		return Receipt{}, newFailure(name, "send", err)
	}
	c.logger.Debug("tx sent",
		zap.String("channel", name),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("block", call.Block.Number),
	)

	// The nonce stays consumed from here on: a timed out tx can still land.
	receipt, err := waitConfirmed(ctx, c.backend, tx, c.confirmTimeout)
	if err != nil {
		return Receipt{}, newFailure(name, "confirm", err)
	}
	return Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Channel:     name,
	}, nil
}
