package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"feedKeeper/internal/feed"
	"feedKeeper/internal/model"
)

// ErrBroadcast marks any failure to get a call included on chain.
var ErrBroadcast = errors.New("broadcast failed")

// Failure describes where a submission failed.
type Failure struct {
	Channel string
	Stage   string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrBroadcast, f.Channel, f.Stage, f.Err)
}

func (f *Failure) Unwrap() []error {
	return []error{ErrBroadcast, f.Err}
}

func newFailure(channel, stage string, err error) error {
	var failure *Failure
	if errors.As(err, &failure) {
		return err
	}
	return &Failure{Channel: channel, Stage: stage, Err: err}
}

// Call is a contract method invocation to get included.
type Call struct {
	Contract common.Address
	ABI      abi.ABI
	// Method is the canonical signature, e.g. "work(bytes32,uint8)".
	Method string
	Args   []interface{}
	Block  model.BlockRef
}

// Data returns the ABI-encoded calldata.
func (c Call) Data() ([]byte, error) {
	method, err := feed.MethodBySignature(c.ABI, c.Method)
	if err != nil {
		return nil, err
	}
	packed, err := method.Inputs.Pack(c.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", c.Method, err)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

// Receipt identifies a confirmed transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
	Channel     string      `json:"channel"`
}

// Channel gets a call included on chain or reports why it could not.
// Implementations own their timeouts; a timeout is reported as a Failure.
type Channel interface {
	Submit(ctx context.Context, call Call) (Receipt, error)
}
