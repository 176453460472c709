package feed

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"feedKeeper/internal/model"
)

const poolObservedEvent = "PoolObserved"

// ErrDecode marks logs that do not match the PoolObserved schema.
var ErrDecode = errors.New("decode pool observed")

// DecodeError describes why a raw log could not be normalized.
type DecodeError struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Address     common.Address
	Topic0      common.Hash
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: block %d tx %s log %d: %v", ErrDecode, e.BlockNumber, e.TxHash.Hex(), e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// Record converts the error into its storage representation.
func (e *DecodeError) Record() model.DecodeError {
	return model.DecodeError{
		BlockNumber: e.BlockNumber,
		TxHash:      e.TxHash.Hex(),
		LogIndex:    uint64(e.LogIndex),
		Address:     e.Address.Hex(),
		Topic0:      e.Topic0.Hex(),
		Error:       e.Err.Error(),
	}
}

type observationTuple struct {
	BlockTimestamp uint32
	ObservedTick   *big.Int
}

// Normalizer decodes PoolObserved logs into observations.
type Normalizer struct {
	feedABI abi.ABI
	event   abi.Event
}

// NewNormalizer builds a Normalizer for the DataFeed PoolObserved event.
func NewNormalizer() (*Normalizer, error) {
	parsed, err := DataFeedABI()
	if err != nil {
		return nil, fmt.Errorf("parse data feed abi: %w", err)
	}
	return &Normalizer{
		feedABI: parsed,
		event:   parsed.Events[poolObservedEvent],
	}, nil
}

// Topic0 returns the event signature hash used to filter logs.
func (n *Normalizer) Topic0() common.Hash {
	return n.event.ID
}

// Decode converts a raw log into an Observation.
func (n *Normalizer) Decode(log types.Log) (model.Observation, error) {
	obs, err := n.decode(log)
	if err != nil {
		decodeErr := &DecodeError{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			Address:     log.Address,
			Err:         err,
		}
		if len(log.Topics) > 0 {
			decodeErr.Topic0 = log.Topics[0]
		}
		return model.Observation{}, decodeErr
	}
	return obs, nil
}

func (n *Normalizer) decode(log types.Log) (model.Observation, error) {
	if len(log.Topics) == 0 {
		return model.Observation{}, fmt.Errorf("missing topics")
	}
	if log.Topics[0] != n.event.ID {
		return model.Observation{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	indexedArgs := indexedArguments(n.event.Inputs)
	if len(log.Topics) != len(indexedArgs)+1 {
		return model.Observation{}, fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(log.Topics))
	}

	var indexed struct {
		PoolSalt [32]byte
	}
	if err := abi.ParseTopics(&indexed, indexedArgs, log.Topics[1:]); err != nil {
		return model.Observation{}, fmt.Errorf("parse topics: %w", err)
	}

	var data struct {
		PoolNonce        *big.Int
		ObservationsData []observationTuple
	}
	if err := n.feedABI.UnpackIntoInterface(&data, poolObservedEvent, log.Data); err != nil {
		return model.Observation{}, fmt.Errorf("unpack %s: %w", poolObservedEvent, err)
	}
	if data.PoolNonce == nil || !data.PoolNonce.IsUint64() || data.PoolNonce.Uint64() > math.MaxUint32 {
		return model.Observation{}, fmt.Errorf("pool nonce out of range: %v", data.PoolNonce)
	}

	points := make([]model.ObservationPoint, 0, len(data.ObservationsData))
	for i, tuple := range data.ObservationsData {
		if tuple.ObservedTick == nil {
			return model.Observation{}, fmt.Errorf("observation %d: missing tick", i)
		}
		tick, err := int24FromBig(tuple.ObservedTick)
		if err != nil {
			return model.Observation{}, fmt.Errorf("observation %d: %w", i, err)
		}
		points = append(points, model.ObservationPoint{
			Timestamp: tuple.BlockTimestamp,
			Tick:      tick,
		})
	}

	return model.Observation{
		PoolID:      common.Hash(indexed.PoolSalt),
		Sequence:    uint32(data.PoolNonce.Uint64()),
		Points:      points,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, nil
}

// WorkArguments returns the arguments of the job work method for a request.
func WorkArguments(req model.WorkRequest) []interface{} {
	points := make([]observationTuple, 0, len(req.Points))
	for _, point := range req.Points {
		points = append(points, observationTuple{
			BlockTimestamp: point.Timestamp,
			ObservedTick:   big.NewInt(int64(point.Tick)),
		})
	}
	return []interface{}{
		req.TargetID,
		[32]byte(req.PoolID),
		new(big.Int).SetUint64(uint64(req.Sequence)),
		points,
	}
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
