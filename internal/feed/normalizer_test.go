package feed

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestNormalizerDecode(t *testing.T) {
	normalizer, err := NewNormalizer()
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}

	pool := common.HexToHash("0x0a0b0c0d0e0f00000000000000000000000000000000000000000000000001")
	log := buildObservedLog(t, pool, 42, []observationTuple{
		{BlockTimestamp: 1700000000, ObservedTick: big.NewInt(-887272)},
		{BlockTimestamp: 1700000012, ObservedTick: big.NewInt(195)},
	})

	obs, err := normalizer.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if obs.PoolID != pool {
		t.Fatalf("pool mismatch: %s", obs.PoolID.Hex())
	}
	if obs.Sequence != 42 {
		t.Fatalf("sequence mismatch: %d", obs.Sequence)
	}
	if len(obs.Points) != 2 {
		t.Fatalf("points mismatch: %+v", obs.Points)
	}
	if obs.Points[0].Timestamp != 1700000000 || obs.Points[0].Tick != -887272 {
		t.Fatalf("first point mismatch: %+v", obs.Points[0])
	}
	if obs.Points[1].Tick != 195 {
		t.Fatalf("second point mismatch: %+v", obs.Points[1])
	}
	if obs.BlockNumber != log.BlockNumber || obs.LogIndex != log.Index {
		t.Fatalf("log coordinates mismatch: %+v", obs)
	}
}

func TestNormalizerRejectsUnknownTopic(t *testing.T) {
	normalizer, err := NewNormalizer()
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}

	log := buildObservedLog(t, common.Hash{1}, 1, nil)
	log.Topics[0] = common.HexToHash("0xdeadbeef")

	_, err = normalizer.Decode(log)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if decodeErr.Record().Topic0 != log.Topics[0].Hex() {
		t.Fatalf("record topic0 mismatch: %+v", decodeErr.Record())
	}
}

func TestNormalizerRejectsMalformedData(t *testing.T) {
	normalizer, err := NewNormalizer()
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}

	log := buildObservedLog(t, common.Hash{1}, 1, nil)
	log.Data = log.Data[:31]
	if _, err := normalizer.Decode(log); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error for truncated data, got %v", err)
	}

	log = buildObservedLog(t, common.Hash{1}, 1, nil)
	log.Topics = log.Topics[:1]
	if _, err := normalizer.Decode(log); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error for missing indexed topic, got %v", err)
	}
}

func buildObservedLog(t *testing.T, pool common.Hash, nonce int64, points []observationTuple) types.Log {
	t.Helper()

	parsed, err := DataFeedABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if points == nil {
		points = []observationTuple{}
	}

	event := parsed.Events[poolObservedEvent]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(nonce), points)
	if err != nil {
		t.Fatalf("pack pool observed: %v", err)
	}

	return types.Log{
		Address:     common.HexToAddress("0x1ce81290Eb4c10cC9Fa71256799665423e87b628"),
		Topics:      []common.Hash{event.ID, pool},
		Data:        data,
		BlockNumber: 19000000,
		TxHash:      common.HexToHash("0xdef"),
		Index:       3,
	}
}
