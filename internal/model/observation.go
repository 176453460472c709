package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ObservationPoint is one (timestamp, tick) sample carried by a PoolObserved event.
type ObservationPoint struct {
	Timestamp uint32 `json:"block_timestamp"`
	Tick      int32  `json:"observed_tick"`
}

// Observation is a decoded PoolObserved event. Identity is (PoolID, Sequence).
type Observation struct {
	PoolID      common.Hash        `json:"pool_id"`
	Sequence    uint32             `json:"sequence"`
	Points      []ObservationPoint `json:"points"`
	BlockNumber uint64             `json:"block_number"`
	TxHash      common.Hash        `json:"tx_hash"`
	LogIndex    uint               `json:"log_index"`
}

// Key returns the identity of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{PoolID: o.PoolID, Sequence: o.Sequence}
}

// ObservationKey identifies an observation across duplicate deliveries.
type ObservationKey struct {
	PoolID   common.Hash
	Sequence uint32
}

func (k ObservationKey) String() string {
	return fmt.Sprintf("%s:%d", k.PoolID.Hex(), k.Sequence)
}
