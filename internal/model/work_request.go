package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// WorkRequest is one observation bound for one target chain.
type WorkRequest struct {
	TargetID uint32             `json:"target_id"`
	PoolID   common.Hash        `json:"pool_id"`
	Sequence uint32             `json:"sequence"`
	Points   []ObservationPoint `json:"points"`
	Block    BlockRef           `json:"block"`
	Attempt  uint8              `json:"attempt"`
}

// NewWorkRequest builds the first attempt of a request for a target.
func NewWorkRequest(obs Observation, targetID uint32, block BlockRef) WorkRequest {
	return WorkRequest{
		TargetID: targetID,
		PoolID:   obs.PoolID,
		Sequence: obs.Sequence,
		Points:   obs.Points,
		Block:    block,
	}
}

// Key returns the (target, pool, sequence) identity of the request.
func (r WorkRequest) Key() RequestKey {
	return RequestKey{TargetID: r.TargetID, PoolID: r.PoolID, Sequence: r.Sequence}
}

// RequestKey identifies a work request independent of its attempt.
type RequestKey struct {
	TargetID uint32
	PoolID   common.Hash
	Sequence uint32
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%d:%s:%d", k.TargetID, k.PoolID.Hex(), k.Sequence)
}
