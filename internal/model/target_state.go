package model

import "github.com/ethereum/go-ethereum/common"

// TargetState is the last sequence of a pool confirmed on a target chain.
type TargetState struct {
	PoolID        common.Hash
	TargetID      uint32
	LastConfirmed uint32
}
