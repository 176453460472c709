package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRef is the block context a work request is built against.
type BlockRef struct {
	Number    uint64      `json:"number"`
	Hash      common.Hash `json:"hash"`
	Timestamp uint64      `json:"timestamp"`
	BaseFee   *big.Int    `json:"base_fee,omitempty"`
}

// BlockRefFromHeader converts a header into a BlockRef.
func BlockRefFromHeader(header *types.Header) BlockRef {
	ref := BlockRef{
		Hash:      header.Hash(),
		Timestamp: header.Time,
	}
	if header.Number != nil {
		ref.Number = header.Number.Uint64()
	}
	if header.BaseFee != nil {
		ref.BaseFee = new(big.Int).Set(header.BaseFee)
	}
	return ref
}
