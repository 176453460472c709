package pipeline

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Lookback returns the window of past blocks ending at head, clamped at genesis.
func Lookback(head, past uint64) BlockRange {
	if head < past {
		return BlockRange{From: 0, To: head}
	}
	return BlockRange{From: head - past, To: head}
}

// Len is the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// After returns the part of the range strictly above block.
func (r BlockRange) After(block uint64) BlockRange {
	if block >= r.From {
		r.From = block + 1
	}
	return r
}

// Batches cuts the range into consecutive chunks of at most size blocks.
func (r BlockRange) Batches(size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if r.To < r.From {
		return nil, fmt.Errorf("to block %d is below from block %d", r.To, r.From)
	}

	batches := make([]BlockRange, 0, (r.Len()+size-1)/size)
	for start := r.From; ; start += size {
		end := r.To
		if r.To-start >= size {
			end = start + size - 1
		}
		batches = append(batches, BlockRange{From: start, To: end})
		if end == r.To {
			return batches, nil
		}
	}
}
