package pipeline

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

type backlogEntry struct {
	obs     model.Observation
	arrival uint64
}

// Backlog holds observations not yet confirmed on every target. It is keyed by
// (pool, sequence), so repeated deliveries of one observation collapse.
type Backlog struct {
	mu      sync.Mutex
	entries map[model.ObservationKey]backlogEntry
	arrival uint64
}

func NewBacklog() *Backlog {
	return &Backlog{entries: make(map[model.ObservationKey]backlogEntry)}
}

// Add stores obs and reports whether it was new.
func (b *Backlog) Add(obs model.Observation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := obs.Key()
	if _, ok := b.entries[key]; ok {
		return false
	}
	b.arrival++
	b.entries[key] = backlogEntry{obs: obs, arrival: b.arrival}
	metrics.BacklogSize.Set(float64(len(b.entries)))
	return true
}

// Remove drops an observation.
func (b *Backlog) Remove(key model.ObservationKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	metrics.BacklogSize.Set(float64(len(b.entries)))
}

// PruneBefore drops observations emitted before block and returns how many were removed.
func (b *Backlog) PruneBefore(block uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, entry := range b.entries {
		if entry.obs.BlockNumber < block {
			delete(b.entries, key)
			removed++
		}
	}
	metrics.BacklogSize.Set(float64(len(b.entries)))
	return removed
}

// Len returns the number of held observations.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Pools returns the backlog grouped by pool. Each group is ordered by sequence;
// groups are ordered by their lowest sequence, then pool id.
func (b *Backlog) Pools() [][]model.Observation {
	b.mu.Lock()
	grouped := make(map[common.Hash][]backlogEntry)
	for _, entry := range b.entries {
		grouped[entry.obs.PoolID] = append(grouped[entry.obs.PoolID], entry)
	}
	b.mu.Unlock()

	heads := make([]backlogEntry, 0, len(grouped))
	out := make(map[common.Hash][]model.Observation, len(grouped))
	for pool, entries := range grouped {
		sortEntries(entries)
		observations := make([]model.Observation, len(entries))
		for i, entry := range entries {
			observations[i] = entry.obs
		}
		out[pool] = observations
		heads = append(heads, entries[0])
	}
	sortEntries(heads)

	pools := make([][]model.Observation, 0, len(heads))
	for _, head := range heads {
		pools = append(pools, out[head.obs.PoolID])
	}
	return pools
}

// SortObservations orders observations by ascending sequence, then pool id.
// The sort is stable, so equal keys keep their arrival order.
func SortObservations(observations []model.Observation) {
	sort.SliceStable(observations, func(i, j int) bool {
		return lessObservation(observations[i], observations[j])
	})
}

func sortEntries(entries []backlogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.obs.Sequence != b.obs.Sequence || a.obs.PoolID != b.obs.PoolID {
			return lessObservation(a.obs, b.obs)
		}
		return a.arrival < b.arrival
	})
}

func lessObservation(a, b model.Observation) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return bytes.Compare(a.PoolID[:], b.PoolID[:]) < 0
}
