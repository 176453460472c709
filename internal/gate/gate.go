package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"feedKeeper/internal/model"
)

// ErrOracleRead marks a failed read of a target's last confirmed sequence.
var ErrOracleRead = errors.New("oracle read")

// OracleReadError aborts one (pool, target) pair for the current cycle.
type OracleReadError struct {
	PoolID   common.Hash
	TargetID uint32
	Err      error
}

func (e *OracleReadError) Error() string {
	return fmt.Sprintf("%s: pool %s target %d: %v", ErrOracleRead, e.PoolID.Hex(), e.TargetID, e.Err)
}

func (e *OracleReadError) Unwrap() []error {
	return []error{ErrOracleRead, e.Err}
}

// Oracle reports the last sequence of a pool confirmed on a target.
type Oracle interface {
	LastConfirmedSequence(ctx context.Context, targetID uint32, poolID common.Hash) (uint32, error)
}

type stateKey struct {
	poolID   common.Hash
	targetID uint32
}

type stateEntry struct {
	once  sync.Once
	state model.TargetState
	err   error
}

// Snapshot caches target state for one cycle. Each (pool, target) pair is read
// from the oracle at most once, failures included. A new Snapshot is built per
// cycle rather than resetting an old one.
type Snapshot struct {
	oracle Oracle
	block  model.BlockRef

	mu      sync.Mutex
	entries map[stateKey]*stateEntry
}

// NewSnapshot starts an empty cycle cache at block.
func NewSnapshot(oracle Oracle, block model.BlockRef) *Snapshot {
	return &Snapshot{
		oracle:  oracle,
		block:   block,
		entries: make(map[stateKey]*stateEntry),
	}
}

// Block returns the block the cycle was started at.
func (s *Snapshot) Block() model.BlockRef {
	return s.block
}

// State returns the cached target state, reading the oracle on first use.
func (s *Snapshot) State(ctx context.Context, poolID common.Hash, targetID uint32) (model.TargetState, error) {
	key := stateKey{poolID: poolID, targetID: targetID}

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &stateEntry{}
		s.entries[key] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		last, err := s.oracle.LastConfirmedSequence(ctx, targetID, poolID)
		if err != nil {
			entry.err = &OracleReadError{PoolID: poolID, TargetID: targetID, Err: err}
			return
		}
		entry.state = model.TargetState{PoolID: poolID, TargetID: targetID, LastConfirmed: last}
	})
	return entry.state, entry.err
}

// Gate applies a policy to observations using cycle snapshots.
type Gate struct {
	policy Policy
}

// New builds a Gate. A nil policy means strict.
func New(policy Policy) *Gate {
	if policy == nil {
		policy = StrictPolicy{}
	}
	return &Gate{policy: policy}
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check evaluates whether obs may be dispatched to targetID in this cycle.
func (g *Gate) Check(ctx context.Context, snap *Snapshot, obs model.Observation, targetID uint32) (Verdict, error) {
	state, err := snap.State(ctx, obs.PoolID, targetID)
	if err != nil {
		return Hold, err
	}
	return g.policy.Evaluate(obs.Sequence, state.LastConfirmed), nil
}
