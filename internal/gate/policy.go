package gate

import (
	"fmt"
	"strings"
)

// DefaultWindow is the look-ahead of the window policy when none is configured.
const DefaultWindow = 10

// Verdict is the outcome of evaluating an observation against a target.
type Verdict int

const (
	// Hold keeps the observation back until the target advances.
	Hold Verdict = iota
	// Permit allows dispatch to the target.
	Permit
	// Stale marks an observation already confirmed on the target.
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Permit:
		return "permit"
	case Stale:
		return "stale"
	default:
		return "hold"
	}
}

// Policy decides whether a sequence may be dispatched given the last confirmed one.
type Policy interface {
	Evaluate(sequence, lastConfirmed uint32) Verdict
	Name() string
}

// StrictPolicy only permits the immediate successor of the last confirmed sequence.
type StrictPolicy struct{}

func (StrictPolicy) Evaluate(sequence, lastConfirmed uint32) Verdict {
	if sequence <= lastConfirmed {
		return Stale
	}
	if uint64(sequence) == uint64(lastConfirmed)+1 {
		return Permit
	}
	return Hold
}

func (StrictPolicy) Name() string { return "strict" }

// WindowPolicy permits any sequence in (last, last+Size).
type WindowPolicy struct {
	Size uint32
}

func (p WindowPolicy) Evaluate(sequence, lastConfirmed uint32) Verdict {
	if sequence <= lastConfirmed {
		return Stale
	}
	size := p.Size
	if size == 0 {
		size = DefaultWindow
	}
	if uint64(sequence) < uint64(lastConfirmed)+uint64(size) {
		return Permit
	}
	return Hold
}

func (p WindowPolicy) Name() string { return fmt.Sprintf("window(%d)", p.Size) }

// ParsePolicy builds a policy from its configured name.
func ParsePolicy(name string, window uint32) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "strict":
		return StrictPolicy{}, nil
	case "window", "windowed":
		if window == 0 {
			window = DefaultWindow
		}
		return WindowPolicy{Size: window}, nil
	default:
		return nil, fmt.Errorf("unsupported gate policy: %s", name)
	}
}
