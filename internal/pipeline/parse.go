package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts a hex string into an address. Empty input yields the zero address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseTargets converts chain id strings into target ids, dropping repeats.
func ParseTargets(inputs []string) ([]uint32, error) {
	targets := make([]uint32, 0, len(inputs))
	seen := make(map[uint32]struct{}, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		value, err := strconv.ParseUint(input, 10, 32)
		if err != nil || value == 0 {
			return nil, fmt.Errorf("invalid target chain id: %s", input)
		}
		id := uint32(value)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets, nil
}
