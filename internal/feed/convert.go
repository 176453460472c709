package feed

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case uint32:
		return big.NewInt(int64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported integer type %T", value)
	}
}

func asHashes(value interface{}) ([]common.Hash, error) {
	switch v := value.(type) {
	case [][32]byte:
		out := make([]common.Hash, 0, len(v))
		for _, item := range v {
			out = append(out, common.Hash(item))
		}
		return out, nil
	case []common.Hash:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported bytes32 array type %T", value)
	}
}

// int24FromBig narrows an abi-decoded int24 tick.
func int24FromBig(value *big.Int) (int32, error) {
	if !value.IsInt64() {
		return 0, fmt.Errorf("tick out of int24 range: %s", value)
	}
	tick := value.Int64()
	if tick < -1<<23 || tick >= 1<<23 {
		return 0, fmt.Errorf("tick out of int24 range: %s", value)
	}
	return int32(tick), nil
}

// uint24ToUint32 narrows an abi-decoded uint24 sequence number.
func uint24ToUint32(value *big.Int) (uint32, error) {
	if value.Sign() < 0 || value.BitLen() > 24 {
		return 0, fmt.Errorf("sequence out of uint24 range: %s", value)
	}
	return uint32(value.Uint64()), nil
}
