package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The params blob handed through the lending pool is ABI-encoded as
// (address[] path, address[] reversePath). The pool never inspects it; it is
// decoded and validated again on the callback side of the loan.
var pathArguments = abi.Arguments{
	{Name: "path", Type: mustNewType("address[]")},
	{Name: "reversePath", Type: mustNewType("address[]")},
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %q: %v", t, err))
	}
	return typ
}

// EncodeParams ABI-encodes the trade path into the opaque params blob.
func (p TradePath) EncodeParams() ([]byte, error) {
	packed, err := pathArguments.Pack(p.Path, p.Reverse)
	if err != nil {
		return nil, fmt.Errorf("failed to pack trade path: %w", err)
	}
	return packed, nil
}

// DecodeParams decodes a params blob produced by EncodeParams and re-validates
// the path invariants at the trust boundary.
func DecodeParams(data []byte) (TradePath, error) {
	values, err := pathArguments.Unpack(data)
	if err != nil {
		return TradePath{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	path, ok := values[0].([]common.Address)
	if !ok {
		return TradePath{}, fmt.Errorf("%w: forward leg is not an address array", ErrInvalidPath)
	}
	reverse, ok := values[1].([]common.Address)
	if !ok {
		return TradePath{}, fmt.Errorf("%w: reverse leg is not an address array", ErrInvalidPath)
	}
	return NewTradePath(path, reverse)
}
