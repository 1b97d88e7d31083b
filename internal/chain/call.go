package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyReturn is returned when an eth_call succeeds with no data, which is
// what a revert or a call to a non-contract address looks like on most nodes.
var ErrEmptyReturn = errors.New("empty return data")

// Call is one contract method invocation.
type Call struct {
	To     common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
}

// NewCall builds a Call.
func NewCall(to common.Address, contractABI *abi.ABI, method string, args ...any) Call {
	return Call{To: to, ABI: contractABI, Method: method, Args: args}
}

// Pack ABI-encodes the call data.
func (c Call) Pack() ([]byte, error) {
	data, err := c.ABI.Pack(c.Method, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", c.Method, err)
	}
	return data, nil
}

// Unpack decodes raw return data for the call's method.
func (c Call) Unpack(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Method, ErrEmptyReturn)
	}
	values, err := c.ABI.Unpack(c.Method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", c.Method, err)
	}
	return values, nil
}

// Result is the outcome of one call within a batch. Values is only set when OK.
type Result struct {
	OK     bool
	Values []any
	Err    error
}

// AllFailed reports whether every result in a non-empty batch failed.
func AllFailed(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.OK {
			return false
		}
	}
	return true
}

// BigAt returns the i-th value as a copied *big.Int.
func (r Result) BigAt(i int) (*big.Int, bool) {
	if !r.OK || i >= len(r.Values) {
		return nil, false
	}
	v, ok := r.Values[i].(*big.Int)
	if !ok || v == nil {
		return nil, false
	}
	return new(big.Int).Set(v), true
}

// AddressAt returns the i-th value as an address.
func (r Result) AddressAt(i int) (common.Address, bool) {
	if !r.OK || i >= len(r.Values) {
		return common.Address{}, false
	}
	v, ok := r.Values[i].(common.Address)
	return v, ok
}

// BoolAt returns the i-th value as a bool.
func (r Result) BoolAt(i int) (bool, bool) {
	if !r.OK || i >= len(r.Values) {
		return false, false
	}
	v, ok := r.Values[i].(bool)
	return v, ok
}

// Uint8At returns the i-th value as a uint8.
func (r Result) Uint8At(i int) (uint8, bool) {
	if !r.OK || i >= len(r.Values) {
		return 0, false
	}
	v, ok := r.Values[i].(uint8)
	return v, ok
}

// BigSliceAt returns the i-th value as a uint256[] list.
func (r Result) BigSliceAt(i int) ([]*big.Int, bool) {
	if !r.OK || i >= len(r.Values) {
		return nil, false
	}
	v, ok := r.Values[i].([]*big.Int)
	return v, ok
}
