// Package erc20 packs and reads the ERC-20 calls a dump needs.
package erc20

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// ABI is the parsed ERC-20 subset
var ABI abi.ABI

func init() {
	var err error
	ABI, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
}

// PackApprove returns calldata for approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack approve")
	}
	return data, nil
}

// Allowance reads how much spender may pull from owner
func Allowance(ctx context.Context, caller ethereum.ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	if err := call(ctx, caller, token, "allowance", &out, owner, spender); err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceOf reads the token balance of owner
func BalanceOf(ctx context.Context, caller ethereum.ContractCaller, token, owner common.Address) (*big.Int, error) {
	var out *big.Int
	if err := call(ctx, caller, token, "balanceOf", &out, owner); err != nil {
		return nil, err
	}
	return out, nil
}

// Metadata is what a token says about itself
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// ReadMetadata reads name, symbol and decimals of a token contract
func ReadMetadata(ctx context.Context, caller ethereum.ContractCaller, token common.Address) (Metadata, error) {
	var md Metadata
	if err := call(ctx, caller, token, "decimals", &md.Decimals); err != nil {
		return Metadata{}, err
	}
	if err := call(ctx, caller, token, "symbol", &md.Symbol); err != nil {
		return Metadata{}, err
	}
	// some tokens do not implement name()
	if err := call(ctx, caller, token, "name", &md.Name); err != nil {
		md.Name = md.Symbol
	}
	return md, nil
}

func call(ctx context.Context, caller ethereum.ContractCaller, token common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to pack %s", method)
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to call %s on %s", method, token.Hex())
	}
	if len(result) == 0 {
		return errors.Errorf("%s returned no data, %s is not an ERC-20 contract", method, token.Hex())
	}

	if err := ABI.UnpackIntoInterface(out, method, result); err != nil {
		return errors.Wrapf(err, "failed to unpack %s", method)
	}
	return nil
}
