package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RequestArgs is the user's swap intent. It is built fresh for every quote
// fetch and replaced, never mutated.
type RequestArgs struct {
	From         common.Address
	Receiver     common.Address
	InputTokens  []Token
	InputAmounts []*big.Int
	OutputToken  Token
}

// Validate checks the request for user input errors
func (r RequestArgs) Validate() error {
	if r.From == (common.Address{}) {
		return fmt.Errorf("sender address is required")
	}
	if r.Receiver == (common.Address{}) {
		return fmt.Errorf("receiver address is required")
	}
	if r.OutputToken.Address == (common.Address{}) {
		return fmt.Errorf("destination token is required")
	}
	if len(r.InputTokens) == 0 {
		return fmt.Errorf("at least one token to sell is required")
	}
	if len(r.InputTokens) != len(r.InputAmounts) {
		return fmt.Errorf("got %d tokens but %d amounts", len(r.InputTokens), len(r.InputAmounts))
	}
	for i, t := range r.InputTokens {
		if t.SameAs(r.OutputToken) {
			return fmt.Errorf("cannot sell %s for itself", t.Symbol)
		}
		if r.InputAmounts[i] == nil || r.InputAmounts[i].Sign() <= 0 {
			return fmt.Errorf("amount for %s must be greater than 0", t.Symbol)
		}
	}
	return nil
}

// AmountOf returns the requested amount of the token with the given key
func (r RequestArgs) AmountOf(key string) (Token, *big.Int, bool) {
	for i, t := range r.InputTokens {
		if t.Key() == key && i < len(r.InputAmounts) {
			return t, r.InputAmounts[i], true
		}
	}
	return Token{}, nil, false
}

// Only narrows the request to the tokens with the given keys
func (r RequestArgs) Only(keys ...string) RequestArgs {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	out := RequestArgs{From: r.From, Receiver: r.Receiver, OutputToken: r.OutputToken}
	for i, t := range r.InputTokens {
		if want[t.Key()] && i < len(r.InputAmounts) {
			out.InputTokens = append(out.InputTokens, t)
			out.InputAmounts = append(out.InputAmounts, r.InputAmounts[i])
		}
	}
	return out
}
