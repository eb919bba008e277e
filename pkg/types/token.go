package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token describes an ERC-20 token on a specific chain
type Token struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	ChainID  int64          `json:"chainId"`
	LogoURI  string         `json:"logoURI,omitempty"`
}

// Key returns the map key used for the token everywhere quote state is indexed
func (t Token) Key() string {
	return TokenKey(t.Address)
}

// SameAs reports whether both tokens share the (address, chainId) identity
func (t Token) SameAs(other Token) bool {
	return t.Address == other.Address && t.ChainID == other.ChainID
}

// TokenKey normalizes an address into a token key
func TokenKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// TokenWithAmount is a token paired with an amount of it
type TokenWithAmount struct {
	Token
	Amount NormalizedAmount `json:"amount"`
}

// WithAmount returns a copy of the token carrying the given raw amount
func (t Token) WithAmount(raw NormalizedAmount) TokenWithAmount {
	return TokenWithAmount{Token: t, Amount: raw}
}

// Zero returns the token with a zero amount
func (t Token) Zero() TokenWithAmount {
	return TokenWithAmount{Token: t, Amount: ZeroAmount()}
}
