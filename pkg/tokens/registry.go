package tokens

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"token-dump/pkg/types"
)

// mainnet tokens known without any token list
var builtin = []types.Token{
	{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Name: "USD Coin", Symbol: "USDC", Decimals: 6, ChainID: 1},
	{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Name: "Tether USD", Symbol: "USDT", Decimals: 6, ChainID: 1},
	{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Name: "Dai Stablecoin", Symbol: "DAI", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Name: "Wrapped BTC", Symbol: "WBTC", Decimals: 8, ChainID: 1},
	{Address: common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), Name: "ChainLink Token", Symbol: "LINK", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"), Name: "Uniswap", Symbol: "UNI", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"), Name: "Aave Token", Symbol: "AAVE", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0xDEf1CA1fb7FBcDC777520aa7f396b4E015F497aB"), Name: "CoW Protocol Token", Symbol: "COW", Decimals: 18, ChainID: 1},
	{Address: common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"), Name: "Lido Staked Ether", Symbol: "stETH", Decimals: 18, ChainID: 1},
}

// Registry resolves tokens by symbol or address for one chain
type Registry struct {
	chainID  int64
	byKey    map[string]types.Token
	bySymbol map[string]types.Token
}

// NewRegistry indexes the built-in tokens of chainID plus the custom ones.
// Custom tokens win over built-ins with the same symbol.
func NewRegistry(chainID int64, custom []types.Token) *Registry {
	r := &Registry{
		chainID:  chainID,
		byKey:    make(map[string]types.Token),
		bySymbol: make(map[string]types.Token),
	}
	for _, t := range builtin {
		if t.ChainID == chainID {
			r.Add(t)
		}
	}
	for _, t := range custom {
		if t.ChainID == chainID {
			r.Add(t)
		}
	}
	return r
}

// Add indexes a token
func (r *Registry) Add(t types.Token) {
	r.byKey[t.Key()] = t
	r.bySymbol[strings.ToUpper(t.Symbol)] = t
}

// Resolve finds a token by symbol (case insensitive) or hex address
func (r *Registry) Resolve(ref string) (types.Token, bool) {
	if common.IsHexAddress(ref) {
		t, ok := r.byKey[types.TokenKey(common.HexToAddress(ref))]
		return t, ok
	}
	t, ok := r.bySymbol[strings.ToUpper(ref)]
	return t, ok
}

// All returns every known token sorted by symbol
func (r *Registry) All() []types.Token {
	out := make([]types.Token, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToUpper(out[i].Symbol) < strings.ToUpper(out[j].Symbol)
	})
	return out
}
