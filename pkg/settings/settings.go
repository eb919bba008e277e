package settings

import (
	"fmt"
	"strings"
	"time"

	"token-dump/pkg/types"
)

const (
	DefaultSlippageBps = 50
	MaxSlippageBps     = 5000
	// MaxOrderHistory bounds the number of remembered orders
	MaxOrderHistory = 200
)

// Settings are the user preferences kept between runs
type Settings struct {
	SlippageBps  int           `json:"slippage_bps"`
	TokenLists   []string      `json:"token_lists"`
	CustomTokens []types.Token `json:"custom_tokens"`
}

// Defaults returns the settings used when nothing is stored yet
func Defaults() Settings {
	return Settings{SlippageBps: DefaultSlippageBps}
}

// ValidateSlippage checks bps is within 0..MaxSlippageBps
func ValidateSlippage(bps int) error {
	if bps < 0 || bps > MaxSlippageBps {
		return fmt.Errorf("slippage must be between 0 and %d bps, got %d", MaxSlippageBps, bps)
	}
	return nil
}

// ValidateListURI accepts http(s) and ipfs token list locations
func ValidateListURI(uri string) error {
	switch {
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "ipfs://"):
		return nil
	default:
		return fmt.Errorf("unsupported token list uri %q", uri)
	}
}

// OrderRecord remembers a submitted order so its status can be checked later
type OrderRecord struct {
	UID        string            `json:"uid"`
	Solver     types.SolverType  `json:"solver"`
	SellTokens []string          `json:"sell_tokens"`
	BuyToken   string            `json:"buy_token"`
	Status     types.OrderStatus `json:"status"`
	Created    time.Time         `json:"created"`
	Updated    time.Time         `json:"updated"`
}
