package quote

import (
	"math/big"
	"time"

	"token-dump/pkg/types"
)

// BuyAmount returns how much of the destination token the key is quoted to
// receive. A missing key yields zero.
func BuyAmount(q Quote, key string) types.NormalizedAmount {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return types.ZeroAmount()
		}
		if o, ok := v.Orders[key]; ok {
			return o.BuyToken.Amount
		}
	case *BebopQuote:
		if v == nil {
			return types.ZeroAmount()
		}
		if t, ok := v.BuyTokens[key]; ok {
			return t.Amount
		}
	}
	return types.ZeroAmount()
}

// SellAmount returns how much of the token leaves the wallet. For Cowswap
// the protocol fee is added back on top of the traded amount.
func SellAmount(q Quote, key string) types.NormalizedAmount {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return types.ZeroAmount()
		}
		o, ok := v.Orders[key]
		if !ok {
			return types.ZeroAmount()
		}
		total := new(big.Int)
		if o.Params.SellAmount != nil {
			total.Add(total, o.Params.SellAmount)
		}
		if o.Params.FeeAmount != nil {
			total.Add(total, o.Params.FeeAmount)
		}
		decimals := o.SellToken.Decimals
		if t, ok := v.SellTokens[key]; ok {
			decimals = t.Decimals
		}
		return types.NewAmount(total, decimals)
	case *BebopQuote:
		if v == nil {
			return types.ZeroAmount()
		}
		if t, ok := v.SellTokens[key]; ok {
			return types.NewAmount(t.Amount.RawOrZero(), t.Decimals)
		}
	}
	return types.ZeroAmount()
}

// ValidTo returns the deadline of the quote in unix milliseconds. Safe
// wallets presign orders that stay valid until the protocol-native validTo,
// every other wallet uses the shorter client-side expiration.
func ValidTo(q Quote, key string, isWalletSafe bool) int64 {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return 0
		}
		o, ok := v.Orders[key]
		if !ok {
			return 0
		}
		if isWalletSafe {
			return int64(o.Params.ValidTo) * 1000
		}
		return o.ExpirationTimestamp * 1000
	case *BebopQuote:
		if v == nil {
			return 0
		}
		if isWalletSafe {
			return v.Order.Expiry * 1000
		}
		return v.Order.ExpirationTimestamp * 1000
	}
	return 0
}

// ShouldRefresh reports whether the quote for key must be fetched again: it
// has expired (deadline <= now), no order was submitted for it and no fetch
// is in flight. The same contract applies to both solvers.
func ShouldRefresh(q Quote, key string, isWalletSafe bool, now time.Time) bool {
	e, ok := Entry(q, key)
	if !ok {
		return false
	}
	if e.OrderUID != "" || e.IsFetching {
		return false
	}
	return ValidTo(q, key, isWalletSafe) <= now.UnixMilli()
}
