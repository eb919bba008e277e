package quote

import (
	"github.com/ethereum/go-ethereum/common"

	"token-dump/pkg/types"
)

// Init prepares the quote for a fetch of the token with the given key. An
// empty (or other-solver) prev yields a fresh zeroed shell. An existing quote
// keeps every fetched amount and only gets token descriptors merged in and
// its fetching flag raised, so calling Init twice is harmless.
func Init(prev Quote, key string, args types.RequestArgs, solver types.SolverType) Quote {
	sell := sellDescriptor(args, key)

	switch solver {
	case types.SolverCowswap:
		q, ok := prev.(*CowswapQuote)
		if !ok || q == nil {
			q = &CowswapQuote{
				SellTokens: map[string]types.TokenWithAmount{},
				Orders:     map[string]CowswapOrder{},
			}
		} else {
			q = q.clone()
		}
		q.BuyToken = args.OutputToken

		if existing, ok := q.SellTokens[key]; ok {
			existing.Token = sell
			q.SellTokens[key] = existing
		} else {
			q.SellTokens[key] = sell.Zero()
		}

		order, ok := q.Orders[key]
		if !ok {
			order = CowswapOrder{
				OrderEntry: OrderEntry{OrderStatus: types.OrderNotStarted},
				SellToken:  sell.Zero(),
				BuyToken:   args.OutputToken.Zero(),
			}
		}
		order.SellToken.Token = sell
		order.BuyToken.Token = args.OutputToken
		order.IsFetching = true
		q.Orders[key] = order
		return q

	case types.SolverBebop:
		q, ok := prev.(*BebopQuote)
		if !ok || q == nil {
			q = &BebopQuote{
				BuyTokens:  map[string]types.TokenWithAmount{},
				SellTokens: map[string]types.TokenWithAmount{},
				Order:      emptyBebopOrder(),
			}
		} else {
			q = q.clone()
		}

		outKey := args.OutputToken.Key()
		if existing, ok := q.BuyTokens[outKey]; ok {
			existing.Token = args.OutputToken
			q.BuyTokens[outKey] = existing
		} else {
			q.BuyTokens[outKey] = args.OutputToken.Zero()
		}

		if existing, ok := q.SellTokens[key]; ok {
			existing.Token = sell
			q.SellTokens[key] = existing
		} else {
			q.SellTokens[key] = sell.Zero()
		}

		q.Order.IsFetching = true
		return q

	default:
		return prev
	}
}

// Add merges a solver response into the current state. Cowswap responses are
// merged per token. Bebop responses replace the state wholesale unless they
// are older than what is already held.
func Add(prev, incoming Quote) Quote {
	if IsEmpty(incoming) {
		return prev
	}
	if IsEmpty(prev) {
		return incoming
	}

	switch in := incoming.(type) {
	case *CowswapQuote:
		p, ok := prev.(*CowswapQuote)
		if !ok {
			return incoming
		}
		out := p.clone()
		if in.BuyToken.Address != (common.Address{}) {
			out.BuyToken = in.BuyToken
		}
		for k, v := range in.Orders {
			out.Orders[k] = v
		}
		for k, v := range in.SellTokens {
			out.SellTokens[k] = v
		}
		return out

	case *BebopQuote:
		p, ok := prev.(*BebopQuote)
		if !ok {
			return incoming
		}
		if in.LastUpdate < p.LastUpdate {
			return prev
		}
		return incoming

	default:
		return incoming
	}
}

// Delete drops a deselected token. For Bebop the aggregated order no longer
// matches the selection, so it is reset to an empty entry.
func Delete(q Quote, key string) Quote {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return q
		}
		out := v.clone()
		delete(out.Orders, key)
		delete(out.SellTokens, key)
		return out
	case *BebopQuote:
		if v == nil {
			return q
		}
		out := v.clone()
		delete(out.SellTokens, key)
		out.Order = emptyBebopOrder()
		return out
	default:
		return q
	}
}

// AssignSignature records the order signature
func AssignSignature(q Quote, key, signature string, scheme SigningScheme) Quote {
	return updateEntry(q, key, func(e *OrderEntry, _ bool) {
		e.Signature = signature
		e.SigningScheme = scheme
	})
}

// SetPending marks the order as submitted under orderUID
func SetPending(q Quote, key, orderUID string) Quote {
	return updateEntry(q, key, func(e *OrderEntry, _ bool) {
		e.OrderUID = orderUID
		e.OrderStatus = types.OrderPending
		e.OrderError = ""
	})
}

// SetInvalid marks the order invalid. Cowswap entries also lose their
// expiration so the next refresh check re-quotes them.
func SetInvalid(q Quote, key, orderUID, reason string) Quote {
	return updateEntry(q, key, func(e *OrderEntry, cowswap bool) {
		e.OrderUID = orderUID
		e.OrderStatus = types.OrderInvalid
		e.OrderError = reason
		if cowswap {
			e.ExpirationTimestamp = 0
		}
	})
}

// SetStatus updates the settlement status of the order
func SetStatus(q Quote, key string, status types.OrderStatus) Quote {
	return updateEntry(q, key, func(e *OrderEntry, _ bool) {
		e.OrderStatus = status
	})
}

// SetRefreshing toggles the refreshing flag of the order
func SetRefreshing(q Quote, key string, refreshing bool) Quote {
	return updateEntry(q, key, func(e *OrderEntry, _ bool) {
		e.IsRefreshing = refreshing
	})
}

// SetFetchFailed clears the fetching flags after a failed quote request
func SetFetchFailed(q Quote, key, reason string) Quote {
	return updateEntry(q, key, func(e *OrderEntry, _ bool) {
		e.IsFetching = false
		e.IsRefreshing = false
		e.OrderError = reason
	})
}

func updateEntry(q Quote, key string, fn func(e *OrderEntry, cowswap bool)) Quote {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return q
		}
		order, ok := v.Orders[key]
		if !ok {
			return q
		}
		out := v.clone()
		fn(&order.OrderEntry, true)
		out.Orders[key] = order
		return out
	case *BebopQuote:
		if v == nil {
			return q
		}
		out := v.clone()
		fn(&out.Order.OrderEntry, false)
		return out
	default:
		return q
	}
}

func sellDescriptor(args types.RequestArgs, key string) types.Token {
	if t, _, ok := args.AmountOf(key); ok {
		return t
	}
	return types.Token{
		Address: common.HexToAddress(key),
		ChainID: args.OutputToken.ChainID,
	}
}
