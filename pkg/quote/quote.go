// Package quote holds the quote reconciliation state shared by every step of
// a dump. A Quote is either a *CowswapQuote (one order per sold token) or a
// *BebopQuote (one aggregated order for all sold tokens). Every function in
// this package treats its inputs as immutable and returns a new value.
package quote

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"token-dump/pkg/types"
)

// ErrSolverMismatch is returned when a quote is read as the wrong variant
var ErrSolverMismatch = errors.New("quote solver mismatch")

// Quote is implemented by *CowswapQuote and *BebopQuote only
type Quote interface {
	SolverType() types.SolverType
	sealed()
}

// SigningScheme is how an order signature must be interpreted
type SigningScheme string

const (
	SchemeEIP712  SigningScheme = "eip712"
	SchemeEthSign SigningScheme = "ethsign"
	SchemePresign SigningScheme = "presign"
)

// OrderEntry holds the lifecycle fields shared by both solvers
type OrderEntry struct {
	// ExpirationTimestamp is the client-side quote expiry in unix seconds
	ExpirationTimestamp int64
	Signature           string
	SigningScheme       SigningScheme
	OrderUID            string
	OrderStatus         types.OrderStatus
	OrderError          string
	IsFetching          bool
	IsRefreshing        bool
}

// CowswapParams are the GPv2 order parameters returned by a quote
type CowswapParams struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	FeeAmount         *big.Int
	ValidTo           uint32
	AppData           string
	Kind              string
	PartiallyFillable bool
	SellTokenBalance  string
	BuyTokenBalance   string
}

// CowswapOrder is the independent order entry for a single sold token
type CowswapOrder struct {
	OrderEntry
	QuoteID   int64
	From      common.Address
	SellToken types.TokenWithAmount
	BuyToken  types.TokenWithAmount
	Params    CowswapParams
}

// CowswapQuote keys both maps by the sold token key
type CowswapQuote struct {
	BuyToken   types.Token
	SellTokens map[string]types.TokenWithAmount
	Orders     map[string]CowswapOrder
}

func (*CowswapQuote) SolverType() types.SolverType { return types.SolverCowswap }
func (*CowswapQuote) sealed()                      {}

// BebopOrder is the single aggregated JAM order
type BebopOrder struct {
	OrderEntry
	QuoteID string
	// Expiry is the protocol-native order expiry in unix seconds
	Expiry         int64
	Settlement     common.Address
	ApprovalTarget common.Address
	ToSign         map[string]interface{}
	TxHash         string
}

// BebopQuote spans every sold token. LastUpdate (unix ms) orders responses.
type BebopQuote struct {
	BuyTokens  map[string]types.TokenWithAmount
	SellTokens map[string]types.TokenWithAmount
	Order      BebopOrder
	LastUpdate int64
}

func (*BebopQuote) SolverType() types.SolverType { return types.SolverBebop }
func (*BebopQuote) sealed()                      {}

// IsCowswap reports whether q is a non-nil Cowswap quote
func IsCowswap(q Quote) bool {
	c, ok := q.(*CowswapQuote)
	return ok && c != nil
}

// IsBebop reports whether q is a non-nil Bebop quote
func IsBebop(q Quote) bool {
	b, ok := q.(*BebopQuote)
	return ok && b != nil
}

// AssertCowswap narrows q to the Cowswap variant or fails loudly
func AssertCowswap(q Quote) (*CowswapQuote, error) {
	if c, ok := q.(*CowswapQuote); ok && c != nil {
		return c, nil
	}
	return nil, errors.Wrapf(ErrSolverMismatch, "expected %s quote, got %s", types.SolverCowswap, describe(q))
}

// AssertBebop narrows q to the Bebop variant or fails loudly
func AssertBebop(q Quote) (*BebopQuote, error) {
	if b, ok := q.(*BebopQuote); ok && b != nil {
		return b, nil
	}
	return nil, errors.Wrapf(ErrSolverMismatch, "expected %s quote, got %s", types.SolverBebop, describe(q))
}

// IsEmpty reports whether q holds no state at all
func IsEmpty(q Quote) bool {
	switch v := q.(type) {
	case *CowswapQuote:
		return v == nil
	case *BebopQuote:
		return v == nil
	default:
		return true
	}
}

// Keys returns the sold token keys in sorted order
func Keys(q Quote) []string {
	var keys []string
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return nil
		}
		for k := range v.SellTokens {
			keys = append(keys, k)
		}
	case *BebopQuote:
		if v == nil {
			return nil
		}
		for k := range v.SellTokens {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entry returns the order entry tracking the given sold token
func Entry(q Quote, key string) (OrderEntry, bool) {
	switch v := q.(type) {
	case *CowswapQuote:
		if v == nil {
			return OrderEntry{}, false
		}
		o, ok := v.Orders[key]
		return o.OrderEntry, ok
	case *BebopQuote:
		if v == nil {
			return OrderEntry{}, false
		}
		if _, ok := v.SellTokens[key]; !ok {
			return OrderEntry{}, false
		}
		return v.Order.OrderEntry, true
	default:
		return OrderEntry{}, false
	}
}

func describe(q Quote) string {
	if IsEmpty(q) {
		return "empty quote"
	}
	return fmt.Sprintf("%s quote", q.SolverType())
}

func (q *CowswapQuote) clone() *CowswapQuote {
	return &CowswapQuote{
		BuyToken:   q.BuyToken,
		SellTokens: cloneMap(q.SellTokens),
		Orders:     cloneMap(q.Orders),
	}
}

func (q *BebopQuote) clone() *BebopQuote {
	return &BebopQuote{
		BuyTokens:  cloneMap(q.BuyTokens),
		SellTokens: cloneMap(q.SellTokens),
		Order:      q.Order,
		LastUpdate: q.LastUpdate,
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func emptyBebopOrder() BebopOrder {
	return BebopOrder{OrderEntry: OrderEntry{OrderStatus: types.OrderNotStarted}}
}
