// Package solver defines the contract shared by the aggregator clients and
// the tagged error they report quote failures with.
package solver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"token-dump/pkg/quote"
	"token-dump/pkg/types"
)

var (
	// ErrInsufficientAllowance means the allowance was spent or revoked
	// between approval and execution
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrOrderNotFound is returned when the solver does not know the order
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotSigned is returned when executing an order without a signature
	ErrNotSigned = errors.New("order is not signed")
	// ErrSafeUnsupported is returned when a solver cannot settle an order
	// whose taker is a Safe
	ErrSafeUnsupported = errors.New("solver does not support safe wallets")
)

// TypedDataSigner produces EIP-712 signatures for the connected wallet
type TypedDataSigner interface {
	Address() common.Address
	IsSafe() bool
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Signature is a signed order ready for submission
type Signature struct {
	Value  string
	Scheme quote.SigningScheme
}

// Solver is implemented by every aggregator client
type Solver interface {
	Type() types.SolverType
	// GetQuote fetches a quote for the request. Cowswap returns one order per
	// input token, Bebop a single aggregated order.
	GetQuote(ctx context.Context, args types.RequestArgs) (quote.Quote, error)
	// Sign signs the order tracked for key
	Sign(ctx context.Context, q quote.Quote, key string, signer TypedDataSigner) (Signature, error)
	// Execute submits the signed order and returns its order UID
	Execute(ctx context.Context, q quote.Quote, key string) (string, error)
	// PollStatus returns the current settlement status of an order
	PollStatus(ctx context.Context, orderUID string) (types.OrderStatus, error)
	// Spender returns the address that must be approved to pull the sold token
	Spender(q quote.Quote) common.Address
}

// QuoteError is the tagged failure reported when a solver rejects a quote
type QuoteError struct {
	Solver  types.SolverType
	Kind    string
	Message string
	// ShouldDisable tells callers the token cannot be traded at all, as
	// opposed to a transient condition worth retrying
	ShouldDisable bool
	// Code carries the solver-specific numeric error code when there is one
	Code int
}

func (e *QuoteError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s quote error (%s): %s", e.Solver, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s quote error: %s", e.Solver, e.Message)
}

// AsQuoteError extracts a QuoteError from err
func AsQuoteError(err error) (*QuoteError, bool) {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
