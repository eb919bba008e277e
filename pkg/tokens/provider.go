// Package tokens reads wallet balances and token metadata from the chain.
package tokens

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"token-dump/pkg/erc20"
	"token-dump/pkg/types"
)

const defaultConcurrency = 8

// Provider reads balances and metadata through a contract caller
type Provider struct {
	caller      ethereum.ContractCaller
	concurrency int
	logger      *logrus.Logger
}

func NewProvider(caller ethereum.ContractCaller, logger *logrus.Logger) *Provider {
	return &Provider{caller: caller, concurrency: defaultConcurrency, logger: logger}
}

// Balances reads the balance of every token for owner. Tokens whose call
// fails are logged and left out; zero balances are kept.
func (p *Provider) Balances(ctx context.Context, owner common.Address, tokens []types.Token) ([]types.TokenWithAmount, error) {
	results := make([]*types.TokenWithAmount, len(tokens))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, token := range tokens {
		g.Go(func() error {
			raw, err := erc20.BalanceOf(ctx, p.caller, token.Address, owner)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.WithFields(logrus.Fields{
					"token": token.Symbol,
					"error": err,
				}).Warn("failed to read balance")
				return nil
			}
			withAmount := token.WithAmount(types.NewAmount(raw, token.Decimals))
			results[i] = &withAmount
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "failed to read balances")
	}

	out := make([]types.TokenWithAmount, 0, len(tokens))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// NonZero keeps the tokens with a positive balance, largest first
func NonZero(balances []types.TokenWithAmount) []types.TokenWithAmount {
	out := make([]types.TokenWithAmount, 0, len(balances))
	for _, b := range balances {
		if !b.Amount.IsZero() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Amount.Normalized.GreaterThan(out[j].Amount.Normalized)
	})
	return out
}

// Balance reads a single balance
func (p *Provider) Balance(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error) {
	return erc20.BalanceOf(ctx, p.caller, token.Address, owner)
}

// Lookup builds a token descriptor from the contract itself
func (p *Provider) Lookup(ctx context.Context, chainID int64, address common.Address) (types.Token, error) {
	md, err := erc20.ReadMetadata(ctx, p.caller, address)
	if err != nil {
		return types.Token{}, errors.Wrapf(err, "failed to look up token %s", address.Hex())
	}
	return types.Token{
		Address:  address,
		Name:     md.Name,
		Symbol:   md.Symbol,
		Decimals: md.Decimals,
		ChainID:  chainID,
	}, nil
}
