package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/erc20"
	"token-dump/pkg/quote"
	"token-dump/pkg/safe"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

var (
	tokenA   = types.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"), Symbol: "AAA", Decimals: 18, ChainID: 1}
	tokenB   = types.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000bb"), Symbol: "BBB", Decimals: 6, ChainID: 1}
	tokenOut = types.Token{Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), Symbol: "OUT", Decimals: 18, ChainID: 1}
	user     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastPoll() PollConfig {
	return PollConfig{Interval: time.Millisecond, Timeout: 2 * time.Second}
}

func orderUID(n int) string {
	return fmt.Sprintf("0x%0112x", n)
}

// cowQuote answers args with one order per input token
func cowQuote(args types.RequestArgs, buy int64, expiry int64) *quote.CowswapQuote {
	q := &quote.CowswapQuote{
		BuyToken:   args.OutputToken,
		SellTokens: map[string]types.TokenWithAmount{},
		Orders:     map[string]quote.CowswapOrder{},
	}
	for i, t := range args.InputTokens {
		amount := args.InputAmounts[i]
		q.SellTokens[t.Key()] = t.WithAmount(types.NewAmount(amount, t.Decimals))
		q.Orders[t.Key()] = quote.CowswapOrder{
			OrderEntry: quote.OrderEntry{ExpirationTimestamp: expiry, OrderStatus: types.OrderNotStarted},
			From:       args.From,
			SellToken:  t.WithAmount(types.NewAmount(amount, t.Decimals)),
			BuyToken:   args.OutputToken.WithAmount(types.NewAmount(big.NewInt(buy), args.OutputToken.Decimals)),
			Params: quote.CowswapParams{
				SellToken:  t.Address,
				BuyToken:   args.OutputToken.Address,
				SellAmount: new(big.Int).Set(amount),
				FeeAmount:  new(big.Int),
				BuyAmount:  big.NewInt(buy),
				ValidTo:    uint32(expiry + 600),
			},
		}
	}
	return q
}

// bebopQuote answers args with one aggregated order
func bebopQuote(args types.RequestArgs, buy int64, expiry, lastUpdate int64) *quote.BebopQuote {
	q := &quote.BebopQuote{
		BuyTokens: map[string]types.TokenWithAmount{
			args.OutputToken.Key(): args.OutputToken.WithAmount(types.NewAmount(big.NewInt(buy), args.OutputToken.Decimals)),
		},
		SellTokens: map[string]types.TokenWithAmount{},
		Order: quote.BebopOrder{
			OrderEntry:     quote.OrderEntry{ExpirationTimestamp: expiry, OrderStatus: types.OrderNotStarted},
			QuoteID:        "jam-1",
			Expiry:         expiry,
			ApprovalTarget: spender,
		},
		LastUpdate: lastUpdate,
	}
	for i, t := range args.InputTokens {
		q.SellTokens[t.Key()] = t.WithAmount(types.NewAmount(args.InputAmounts[i], t.Decimals))
	}
	return q
}

// fakeSolver is a scriptable solver.Solver
type fakeSolver struct {
	typ types.SolverType

	mu        sync.Mutex
	quoteFn   func(args types.RequestArgs) (quote.Quote, error)
	signErr   error
	execErr   map[string]error
	statuses  []types.OrderStatus
	quoteCall int
	signCall  int
	execCall  int
	uidSeq    int
}

func (f *fakeSolver) Type() types.SolverType { return f.typ }

func (f *fakeSolver) GetQuote(_ context.Context, args types.RequestArgs) (quote.Quote, error) {
	f.mu.Lock()
	f.quoteCall++
	fn := f.quoteFn
	f.mu.Unlock()
	return fn(args)
}

func (f *fakeSolver) Sign(_ context.Context, _ quote.Quote, _ string, signer solver.TypedDataSigner) (solver.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCall++
	if f.signErr != nil {
		return solver.Signature{}, f.signErr
	}
	if signer.IsSafe() {
		return solver.Signature{Value: signer.Address().Hex(), Scheme: quote.SchemePresign}, nil
	}
	return solver.Signature{Value: "0xsig", Scheme: quote.SchemeEIP712}, nil
}

func (f *fakeSolver) Execute(_ context.Context, _ quote.Quote, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCall++
	if err := f.execErr[key]; err != nil {
		return "", err
	}
	f.uidSeq++
	return orderUID(f.uidSeq), nil
}

func (f *fakeSolver) PollStatus(context.Context, string) (types.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return types.OrderPending, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeSolver) Spender(quote.Quote) common.Address { return spender }

func (f *fakeSolver) calls() (quotes, signs, execs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCall, f.signCall, f.execCall
}

// fakeChain answers allowance calls and mines approvals instantly
type fakeChain struct {
	mu         sync.Mutex
	allowances map[common.Address]*big.Int
	sent       []common.Address
}

func newFakeChain() *fakeChain {
	return &fakeChain{allowances: make(map[common.Address]*big.Int)}
}

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := erc20.ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name != "allowance" {
		return nil, errors.New("unexpected call " + method.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.allowances[*msg.To]
	if a == nil {
		a = new(big.Int)
	}
	return method.Outputs.Pack(a)
}

// eoa is a plain account on fakeChain
type eoa struct {
	chain *fakeChain
}

func (w *eoa) Address() common.Address         { return user }
func (w *eoa) IsSafe() bool                    { return false }
func (w *eoa) Caller() ethereum.ContractCaller { return w.chain }
func (w *eoa) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, nil
}

func (w *eoa) SendTransaction(_ context.Context, to common.Address, data []byte) (*ethtypes.Transaction, error) {
	method, err := erc20.ABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	w.chain.mu.Lock()
	w.chain.allowances[to] = args[1].(*big.Int)
	w.chain.sent = append(w.chain.sent, to)
	w.chain.mu.Unlock()
	return ethtypes.NewTransaction(0, to, new(big.Int), 0, new(big.Int), data), nil
}

func (w *eoa) WaitMined(context.Context, *ethtypes.Transaction) error { return nil }

// safeWallet is a Safe on fakeChain that records proposals
type safeWallet struct {
	chain     *fakeChain
	proposals [][]safe.MetaTx
}

func (w *safeWallet) Address() common.Address         { return common.HexToAddress("0x5afe") }
func (w *safeWallet) IsSafe() bool                    { return true }
func (w *safeWallet) Caller() ethereum.ContractCaller { return w.chain }
func (w *safeWallet) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, errors.New("safe cannot sign off-chain")
}

func (w *safeWallet) Propose(_ context.Context, batch *safe.Batch) (string, error) {
	w.proposals = append(w.proposals, batch.Transactions())
	return "0xsafetx", nil
}

// newSession selects the given tokens with 1000 base units each
func newSession(t *testing.T, s types.SolverType, tokens ...types.Token) *Session {
	t.Helper()
	sess := NewSession(s, user)
	sess.SetOutput(tokenOut)
	for _, tok := range tokens {
		if err := sess.Select(tok, big.NewInt(1000)); err != nil {
			t.Fatal(err)
		}
	}
	return sess
}

// recorder collects board transitions
type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) forToken(key string) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transition
	for _, t := range r.got {
		if t.Token == key {
			out = append(out, t)
		}
	}
	return out
}
