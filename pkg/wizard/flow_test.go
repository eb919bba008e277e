package wizard

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/pkg/errors"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

func farExpiry() int64 {
	return time.Now().Add(time.Hour).Unix()
}

// quotedCowswap returns a session with a fresh Cowswap quote for tokens
func quotedCowswap(t *testing.T, s *fakeSolver, tokens ...types.Token) *Session {
	t.Helper()
	sess := newSession(t, types.SolverCowswap, tokens...)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sess
}

func cowSolver() *fakeSolver {
	return &fakeSolver{
		typ: types.SolverCowswap,
		quoteFn: func(args types.RequestArgs) (quote.Quote, error) {
			return cowQuote(args, 500, farExpiry()), nil
		},
		statuses: []types.OrderStatus{types.OrderPending, types.OrderCowswapFulfilled},
	}
}

func TestCowswapFlowTransitions(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	chain := newFakeChain()

	rec := &recorder{}
	board := NewStatusBoard()
	board.Observe(rec.observe)

	fl := NewCowswapFlow(Deps{
		Session: sess,
		Solver:  s,
		Wallet:  &eoa{chain: chain},
		Board:   board,
		Poll:    fastPoll(),
		Logger:  quietLogger(),
	})

	ctx := context.Background()
	if err := fl.Approve(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fl.Sign(ctx); err != nil {
		t.Fatal(err)
	}
	results, err := fl.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 || results[0].Status != types.OrderCowswapFulfilled {
		t.Fatalf("unexpected results %+v", results)
	}

	want := []Transition{
		{tokenA.Key(), StepApproval, types.StepUndetermined, types.StepPending},
		{tokenA.Key(), StepApproval, types.StepPending, types.StepValid},
		{tokenA.Key(), StepSignature, types.StepUndetermined, types.StepPending},
		{tokenA.Key(), StepSignature, types.StepPending, types.StepValid},
		{tokenA.Key(), StepExecution, types.StepUndetermined, types.StepPending},
		{tokenA.Key(), StepExecution, types.StepPending, types.StepValid},
	}
	got := rec.forToken(tokenA.Key())
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	if len(chain.sent) != 1 || chain.sent[0] != tokenA.Address {
		t.Errorf("expected one approval for %s, got %v", tokenA.Address, chain.sent)
	}
	e, _ := quote.Entry(sess.Quote(), tokenA.Key())
	if e.OrderStatus != types.OrderCowswapFulfilled || e.OrderUID == "" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestCowswapFlowSkipsApprovalWithAllowance(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	chain := newFakeChain()
	chain.allowances[tokenA.Address] = big.NewInt(1_000_000)

	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: chain}, Poll: fastPoll(), Logger: quietLogger()})
	if err := fl.Approve(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := fl.Board.Get(tokenA.Key(), StepApproval); got != types.StepValid {
		t.Errorf("approval: got %s", got)
	}
	if len(chain.sent) != 0 {
		t.Errorf("no approval should be sent, got %v", chain.sent)
	}
}

func TestCowswapSignRequiresApproval(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)

	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})
	if err := fl.Sign(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := fl.Board.Get(tokenA.Key(), StepSignature); got != types.StepUndetermined {
		t.Errorf("signature: got %s", got)
	}
	if _, signs, _ := s.calls(); signs != 0 {
		t.Errorf("expected no signature request, got %d", signs)
	}
}

func TestCowswapAllowanceRollback(t *testing.T) {
	s := cowSolver()
	s.execErr = map[string]error{
		tokenA.Key(): errors.Wrap(solver.ErrInsufficientAllowance, "cowswap order rejected"),
	}
	sess := quotedCowswap(t, s, tokenA, tokenB)

	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})
	ctx := context.Background()
	if err := fl.Approve(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fl.Sign(ctx); err != nil {
		t.Fatal(err)
	}
	results, err := fl.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Tokens[0] != tokenB.Key() {
		t.Fatalf("only %s should be submitted, got %+v", tokenB.Symbol, results)
	}

	a := tokenA.Key()
	if got := fl.Board.Get(a, StepApproval); got != types.StepUndetermined {
		t.Errorf("approval of A: got %s", got)
	}
	if got := fl.Board.Get(a, StepSignature); got != types.StepUndetermined {
		t.Errorf("signature of A: got %s", got)
	}
	if got := fl.Board.Get(a, StepExecution); got != types.StepInvalid {
		t.Errorf("execution of A: got %s", got)
	}

	b := tokenB.Key()
	for _, step := range steps {
		if got := fl.Board.Get(b, step); got != types.StepValid {
			t.Errorf("%s of B: got %s", step, got)
		}
	}

	e, _ := quote.Entry(sess.Quote(), a)
	if e.OrderStatus != types.OrderInvalid {
		t.Errorf("order of A: got %s", e.OrderStatus)
	}
}

func TestCowswapExecuteSkipsSentOrders(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})

	ctx := context.Background()
	_ = fl.Approve(ctx)
	_ = fl.Sign(ctx)
	if _, err := fl.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	results, err := fl.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 0 {
		t.Errorf("expected nothing resubmitted, got %+v", results)
	}
	if _, _, execs := s.calls(); execs != 1 {
		t.Errorf("expected 1 submission, got %d", execs)
	}
}

func TestCowswapSafeBatchIsIdempotent(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA, tokenB)
	w := &safeWallet{chain: newFakeChain()}

	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: w, Poll: fastPoll(), Logger: quietLogger()})
	ctx := context.Background()

	batch, err := fl.BuildSafeBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fl.BuildSafeBatch(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(batch.IDs()); n != 2 {
		t.Fatalf("expected 2 orders in the batch, got %d", n)
	}
	// approve + setPreSignature per order
	if n := len(batch.Transactions()); n != 4 {
		t.Fatalf("expected 4 calls, got %d", n)
	}
	if _, _, execs := s.calls(); execs != 2 {
		t.Errorf("expected each order placed once, got %d", execs)
	}
}

func TestCowswapRunSafeBatch(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	w := &safeWallet{chain: newFakeChain()}

	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: w, Poll: fastPoll(), Logger: quietLogger()})
	safeTx, results, err := fl.RunSafeBatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if safeTx != "0xsafetx" {
		t.Errorf("safe tx: got %s", safeTx)
	}
	if len(w.proposals) != 1 || len(w.proposals[0]) != 2 {
		t.Fatalf("unexpected proposals %+v", w.proposals)
	}
	if len(results) != 1 || results[0].Status != types.OrderCowswapFulfilled {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, step := range steps {
		if got := fl.Board.Get(tokenA.Key(), step); got != types.StepValid {
			t.Errorf("%s: got %s", step, got)
		}
	}
	if fl.Batch().Len() != 0 {
		t.Error("batch should be empty after proposing")
	}
}

func TestSafeBatchRequiresSafe(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Logger: quietLogger()})

	if _, err := fl.BuildSafeBatch(context.Background()); !errors.Is(err, ErrNotSafe) {
		t.Errorf("expected ErrNotSafe, got %v", err)
	}
}

func TestFlowResetClearsBoard(t *testing.T) {
	s := cowSolver()
	sess := quotedCowswap(t, s, tokenA)
	fl := NewCowswapFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Logger: quietLogger()})

	fl.Board.Set(tokenA.Key(), StepApproval, types.StepValid)
	fl.Batch().Add("x")
	sess.Reset()

	if got := fl.Board.Get(tokenA.Key(), StepApproval); got != types.StepUndetermined {
		t.Errorf("approval after reset: got %s", got)
	}
	if fl.Batch().Has("x") {
		t.Error("batch should be empty after reset")
	}
}

func bebopSolver() *fakeSolver {
	return &fakeSolver{
		typ: types.SolverBebop,
		quoteFn: func(args types.RequestArgs) (quote.Quote, error) {
			return bebopQuote(args, 900, farExpiry(), time.Now().UnixMilli()), nil
		},
		statuses: []types.OrderStatus{types.OrderBebopConfirmed},
	}
}

func quotedBebop(t *testing.T, s *fakeSolver, tokens ...types.Token) *Session {
	t.Helper()
	sess := newSession(t, types.SolverBebop, tokens...)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestBebopSignCoversEveryToken(t *testing.T) {
	s := bebopSolver()
	sess := quotedBebop(t, s, tokenA, tokenB)
	fl := NewBebopFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})

	if err := fl.Sign(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{tokenA.Key(), tokenB.Key()} {
		if got := fl.Board.Get(key, StepSignature); got != types.StepValid {
			t.Errorf("signature of %s: got %s", key, got)
		}
	}
	if _, signs, _ := s.calls(); signs != 1 {
		t.Errorf("expected a single signature, got %d", signs)
	}
}

func TestBebopExecuteRequiresApprovals(t *testing.T) {
	s := bebopSolver()
	sess := quotedBebop(t, s, tokenA, tokenB)
	fl := NewBebopFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})

	ctx := context.Background()
	_ = fl.Sign(ctx)
	if _, err := fl.Execute(ctx); err == nil {
		t.Fatal("expected an error without approvals")
	}

	if err := fl.Approve(ctx); err != nil {
		t.Fatal(err)
	}
	results, err := fl.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Status != types.OrderBebopConfirmed {
		t.Fatalf("unexpected results %+v", results)
	}
	if len(results[0].Tokens) != 2 {
		t.Errorf("order should cover both tokens, got %v", results[0].Tokens)
	}
	for _, key := range []string{tokenA.Key(), tokenB.Key()} {
		if got := fl.Board.Get(key, StepExecution); got != types.StepValid {
			t.Errorf("execution of %s: got %s", key, got)
		}
	}
}

func TestBebopAllowanceRollback(t *testing.T) {
	s := bebopSolver()
	s.execErr = map[string]error{"": errors.Wrap(solver.ErrInsufficientAllowance, "bebop order rejected")}
	sess := quotedBebop(t, s, tokenA, tokenB)
	fl := NewBebopFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Poll: fastPoll(), Logger: quietLogger()})

	ctx := context.Background()
	_ = fl.Approve(ctx)
	_ = fl.Sign(ctx)
	results, err := fl.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !errors.Is(results[0].Err, solver.ErrInsufficientAllowance) {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, key := range []string{tokenA.Key(), tokenB.Key()} {
		if got := fl.Board.Get(key, StepApproval); got != types.StepUndetermined {
			t.Errorf("approval of %s: got %s", key, got)
		}
		if got := fl.Board.Get(key, StepExecution); got != types.StepInvalid {
			t.Errorf("execution of %s: got %s", key, got)
		}
	}
}

func TestBebopRefusesSafe(t *testing.T) {
	s := bebopSolver()
	sess := quotedBebop(t, s, tokenA, tokenB)
	w := &safeWallet{chain: newFakeChain()}

	fl := NewBebopFlow(Deps{Session: sess, Solver: s, Wallet: w, Poll: fastPoll(), Logger: quietLogger()})
	ctx := context.Background()

	if _, _, err := fl.RunSafeBatch(ctx); !errors.Is(err, solver.ErrSafeUnsupported) {
		t.Errorf("RunSafeBatch: expected ErrSafeUnsupported, got %v", err)
	}
	if err := fl.Approve(ctx); !errors.Is(err, solver.ErrSafeUnsupported) {
		t.Errorf("Approve: expected ErrSafeUnsupported, got %v", err)
	}
	if err := fl.Sign(ctx); !errors.Is(err, solver.ErrSafeUnsupported) {
		t.Errorf("Sign: expected ErrSafeUnsupported, got %v", err)
	}

	if len(w.proposals) != 0 {
		t.Errorf("nothing should be proposed, got %+v", w.proposals)
	}
	if _, signs, execs := s.calls(); signs != 0 || execs != 0 {
		t.Errorf("expected no solver calls, got signs=%d execs=%d", signs, execs)
	}
	for _, key := range []string{tokenA.Key(), tokenB.Key()} {
		if got := fl.Board.Get(key, StepApproval); got != types.StepUndetermined {
			t.Errorf("approval of %s: got %s", key, got)
		}
	}
}

func TestBebopRunSafeBatchRequiresSafe(t *testing.T) {
	s := bebopSolver()
	sess := quotedBebop(t, s, tokenA)
	fl := NewBebopFlow(Deps{Session: sess, Solver: s, Wallet: &eoa{chain: newFakeChain()}, Logger: quietLogger()})

	if _, _, err := fl.RunSafeBatch(context.Background()); !errors.Is(err, ErrNotSafe) {
		t.Errorf("expected ErrNotSafe, got %v", err)
	}
}
