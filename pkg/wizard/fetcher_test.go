package wizard

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

func TestFetcherDropsSupersededResponse(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(args types.RequestArgs) (quote.Quote, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return cowQuote(args, 100, farExpiry()), nil
		}
		return cowQuote(args, 200, farExpiry()), nil
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	ctx := context.Background()

	done := make(chan error)
	go func() { done <- f.Fetch(ctx) }()

	// wait for the first request to be in flight
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := quote.BuyAmount(sess.Quote(), tokenA.Key())
	if got.Raw.Int64() != 200 {
		t.Errorf("expected the latest quote to win, got %s", got.Raw)
	}
}

func TestFetcherDropsDeselectedToken(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(args types.RequestArgs) (quote.Quote, error) {
		close(started)
		<-release
		return cowQuote(args, 100, farExpiry()), nil
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())

	done := make(chan error)
	go func() { done <- f.Fetch(context.Background()) }()
	<-started
	sess.Deselect(tokenA.Key())
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if _, ok := quote.Entry(sess.Quote(), tokenA.Key()); ok {
		t.Error("quote of a deselected token must not be committed")
	}
}

func TestFetcherRecordsQuoteError(t *testing.T) {
	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(types.RequestArgs) (quote.Quote, error) {
		return nil, &solver.QuoteError{Solver: types.SolverCowswap, Kind: "UnsupportedToken", Message: "token not supported", ShouldDisable: true}
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	qe := sess.QuoteError(tokenA.Key())
	if qe == nil || !qe.ShouldDisable {
		t.Fatalf("expected a disabling quote error, got %+v", qe)
	}
	e, ok := quote.Entry(sess.Quote(), tokenA.Key())
	if !ok || e.IsFetching || e.OrderError != "token not supported" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestFetcherWrapsPlainErrors(t *testing.T) {
	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(types.RequestArgs) (quote.Quote, error) {
		return nil, errors.New("connection refused")
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	_ = f.Fetch(context.Background())

	qe := sess.QuoteError(tokenA.Key())
	if qe == nil || qe.ShouldDisable || qe.Message != "connection refused" {
		t.Errorf("unexpected quote error %+v", qe)
	}
}

func TestFetcherIgnoresCancelledRequest(t *testing.T) {
	s := &fakeSolver{
		typ: types.SolverCowswap,
		quoteFn: func(types.RequestArgs) (quote.Quote, error) {
			return nil, errors.Wrap(context.Canceled, "get quote")
		},
	}
	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	_ = f.Fetch(context.Background())

	if qe := sess.QuoteError(tokenA.Key()); qe != nil {
		t.Errorf("a cancelled request is not a quote failure, got %+v", qe)
	}
}

func TestFetcherDebouncesAmountChanges(t *testing.T) {
	s := cowSolver()
	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, 20*time.Millisecond, quietLogger())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := f.SetAmount(ctx, tokenA.Key(), big.NewInt(i*100)); err != nil {
			t.Fatal(err)
		}
	}

	f.Settle()

	if quotes, _, _ := s.calls(); quotes != 1 {
		t.Errorf("expected a single fetch, got %d", quotes)
	}
	if got := quote.SellAmount(sess.Quote(), tokenA.Key()); got.Raw.Int64() != 300 {
		t.Errorf("expected the last amount to be quoted, got %s", got.Raw)
	}
}

func TestFetcherBuildsEveryRequestBeforeSending(t *testing.T) {
	s := cowSolver()
	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())

	if err := f.Fetch(context.Background(), tokenA.Key(), tokenB.Key()); err == nil {
		t.Fatal("expected an error for an unselected token")
	}
	if quotes, _, _ := s.calls(); quotes != 0 {
		t.Errorf("no request should be sent, got %d", quotes)
	}
	if _, ok := quote.Entry(sess.Quote(), tokenA.Key()); ok {
		t.Error("no quote should be initialized")
	}
}

func TestFetcherSetAmountRejectsUnselected(t *testing.T) {
	sess := newSession(t, types.SolverCowswap)
	f := NewFetcher(sess, cowSolver(), false, time.Millisecond, quietLogger())
	if err := f.SetAmount(context.Background(), tokenA.Key(), big.NewInt(1)); err == nil {
		t.Error("expected an error for an unselected token")
	}
}

func TestFetcherStopCancelsPendingFetch(t *testing.T) {
	s := cowSolver()
	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, 20*time.Millisecond, quietLogger())

	if err := f.SetAmount(context.Background(), tokenA.Key(), big.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	sess.Reset()
	f.Settle()
	time.Sleep(40 * time.Millisecond)

	if quotes, _, _ := s.calls(); quotes != 0 {
		t.Errorf("reset should cancel the pending fetch, got %d fetches", quotes)
	}
}

func TestRefreshExpired(t *testing.T) {
	expiry := time.Now().Add(time.Minute).Unix()
	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(args types.RequestArgs) (quote.Quote, error) {
		return cowQuote(args, 100, expiry), nil
	}

	sess := newSession(t, types.SolverCowswap, tokenA, tokenB)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	ctx := context.Background()
	if err := f.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	if keys := f.Expired(time.Now()); len(keys) != 0 {
		t.Fatalf("nothing should be expired yet, got %v", keys)
	}

	// an order was submitted for B, so it is never refreshed
	sess.Update(func(q quote.Quote) quote.Quote {
		return quote.SetPending(q, tokenB.Key(), orderUID(1))
	})

	later := time.Unix(expiry, 0).Add(time.Second)
	keys, err := f.RefreshExpired(ctx, later)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != tokenA.Key() {
		t.Fatalf("expected only %s refreshed, got %v", tokenA.Symbol, keys)
	}
	if quotes, _, _ := s.calls(); quotes != 3 {
		t.Errorf("expected 3 fetches, got %d", quotes)
	}
	e, _ := quote.Entry(sess.Quote(), tokenA.Key())
	if e.IsFetching || e.IsRefreshing {
		t.Errorf("refresh flags should be cleared, got %+v", e)
	}
}

func TestKeepFreshRefreshesUntilCancelled(t *testing.T) {
	expiry := time.Now().Add(time.Minute).Unix()
	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(args types.RequestArgs) (quote.Quote, error) {
		return cowQuote(args, 100, expiry), nil
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.now = func() time.Time { return time.Unix(expiry, 0).Add(time.Second) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.KeepFresh(ctx, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if quotes, _, _ := s.calls(); quotes >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired quote was never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("KeepFresh did not stop after cancel")
	}
}

func TestRefreshUsesSafeDeadline(t *testing.T) {
	expiry := time.Now().Add(time.Minute).Unix()
	s := &fakeSolver{typ: types.SolverCowswap}
	s.quoteFn = func(args types.RequestArgs) (quote.Quote, error) {
		// validTo is expiry + 600
		return cowQuote(args, 100, expiry), nil
	}

	sess := newSession(t, types.SolverCowswap, tokenA)
	f := NewFetcher(sess, s, true, time.Millisecond, quietLogger())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	if keys := f.Expired(time.Unix(expiry+1, 0)); len(keys) != 0 {
		t.Errorf("safe quotes live until validTo, got %v", keys)
	}
	if keys := f.Expired(time.Unix(expiry+600, 0)); len(keys) != 1 {
		t.Errorf("expected the quote expired at validTo, got %v", keys)
	}
}

func TestBebopFetchAggregates(t *testing.T) {
	s := bebopSolver()
	sess := newSession(t, types.SolverBebop, tokenA, tokenB)
	f := NewFetcher(sess, s, false, time.Millisecond, quietLogger())

	if err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	if quotes, _, _ := s.calls(); quotes != 1 {
		t.Errorf("expected one aggregated request, got %d", quotes)
	}
	bq, err := quote.AssertBebop(sess.Quote())
	if err != nil {
		t.Fatal(err)
	}
	if len(bq.SellTokens) != 2 || bq.Order.QuoteID != "jam-1" || bq.Order.IsFetching {
		t.Errorf("unexpected quote %+v", bq)
	}
}
