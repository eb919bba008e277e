package wizard

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

const DefaultDebounce = 400 * time.Millisecond

// bebopSeqKey is the sequence slot of the aggregated Bebop request
const bebopSeqKey = "*"

// Fetcher requests quotes and commits them to the session. Every request
// gets a sequence number per token; a response is committed only while it
// is the latest one dispatched for that token and the token is still
// selected.
type Fetcher struct {
	session  *Session
	solver   solver.Solver
	isSafe   bool
	debounce time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	seq     map[string]uint64
	timers  map[string]*time.Timer
	pending sync.WaitGroup
}

func NewFetcher(session *Session, s solver.Solver, isSafe bool, debounce time.Duration, logger *logrus.Logger) *Fetcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	f := &Fetcher{
		session:  session,
		solver:   s,
		isSafe:   isSafe,
		debounce: debounce,
		logger:   logger,
		now:      time.Now,
		seq:      make(map[string]uint64),
		timers:   make(map[string]*time.Timer),
	}
	session.OnReset(f.Stop)
	return f
}

func (f *Fetcher) next(key string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[key]++
	return f.seq[key]
}

func (f *Fetcher) latest(key string, n uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq[key] == n
}

// Fetch quotes the given keys, or every selected token when none are given.
// Quote failures are recorded on the session, only invalid input is
// returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		keys = f.session.SelectedKeys()
	}
	if len(keys) == 0 {
		return nil
	}

	switch f.solver.Type() {
	case types.SolverBebop:
		return f.fetchAggregated(ctx)
	default:
		return f.fetchPerToken(ctx, keys)
	}
}

func (f *Fetcher) fetchPerToken(ctx context.Context, keys []string) error {
	// every request is built before any is sent
	requests := make([]types.RequestArgs, len(keys))
	for i, key := range keys {
		args, err := f.session.Request(key)
		if err != nil {
			return err
		}
		requests[i] = args
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		args := requests[i]
		n := f.next(key)
		f.session.Update(func(q quote.Quote) quote.Quote {
			return quote.Init(q, key, args, f.solver.Type())
		})

		g.Go(func() error {
			incoming, err := f.solver.GetQuote(ctx, args)
			f.commit(key, n, []string{key}, incoming, err)
			return nil
		})
	}
	return g.Wait()
}

func (f *Fetcher) fetchAggregated(ctx context.Context) error {
	args, err := f.session.Request()
	if err != nil {
		return err
	}
	keys := make([]string, len(args.InputTokens))
	for i, t := range args.InputTokens {
		keys[i] = t.Key()
	}

	n := f.next(bebopSeqKey)
	f.session.Update(func(q quote.Quote) quote.Quote {
		for _, key := range keys {
			q = quote.Init(q, key, args, types.SolverBebop)
		}
		return q
	})

	incoming, err := f.solver.GetQuote(ctx, args)
	f.commit(bebopSeqKey, n, keys, incoming, err)
	return nil
}

func (f *Fetcher) commit(seqKey string, n uint64, keys []string, incoming quote.Quote, err error) {
	log := f.logger.WithFields(logrus.Fields{
		"solver": f.solver.Type(),
		"tokens": keys,
	})

	if errors.Is(err, context.Canceled) {
		log.Debug("quote request cancelled")
		return
	}
	if !f.latest(seqKey, n) {
		log.Debug("dropping superseded quote")
		return
	}
	for _, key := range keys {
		if !f.session.IsSelected(key) {
			log.Debug("dropping quote for deselected token")
			return
		}
	}

	if err != nil {
		qe, ok := solver.AsQuoteError(err)
		if !ok {
			qe = &solver.QuoteError{Solver: f.solver.Type(), Message: err.Error()}
		}
		log.WithField("error", err).Warn("quote failed")
		for _, key := range keys {
			f.session.SetQuoteError(key, qe)
			f.session.Update(func(q quote.Quote) quote.Quote {
				return quote.SetFetchFailed(q, key, qe.Message)
			})
		}
		return
	}

	for _, key := range keys {
		f.session.SetQuoteError(key, nil)
	}
	f.session.Update(func(q quote.Quote) quote.Quote {
		return quote.Add(q, incoming)
	})
}

// SetAmount changes the amount of a token and schedules a debounced
// refetch for it. Calls within the debounce window collapse into one fetch.
func (f *Fetcher) SetAmount(ctx context.Context, key string, amount *big.Int) error {
	if err := f.session.SetAmount(key, amount); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.timers[key]; ok && t.Stop() {
		f.pending.Done()
	}
	f.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(f.debounce, func() {
		defer f.pending.Done()
		f.mu.Lock()
		if f.timers[key] == timer {
			delete(f.timers, key)
		}
		f.mu.Unlock()

		if err := f.Fetch(ctx, key); err != nil {
			f.logger.WithFields(logrus.Fields{"token": key, "error": err}).Warn("refetch failed")
		}
	})
	f.timers[key] = timer
	return nil
}

// Stop cancels every scheduled refetch
func (f *Fetcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, t := range f.timers {
		if t.Stop() {
			f.pending.Done()
		}
		delete(f.timers, key)
	}
}

// Settle blocks until every scheduled refetch has run or been stopped
func (f *Fetcher) Settle() {
	f.pending.Wait()
}

// Expired returns the selected keys whose quote needs refreshing at now
func (f *Fetcher) Expired(now time.Time) []string {
	q := f.session.Quote()
	var out []string
	for _, key := range f.session.SelectedKeys() {
		if quote.ShouldRefresh(q, key, f.isSafe, now) {
			out = append(out, key)
		}
	}
	return out
}

// RefreshExpired refetches every expired quote and returns the keys it
// refreshed
func (f *Fetcher) RefreshExpired(ctx context.Context, now time.Time) ([]string, error) {
	keys := f.Expired(now)
	if len(keys) == 0 {
		return nil, nil
	}

	for _, key := range keys {
		f.session.Update(func(q quote.Quote) quote.Quote {
			return quote.SetRefreshing(q, key, true)
		})
	}
	f.logger.WithField("tokens", keys).Debug("refreshing expired quotes")

	if err := f.Fetch(ctx, keys...); err != nil {
		return keys, err
	}
	return keys, nil
}

// KeepFresh refreshes expired quotes every interval until ctx is done
func (f *Fetcher) KeepFresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.RefreshExpired(ctx, f.now()); err != nil {
				f.logger.WithField("error", err).Warn("quote refresh failed")
			}
		}
	}
}
