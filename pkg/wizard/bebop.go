package wizard

import (
	"context"

	"github.com/pkg/errors"

	"token-dump/pkg/notify"
	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

// BebopFlow runs the steps of an aggregated Bebop order. Approvals are per
// token; the signature and the execution cover every token at once, and
// their status is mirrored on each token's slot. Bebop recovers the taker
// from an owner signature, so a Safe cannot trade through it and every
// step refuses to run for one.
type BebopFlow struct {
	flow
}

func NewBebopFlow(d Deps) *BebopFlow {
	return &BebopFlow{flow: newFlow(d)}
}

func (b *BebopFlow) quote() (*quote.BebopQuote, error) {
	bq, err := quote.AssertBebop(b.Session.Quote())
	if err != nil {
		return nil, err
	}
	if bq.Order.QuoteID == "" {
		return nil, errors.New("no bebop quote yet")
	}
	return bq, nil
}

func (b *BebopFlow) refuseSafe() error {
	if b.Wallet.IsSafe() {
		return errors.Wrap(solver.ErrSafeUnsupported, "bebop")
	}
	return nil
}

func (b *BebopFlow) setAll(keys []string, step Step, status types.StepStatus) {
	for _, key := range keys {
		b.Board.Set(key, step, status)
	}
}

func (b *BebopFlow) all(keys []string, step Step, status types.StepStatus) bool {
	for _, key := range keys {
		if b.Board.Get(key, step) != status {
			return false
		}
	}
	return len(keys) > 0
}

// Approve makes sure the approval target may pull every selected token
func (b *BebopFlow) Approve(ctx context.Context) error {
	if err := b.refuseSafe(); err != nil {
		return err
	}
	bq, err := b.quote()
	if err != nil {
		return err
	}
	spender := b.Solver.Spender(bq)

	for _, token := range b.Session.Selected() {
		if err := ctx.Err(); err != nil {
			return err
		}
		amount := quote.SellAmount(bq, token.Key()).Raw
		if amount.Sign() == 0 {
			b.log(token.Key()).Warn("token is not part of the quote")
			continue
		}
		b.approve(ctx, token, spender, amount)
	}
	return nil
}

// Sign signs the aggregated order. It does not wait for approvals.
func (b *BebopFlow) Sign(ctx context.Context) error {
	if err := b.refuseSafe(); err != nil {
		return err
	}
	bq, err := b.quote()
	if err != nil {
		return err
	}
	keys := b.Session.SelectedKeys()
	if b.all(keys, StepSignature, types.StepValid) {
		return nil
	}

	b.setAll(keys, StepSignature, types.StepPending)
	sig, err := b.Solver.Sign(ctx, bq, "", b.Wallet)
	if err != nil {
		b.Logger.WithField("error", err).Warn("bebop signature failed")
		b.setAll(keys, StepSignature, types.StepInvalid)
		return nil
	}
	b.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.AssignSignature(q, "", sig.Value, sig.Scheme)
	})
	b.setAll(keys, StepSignature, types.StepValid)
	return nil
}

// Execute submits the signed order once every token is approved and waits
// for it to settle
func (b *BebopFlow) Execute(ctx context.Context) ([]Result, error) {
	bq, err := b.quote()
	if err != nil {
		return nil, err
	}
	keys := b.Session.SelectedKeys()

	if !b.all(keys, StepSignature, types.StepValid) {
		return nil, errors.New("order is not signed")
	}
	if !b.all(keys, StepApproval, types.StepValid) {
		return nil, errors.New("not every token is approved")
	}
	if alreadySent(bq.Order.OrderEntry) {
		b.Logger.WithField("uid", bq.Order.OrderUID).Debug("order already sent")
		return nil, nil
	}

	b.setAll(keys, StepExecution, types.StepPending)
	uid, err := b.Solver.Execute(ctx, bq, "")
	if err != nil {
		b.fail(keys, err)
		return []Result{{Tokens: keys, Err: err}}, nil
	}
	b.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.SetPending(q, "", uid)
	})
	b.record(uid, keys)

	return []Result{b.wait(ctx, keys, uid)}, nil
}

func (b *BebopFlow) fail(keys []string, err error) {
	b.Logger.WithField("error", err).Warn("bebop execution failed")
	b.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.SetInvalid(q, "", "", err.Error())
	})
	b.setAll(keys, StepExecution, types.StepInvalid)
	if errors.Is(err, solver.ErrInsufficientAllowance) {
		for _, key := range keys {
			b.Board.Rollback(key)
		}
	}
}

func (b *BebopFlow) wait(ctx context.Context, keys []string, uid string) Result {
	r := Result{Tokens: keys, UID: uid}
	r.Status, r.Err = WaitForTerminal(ctx, b.Solver, uid, b.Poll, b.Logger)
	if r.Err != nil && !errors.Is(r.Err, ErrPollTimeout) {
		return r
	}

	b.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.SetStatus(q, "", r.Status)
	})
	b.recordStatus(uid, r.Status)
	if r.Status.IsSuccess() {
		b.setAll(keys, StepExecution, types.StepValid)
	} else {
		b.setAll(keys, StepExecution, types.StepInvalid)
	}

	b.notify(ctx, b.summaries(r))
	return r
}

func (b *BebopFlow) summaries(r Result) []notify.OrderSummary {
	bq, err := quote.AssertBebop(b.Session.Quote())
	if err != nil {
		return nil
	}
	s := notify.OrderSummary{UID: r.UID, Status: r.Status}
	for _, key := range r.Tokens {
		if t, ok := bq.SellTokens[key]; ok {
			s.Sold = append(s.Sold, t)
		}
	}
	out := b.Session.Output()
	if t, ok := bq.BuyTokens[out.Key()]; ok {
		s.Received = t
	} else {
		s.Received = out.Zero()
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return []notify.OrderSummary{s}
}

// RunSafeBatch exists so that both flows can be driven the same way. Bebop
// has no Safe path.
func (b *BebopFlow) RunSafeBatch(context.Context) (string, []Result, error) {
	if !b.Wallet.IsSafe() {
		return "", nil, ErrNotSafe
	}
	return "", nil, b.refuseSafe()
}
