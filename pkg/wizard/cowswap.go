package wizard

import (
	"context"
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"token-dump/pkg/notify"
	"token-dump/pkg/quote"
	"token-dump/pkg/safe"
	"token-dump/pkg/solver"
	"token-dump/pkg/solver/cowswap"
	"token-dump/pkg/types"
)

// CowswapFlow runs the per-token steps for Cowswap orders. Tokens are
// processed one after another; a failing token never stops the others.
type CowswapFlow struct {
	flow
}

func NewCowswapFlow(d Deps) *CowswapFlow {
	return &CowswapFlow{flow: newFlow(d)}
}

func (c *CowswapFlow) order(key string) (quote.CowswapOrder, bool) {
	cq, err := quote.AssertCowswap(c.Session.Quote())
	if err != nil {
		return quote.CowswapOrder{}, false
	}
	o, ok := cq.Orders[key]
	return o, ok && o.Params.SellAmount != nil
}

// Approve makes sure the vault relayer may pull every selected token
func (c *CowswapFlow) Approve(ctx context.Context) error {
	for _, token := range c.Session.Selected() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := token.Key()
		if _, ok := c.order(key); !ok {
			c.log(key).Warn("no quote to approve for")
			continue
		}
		amount := quote.SellAmount(c.Session.Quote(), key).Raw
		c.approve(ctx, token, c.Solver.Spender(c.Session.Quote()), amount)
	}
	return nil
}

// Sign signs every approved order
func (c *CowswapFlow) Sign(ctx context.Context) error {
	for _, key := range c.Session.SelectedKeys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := c.log(key)

		if c.Board.Get(key, StepApproval) != types.StepValid {
			log.Debug("skipping signature, approval not done")
			continue
		}
		if c.Board.Get(key, StepSignature) == types.StepValid {
			continue
		}
		if _, ok := c.order(key); !ok {
			log.Warn("no quote to sign")
			continue
		}

		c.Board.Set(key, StepSignature, types.StepPending)
		sig, err := c.Solver.Sign(ctx, c.Session.Quote(), key, c.Wallet)
		if err != nil {
			log.WithField("error", err).Warn("signature failed")
			c.Board.Set(key, StepSignature, types.StepInvalid)
			continue
		}
		c.Session.Update(func(q quote.Quote) quote.Quote {
			return quote.AssignSignature(q, key, sig.Value, sig.Scheme)
		})
		c.Board.Set(key, StepSignature, types.StepValid)
	}
	return nil
}

// Execute submits every signed order, then waits for all of them to settle
func (c *CowswapFlow) Execute(ctx context.Context) ([]Result, error) {
	var submitted []Result

	for _, key := range c.Session.SelectedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := c.log(key)

		if c.Board.Get(key, StepSignature) != types.StepValid {
			log.Debug("skipping execution, not signed")
			continue
		}
		if e, ok := quote.Entry(c.Session.Quote(), key); ok && alreadySent(e) {
			log.WithField("uid", e.OrderUID).Debug("order already sent")
			continue
		}

		c.Board.Set(key, StepExecution, types.StepPending)
		uid, err := c.Solver.Execute(ctx, c.Session.Quote(), key)
		if err != nil {
			c.fail(key, "", err)
			continue
		}
		log.WithField("uid", uid).Info("order placed")
		c.Session.Update(func(q quote.Quote) quote.Quote {
			return quote.SetPending(q, key, uid)
		})
		c.record(uid, []string{key})
		submitted = append(submitted, Result{Tokens: []string{key}, UID: uid})
	}

	return c.wait(ctx, submitted), nil
}

// fail marks the execution of key invalid. An allowance error restarts
// approval and signature for the token.
func (c *CowswapFlow) fail(key, uid string, err error) {
	c.log(key).WithField("error", err).Warn("execution failed")
	c.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.SetInvalid(q, key, uid, err.Error())
	})
	c.Board.Set(key, StepExecution, types.StepInvalid)
	if errors.Is(err, solver.ErrInsufficientAllowance) {
		c.Board.Rollback(key)
	}
}

// wait polls the submitted orders concurrently and records their outcome
func (c *CowswapFlow) wait(ctx context.Context, submitted []Result) []Result {
	var wg sync.WaitGroup
	for i := range submitted {
		wg.Add(1)
		go func(r *Result) {
			defer wg.Done()
			key := r.Tokens[0]

			r.Status, r.Err = WaitForTerminal(ctx, c.Solver, r.UID, c.Poll, c.Logger)
			if r.Err != nil && !errors.Is(r.Err, ErrPollTimeout) {
				return
			}
			c.Session.Update(func(q quote.Quote) quote.Quote {
				return quote.SetStatus(q, key, r.Status)
			})
			c.recordStatus(r.UID, r.Status)
			if r.Status.IsSuccess() {
				c.Board.Set(key, StepExecution, types.StepValid)
			} else {
				c.Board.Set(key, StepExecution, types.StepInvalid)
			}
		}(&submitted[i])
	}
	wg.Wait()

	c.notify(ctx, c.summaries(submitted))
	return submitted
}

func (c *CowswapFlow) summaries(results []Result) []notify.OrderSummary {
	q := c.Session.Quote()
	out := make([]notify.OrderSummary, 0, len(results))
	for _, r := range results {
		if r.Status == "" || !r.Status.IsTerminal() {
			continue
		}
		key := r.Tokens[0]
		o, _ := c.order(key)
		s := notify.OrderSummary{
			Sold:     []types.TokenWithAmount{o.SellToken.Token.WithAmount(quote.SellAmount(q, key))},
			Received: o.BuyToken.Token.WithAmount(quote.BuyAmount(q, key)),
			UID:      r.UID,
			Status:   r.Status,
		}
		if r.Err != nil {
			s.Error = r.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

// BuildSafeBatch places a presign order for every selected token and
// queues its approval and setPreSignature calls. Orders already in the
// batch are left as they are, so calling it twice queues nothing new.
func (c *CowswapFlow) BuildSafeBatch(ctx context.Context) (*safe.Batch, error) {
	if !c.Wallet.IsSafe() {
		return nil, ErrNotSafe
	}

	for _, token := range c.Session.Selected() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := token.Key()
		log := c.log(key)

		if e, ok := quote.Entry(c.Session.Quote(), key); ok && e.OrderUID != "" && c.batch.Has(e.OrderUID) {
			continue
		}
		if e, ok := quote.Entry(c.Session.Quote(), key); ok && alreadySent(e) {
			continue
		}
		o, ok := c.order(key)
		if !ok {
			log.Warn("no quote to batch")
			continue
		}

		if err := c.queueOrder(ctx, token, o); err != nil {
			log.WithField("error", err).Warn("failed to batch order")
			c.Board.Set(key, StepSignature, types.StepInvalid)
			continue
		}
	}
	return c.batch, nil
}

func (c *CowswapFlow) queueOrder(ctx context.Context, token types.Token, o quote.CowswapOrder) error {
	key := token.Key()

	c.Board.Set(key, StepApproval, types.StepPending)
	c.Board.Set(key, StepSignature, types.StepPending)

	sig, err := c.Solver.Sign(ctx, c.Session.Quote(), key, c.Wallet)
	if err != nil {
		return err
	}
	c.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.AssignSignature(q, key, sig.Value, sig.Scheme)
	})

	uid, err := c.Solver.Execute(ctx, c.Session.Quote(), key)
	if err != nil {
		return err
	}
	c.Session.Update(func(q quote.Quote) quote.Quote {
		return quote.SetPending(q, key, uid)
	})

	var calls []safe.MetaTx
	approveTx, err := c.approveCall(ctx, token, c.Solver.Spender(c.Session.Quote()), quote.SellAmount(c.Session.Quote(), key).Raw)
	if err != nil {
		return err
	}
	if approveTx != nil {
		calls = append(calls, *approveTx)
	}
	presign, err := cowswap.PreSignatureCall(uid)
	if err != nil {
		return err
	}
	calls = append(calls, safe.MetaTx{To: cowswap.SettlementAddress, Value: new(big.Int), Data: presign})

	c.batch.Add(uid, calls...)
	c.record(uid, []string{key})
	return nil
}

// RunSafeBatch builds the batch, proposes it to the Safe and waits for the
// orders to settle once the owners execute it
func (c *CowswapFlow) RunSafeBatch(ctx context.Context) (string, []Result, error) {
	proposer, err := c.proposer()
	if err != nil {
		return "", nil, err
	}
	batch, err := c.BuildSafeBatch(ctx)
	if err != nil {
		return "", nil, err
	}
	ids := batch.IDs()
	if len(ids) == 0 {
		return "", nil, errors.New("nothing to batch")
	}

	safeTx, err := proposer.Propose(ctx, batch)
	if err != nil {
		for _, key := range c.keysFor(ids) {
			if key == "" {
				continue
			}
			c.Board.Set(key, StepApproval, types.StepInvalid)
			c.Board.Set(key, StepSignature, types.StepInvalid)
		}
		return "", nil, errors.Wrap(err, "failed to propose safe transaction")
	}
	batch.Reset()

	var submitted []Result
	for i, key := range c.keysFor(ids) {
		if key == "" {
			continue
		}
		c.Board.Set(key, StepApproval, types.StepValid)
		c.Board.Set(key, StepSignature, types.StepValid)
		c.Board.Set(key, StepExecution, types.StepPending)
		submitted = append(submitted, Result{Tokens: []string{key}, UID: ids[i]})
	}

	return safeTx, c.wait(ctx, submitted), nil
}

// keysFor maps order UIDs back to token keys, in the same order
func (c *CowswapFlow) keysFor(uids []string) []string {
	byUID := make(map[string]string)
	for _, key := range c.Session.SelectedKeys() {
		if e, ok := quote.Entry(c.Session.Quote(), key); ok && e.OrderUID != "" {
			byUID[e.OrderUID] = key
		}
	}
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		out = append(out, byUID[uid])
	}
	return out
}
