package wizard

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/erc20"
	"token-dump/pkg/notify"
	"token-dump/pkg/quote"
	"token-dump/pkg/safe"
	"token-dump/pkg/settings"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

// ErrNotSafe is returned when a Safe-only step runs on a plain account
var ErrNotSafe = errors.New("wallet is not a safe")

// Wallet is the connected account
type Wallet interface {
	solver.TypedDataSigner
	Caller() ethereum.ContractCaller
}

// Transactor sends transactions from a plain account
type Transactor interface {
	SendTransaction(ctx context.Context, to common.Address, data []byte) (*ethtypes.Transaction, error)
	WaitMined(ctx context.Context, tx *ethtypes.Transaction) error
}

// SafeProposer submits a batch as one Safe transaction
type SafeProposer interface {
	Propose(ctx context.Context, batch *safe.Batch) (string, error)
}

// OrderRecorder keeps the history of submitted orders
type OrderRecorder interface {
	RecordOrder(rec settings.OrderRecord) error
	UpdateOrderStatus(uid string, status types.OrderStatus) error
}

// Deps are the collaborators of a flow
type Deps struct {
	Session  *Session
	Solver   solver.Solver
	Wallet   Wallet
	Board    *StatusBoard
	Poll     PollConfig
	Recorder OrderRecorder
	Notifier *notify.Notifier
	Logger   *logrus.Logger
}

// flow holds what the Cowswap and Bebop flows share
type flow struct {
	Deps
	batch *safe.Batch
}

func newFlow(d Deps) flow {
	if d.Board == nil {
		d.Board = NewStatusBoard()
	}
	f := flow{Deps: d, batch: safe.NewBatch()}
	d.Session.OnReset(func() {
		f.Board.Clear()
		f.batch.Reset()
	})
	d.Session.OnDeselect(f.Board.Forget)
	return f
}

func (f *flow) transactor() (Transactor, error) {
	tx, ok := f.Wallet.(Transactor)
	if !ok {
		return nil, errors.New("wallet cannot send transactions directly")
	}
	return tx, nil
}

func (f *flow) proposer() (SafeProposer, error) {
	p, ok := f.Wallet.(SafeProposer)
	if !ok || !f.Wallet.IsSafe() {
		return nil, ErrNotSafe
	}
	return p, nil
}

// Batch exposes the pending Safe batch
func (f *flow) Batch() *safe.Batch {
	return f.batch
}

func (f *flow) log(key string) *logrus.Entry {
	return f.Logger.WithFields(logrus.Fields{
		"solver":  f.Solver.Type(),
		"token":   key,
		"session": f.Session.ID(),
	})
}

// needsApproval reads the allowance of spender and reports whether it
// covers amount
func (f *flow) needsApproval(ctx context.Context, token types.Token, spender common.Address, amount *big.Int) (bool, error) {
	allowance, err := erc20.Allowance(ctx, f.Wallet.Caller(), token.Address, f.Wallet.Address(), spender)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(amount) < 0, nil
}

// approve runs the approval step of one token on a plain account
func (f *flow) approve(ctx context.Context, token types.Token, spender common.Address, amount *big.Int) {
	key := token.Key()
	log := f.log(key)

	if f.Board.Get(key, StepApproval) == types.StepValid {
		return
	}

	needed, err := f.needsApproval(ctx, token, spender, amount)
	if err != nil {
		log.WithField("error", err).Warn("allowance check failed")
		f.Board.Set(key, StepApproval, types.StepInvalid)
		return
	}
	if !needed {
		f.Board.Set(key, StepApproval, types.StepValid)
		return
	}

	f.Board.Set(key, StepApproval, types.StepPending)

	err = func() error {
		sender, err := f.transactor()
		if err != nil {
			return err
		}
		data, err := erc20.PackApprove(spender, amount)
		if err != nil {
			return err
		}
		tx, err := sender.SendTransaction(ctx, token.Address, data)
		if err != nil {
			return err
		}
		log.WithField("tx", tx.Hash().Hex()).Info("approval sent")
		return sender.WaitMined(ctx, tx)
	}()
	if err != nil {
		log.WithField("error", err).Warn("approval failed")
		f.Board.Set(key, StepApproval, types.StepInvalid)
		return
	}
	f.Board.Set(key, StepApproval, types.StepValid)
}

// approveCall builds the approval call for a Safe batch, or nil when the
// allowance already covers amount
func (f *flow) approveCall(ctx context.Context, token types.Token, spender common.Address, amount *big.Int) (*safe.MetaTx, error) {
	needed, err := f.needsApproval(ctx, token, spender, amount)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	data, err := erc20.PackApprove(spender, amount)
	if err != nil {
		return nil, err
	}
	return &safe.MetaTx{To: token.Address, Value: new(big.Int), Data: data}, nil
}

// alreadySent is true for orders that must not be submitted again
func alreadySent(e quote.OrderEntry) bool {
	return e.OrderUID != "" && (e.OrderStatus == types.OrderPending || e.OrderStatus.IsSuccess())
}

func (f *flow) record(uid string, keys []string) {
	if f.Recorder == nil {
		return
	}
	out := f.Session.Output()
	err := f.Recorder.RecordOrder(settings.OrderRecord{
		UID:        uid,
		Solver:     f.Solver.Type(),
		SellTokens: keys,
		BuyToken:   out.Key(),
		Status:     types.OrderPending,
	})
	if err != nil {
		f.Logger.WithField("error", err).Warn("failed to record order")
	}
}

func (f *flow) recordStatus(uid string, status types.OrderStatus) {
	if f.Recorder == nil {
		return
	}
	if err := f.Recorder.UpdateOrderStatus(uid, status); err != nil {
		f.Logger.WithField("error", err).Warn("failed to update order status")
	}
}

func (f *flow) notify(ctx context.Context, orders []notify.OrderSummary) {
	if len(orders) == 0 || !f.Notifier.Enabled() {
		return
	}
	title, body := notify.FormatSummary(f.Solver.Type(), orders)
	f.Notifier.Notify(ctx, title, body)
}

// Result is the outcome of one submitted order
type Result struct {
	Tokens []string
	UID    string
	Status types.OrderStatus
	Err    error
}
