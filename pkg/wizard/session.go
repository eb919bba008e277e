// Package wizard drives a dump from token selection to settlement: it owns
// the session state, keeps quotes fresh and runs the approve, sign and
// execute steps for each solver.
package wizard

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

// Session is the single owner of the state of one dump. Every quote change
// goes through Update, which swaps in the new value returned by a pure
// quote function.
type Session struct {
	mu       sync.RWMutex
	id       string
	solver   types.SolverType
	from     common.Address
	receiver common.Address
	output   types.Token
	order    []string
	selected map[string]types.Token
	amounts  map[string]*big.Int
	quote    quote.Quote
	errors   map[string]*solver.QuoteError
	onReset  []func()
	onDrop   []func(key string)
}

func NewSession(solverType types.SolverType, from common.Address) *Session {
	s := &Session{solver: solverType, from: from}
	s.clearLocked()
	return s
}

func (s *Session) clearLocked() {
	s.id = uuid.NewString()
	s.receiver = common.Address{}
	s.output = types.Token{}
	s.order = nil
	s.selected = make(map[string]types.Token)
	s.amounts = make(map[string]*big.Int)
	s.quote = nil
	s.errors = make(map[string]*solver.QuoteError)
}

// ID changes on every Reset
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Solver() types.SolverType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.solver
}

func (s *Session) From() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.from
}

// Receiver defaults to the sender
func (s *Session) Receiver() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.receiver == (common.Address{}) {
		return s.from
	}
	return s.receiver
}

func (s *Session) SetReceiver(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = addr
}

func (s *Session) Output() types.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.output
}

// SetOutput changes the destination token. Quotes for another output are
// worthless, so they are dropped.
func (s *Session) SetOutput(token types.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output.SameAs(token) {
		return
	}
	s.output = token
	s.quote = nil
	s.errors = make(map[string]*solver.QuoteError)
}

// Select adds a token to sell with the given raw amount
func (s *Session) Select(token types.Token, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.output.Address != (common.Address{}) && token.SameAs(s.output) {
		return fmt.Errorf("%s is the destination token", token.Symbol)
	}
	key := token.Key()
	if _, ok := s.selected[key]; !ok {
		s.order = append(s.order, key)
	}
	s.selected[key] = token
	s.amounts[key] = new(big.Int).Set(amount)
	return nil
}

// Deselect removes the token and its quote
func (s *Session) Deselect(key string) {
	s.mu.Lock()
	if _, ok := s.selected[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.selected, key)
	delete(s.amounts, key)
	delete(s.errors, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	if s.quote != nil {
		s.quote = quote.Delete(s.quote, key)
	}
	callbacks := append([]func(string){}, s.onDrop...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(key)
	}
}

func (s *Session) IsSelected(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[key]
	return ok
}

// Selected returns the tokens in selection order
func (s *Session) Selected() []types.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Token, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.selected[k])
	}
	return out
}

// SelectedKeys returns the token keys in selection order
func (s *Session) SelectedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// SetAmount changes the amount of a selected token
func (s *Session) SetAmount(key string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[key]; !ok {
		return fmt.Errorf("token %s is not selected", key)
	}
	s.amounts[key] = new(big.Int).Set(amount)
	return nil
}

func (s *Session) Amount(key string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.amounts[key]; ok {
		return new(big.Int).Set(a)
	}
	return nil
}

// Quote returns the current quote state
func (s *Session) Quote() quote.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

// Update replaces the quote with fn(current) and returns the result
func (s *Session) Update(fn func(quote.Quote) quote.Quote) quote.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = fn(s.quote)
	return s.quote
}

func (s *Session) SetQuoteError(key string, err *solver.QuoteError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errors, key)
		return
	}
	s.errors[key] = err
}

func (s *Session) QuoteError(key string) *solver.QuoteError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[key]
}

// Request builds the quote request for the given keys, or every selected
// token when none are given
func (s *Session) Request(keys ...string) (types.RequestArgs, error) {
	s.mu.RLock()
	if len(keys) == 0 {
		keys = append([]string(nil), s.order...)
	}
	selection := make([]types.Token, 0, len(keys))
	for _, k := range keys {
		if t, ok := s.selected[k]; ok {
			selection = append(selection, t)
		}
	}
	amounts := make(map[string]*big.Int, len(s.amounts))
	for k, v := range s.amounts {
		amounts[k] = v
	}
	from, receiver, output := s.from, s.receiver, s.output
	s.mu.RUnlock()

	return BuildRequest(from, receiver, selection, amounts, output)
}

// OnReset registers fn to run after every Reset
func (s *Session) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = append(s.onReset, fn)
}

// OnDeselect registers fn to run after a token is deselected
func (s *Session) OnDeselect(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = append(s.onDrop, fn)
}

// Reset starts a new session for the same wallet and solver
func (s *Session) Reset() {
	s.mu.Lock()
	s.clearLocked()
	callbacks := append([]func(){}, s.onReset...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// BuildRequest assembles a validated quote request from the selection
func BuildRequest(from, receiver common.Address, selection []types.Token, amounts map[string]*big.Int, output types.Token) (types.RequestArgs, error) {
	if receiver == (common.Address{}) {
		receiver = from
	}

	args := types.RequestArgs{
		From:         from,
		Receiver:     receiver,
		OutputToken:  output,
		InputTokens:  make([]types.Token, 0, len(selection)),
		InputAmounts: make([]*big.Int, 0, len(selection)),
	}
	for _, t := range selection {
		amount, ok := amounts[t.Key()]
		if !ok || amount == nil {
			return types.RequestArgs{}, fmt.Errorf("no amount set for %s", t.Symbol)
		}
		args.InputTokens = append(args.InputTokens, t)
		args.InputAmounts = append(args.InputAmounts, new(big.Int).Set(amount))
	}

	if err := args.Validate(); err != nil {
		return types.RequestArgs{}, err
	}
	return args, nil
}
