package wizard

import (
	"sync"

	"token-dump/pkg/types"
)

// Step is one phase of the per-token wizard
type Step string

const (
	StepApproval  Step = "approval"
	StepSignature Step = "signature"
	StepExecution Step = "execution"
)

var steps = []Step{StepApproval, StepSignature, StepExecution}

// Transition is reported to observers on every slot change
type Transition struct {
	Token string
	Step  Step
	From  types.StepStatus
	To    types.StepStatus
}

// StatusBoard tracks approval, signature and execution per token
type StatusBoard struct {
	mu        sync.Mutex
	slots     map[string]map[Step]types.StepStatus
	observers []func(Transition)
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{slots: make(map[string]map[Step]types.StepStatus)}
}

// Observe registers fn for every future transition. Observers run
// synchronously, in registration order, outside the board lock.
func (b *StatusBoard) Observe(fn func(Transition)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Get returns the status of a slot, UNDETERMINED when never set
func (b *StatusBoard) Get(token string, step Step) types.StepStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getLocked(token, step)
}

func (b *StatusBoard) getLocked(token string, step Step) types.StepStatus {
	if s, ok := b.slots[token][step]; ok {
		return s
	}
	return types.StepUndetermined
}

// Set moves a slot to status. Setting the current status is a no-op.
func (b *StatusBoard) Set(token string, step Step, status types.StepStatus) {
	b.mu.Lock()
	from := b.getLocked(token, step)
	if from == status {
		b.mu.Unlock()
		return
	}
	if b.slots[token] == nil {
		b.slots[token] = make(map[Step]types.StepStatus, len(steps))
	}
	b.slots[token][step] = status
	observers := append([]func(Transition){}, b.observers...)
	b.mu.Unlock()

	t := Transition{Token: token, Step: step, From: from, To: status}
	for _, fn := range observers {
		fn(t)
	}
}

// Rollback restarts the approval and signature steps of a token
func (b *StatusBoard) Rollback(token string) {
	b.Set(token, StepApproval, types.StepUndetermined)
	b.Set(token, StepSignature, types.StepUndetermined)
}

// Forget drops every slot of a token
func (b *StatusBoard) Forget(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, token)
}

// Clear drops every slot of every token
func (b *StatusBoard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = make(map[string]map[Step]types.StepStatus)
}

// Snapshot copies the board
func (b *StatusBoard) Snapshot() map[string]map[Step]types.StepStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]map[Step]types.StepStatus, len(b.slots))
	for token, slots := range b.slots {
		cp := make(map[Step]types.StepStatus, len(slots))
		for step, s := range slots {
			cp[step] = s
		}
		out[token] = cp
	}
	return out
}
