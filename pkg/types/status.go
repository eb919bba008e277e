package types

// SolverType identifies the aggregator a quote came from
type SolverType string

const (
	SolverCowswap SolverType = "COWSWAP"
	SolverBebop   SolverType = "BEBOP"
)

// ParseSolverType accepts the CLI spellings of a solver
func ParseSolverType(s string) (SolverType, bool) {
	switch s {
	case "cowswap", "cow", "COWSWAP":
		return SolverCowswap, true
	case "bebop", "jam", "BEBOP":
		return SolverBebop, true
	default:
		return "", false
	}
}

// OrderStatus tracks settlement of a submitted order
type OrderStatus string

const (
	OrderNotStarted       OrderStatus = "NOT_STARTED"
	OrderPending          OrderStatus = "PENDING"
	OrderInvalid          OrderStatus = "INVALID"
	OrderCowswapFulfilled OrderStatus = "COWSWAP_FULFILLED"
	OrderCowswapCancelled OrderStatus = "COWSWAP_CANCELLED"
	OrderCowswapExpired   OrderStatus = "COWSWAP_EXPIRED"
	OrderBebopConfirmed   OrderStatus = "BEBOP_CONFIRMED"
	OrderBebopFailed      OrderStatus = "BEBOP_FAILED"
)

// IsTerminal returns true once the order can no longer change
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderNotStarted, OrderPending, "":
		return false
	default:
		return true
	}
}

// IsSuccess returns true for fulfilled/confirmed orders
func (s OrderStatus) IsSuccess() bool {
	return s == OrderCowswapFulfilled || s == OrderBebopConfirmed
}

// StepStatus is the per-token progress of one wizard step
type StepStatus string

const (
	StepUndetermined StepStatus = "UNDETERMINED"
	StepPending      StepStatus = "PENDING"
	StepValid        StepStatus = "VALID"
	StepInvalid      StepStatus = "INVALID"
)
