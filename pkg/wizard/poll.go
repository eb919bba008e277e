package wizard

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/types"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 50 * time.Minute
)

// ErrPollTimeout is returned when an order did not settle before the deadline
var ErrPollTimeout = errors.New("order did not settle in time")

// StatusPoller reports the settlement status of submitted orders
type StatusPoller interface {
	Type() types.SolverType
	PollStatus(ctx context.Context, orderUID string) (types.OrderStatus, error)
}

// PollConfig bounds WaitForTerminal
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	return c
}

// timeoutStatus is what an order that never settled is reported as
func timeoutStatus(s types.SolverType) types.OrderStatus {
	if s == types.SolverBebop {
		return types.OrderBebopFailed
	}
	return types.OrderCowswapExpired
}

// WaitForTerminal polls uid until it reaches a terminal status. Poll errors
// are logged and retried on the next tick. When the deadline passes the
// order is reported as expired (Cowswap) or failed (Bebop) together with
// ErrPollTimeout; cancelling ctx returns ctx.Err().
func WaitForTerminal(ctx context.Context, poller StatusPoller, uid string, cfg PollConfig, logger *logrus.Logger) (types.OrderStatus, error) {
	cfg = cfg.withDefaults()

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log := logger.WithFields(logrus.Fields{"solver": poller.Type(), "uid": uid})

	for {
		status, err := poller.PollStatus(ctx, uid)
		switch {
		case err != nil && ctx.Err() != nil:
			return types.OrderPending, ctx.Err()
		case err != nil:
			log.WithField("error", err).Debug("status poll failed")
		case status.IsTerminal():
			log.WithField("status", status).Info("order settled")
			return status, nil
		}

		select {
		case <-ctx.Done():
			return types.OrderPending, ctx.Err()
		case <-deadline.C:
			log.Warn("gave up waiting for order")
			return timeoutStatus(poller.Type()), ErrPollTimeout
		case <-ticker.C:
		}
	}
}
