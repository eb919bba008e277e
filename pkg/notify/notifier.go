// Package notify sends a short summary of finished dumps to chat channels.
// Delivery is best effort: failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"token-dump/pkg/types"
)

// Sender is implemented by every notification channel
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to all senders
type Notifier struct {
	senders []Sender
	logger  *logrus.Logger
}

func NewNotifier(logger *logrus.Logger, senders ...Sender) *Notifier {
	return &Notifier{senders: senders, logger: logger}
}

// Enabled reports whether any sender is configured
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers to every sender. One sender failing does not stop the rest.
func (n *Notifier) Notify(ctx context.Context, title, message string) {
	if !n.Enabled() {
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WithFields(logrus.Fields{
				"sender": s.Name(),
				"error":  err,
			}).Warn("notification failed")
			continue
		}
		n.logger.WithField("sender", s.Name()).Debug("notification sent")
	}
}

// OrderSummary is one finished order of a dump
type OrderSummary struct {
	Sold     []types.TokenWithAmount
	Received types.TokenWithAmount
	UID      string
	Status   types.OrderStatus
	Error    string
}

// FormatSummary renders the outcome of a dump as a title and message body
func FormatSummary(solver types.SolverType, orders []OrderSummary) (string, string) {
	succeeded := 0
	for _, o := range orders {
		if o.Status.IsSuccess() {
			succeeded++
		}
	}
	title := fmt.Sprintf("Token dump via %s: %d/%d orders settled", solver, succeeded, len(orders))

	var b strings.Builder
	for _, o := range orders {
		sold := make([]string, 0, len(o.Sold))
		for _, s := range o.Sold {
			sold = append(sold, s.Amount.String()+" "+s.Symbol)
		}
		fmt.Fprintf(&b, "%s -> %s %s [%s]", strings.Join(sold, " + "), o.Received.Amount.String(), o.Received.Symbol, o.Status)
		if o.Error != "" {
			fmt.Fprintf(&b, " %s", o.Error)
		}
		if o.UID != "" {
			fmt.Fprintf(&b, "\n  %s", o.UID)
		}
		b.WriteString("\n")
	}
	return title, strings.TrimRight(b.String(), "\n")
}
