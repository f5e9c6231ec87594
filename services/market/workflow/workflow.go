package workflow

import (
	"errors"
	"fmt"

	"worklayer/services/market/models"
)

// ErrInvalidTransition is wrapped by every transition rejection so callers
// can test with errors.Is regardless of the states involved.
var ErrInvalidTransition = errors.New("invalid status transition")

var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:    {models.OrderConfirmed, models.OrderCancelled, models.OrderDisputed},
	models.OrderConfirmed:  {models.OrderInProgress, models.OrderCompleted, models.OrderCancelled, models.OrderDisputed},
	models.OrderInProgress: {models.OrderDelivered, models.OrderCompleted, models.OrderCancelled, models.OrderDisputed},
	models.OrderDelivered:  {models.OrderCompleted, models.OrderDisputed},
	models.OrderDisputed:   {models.OrderInProgress, models.OrderRefunded},
}

var quoteTransitions = map[models.QuoteStatus][]models.QuoteStatus{
	models.QuotePending:   {models.QuoteResponded, models.QuoteWithdrawn, models.QuoteExpired},
	models.QuoteResponded: {models.QuoteAccepted, models.QuoteRejected, models.QuoteWithdrawn, models.QuoteExpired},
}

// ValidateOrderTransition ensures the order transition follows the defined
// state machine. Self-transitions are rejected.
func ValidateOrderTransition(current, next models.OrderStatus) error {
	for _, state := range orderTransitions[current] {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: order %s to %s", ErrInvalidTransition, current, next)
}

// ValidateQuoteTransition ensures the quote transition follows the defined
// state machine.
func ValidateQuoteTransition(current, next models.QuoteStatus) error {
	for _, state := range quoteTransitions[current] {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: quote %s to %s", ErrInvalidTransition, current, next)
}

// OrderTerminal reports whether the order status admits no further
// transitions.
func OrderTerminal(status models.OrderStatus) bool {
	return len(orderTransitions[status]) == 0
}

// QuoteTerminal reports whether the quote status admits no further
// transitions.
func QuoteTerminal(status models.QuoteStatus) bool {
	return len(quoteTransitions[status]) == 0
}
