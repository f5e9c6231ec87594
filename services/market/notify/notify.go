package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"worklayer/services/market/models"
)

// Notifier delivers user-facing notifications about order activity.
// Delivery is strictly post-commit and best-effort: a failed notification
// never rolls back the transition it describes.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, eventType string, orderID uuid.UUID, message string)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, uuid.UUID, string, uuid.UUID, string) {}

// Log writes notifications to the structured log. It stands in for a real
// delivery channel in deployments that have none configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, userID uuid.UUID, eventType string, orderID uuid.UUID, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "order notification",
		"user_id", userID.String(),
		"event", eventType,
		"order_id", orderID.String(),
		"message", message,
	)
}

// Event types attached to outgoing notifications.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderStarted   = "order.started"
	EventOrderDelivered = "order.delivered"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
	EventOrderDisputed  = "order.disputed"
	EventOrderRefunded  = "order.refunded"
)

// StatusEvent maps a destination order status to the notification event type
// describing it. Unknown statuses map to the empty string and are skipped by
// callers.
func StatusEvent(status models.OrderStatus) string {
	switch status {
	case models.OrderConfirmed:
		return EventOrderConfirmed
	case models.OrderInProgress:
		return EventOrderStarted
	case models.OrderDelivered:
		return EventOrderDelivered
	case models.OrderCompleted:
		return EventOrderCompleted
	case models.OrderCancelled:
		return EventOrderCancelled
	case models.OrderDisputed:
		return EventOrderDisputed
	case models.OrderRefunded:
		return EventOrderRefunded
	default:
		return ""
	}
}

// StatusMessages renders the human-readable bodies for a status change, one
// per side of the order: the buyer and the provider see the same event from
// opposite ends of the engagement, so each gets its own text.
func StatusMessages(orderNumber string, status models.OrderStatus) (buyer, provider string) {
	switch status {
	case models.OrderConfirmed:
		return "Your payment for order " + orderNumber + " has been secured in escrow.",
			"Payment for order " + orderNumber + " is in escrow. You can start work."
	case models.OrderInProgress:
		return "Work on order " + orderNumber + " has started.",
			"You marked order " + orderNumber + " as in progress."
	case models.OrderDelivered:
		return "Order " + orderNumber + " has been delivered and is awaiting your review.",
			"Your delivery for order " + orderNumber + " has been submitted for review."
	case models.OrderCompleted:
		return "Order " + orderNumber + " is complete.",
			"Order " + orderNumber + " is complete. The escrow payout is on its way."
	case models.OrderCancelled:
		return "Order " + orderNumber + " has been cancelled.",
			"Order " + orderNumber + " has been cancelled. No payout will be made."
	case models.OrderDisputed:
		return "Order " + orderNumber + " is under dispute. The escrow is frozen until resolution.",
			"Order " + orderNumber + " is under dispute. The payout is frozen until resolution."
	case models.OrderRefunded:
		return "Order " + orderNumber + " has been refunded to you.",
			"Order " + orderNumber + " was resolved with a refund to the buyer."
	default:
		return "Order " + orderNumber + " status changed.",
			"Order " + orderNumber + " status changed."
	}
}
