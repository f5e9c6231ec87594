package escrow

import (
	"encoding/hex"
	"strconv"

	"worklayer/core/types"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowDisputed = "escrow.disputed"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a new deposit.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewReleasedEvent returns the canonical event payload for a release of escrow
// funds to the provider.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewRefundedEvent returns the canonical event payload for an escrow refund to
// the buyer.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewDisputedEvent returns the canonical event payload emitted when an escrow
// is frozen by the buyer.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["provider"] = hex.EncodeToString(sanitized.Provider[:])
	attrs["orderRef"] = sanitized.OrderRef
	attrs["amount"] = sanitized.Amount.String()
	attrs["platformFee"] = sanitized.PlatformFee.String()
	attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	attrs["status"] = sanitized.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
