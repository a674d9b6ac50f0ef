package outbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// DeliveryEventType is a provider callback about one recipient.
type DeliveryEventType string

const (
	EventDelivered    DeliveryEventType = "delivered"
	EventBounce       DeliveryEventType = "bounce"
	EventUnsubscribe  DeliveryEventType = "unsubscribe"
	EventSpamReported DeliveryEventType = "spam"
)

// FlagWriter owns the customer contact flags.
type FlagWriter interface {
	GetCustomer(ctx context.Context, code string) (*schema.Customer, error)
	SetContactFlags(ctx context.Context, code string, bounced, optedOut, contactable bool) error
}

// DeliveryHandler maps provider events onto contact flags. A bounce
// marks the customer bounced; an unsubscribe or spam report marks them
// opted out; either clears contactable.
type DeliveryHandler struct {
	customers FlagWriter
	log       *slog.Logger
}

func NewDeliveryHandler(customers FlagWriter) *DeliveryHandler {
	return &DeliveryHandler{
		customers: customers,
		log:       slog.Default().With("component", "outbound.delivery"),
	}
}

// Apply updates one customer's flags for one event. Delivered events
// change nothing.
func (h *DeliveryHandler) Apply(ctx context.Context, customerCode string, event DeliveryEventType) error {
	if event == EventDelivered {
		return nil
	}

	c, err := h.customers.GetCustomer(ctx, customerCode)
	if err != nil {
		return fmt.Errorf("outbound: delivery event for %s: %w", customerCode, err)
	}

	bounced, optedOut := c.Bounced, c.OptedOut
	switch event {
	case EventBounce:
		bounced = true
	case EventUnsubscribe, EventSpamReported:
		optedOut = true
	default:
		return fmt.Errorf("outbound: unknown delivery event %q", event)
	}

	contactable := !bounced && !optedOut
	if err := h.customers.SetContactFlags(ctx, customerCode, bounced, optedOut, contactable); err != nil {
		return err
	}
	h.log.InfoContext(ctx, "contact flags updated",
		"customer_code", customerCode, "event", string(event),
		"bounced", bounced, "optout", optedOut)
	return nil
}
