package domain

import (
	"context"
	"net/http"
)

// Adapter verifies and normalizes raw provider webhook payloads.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Client is the outbound provider API surface.
type Client interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Notifier delivers subscriber-facing notices triggered by billing state
// transitions. Delivery failures must not fail the reconciliation.
type Notifier interface {
	SubscriptionConfirmed(ctx context.Context, phone string, plan string) error
	SubscriptionCanceled(ctx context.Context, phone string) error
}

// Service applies a normalized provider event to local entitlement state.
type Service interface {
	Process(ctx context.Context, event *Event) error
}
