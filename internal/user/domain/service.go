package domain

import "context"

// SubscriptionCanceler force-cancels a subscription at the payment processor.
// Implemented by the billing client; declared here so opt-out does not depend
// on the billing package.
type SubscriptionCanceler interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Service covers entitlement mutations initiated by the sender rather than
// the payment processor.
type Service interface {
	// OptOut marks the user behind the phone number as opted out and
	// force-cancels any active external subscription so they are not billed
	// for service they no longer receive.
	OptOut(ctx context.Context, phone string) error
}
