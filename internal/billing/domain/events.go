// Package domain defines the billing provider event model and the service
// contracts for reconciling subscription state.
package domain

import "errors"

const (
	EventTypeCheckoutCompleted   = "checkout_completed"
	EventTypeSubscriptionUpdated = "subscription_updated"
	EventTypeSubscriptionDeleted = "subscription_deleted"
	EventTypePaymentSucceeded    = "payment_succeeded"
	EventTypePaymentFailed       = "payment_failed"
)

// Event is one normalized billing provider notification. CustomerID is the
// provider customer identifier and is always present; the remaining fields
// depend on Type.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string

	CustomerID     string
	SubscriptionID string

	// UserID is carried only on checkout completion, from the client
	// reference passed when the checkout session was created.
	UserID string

	// Snapshot is populated for subscription_updated events, where the
	// provider ships the full subscription object in the payload.
	Snapshot *SubscriptionSnapshot
}

// SubscriptionSnapshot is the subset of a provider subscription object the
// reconciler acts on.
type SubscriptionSnapshot struct {
	ID                string
	Status            string
	Interval          string
	CurrentPeriodEnd  *int64
	CancelAtPeriodEnd bool
	CancelAt          *int64
}

// Plan maps the provider billing interval onto a plan name.
func (s SubscriptionSnapshot) Plan() string {
	if s.Interval == "year" {
		return "annual"
	}
	return "monthly"
}

// Canceling reports whether the subscription is scheduled to end, either at
// the period boundary or at an explicit cancel timestamp.
func (s SubscriptionSnapshot) Canceling() bool {
	return s.CancelAtPeriodEnd || s.CancelAt != nil
}

// Active reports whether the subscription status still entitles the customer.
func (s SubscriptionSnapshot) Active() bool {
	return s.Status == "active" || s.Status == "trialing"
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)
