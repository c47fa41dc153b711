package domain

import (
	"context"
	"time"
)

// SubscriptionPatch is a full-field overwrite of entitlement state derived
// from a single processor event. Applying the same patch twice yields the
// same record.
type SubscriptionPatch struct {
	IsSubscribed       bool
	Plan               string
	MonthlyCap         int
	SubscriptionStatus string
	CancelAtPeriodEnd  bool

	// CurrentPeriodEnd is written when non-nil. ClearCurrentPeriodEnd nulls
	// the column regardless; a stale period end reads as an active billing
	// cycle elsewhere.
	CurrentPeriodEnd      *int64
	ClearCurrentPeriodEnd bool

	// Attached on checkout only; left untouched when nil.
	StripeCustomerID     *string
	StripeSubscriptionID *string
}

type Repository interface {
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	ApplySubscription(ctx context.Context, userID string, patch SubscriptionPatch, now time.Time) error
	MarkOptedOut(ctx context.Context, userID string, now time.Time) error
}
