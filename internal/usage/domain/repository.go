package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLimitReached reports that the conditional consume or nudge write found
// its guard false. It is a normal deny, not a failure.
var ErrLimitReached = errors.New("limit_reached")

type Repository interface {
	// Get returns the record or ErrRecordMissing when the identity has never
	// been seen.
	Get(ctx context.Context, phone string) (*UsageRecord, error)

	// Ensure lazily creates the record for the current period without
	// touching counters, and backfills the linked user id when known.
	Ensure(ctx context.Context, phone string, userID *string, now time.Time) (*UsageRecord, error)

	// ResetPeriod zeroes both counters and advances the period key. Called
	// on the first request of a new calendar month.
	ResetPeriod(ctx context.Context, phone string, period string, now time.Time) (*UsageRecord, error)

	// ConsumeIfAllowed performs the single atomic conditional increment:
	// messages_sent is incremented only while messages_sent < limit and the
	// stored period matches. Returns ErrLimitReached when the guard fails.
	ConsumeIfAllowed(ctx context.Context, phone string, limit int, period string, now time.Time) (*UsageRecord, error)

	// IncrementNudge bumps the nudge counter while it is below limit.
	// Returns false without error when the throttle is exhausted.
	IncrementNudge(ctx context.Context, phone string, limit int, period string, now time.Time) (bool, error)
}

var ErrRecordMissing = errors.New("usage_record_missing")
