package domain

import (
	"context"
	"errors"

	userdomain "github.com/versiful/versiful/internal/user/domain"
)

const (
	ReasonUnlimited     = "unlimited"
	ReasonWithinCap     = "within_cap"
	ReasonQuotaExceeded = "quota_exceeded"
)

// Decision is the outcome of evaluating one inbound unit of service.
type Decision struct {
	Allowed bool
	Reason  string

	// Limit is nil for unlimited access, otherwise the effective cap the
	// request was evaluated against.
	Limit     *int
	PeriodKey string

	Usage UsageRecord
	User  *userdomain.User
}

type Service interface {
	// Evaluate decides whether the identity may consume one unit of service
	// now and, when bounded, consumes it atomically.
	Evaluate(ctx context.Context, phone string) (Decision, error)

	// ShouldNudge reports whether a quota-exceeded notification may still be
	// sent this period, consuming one nudge slot when it may.
	ShouldNudge(ctx context.Context, phone string) (bool, error)
}

// ErrStoreUnavailable means evaluation could not complete after bounded
// retries. Callers must fail closed: deny, log, stay silent.
var ErrStoreUnavailable = errors.New("usage_store_unavailable")
