// Package domain contains the per-user entitlement record.
package domain

import (
	"errors"
	"time"
)

const (
	PlanFree    = "free"
	PlanMonthly = "monthly"
	PlanAnnual  = "annual"
)

// UnlimitedCap is the persisted sentinel for unrestricted access. It is a
// storage detail: callers must go through EffectiveCap and never compare
// against it directly.
const UnlimitedCap = -1

// User is the authoritative entitlement record, keyed by user id and mutated
// by the subscription reconciler and the opt-out flow.
type User struct {
	UserID      string  `gorm:"primaryKey;type:text"`
	PhoneNumber *string `gorm:"uniqueIndex;type:text"`
	Email       *string `gorm:"type:text"`

	IsSubscribed         bool
	Plan                 string `gorm:"type:text;default:free"`
	MonthlyCap           *int
	SubscriptionStatus   string  `gorm:"type:text"`
	StripeCustomerID     *string `gorm:"uniqueIndex;type:text"`
	StripeSubscriptionID *string `gorm:"type:text"`

	// CurrentPeriodEnd is present only while a paid billing cycle is active.
	// It must be cleared to NULL, never zeroed, when the subscription ends.
	CurrentPeriodEnd  *int64
	CancelAtPeriodEnd bool

	OptedOut   bool
	OptedOutAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

// EffectiveCap resolves the bounded limit for quota evaluation. A subscribed
// user or a persisted unlimited sentinel both mean unrestricted access; in
// that case the returned cap is meaningless and must not be used.
func (u *User) EffectiveCap(defaultLimit int) (unlimited bool, cap int) {
	if u.IsSubscribed {
		return true, 0
	}
	if u.MonthlyCap == nil {
		return false, defaultLimit
	}
	if *u.MonthlyCap == UnlimitedCap {
		return true, 0
	}
	return false, *u.MonthlyCap
}

var ErrNotFound = errors.New("user_not_found")
