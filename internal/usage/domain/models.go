// Package domain contains the per-identity usage counters and quota decision types.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UsageRecord tracks free-tier consumption per phone number for one calendar
// month. Created lazily on first contact, reset on period rollover, never
// deleted.
type UsageRecord struct {
	PhoneNumber  string `gorm:"primaryKey;type:text"`
	PeriodKey    string `gorm:"type:text;not null"`
	MessagesSent int    `gorm:"not null;default:0"`
	NudgesSent   int    `gorm:"not null;default:0"`

	UserID      *string `gorm:"type:text;index"`
	AnonymousID *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UsageRecord) TableName() string { return "sms_usage" }

// PeriodKeyFor returns the YYYY-MM accounting window for t. Periods are
// always computed in UTC.
func PeriodKeyFor(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// NextPeriodStart returns the first instant of the period following key.
func NextPeriodStart(key string) (time.Time, error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("malformed period key %q", key)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed period key %q", key)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("malformed period key %q", key)
	}

	if month == 12 {
		return time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC), nil
}
