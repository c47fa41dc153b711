package repository

import (
	"context"
	"errors"
	"time"

	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	"github.com/versiful/versiful/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) usagedomain.Repository {
	return &repo{db: db}
}

func (r *repo) Get(ctx context.Context, phone string) (*usagedomain.UsageRecord, error) {
	var rec usagedomain.UsageRecord
	err := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, usagedomain.ErrRecordMissing
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repo) Ensure(ctx context.Context, phone string, userID *string, now time.Time) (*usagedomain.UsageRecord, error) {
	rec := usagedomain.UsageRecord{
		PhoneNumber: phone,
		PeriodKey:   usagedomain.PeriodKeyFor(now),
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// A duplicate key means a concurrent first contact already created the row.
	err := r.db.WithContext(ctx).Create(&rec).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	if userID != nil {
		// Backfill the linked user onto a pre-existing anonymous record.
		err = r.db.WithContext(ctx).Exec(
			`UPDATE sms_usage SET user_id = ?, updated_at = ? WHERE phone_number = ? AND user_id IS NULL`,
			*userID, now, phone,
		).Error
		if err != nil {
			return nil, err
		}
	}

	return r.Get(ctx, phone)
}

func (r *repo) ResetPeriod(ctx context.Context, phone string, period string, now time.Time) (*usagedomain.UsageRecord, error) {
	err := r.db.WithContext(ctx).Exec(
		`UPDATE sms_usage
		 SET period_key = ?,
		     messages_sent = 0,
		     nudges_sent = 0,
		     updated_at = ?
		 WHERE phone_number = ? AND period_key <> ?`,
		period, now, phone, period,
	).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, phone)
}

func (r *repo) ConsumeIfAllowed(ctx context.Context, phone string, limit int, period string, now time.Time) (*usagedomain.UsageRecord, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE sms_usage
		 SET messages_sent = messages_sent + 1,
		     updated_at = ?
		 WHERE phone_number = ? AND messages_sent < ? AND period_key = ?`,
		now, phone, limit, period,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, usagedomain.ErrLimitReached
	}
	return r.Get(ctx, phone)
}

func (r *repo) IncrementNudge(ctx context.Context, phone string, limit int, period string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE sms_usage
		 SET nudges_sent = nudges_sent + 1,
		     updated_at = ?
		 WHERE phone_number = ? AND nudges_sent < ? AND period_key = ?`,
		now, phone, limit, period,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
