package repository

import (
	"context"
	"errors"
	"time"

	userdomain "github.com/versiful/versiful/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) userdomain.Repository {
	return &repo{db: db}
}

func (r *repo) GetByID(ctx context.Context, userID string) (*userdomain.User, error) {
	return r.getBy(ctx, "user_id = ?", userID)
}

func (r *repo) GetByStripeCustomerID(ctx context.Context, customerID string) (*userdomain.User, error) {
	return r.getBy(ctx, "stripe_customer_id = ?", customerID)
}

func (r *repo) GetByPhone(ctx context.Context, phone string) (*userdomain.User, error) {
	return r.getBy(ctx, "phone_number = ?", phone)
}

func (r *repo) getBy(ctx context.Context, query string, arg string) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, userdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) ApplySubscription(ctx context.Context, userID string, patch userdomain.SubscriptionPatch, now time.Time) error {
	updates := map[string]any{
		"is_subscribed":        patch.IsSubscribed,
		"plan":                 patch.Plan,
		"monthly_cap":          patch.MonthlyCap,
		"subscription_status":  patch.SubscriptionStatus,
		"cancel_at_period_end": patch.CancelAtPeriodEnd,
		"updated_at":           now,
	}

	switch {
	case patch.ClearCurrentPeriodEnd:
		updates["current_period_end"] = nil
	case patch.CurrentPeriodEnd != nil:
		updates["current_period_end"] = *patch.CurrentPeriodEnd
	}

	if patch.StripeCustomerID != nil {
		updates["stripe_customer_id"] = *patch.StripeCustomerID
	}
	if patch.StripeSubscriptionID != nil {
		updates["stripe_subscription_id"] = *patch.StripeSubscriptionID
	}

	res := r.db.WithContext(ctx).
		Model(&userdomain.User{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return userdomain.ErrNotFound
	}
	return nil
}

func (r *repo) MarkOptedOut(ctx context.Context, userID string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&userdomain.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"opted_out":    true,
			"opted_out_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return userdomain.ErrNotFound
	}
	return nil
}
