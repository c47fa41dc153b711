package repository

import (
	"context"
	"errors"
	"time"

	"github.com/versiful/versiful/internal/ledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type repo struct {
	db *gorm.DB
}

func New(p Params) domain.Repository {
	return &repo{db: p.DB}
}

func (r *repo) Create(ctx context.Context, msg *domain.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *repo) GetByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *repo) ListThread(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	q := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *repo) SetTransportSID(ctx context.Context, messageID string, sid string, status string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{
			"twilio_sid":      sid,
			"delivery_status": status,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *repo) AttachDeliveryCost(ctx context.Context, messageID string, cost domain.DeliveryCost, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{
			"delivery_price":       cost.Price,
			"delivery_price_unit":  cost.PriceUnit,
			"delivery_status":      cost.Status,
			"delivery_segments":    cost.Segments,
			"delivery_observed_at": cost.ObservedAt,
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
