package service

import (
	"context"
	"errors"

	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Repo     userdomain.Repository
	Clock    clock.Clock
	Canceler userdomain.SubscriptionCanceler
	Policy   *config.QuotaPolicyHolder
}

type Service struct {
	log      *zap.Logger
	repo     userdomain.Repository
	clock    clock.Clock
	canceler userdomain.SubscriptionCanceler
	policy   *config.QuotaPolicyHolder
}

func NewService(p Params) userdomain.Service {
	return &Service{
		log:      p.Log.Named("user.service"),
		repo:     p.Repo,
		clock:    p.Clock,
		canceler: p.Canceler,
		policy:   p.Policy,
	}
}

func (s *Service) OptOut(ctx context.Context, phone string) error {
	user, err := s.repo.GetByPhone(ctx, phone)
	if errors.Is(err, userdomain.ErrNotFound) {
		// Unregistered sender; nothing to reset.
		s.log.Warn("opt-out for unknown phone", zap.String("phone", phone))
		return nil
	}
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if err := s.repo.MarkOptedOut(ctx, user.UserID, now); err != nil {
		return err
	}
	s.log.Info("user opted out", zap.String("user_id", user.UserID))

	if !user.IsSubscribed || user.StripeSubscriptionID == nil {
		return nil
	}

	// Cancel the external subscription so the user is not billed for
	// messages they will never receive. Opt-out stands even if this fails.
	if err := s.canceler.CancelSubscription(ctx, *user.StripeSubscriptionID); err != nil {
		s.log.Error("failed to cancel subscription on opt-out",
			zap.String("user_id", user.UserID), zap.Error(err))
		return nil
	}

	patch := userdomain.SubscriptionPatch{
		IsSubscribed:          false,
		Plan:                  userdomain.PlanFree,
		MonthlyCap:            s.policy.Current().FreeMonthlyLimit,
		SubscriptionStatus:    "canceled",
		CancelAtPeriodEnd:     false,
		ClearCurrentPeriodEnd: true,
	}
	if err := s.repo.ApplySubscription(ctx, user.UserID, patch, now); err != nil {
		s.log.Error("failed to reset entitlement on opt-out",
			zap.String("user_id", user.UserID), zap.Error(err))
		return nil
	}
	s.log.Info("subscription canceled on opt-out", zap.String("user_id", user.UserID))
	return nil
}
