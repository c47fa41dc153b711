package service

import (
	"context"
	"errors"

	"github.com/versiful/versiful/internal/billing/domain"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Users    userdomain.Repository
	Client   domain.Client
	Notifier domain.Notifier
	Clock    clock.Clock
	Policy   *config.QuotaPolicyHolder
}

type Service struct {
	log      *zap.Logger
	users    userdomain.Repository
	client   domain.Client
	notifier domain.Notifier
	clock    clock.Clock
	policy   *config.QuotaPolicyHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("billing.service"),
		users:    p.Users,
		client:   p.Client,
		notifier: p.Notifier,
		clock:    p.Clock,
		policy:   p.Policy,
	}
}

// Process maps one provider event onto entitlement state. Every branch
// writes the full target state for its transition, so replaying an event
// converges on the same row.
func (s *Service) Process(ctx context.Context, event *domain.Event) error {
	switch event.Type {
	case domain.EventTypeCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case domain.EventTypeSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case domain.EventTypeSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	case domain.EventTypePaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case domain.EventTypePaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	default:
		return domain.ErrEventIgnored
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *domain.Event) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil || user == nil {
		return err
	}

	// The checkout payload does not carry plan details; fetch the
	// subscription for the billing interval and period end.
	snapshot, err := s.client.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		s.log.Error("subscription fetch failed after checkout",
			zap.String("subscription_id", event.SubscriptionID), zap.Error(err))
		return err
	}

	unlimited := userdomain.UnlimitedCap
	patch := userdomain.SubscriptionPatch{
		IsSubscribed:         true,
		Plan:                 planFor(snapshot),
		MonthlyCap:           unlimited,
		SubscriptionStatus:   snapshot.Status,
		CancelAtPeriodEnd:    snapshot.Canceling(),
		CurrentPeriodEnd:     snapshot.CurrentPeriodEnd,
		StripeCustomerID:     &event.CustomerID,
		StripeSubscriptionID: &event.SubscriptionID,
	}
	if err := s.users.ApplySubscription(ctx, user.UserID, patch, s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("subscription activated",
		zap.String("user_id", user.UserID),
		zap.String("plan", patch.Plan))
	s.notifyConfirmed(ctx, user, patch.Plan)
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *domain.Event) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil || user == nil {
		return err
	}
	snapshot := event.Snapshot
	if snapshot == nil {
		return domain.ErrInvalidEvent
	}

	active := snapshot.Active()
	patch := userdomain.SubscriptionPatch{
		IsSubscribed:         active,
		Plan:                 planFor(snapshot),
		MonthlyCap:           s.capFor(active),
		SubscriptionStatus:   snapshot.Status,
		CancelAtPeriodEnd:    snapshot.Canceling(),
		CurrentPeriodEnd:     snapshot.CurrentPeriodEnd,
		StripeSubscriptionID: &snapshot.ID,
	}
	if err := s.users.ApplySubscription(ctx, user.UserID, patch, s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("subscription updated",
		zap.String("user_id", user.UserID),
		zap.String("status", snapshot.Status),
		zap.Bool("canceling", snapshot.Canceling()))
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *domain.Event) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil || user == nil {
		return err
	}

	patch := userdomain.SubscriptionPatch{
		IsSubscribed:          false,
		Plan:                  userdomain.PlanFree,
		MonthlyCap:            s.policy.Current().FreeMonthlyLimit,
		SubscriptionStatus:    "canceled",
		CancelAtPeriodEnd:     false,
		ClearCurrentPeriodEnd: true,
	}
	if err := s.users.ApplySubscription(ctx, user.UserID, patch, s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("subscription ended", zap.String("user_id", user.UserID))
	s.notifyCanceled(ctx, user)
	return nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, event *domain.Event) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil || user == nil {
		return err
	}

	unlimited := userdomain.UnlimitedCap
	patch := userdomain.SubscriptionPatch{
		IsSubscribed:       true,
		Plan:               user.Plan,
		MonthlyCap:         unlimited,
		SubscriptionStatus: "active",
		CancelAtPeriodEnd:  user.CancelAtPeriodEnd,
	}
	if event.SubscriptionID != "" {
		if snapshot, ferr := s.client.GetSubscription(ctx, event.SubscriptionID); ferr == nil {
			patch.Plan = planFor(snapshot)
			patch.SubscriptionStatus = snapshot.Status
			patch.CurrentPeriodEnd = snapshot.CurrentPeriodEnd
			patch.CancelAtPeriodEnd = snapshot.Canceling()
		} else {
			s.log.Warn("subscription fetch failed on payment success",
				zap.String("subscription_id", event.SubscriptionID), zap.Error(ferr))
		}
	}
	if err := s.users.ApplySubscription(ctx, user.UserID, patch, s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("payment recorded", zap.String("user_id", user.UserID))
	return nil
}

// handlePaymentFailed checks the live subscription before deciding. The
// provider keeps retrying past_due charges, so entitlement is retained for
// that status only; any other status reverts the account to the free tier.
func (s *Service) handlePaymentFailed(ctx context.Context, event *domain.Event) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil || user == nil {
		return err
	}

	subscriptionID := event.SubscriptionID
	if subscriptionID == "" && user.StripeSubscriptionID != nil {
		subscriptionID = *user.StripeSubscriptionID
	}
	if subscriptionID == "" {
		s.log.Info("payment failed for non-subscription invoice",
			zap.String("user_id", user.UserID))
		return nil
	}

	snapshot, err := s.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		s.log.Error("subscription fetch failed on payment failure",
			zap.String("subscription_id", subscriptionID), zap.Error(err))
		return err
	}

	pastDue := snapshot.Status == "past_due"
	patch := userdomain.SubscriptionPatch{
		IsSubscribed:       pastDue,
		Plan:               user.Plan,
		MonthlyCap:         s.capFor(pastDue),
		SubscriptionStatus: snapshot.Status,
		CancelAtPeriodEnd:  user.CancelAtPeriodEnd,
	}
	if err := s.users.ApplySubscription(ctx, user.UserID, patch, s.clock.Now()); err != nil {
		return err
	}

	if pastDue {
		s.log.Warn("payment failed, entitlement retained",
			zap.String("user_id", user.UserID))
	} else {
		s.log.Warn("payment failed, reverted to free tier",
			zap.String("user_id", user.UserID),
			zap.String("status", snapshot.Status))
	}
	return nil
}

// resolveUser finds the local account behind a provider event. A miss is
// acknowledged rather than retried: replays of an unresolvable event can
// never succeed, so surfacing an error would only wedge the provider queue.
func (s *Service) resolveUser(ctx context.Context, event *domain.Event) (*userdomain.User, error) {
	if event.Type == domain.EventTypeCheckoutCompleted && event.UserID != "" {
		user, err := s.users.GetByID(ctx, event.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, userdomain.ErrNotFound) {
			return nil, err
		}
	}

	user, err := s.users.GetByStripeCustomerID(ctx, event.CustomerID)
	if errors.Is(err, userdomain.ErrNotFound) {
		s.log.Warn("no account for billing event",
			zap.String("type", event.Type),
			zap.String("customer_id", event.CustomerID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, user *userdomain.User, plan string) {
	if user.PhoneNumber == nil {
		return
	}
	if err := s.notifier.SubscriptionConfirmed(ctx, *user.PhoneNumber, plan); err != nil {
		s.log.Warn("confirmation notice failed",
			zap.String("user_id", user.UserID), zap.Error(err))
	}
}

func (s *Service) notifyCanceled(ctx context.Context, user *userdomain.User) {
	if user.PhoneNumber == nil {
		return
	}
	if err := s.notifier.SubscriptionCanceled(ctx, *user.PhoneNumber); err != nil {
		s.log.Warn("cancellation notice failed",
			zap.String("user_id", user.UserID), zap.Error(err))
	}
}

func planFor(snapshot *domain.SubscriptionSnapshot) string {
	if snapshot.Plan() == "annual" {
		return userdomain.PlanAnnual
	}
	return userdomain.PlanMonthly
}

func (s *Service) capFor(active bool) int {
	if active {
		return userdomain.UnlimitedCap
	}
	return s.policy.Current().FreeMonthlyLimit
}
