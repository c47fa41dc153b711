// Package notify composes and delivers subscriber-facing notices. Every
// notice is recorded in the message ledger before it is handed to the
// gateway, so delivery costs can be reconciled later.
package notify

import (
	"context"
	"fmt"

	billingdomain "github.com/versiful/versiful/internal/billing/domain"
	"github.com/versiful/versiful/internal/config"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	"github.com/versiful/versiful/internal/transport"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const subscriptionInactiveText = "Your Versiful subscription is inactive. " +
	"Please visit https://versiful.io to renew and continue receiving guidance."

const welcomeText = "Welcome to Versiful! \U0001F64F\n\n" +
	"You have %d free messages per month. Text us anytime for biblical guidance and wisdom.\n\n" +
	"Want unlimited messages? Subscribe at %s\n\n" +
	"Save this number to your contacts for easy access!"

const subscriptionConfirmedText = "Thank you for subscribing to Versiful! \U0001F389\n\n" +
	"You now have unlimited messages. Text us anytime for guidance, wisdom, and comfort from Scripture.\n\n" +
	"We're honored to walk with you on your spiritual journey."

const subscriptionCanceledText = "We're sorry to see you go! \U0001F622\n\n" +
	"Your subscription has been canceled and you've been moved back to our free plan with %d messages per month.\n\n" +
	"You're always welcome back. Text us anytime or resubscribe at %s\n\n" +
	"Blessings on your journey! \U0001F64F"

// Service sends lifecycle and quota notices. It implements the billing
// Notifier contract.
type Service struct {
	log     *zap.Logger
	ledger  ledgerdomain.Service
	gateway transport.Gateway
	policy  *config.QuotaPolicyHolder
	siteURL string
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Ledger  ledgerdomain.Service
	Gateway transport.Gateway
	Policy  *config.QuotaPolicyHolder
	Config  *config.Config
}

func New(p Params) *Service {
	return &Service{
		log:     p.Log.Named("notify"),
		ledger:  p.Ledger,
		gateway: p.Gateway,
		policy:  p.Policy,
		siteURL: p.Config.SiteURL,
	}
}

// QuotaExhausted sends the nudge telling a sender their free credits are
// spent and when they reset.
func (s *Service) QuotaExhausted(ctx context.Context, phone string, limit int, periodKey string) error {
	resetAt, err := usagedomain.NextPeriodStart(periodKey)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		"You've used your %d free messages for this month. "+
			"Your credits reset on %s. Register at %s for unlimited guidance.",
		limit, resetAt.Format("2006-01-02"), s.siteURL)
	return s.send(ctx, phone, body, ledgerdomain.TypeNotification)
}

// SubscriptionInactive tells a lapsed subscriber their plan needs renewal.
func (s *Service) SubscriptionInactive(ctx context.Context, phone string) error {
	return s.send(ctx, phone, subscriptionInactiveText, ledgerdomain.TypeNotification)
}

func (s *Service) Welcome(ctx context.Context, phone string) error {
	body := fmt.Sprintf(welcomeText, s.policy.Current().FreeMonthlyLimit, s.siteURL)
	return s.send(ctx, phone, body, ledgerdomain.TypeWelcome)
}

func (s *Service) SubscriptionConfirmed(ctx context.Context, phone string, plan string) error {
	return s.send(ctx, phone, subscriptionConfirmedText, ledgerdomain.TypeNotification)
}

func (s *Service) SubscriptionCanceled(ctx context.Context, phone string) error {
	body := fmt.Sprintf(subscriptionCanceledText, s.policy.Current().FreeMonthlyLimit, s.siteURL)
	return s.send(ctx, phone, body, ledgerdomain.TypeNotification)
}

func (s *Service) send(ctx context.Context, phone string, body string, msgType string) error {
	msg, err := s.ledger.RecordOutbound(ctx, ledgerdomain.OutboundMessage{
		To:          phone,
		Body:        body,
		MessageType: msgType,
	})
	if err != nil {
		return err
	}

	res, err := s.gateway.Send(ctx, transport.SendRequest{
		To:            phone,
		Body:          body,
		CorrelationID: msg.MessageID,
	})
	if err != nil {
		return err
	}

	if err := s.ledger.SetTransportSID(ctx, msg.MessageID, res.SID, res.Status); err != nil {
		s.log.Warn("transport sid not recorded",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}
	return nil
}

var Module = fx.Module("notify",
	fx.Provide(New),
	fx.Provide(func(s *Service) billingdomain.Notifier { return s }),
)
