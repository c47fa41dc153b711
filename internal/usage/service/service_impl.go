package service

import (
	"context"
	"errors"
	"time"

	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// consumeAttempts bounds retries against transient store failures. Exhausting
// them fails closed.
const consumeAttempts = 3

type Params struct {
	fx.In

	Log    *zap.Logger
	Repo   usagedomain.Repository
	Users  userdomain.Repository
	Clock  clock.Clock
	Policy *config.QuotaPolicyHolder
}

type Service struct {
	log    *zap.Logger
	repo   usagedomain.Repository
	users  userdomain.Repository
	clock  clock.Clock
	policy *config.QuotaPolicyHolder
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		log:    p.Log.Named("usage.service"),
		repo:   p.Repo,
		users:  p.Users,
		clock:  p.Clock,
		policy: p.Policy,
	}
}

func (s *Service) Evaluate(ctx context.Context, phone string) (usagedomain.Decision, error) {
	now := s.clock.Now()
	period := usagedomain.PeriodKeyFor(now)

	rec, err := s.load(ctx, phone, period, now)
	if err != nil {
		s.log.Error("usage store unavailable during evaluation",
			zap.String("phone", phone), zap.Error(err))
		return usagedomain.Decision{}, usagedomain.ErrStoreUnavailable
	}

	var user *userdomain.User
	if rec.UserID != nil {
		user, err = s.users.GetByID(ctx, *rec.UserID)
		if err != nil && !errors.Is(err, userdomain.ErrNotFound) {
			s.log.Error("entitlement lookup failed",
				zap.String("phone", phone), zap.Error(err))
			return usagedomain.Decision{}, usagedomain.ErrStoreUnavailable
		}
	}

	defaultLimit := s.policy.Current().FreeMonthlyLimit
	if user != nil {
		if unlimited, _ := user.EffectiveCap(defaultLimit); unlimited {
			return usagedomain.Decision{
				Allowed:   true,
				Reason:    usagedomain.ReasonUnlimited,
				PeriodKey: rec.PeriodKey,
				Usage:     *rec,
				User:      user,
			}, nil
		}
	}

	limit := defaultLimit
	if user != nil {
		_, limit = user.EffectiveCap(defaultLimit)
	}

	updated, err := s.consume(ctx, phone, limit, period, now)
	if err == nil {
		return usagedomain.Decision{
			Allowed:   true,
			Reason:    usagedomain.ReasonWithinCap,
			Limit:     &limit,
			PeriodKey: updated.PeriodKey,
			Usage:     *updated,
			User:      user,
		}, nil
	}
	if !errors.Is(err, usagedomain.ErrLimitReached) {
		s.log.Error("usage store unavailable during consume",
			zap.String("phone", phone), zap.Error(err))
		return usagedomain.Decision{}, usagedomain.ErrStoreUnavailable
	}

	// Lost the conditional write: quota is exhausted. Re-read for the
	// period key the denial message is composed from.
	rec, err = s.repo.Get(ctx, phone)
	if err != nil {
		return usagedomain.Decision{}, usagedomain.ErrStoreUnavailable
	}

	return usagedomain.Decision{
		Allowed:   false,
		Reason:    usagedomain.ReasonQuotaExceeded,
		Limit:     &limit,
		PeriodKey: rec.PeriodKey,
		Usage:     *rec,
		User:      user,
	}, nil
}

func (s *Service) ShouldNudge(ctx context.Context, phone string) (bool, error) {
	now := s.clock.Now()
	period := usagedomain.PeriodKeyFor(now)
	return s.repo.IncrementNudge(ctx, phone, s.policy.Current().NudgeLimit, period, now)
}

// load fetches the usage record, creating it on first contact and resetting
// counters when the calendar month has rolled over.
func (s *Service) load(ctx context.Context, phone string, period string, now time.Time) (*usagedomain.UsageRecord, error) {
	rec, err := s.repo.Get(ctx, phone)
	if errors.Is(err, usagedomain.ErrRecordMissing) {
		return s.repo.Ensure(ctx, phone, nil, now)
	}
	if err != nil {
		return nil, err
	}
	if rec.PeriodKey != period {
		return s.repo.ResetPeriod(ctx, phone, period, now)
	}
	return rec, nil
}

func (s *Service) consume(ctx context.Context, phone string, limit int, period string, now time.Time) (*usagedomain.UsageRecord, error) {
	var lastErr error
	for attempt := 0; attempt < consumeAttempts; attempt++ {
		rec, err := s.repo.ConsumeIfAllowed(ctx, phone, limit, period, now)
		if err == nil || errors.Is(err, usagedomain.ErrLimitReached) {
			return rec, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return nil, lastErr
}
