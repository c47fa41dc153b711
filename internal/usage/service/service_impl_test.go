package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	usagerepo "github.com/versiful/versiful/internal/usage/repository"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	userrepo "github.com/versiful/versiful/internal/user/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   usagedomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	repo  usagedomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A pooled :memory: connection opens a fresh database per conn.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}, &userdomain.User{}))

	fc := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	repo := usagerepo.New(db)
	svc := NewService(Params{
		Log:    zap.NewNop(),
		Repo:   repo,
		Users:  userrepo.New(db),
		Clock:  fc,
		Policy: config.NewStaticQuotaPolicyHolder(config.QuotaPolicy{FreeMonthlyLimit: 5, NudgeLimit: 3}),
	})
	return &fixture{svc: svc, db: db, clock: fc, repo: repo}
}

func (f *fixture) linkUser(t *testing.T, phone string, user userdomain.User) {
	t.Helper()
	require.NoError(t, f.db.Create(&user).Error)
	require.NoError(t, f.db.Create(&usagedomain.UsageRecord{
		PhoneNumber: phone,
		PeriodKey:   usagedomain.PeriodKeyFor(f.clock.Now()),
		UserID:      &user.UserID,
	}).Error)
}

func TestEvaluateConsumesUntilCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110001"

	for i := 1; i <= 5; i++ {
		decision, err := f.svc.Evaluate(ctx, phone)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, usagedomain.ReasonWithinCap, decision.Reason)
		assert.Equal(t, i, decision.Usage.MessagesSent)
	}

	decision, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonQuotaExceeded, decision.Reason)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, 5, *decision.Limit)
	assert.Equal(t, "2025-03", decision.PeriodKey)
	assert.Equal(t, 5, decision.Usage.MessagesSent)
}

func TestEvaluateRollsOverPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110002"

	for i := 0; i < 6; i++ {
		_, err := f.svc.Evaluate(ctx, phone)
		require.NoError(t, err)
	}

	f.clock.SetNow(time.Date(2025, 4, 1, 0, 0, 1, 0, time.UTC))
	decision, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "2025-04", decision.PeriodKey)
	assert.Equal(t, 1, decision.Usage.MessagesSent)
	assert.Equal(t, 0, decision.Usage.NudgesSent)
}

func TestEvaluateUnlimitedSubscriber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110003"
	f.linkUser(t, phone, userdomain.User{
		UserID:       "user-a",
		IsSubscribed: true,
		Plan:         userdomain.PlanMonthly,
	})

	for i := 0; i < 10; i++ {
		decision, err := f.svc.Evaluate(ctx, phone)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, usagedomain.ReasonUnlimited, decision.Reason)
		assert.Nil(t, decision.Limit)
	}

	rec, err := f.repo.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.MessagesSent)
}

func TestEvaluateUnlimitedCapSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110004"
	unlimited := userdomain.UnlimitedCap
	f.linkUser(t, phone, userdomain.User{
		UserID:     "user-b",
		MonthlyCap: &unlimited,
	})

	// A -1 cap grants the same access as an active subscription flag.
	decision, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonUnlimited, decision.Reason)

	rec, err := f.repo.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.MessagesSent)
}

func TestEvaluateHonorsCustomCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110005"
	cap := 2
	f.linkUser(t, phone, userdomain.User{
		UserID:     "user-c",
		MonthlyCap: &cap,
	})

	for i := 0; i < 2; i++ {
		decision, err := f.svc.Evaluate(ctx, phone)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, 2, *decision.Limit)
}

func TestEvaluateConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t)
	phone := "+15551110006"

	var wg sync.WaitGroup
	allowed := make(chan bool, 20)
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := f.svc.Evaluate(context.Background(), phone)
			if err != nil {
				errs <- err
				return
			}
			allowed <- decision.Allowed
		}()
	}
	wg.Wait()
	close(allowed)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	// Exactly the cap is granted: never oversold, never undersold.
	assert.Equal(t, 5, granted)

	rec, err := f.repo.Get(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.MessagesSent)
}

func TestShouldNudgeIsThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110007"

	_, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := f.svc.ShouldNudge(ctx, phone)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := f.svc.ShouldNudge(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateMissingLinkedUserFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+15551110008"
	ghost := "user-gone"
	require.NoError(t, f.db.Create(&usagedomain.UsageRecord{
		PhoneNumber: phone,
		PeriodKey:   usagedomain.PeriodKeyFor(f.clock.Now()),
		UserID:      &ghost,
	}).Error)

	decision, err := f.svc.Evaluate(ctx, phone)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, usagedomain.ReasonWithinCap, decision.Reason)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, 5, *decision.Limit)
}
