package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	billingdomain "github.com/versiful/versiful/internal/billing/domain"
	billingservice "github.com/versiful/versiful/internal/billing/service"
	billingstripe "github.com/versiful/versiful/internal/billing/stripe"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	ledgerrepo "github.com/versiful/versiful/internal/ledger/repository"
	ledgerservice "github.com/versiful/versiful/internal/ledger/service"
	"github.com/versiful/versiful/internal/notify"
	"github.com/versiful/versiful/internal/responder"
	"github.com/versiful/versiful/internal/transport"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	usagerepo "github.com/versiful/versiful/internal/usage/repository"
	usageservice "github.com/versiful/versiful/internal/usage/service"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	userrepo "github.com/versiful/versiful/internal/user/repository"
	userservice "github.com/versiful/versiful/internal/user/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type fakeGateway struct {
	sends []transport.SendRequest
	err   error
}

func (f *fakeGateway) Send(ctx context.Context, req transport.SendRequest) (transport.SendResult, error) {
	if f.err != nil {
		return transport.SendResult{}, f.err
	}
	f.sends = append(f.sends, req)
	return transport.SendResult{
		SID:    fmt.Sprintf("SM%03d", len(f.sends)),
		Status: "queued",
	}, nil
}

type fakeBillingClient struct {
	snapshot  *billingdomain.SubscriptionSnapshot
	cancelled []string
}

func (f *fakeBillingClient) GetSubscription(ctx context.Context, id string) (*billingdomain.SubscriptionSnapshot, error) {
	if f.snapshot == nil {
		return nil, fmt.Errorf("no subscription")
	}
	return f.snapshot, nil
}

func (f *fakeBillingClient) CancelSubscription(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fixture struct {
	srv       *Server
	engine    *gin.Engine
	db        *gorm.DB
	clock     *clock.FakeClock
	gateway   *fakeGateway
	responder *stubResponder
	billing   *fakeBillingClient
	users     userdomain.Repository
	usage     usagedomain.Repository
}

type stubResponder struct {
	calls int
	reply string
	err   error
}

func (s *stubResponder) Reply(ctx context.Context, prompt string, history []responder.Turn) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A pooled :memory: connection opens a fresh database per conn.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&usagedomain.UsageRecord{},
		&ledgerdomain.Message{},
	))

	log := zap.NewNop()
	fc := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	policy := config.NewStaticQuotaPolicyHolder(config.QuotaPolicy{FreeMonthlyLimit: 5, NudgeLimit: 3})
	cfg := &config.Config{
		ServicePhone:        "+18336811158",
		SiteURL:             "https://versiful.io",
		CallbackBaseURL:     "https://api.example.com",
		StripeWebhookSecret: webhookSecret,
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	users := userrepo.New(db)
	usageRepo := usagerepo.New(db)
	usageSvc := usageservice.NewService(usageservice.Params{
		Log: log, Repo: usageRepo, Users: users, Clock: fc, Policy: policy,
	})

	ledgerRepo := ledgerrepo.New(ledgerrepo.Params{DB: db})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		Log: log, Repo: ledgerRepo, Clock: fc, Node: node,
	})

	gateway := &fakeGateway{}
	notifySvc := notify.New(notify.Params{
		Log: log, Ledger: ledgerSvc, Gateway: gateway, Policy: policy, Config: cfg,
	})

	billingClient := &fakeBillingClient{}
	billingSvc := billingservice.NewService(billingservice.Params{
		Log: log, Users: users, Client: billingClient, Notifier: notifySvc,
		Clock: fc, Policy: policy,
	})

	userSvc := userservice.NewService(userservice.Params{
		Log: log, Repo: users, Clock: fc, Canceler: billingClient, Policy: policy,
	})

	resp := &stubResponder{reply: "Peace I leave with you. (John 14:27)"}

	engine := gin.New()
	engine.Use(gin.Recovery(), ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Engine:         engine,
		Log:            log,
		Cfg:            cfg,
		Usage:          usageSvc,
		Users:          userSvc,
		UserRepo:       users,
		Ledger:         ledgerSvc,
		Billing:        billingSvc,
		BillingAdapter: billingstripe.NewAdapter(cfg),
		Gateway:        gateway,
		Responder:      resp,
		Notify:         notifySvc,
		Clock:          fc,
	})
	registerRoutes(srv)

	return &fixture{
		srv: srv, engine: engine, db: db, clock: fc,
		gateway: gateway, responder: resp, billing: billingClient,
		users: users, usage: usageRepo,
	}
}

func (f *fixture) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postSMS(from, body string) *httptest.ResponseRecorder {
	values := url.Values{}
	values.Set("From", from)
	values.Set("Body", body)
	values.Set("MessageSid", "SMinbound")
	return f.postForm("/sms", values)
}

func signedWebhookRequest(payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte("1700000000." + payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=1700000000,v1=%s", sig))
	return req
}

func TestFreeTierQuotaAndNudges(t *testing.T) {
	f := newFixture(t)
	from := "+15551230001"

	// Five messages within the free cap get replies.
	for i := 0; i < 5; i++ {
		rec := f.postSMS(from, fmt.Sprintf("question %d", i+1))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 5, f.responder.calls)
	assert.Len(t, f.gateway.sends, 5)

	// The sixth is denied and triggers exactly one nudge.
	rec := f.postSMS(from, "question 6")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.responder.calls)
	require.Len(t, f.gateway.sends, 6)
	nudge := f.gateway.sends[5]
	assert.Contains(t, nudge.Body, "You've used your 5 free messages")
	assert.Contains(t, nudge.Body, "2025-04-01")

	// Two more nudges, then silence.
	for i := 0; i < 4; i++ {
		f.postSMS(from, "more")
	}
	assert.Equal(t, 5, f.responder.calls)
	assert.Len(t, f.gateway.sends, 8)

	usage, err := f.usage.Get(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.MessagesSent)
	assert.Equal(t, 3, usage.NudgesSent)
}

func TestPeriodRolloverRestoresCredits(t *testing.T) {
	f := newFixture(t)
	from := "+15551230002"

	for i := 0; i < 6; i++ {
		f.postSMS(from, "question")
	}
	assert.Equal(t, 5, f.responder.calls)

	f.clock.SetNow(time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC))
	rec := f.postSMS(from, "new month")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, f.responder.calls)

	usage, err := f.usage.Get(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, "2025-04", usage.PeriodKey)
	assert.Equal(t, 1, usage.MessagesSent)
	assert.Equal(t, 0, usage.NudgesSent)
}

func TestSubscribedSenderBypassesCap(t *testing.T) {
	f := newFixture(t)
	from := "+15551230003"
	phone := from

	require.NoError(t, f.db.Create(&userdomain.User{
		UserID:       "user-sub",
		PhoneNumber:  &phone,
		IsSubscribed: true,
		Plan:         userdomain.PlanMonthly,
	}).Error)
	userID := "user-sub"
	require.NoError(t, f.db.Create(&usagedomain.UsageRecord{
		PhoneNumber: from,
		PeriodKey:   "2025-03",
		UserID:      &userID,
	}).Error)

	for i := 0; i < 8; i++ {
		rec := f.postSMS(from, "question")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 8, f.responder.calls)

	usage, err := f.usage.Get(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.MessagesSent)
}

func TestStopKeywordOptsOutAndCancels(t *testing.T) {
	f := newFixture(t)
	from := "+15551230004"
	phone := from
	subID := "sub_active"

	require.NoError(t, f.db.Create(&userdomain.User{
		UserID:               "user-stop",
		PhoneNumber:          &phone,
		IsSubscribed:         true,
		Plan:                 userdomain.PlanMonthly,
		StripeSubscriptionID: &subID,
	}).Error)

	rec := f.postSMS(from, "STOP")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.responder.calls)

	user, err := f.users.GetByID(context.Background(), "user-stop")
	require.NoError(t, err)
	assert.True(t, user.OptedOut)
	assert.False(t, user.IsSubscribed)
	assert.Equal(t, []string{"sub_active"}, f.billing.cancelled)
}

func TestBlockedRecipientOptsOut(t *testing.T) {
	f := newFixture(t)
	from := "+15551230005"
	phone := from

	require.NoError(t, f.db.Create(&userdomain.User{
		UserID:      "user-block",
		PhoneNumber: &phone,
	}).Error)

	f.gateway.err = transport.ErrRecipientBlocked
	rec := f.postSMS(from, "question")
	assert.Equal(t, http.StatusOK, rec.Code)

	user, err := f.users.GetByID(context.Background(), "user-block")
	require.NoError(t, err)
	assert.True(t, user.OptedOut)
}

func TestInboundDropsUnusablePayloads(t *testing.T) {
	f := newFixture(t)

	rec := f.postSMS("garbage", "question")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.postSMS("+15551230006", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0, f.responder.calls)
	assert.Empty(t, f.gateway.sends)
}

func TestStripeWebhookCheckoutActivates(t *testing.T) {
	f := newFixture(t)
	phone := "+15551230007"
	require.NoError(t, f.db.Create(&userdomain.User{
		UserID:      "user-checkout",
		PhoneNumber: &phone,
	}).Error)

	periodEnd := int64(1761955200)
	f.billing.snapshot = &billingdomain.SubscriptionSnapshot{
		ID: "sub_new", Status: "active", Interval: "month", CurrentPeriodEnd: &periodEnd,
	}

	payload := `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"customer": "cus_new",
			"subscription": "sub_new",
			"client_reference_id": "user-checkout"
		}}
	}`
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, signedWebhookRequest(payload))
	assert.Equal(t, http.StatusOK, rec.Code)

	user, err := f.users.GetByID(context.Background(), "user-checkout")
	require.NoError(t, err)
	assert.True(t, user.IsSubscribed)
	assert.Equal(t, userdomain.PlanMonthly, user.Plan)

	// Confirmation notice went out through the gateway.
	require.NotEmpty(t, f.gateway.sends)
	assert.Contains(t, f.gateway.sends[0].Body, "Thank you for subscribing")
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"id":"evt_1","type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1700000000,v1=bogus")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhookAcknowledgesIgnoredEvents(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, signedWebhookRequest(
		`{"id":"evt_9","type":"customer.created","data":{"object":{}}}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeliveryCallbackAttachesCost(t *testing.T) {
	f := newFixture(t)

	msg, err := f.srv.ledger.RecordOutbound(context.Background(), ledgerdomain.OutboundMessage{
		To:   "+15551230008",
		Body: "reply",
	})
	require.NoError(t, err)

	values := url.Values{}
	values.Set("MessageSid", "SM777")
	values.Set("MessageStatus", "delivered")
	values.Set("Price", "-0.0079")
	values.Set("PriceUnit", "USD")
	values.Set("NumSegments", "1")
	rec := f.postForm("/sms/callback?message_uuid="+msg.MessageID, values)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.srv.ledger.History(context.Background(), "+15551230008", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].DeliveryPrice)
	assert.InDelta(t, 0.0079, *stored[0].DeliveryPrice, 1e-9)
	require.NotNil(t, stored[0].DeliveryStatus)
	assert.Equal(t, "delivered", *stored[0].DeliveryStatus)
	require.NotNil(t, stored[0].DeliveryObservedAt)
	assert.Equal(t, f.clock.Now(), stored[0].DeliveryObservedAt.UTC())
}

func TestDeliveryCallbackEdgeCases(t *testing.T) {
	f := newFixture(t)

	// No MessageSid is a malformed request.
	rec := f.postForm("/sms/callback", url.Values{"MessageStatus": {"sent"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No price yet: acknowledged, nothing recorded.
	values := url.Values{}
	values.Set("MessageSid", "SM800")
	values.Set("MessageStatus", "sent")
	rec = f.postForm("/sms/callback", values)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Priced callback without a correlation id is acknowledged.
	values.Set("Price", "-0.0079")
	rec = f.postForm("/sms/callback", values)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Priced callback for an unknown correlation id is acknowledged.
	rec = f.postForm("/sms/callback?message_uuid=unknown", values)
	assert.Equal(t, http.StatusOK, rec.Code)
}
