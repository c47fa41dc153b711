// Package stripe adapts Stripe webhook payloads and the Stripe REST API to
// the billing domain contracts.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/versiful/versiful/internal/billing/domain"
	"github.com/versiful/versiful/internal/config"
	"go.uber.org/fx"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(cfg *config.Config) domain.Adapter {
	return &Adapter{webhookSecret: cfg.StripeWebhookSecret}
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event)
	case "customer.subscription.updated":
		return a.parseSubscription(event, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, domain.EventTypeSubscriptionDeleted)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, domain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, domain.EventTypePaymentFailed)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CancelAt          *int64 `json:"cancel_at"`
	CurrentPeriodEnd  *int64 `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd *int64 `json:"current_period_end"`
			Price            struct {
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
			Plan struct {
				Interval string `json:"interval"`
			} `json:"plan"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent) (*domain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.Customer) == "" {
		return nil, domain.ErrInvalidEvent
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		userID = strings.TrimSpace(session.Metadata["userId"])
	}

	return &domain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            domain.EventTypeCheckoutCompleted,
		CustomerID:      session.Customer,
		SubscriptionID:  session.Subscription,
		UserID:          userID,
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, eventType string) (*domain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.Customer) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            eventType,
		CustomerID:      sub.Customer,
		SubscriptionID:  sub.ID,
	}
	if eventType == domain.EventTypeSubscriptionUpdated {
		snapshot := snapshotFromSubscription(sub)
		out.Snapshot = &snapshot
	}
	return out, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, eventType string) (*domain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.Customer) == "" {
		return nil, domain.ErrInvalidEvent
	}

	subscriptionID := strings.TrimSpace(invoice.Subscription)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(invoice.Parent.SubscriptionDetails.Subscription)
	}

	return &domain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            eventType,
		CustomerID:      invoice.Customer,
		SubscriptionID:  subscriptionID,
	}, nil
}

func snapshotFromSubscription(sub stripeSubscription) domain.SubscriptionSnapshot {
	snapshot := domain.SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            sub.Status,
		Interval:          "month",
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          sub.CancelAt,
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if interval := strings.TrimSpace(item.Price.Recurring.Interval); interval != "" {
			snapshot.Interval = interval
		} else if interval := strings.TrimSpace(item.Plan.Interval); interval != "" {
			snapshot.Interval = interval
		}
		// Newer API versions carry the period end on the item, not the
		// subscription envelope.
		if snapshot.CurrentPeriodEnd == nil && item.CurrentPeriodEnd != nil {
			snapshot.CurrentPeriodEnd = item.CurrentPeriodEnd
		}
	}
	return snapshot
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

const apiBaseURL = "https://api.stripe.com/v1"

// Client talks to the Stripe REST API for the few calls the reconciler and
// the opt-out flow need.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type ClientParams struct {
	fx.In

	Config *config.Config
}

func NewClient(p ClientParams) domain.Client {
	return &Client{
		apiKey:  p.Config.StripeAPIKey,
		baseURL: apiBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point at a local server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionSnapshot, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	body, err := c.do(ctx, http.MethodGet, "/subscriptions/"+subscriptionID)
	if err != nil {
		return nil, err
	}

	var sub stripeSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	snapshot := snapshotFromSubscription(sub)
	return &snapshot, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return domain.ErrInvalidEvent
	}
	_, err := c.do(ctx, http.MethodDelete, "/subscriptions/"+subscriptionID)
	return err
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("stripe api %s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
