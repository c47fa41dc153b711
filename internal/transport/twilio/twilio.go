// Package twilio implements the SMS gateway against the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/versiful/versiful/internal/config"
	"github.com/versiful/versiful/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const apiBaseURL = "https://api.twilio.com/2010-04-01"

// Error code Twilio returns when the recipient has blocked the sender.
const codeRecipientBlocked = 21610

type Gateway struct {
	log             *zap.Logger
	accountSID      string
	authToken       string
	fromNumber      string
	callbackBaseURL string
	baseURL         string
	http            *http.Client
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Config *config.Config
}

func NewGateway(p Params) transport.Gateway {
	return &Gateway{
		log:             p.Log.Named("transport.twilio"),
		accountSID:      p.Config.TwilioAccountSID,
		authToken:       p.Config.TwilioAuthToken,
		fromNumber:      p.Config.ServicePhone,
		callbackBaseURL: p.Config.CallbackBaseURL,
		baseURL:         apiBaseURL,
		http:            &http.Client{Timeout: 15 * time.Second},
	}
}

// NewGatewayWithBaseURL is used by tests to point at a local server.
func NewGatewayWithBaseURL(log *zap.Logger, cfg *config.Config, baseURL string) *Gateway {
	return &Gateway{
		log:             log.Named("transport.twilio"),
		accountSID:      cfg.TwilioAccountSID,
		authToken:       cfg.TwilioAuthToken,
		fromNumber:      cfg.ServicePhone,
		callbackBaseURL: cfg.CallbackBaseURL,
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *Gateway) Send(ctx context.Context, req transport.SendRequest) (transport.SendResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", g.fromNumber)
	form.Set("Body", req.Body)
	if g.callbackBaseURL != "" && req.CorrelationID != "" {
		form.Set("StatusCallback", fmt.Sprintf("%s/sms/callback?message_uuid=%s",
			strings.TrimRight(g.callbackBaseURL, "/"), url.QueryEscape(req.CorrelationID)))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.baseURL, g.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return transport.SendResult{}, err
	}
	httpReq.SetBasicAuth(g.accountSID, g.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return transport.SendResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.SendResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr twilioError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == codeRecipientBlocked {
			g.log.Warn("recipient has blocked the sender", zap.String("to", req.To))
			return transport.SendResult{}, transport.ErrRecipientBlocked
		}
		return transport.SendResult{}, fmt.Errorf("twilio send: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var msg twilioMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return transport.SendResult{}, fmt.Errorf("twilio send: decode response: %w", err)
	}

	g.log.Debug("message queued",
		zap.String("sid", msg.SID),
		zap.String("status", msg.Status))
	return transport.SendResult{SID: msg.SID, Status: msg.Status}, nil
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
