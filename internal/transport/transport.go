// Package transport abstracts the SMS gateway used to deliver replies and
// notices, and decodes the gateway's asynchronous status callbacks.
package transport

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrRecipientBlocked reports that the recipient has blocked the sending
// number at the carrier level. Callers treat it as an opt-out signal.
var ErrRecipientBlocked = errors.New("recipient_blocked")

type SendRequest struct {
	To   string
	Body string

	// CorrelationID is echoed back on the delivery status callback so the
	// cost reconciler can find the ledger entry.
	CorrelationID string
}

type SendResult struct {
	SID    string
	Status string
}

type Gateway interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// StatusCallback is a decoded delivery status notification. Price and
// MessageUUID are optional: intermediate status updates carry no price, and
// messages sent outside this system carry no correlation id.
type StatusCallback struct {
	MessageSID  string
	Status      string
	Price       *float64
	PriceUnit   string
	NumSegments int
	MessageUUID string
	ObservedAt  time.Time
}

var ErrMissingMessageSID = errors.New("missing_message_sid")

// ParseStatusCallback decodes the form parameters of a delivery callback.
// The gateway reports prices as negative amounts (a debit); they are
// normalized to absolute values here.
func ParseStatusCallback(values url.Values, observedAt time.Time) (StatusCallback, error) {
	sid := strings.TrimSpace(values.Get("MessageSid"))
	if sid == "" {
		return StatusCallback{}, ErrMissingMessageSID
	}

	cb := StatusCallback{
		MessageSID:  sid,
		Status:      strings.TrimSpace(values.Get("MessageStatus")),
		PriceUnit:   strings.TrimSpace(values.Get("PriceUnit")),
		MessageUUID: strings.TrimSpace(values.Get("message_uuid")),
		NumSegments: 1,
		ObservedAt:  observedAt,
	}

	if raw := strings.TrimSpace(values.Get("Price")); raw != "" {
		if price, err := strconv.ParseFloat(raw, 64); err == nil {
			abs := math.Abs(price)
			cb.Price = &abs
		}
	}
	if raw := strings.TrimSpace(values.Get("NumSegments")); raw != "" {
		if segments, err := strconv.Atoi(raw); err == nil && segments > 0 {
			cb.NumSegments = segments
		}
	}
	return cb, nil
}
