package transport

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusCallback(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	values := url.Values{}
	values.Set("MessageSid", "SM123")
	values.Set("MessageStatus", "delivered")
	values.Set("Price", "-0.0079")
	values.Set("PriceUnit", "USD")
	values.Set("NumSegments", "2")
	values.Set("message_uuid", "abc-123")

	cb, err := ParseStatusCallback(values, now)
	require.NoError(t, err)
	assert.Equal(t, "SM123", cb.MessageSID)
	assert.Equal(t, "delivered", cb.Status)
	require.NotNil(t, cb.Price)
	assert.InDelta(t, 0.0079, *cb.Price, 1e-9)
	assert.Equal(t, "USD", cb.PriceUnit)
	assert.Equal(t, 2, cb.NumSegments)
	assert.Equal(t, "abc-123", cb.MessageUUID)
	assert.Equal(t, now, cb.ObservedAt)
}

func TestParseStatusCallbackWithoutPrice(t *testing.T) {
	values := url.Values{}
	values.Set("MessageSid", "SM456")
	values.Set("MessageStatus", "sent")

	cb, err := ParseStatusCallback(values, time.Now())
	require.NoError(t, err)
	assert.Nil(t, cb.Price)
	assert.Equal(t, 1, cb.NumSegments)
	assert.Empty(t, cb.MessageUUID)
}

func TestParseStatusCallbackRequiresSID(t *testing.T) {
	values := url.Values{}
	values.Set("MessageStatus", "delivered")

	_, err := ParseStatusCallback(values, time.Now())
	assert.ErrorIs(t, err, ErrMissingMessageSID)
}

func TestParseStatusCallbackBadNumbers(t *testing.T) {
	values := url.Values{}
	values.Set("MessageSid", "SM789")
	values.Set("Price", "not-a-price")
	values.Set("NumSegments", "zero")

	cb, err := ParseStatusCallback(values, time.Now())
	require.NoError(t, err)
	assert.Nil(t, cb.Price)
	assert.Equal(t, 1, cb.NumSegments)
}
