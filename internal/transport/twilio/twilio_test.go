package twilio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/versiful/versiful/internal/config"
	"github.com/versiful/versiful/internal/transport"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		ServicePhone:     "+18336811158",
		CallbackBaseURL:  "https://api.example.com",
	}
}

func TestSendThreadsCorrelationID(t *testing.T) {
	var gotCallback string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		assert.Equal(t, "+15551230001", r.PostFormValue("To"))
		assert.Equal(t, "+18336811158", r.PostFormValue("From"))
		gotCallback = r.PostFormValue("StatusCallback")

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid":"SM900","status":"queued"}`)
	}))
	defer srv.Close()

	gw := NewGatewayWithBaseURL(zap.NewNop(), testConfig(), srv.URL)
	res, err := gw.Send(context.Background(), transport.SendRequest{
		To:            "+15551230001",
		Body:          "hello",
		CorrelationID: "uuid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM900", res.SID)
	assert.Equal(t, "queued", res.Status)
	assert.Equal(t, "https://api.example.com/sms/callback?message_uuid=uuid-1", gotCallback)
}

func TestSendMapsBlockedRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":21610,"message":"Attempt to send to unsubscribed recipient"}`)
	}))
	defer srv.Close()

	gw := NewGatewayWithBaseURL(zap.NewNop(), testConfig(), srv.URL)
	_, err := gw.Send(context.Background(), transport.SendRequest{
		To:   "+15551230002",
		Body: "hello",
	})
	assert.ErrorIs(t, err, transport.ErrRecipientBlocked)
}

func TestSendSurfacesOtherAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":20003,"message":"Authentication Error"}`)
	}))
	defer srv.Close()

	gw := NewGatewayWithBaseURL(zap.NewNop(), testConfig(), srv.URL)
	_, err := gw.Send(context.Background(), transport.SendRequest{
		To:   "+15551230003",
		Body: "hello",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrRecipientBlocked)
}
