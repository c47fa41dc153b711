package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/versiful/versiful/internal/billing/domain"
	"go.uber.org/zap"
)

// handleStripeWebhook verifies, parses and applies one provider event.
// Unknown event types are acknowledged so the provider stops resending them;
// processing failures return 500 to trigger a redelivery.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if err := s.billingAdp.Verify(ctx, payload, c.Request.Header); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	event, err := s.billingAdp.Parse(ctx, payload)
	if errors.Is(err, billingdomain.ErrEventIgnored) {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.billing.Process(ctx, event); err != nil {
		s.log.Error("billing event processing failed",
			zap.String("type", event.Type),
			zap.String("customer_id", event.CustomerID),
			zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
