package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	"github.com/versiful/versiful/internal/transport"
	"go.uber.org/zap"
)

// handleDeliveryCallback reconciles gateway delivery status callbacks onto
// the message ledger. Callbacks that cannot be matched are acknowledged; the
// gateway cannot supply better data on a retry.
func (s *Server) handleDeliveryCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	values := c.Request.Form
	for key, vals := range c.Request.URL.Query() {
		if _, ok := values[key]; !ok {
			values[key] = vals
		}
	}

	cb, err := transport.ParseStatusCallback(values, s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if cb.Price == nil {
		// Intermediate status updates carry no price; the final one does.
		c.String(http.StatusOK, "")
		return
	}

	if cb.MessageUUID == "" {
		// Messages sent outside this system have no correlation id. Their
		// costs are visible in the gateway console but not reconciled here.
		s.log.Warn("cost callback without correlation id",
			zap.String("sid", cb.MessageSID),
			zap.String("status", cb.Status))
		c.String(http.StatusOK, "")
		return
	}

	ctx := c.Request.Context()
	err = s.ledger.AttachDeliveryCost(ctx, cb.MessageUUID, ledgerdomain.DeliveryCost{
		Price:      *cb.Price,
		PriceUnit:  cb.PriceUnit,
		Status:     cb.Status,
		Segments:   cb.NumSegments,
		ObservedAt: cb.ObservedAt,
	})
	if errors.Is(err, ledgerdomain.ErrMessageNotFound) {
		s.log.Warn("cost callback for unknown message",
			zap.String("message_id", cb.MessageUUID),
			zap.String("sid", cb.MessageSID))
		c.String(http.StatusOK, "")
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.String(http.StatusOK, "")
}
