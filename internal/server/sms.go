package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/versiful/versiful/internal/identity"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	"github.com/versiful/versiful/internal/responder"
	"github.com/versiful/versiful/internal/transport"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/zap"
)

const historyTurns = 6

var stopKeywords = map[string]struct{}{
	"stop":        {},
	"stopall":     {},
	"unsubscribe": {},
	"cancel":      {},
	"end":         {},
	"quit":        {},
}

// handleInboundSMS is the gateway webhook for received messages. Requests the
// sender cannot fix are acknowledged with 200 so the gateway does not retry;
// only transient store failures surface an error status.
func (s *Server) handleInboundSMS(c *gin.Context) {
	body := strings.TrimSpace(c.PostForm("Body"))
	from := c.PostForm("From")
	ctx := c.Request.Context()

	phone, ok := identity.NormalizePhone(from)
	if body == "" || !ok {
		s.log.Info("inbound message dropped",
			zap.String("from", from), zap.Bool("empty_body", body == ""))
		c.String(http.StatusOK, "")
		return
	}

	s.recordInbound(ctx, c, phone, body)

	if _, isStop := stopKeywords[strings.ToLower(body)]; isStop {
		if err := s.users.OptOut(ctx, phone); err != nil {
			AbortWithError(c, err)
			return
		}
		c.String(http.StatusOK, "")
		return
	}

	decision, err := s.usage.Evaluate(ctx, phone)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !decision.Allowed {
		s.nudgeIfAllowed(ctx, phone, decision)
		c.String(http.StatusOK, "")
		return
	}

	if decision.User != nil && decision.User.OptedOut {
		s.log.Info("skipping reply to opted-out sender", zap.String("phone", phone))
		c.String(http.StatusOK, "")
		return
	}

	reply, err := s.responder.Reply(ctx, body, s.recentTurns(ctx, phone))
	if err != nil {
		s.log.Error("reply generation failed", zap.String("phone", phone), zap.Error(err))
		AbortWithError(c, err)
		return
	}

	s.deliverReply(ctx, phone, reply, decision.User)
	c.String(http.StatusOK, "")
}

func (s *Server) recordInbound(ctx context.Context, c *gin.Context, phone, body string) {
	segments, _ := strconv.Atoi(c.PostForm("NumSegments"))
	_, err := s.ledger.RecordInbound(ctx, ledgerdomain.InboundMessage{
		From:         phone,
		To:           s.cfg.ServicePhone,
		Body:         body,
		TransportSID: c.PostForm("MessageSid"),
		Segments:     segments,
	})
	if err != nil {
		s.log.Warn("inbound message not recorded", zap.String("phone", phone), zap.Error(err))
	}
}

// nudgeIfAllowed sends at most one over-quota notice per evaluation, bounded
// by the per-period nudge counter. A lapsed subscriber gets the renewal
// notice instead of the free-tier pitch.
func (s *Server) nudgeIfAllowed(ctx context.Context, phone string, decision usagedomain.Decision) {
	shouldNudge, err := s.usage.ShouldNudge(ctx, phone)
	if err != nil {
		s.log.Warn("nudge counter unavailable", zap.String("phone", phone), zap.Error(err))
		return
	}
	if !shouldNudge {
		s.log.Info("nudge limit reached", zap.String("phone", phone))
		return
	}

	user := decision.User
	if user != nil && !user.IsSubscribed && user.StripeSubscriptionID != nil {
		if err := s.notify.SubscriptionInactive(ctx, phone); err != nil {
			s.log.Warn("renewal notice failed", zap.String("phone", phone), zap.Error(err))
		}
		return
	}

	limit := 0
	if decision.Limit != nil {
		limit = *decision.Limit
	}
	if err := s.notify.QuotaExhausted(ctx, phone, limit, decision.PeriodKey); err != nil {
		s.log.Warn("quota notice failed", zap.String("phone", phone), zap.Error(err))
	}
}

func (s *Server) recentTurns(ctx context.Context, phone string) []responder.Turn {
	msgs, err := s.ledger.History(ctx, phone, historyTurns)
	if err != nil {
		s.log.Warn("history unavailable", zap.String("phone", phone), zap.Error(err))
		return nil
	}
	// History is newest first; the model wants oldest first.
	turns := make([]responder.Turn, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		turns = append(turns, responder.Turn{Role: msgs[i].Role, Content: msgs[i].Content})
	}
	return turns
}

// deliverReply records and sends the assistant response. A carrier-level
// block on the recipient is treated as an opt-out.
func (s *Server) deliverReply(ctx context.Context, phone string, reply string, user *userdomain.User) {
	var userID *string
	if user != nil {
		userID = &user.UserID
	}

	msg, err := s.ledger.RecordOutbound(ctx, ledgerdomain.OutboundMessage{
		To:     phone,
		Body:   reply,
		UserID: userID,
	})
	if err != nil {
		s.log.Error("outbound message not recorded", zap.String("phone", phone), zap.Error(err))
		return
	}

	res, err := s.gateway.Send(ctx, transport.SendRequest{
		To:            phone,
		Body:          reply,
		CorrelationID: msg.MessageID,
	})
	if errors.Is(err, transport.ErrRecipientBlocked) {
		s.log.Warn("recipient blocked sender, opting out", zap.String("phone", phone))
		if optErr := s.users.OptOut(ctx, phone); optErr != nil {
			s.log.Error("opt-out after block failed", zap.String("phone", phone), zap.Error(optErr))
		}
		return
	}
	if err != nil {
		s.log.Error("reply delivery failed", zap.String("phone", phone), zap.Error(err))
		return
	}

	if err := s.ledger.SetTransportSID(ctx, msg.MessageID, res.SID, res.Status); err != nil {
		s.log.Warn("transport sid not recorded",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}
}
