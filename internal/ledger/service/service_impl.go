package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock
	Node  *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
	node  *snowflake.Node
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("ledger.service"),
		repo:  p.Repo,
		clock: p.Clock,
		node:  p.Node,
	}
}

func (s *Service) RecordInbound(ctx context.Context, in domain.InboundMessage) (*domain.Message, error) {
	now := s.clock.Now()
	segments := in.Segments
	if segments < 1 {
		segments = 1
	}
	msg := &domain.Message{
		ID:          s.node.Generate(),
		ThreadID:    in.From,
		Timestamp:   now,
		MessageID:   uuid.NewString(),
		Role:        domain.RoleUser,
		Content:     in.Body,
		Channel:     domain.ChannelSMS,
		Direction:   domain.DirectionInbound,
		MessageType: domain.TypeChat,
		PhoneNumber: in.From,
		UserID:      in.UserID,
		Segments:    segments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.TransportSID != "" {
		sid := in.TransportSID
		msg.TwilioSID = &sid
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) RecordOutbound(ctx context.Context, out domain.OutboundMessage) (*domain.Message, error) {
	now := s.clock.Now()
	msgType := out.MessageType
	if msgType == "" {
		msgType = domain.TypeChat
	}
	msg := &domain.Message{
		ID:          s.node.Generate(),
		ThreadID:    out.To,
		Timestamp:   now,
		MessageID:   uuid.NewString(),
		Role:        domain.RoleAssistant,
		Content:     out.Body,
		Channel:     domain.ChannelSMS,
		Direction:   domain.DirectionOutbound,
		MessageType: msgType,
		PhoneNumber: out.To,
		UserID:      out.UserID,
		Segments:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) SetTransportSID(ctx context.Context, messageID string, sid string, status string) error {
	return s.repo.SetTransportSID(ctx, messageID, sid, status, s.clock.Now())
}

func (s *Service) AttachDeliveryCost(ctx context.Context, messageID string, cost domain.DeliveryCost) error {
	err := s.repo.AttachDeliveryCost(ctx, messageID, cost, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Info("delivery cost attached",
		zap.String("message_id", messageID),
		zap.Float64("price", cost.Price),
		zap.String("price_unit", cost.PriceUnit),
		zap.String("status", cost.Status))
	return nil
}

func (s *Service) History(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	return s.repo.ListThread(ctx, threadID, limit)
}
