package domain

import "context"

// InboundMessage describes a message received from a sender.
type InboundMessage struct {
	From         string
	To           string
	Body         string
	TransportSID string
	Segments     int
	UserID       *string
}

// OutboundMessage describes a message the system is about to send.
type OutboundMessage struct {
	To          string
	Body        string
	MessageType string
	UserID      *string
}

type Service interface {
	// RecordInbound creates the ledger entry for a received message.
	RecordInbound(ctx context.Context, in InboundMessage) (*Message, error)

	// RecordOutbound creates the ledger entry for an outgoing message before
	// it is handed to the gateway; the returned MessageID is the correlation
	// id the gateway must echo back.
	RecordOutbound(ctx context.Context, out OutboundMessage) (*Message, error)

	SetTransportSID(ctx context.Context, messageID string, sid string, status string) error

	// AttachDeliveryCost reconciles an asynchronous cost callback onto the
	// matching entry. Returns ErrMessageNotFound on a lookup miss.
	AttachDeliveryCost(ctx context.Context, messageID string, cost DeliveryCost) error

	History(ctx context.Context, threadID string, limit int) ([]Message, error)
}
