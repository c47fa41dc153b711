package domain

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, msg *Message) error
	GetByMessageID(ctx context.Context, messageID string) (*Message, error)
	ListThread(ctx context.Context, threadID string, limit int) ([]Message, error)

	// SetTransportSID records the gateway identifier after a send.
	SetTransportSID(ctx context.Context, messageID string, sid string, status string, now time.Time) error

	// AttachDeliveryCost overwrites the delivery cost fields on the entry
	// behind messageID. Idempotent: repeated callbacks overwrite in place.
	AttachDeliveryCost(ctx context.Context, messageID string, cost DeliveryCost, now time.Time) error
}
