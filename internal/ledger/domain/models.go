// Package domain contains the per-thread message ledger models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ChannelSMS = "sms"
	ChannelWeb = "web"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	TypeChat         = "chat"
	TypeNotification = "notification"
	TypeWelcome      = "welcome"
)

// Message is one ledger entry. MessageID is the application correlation id
// threaded through the SMS gateway; it carries the secondary lookup index
// used by the cost reconciler.
type Message struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ThreadID  string       `gorm:"type:text;not null;index:idx_thread_ts,priority:1"`
	Timestamp time.Time    `gorm:"not null;index:idx_thread_ts,priority:2"`

	MessageID string  `gorm:"type:text;not null;uniqueIndex"`
	TwilioSID *string `gorm:"column:twilio_sid;type:text"`

	Role        string `gorm:"type:text;not null"`
	Content     string `gorm:"type:text;not null"`
	Channel     string `gorm:"type:text;not null"`
	Direction   string `gorm:"type:text;not null"`
	MessageType string `gorm:"type:text;not null;default:chat"`

	PhoneNumber string  `gorm:"type:text"`
	UserID      *string `gorm:"type:text;index"`
	Segments    int     `gorm:"not null;default:1"`

	// Delivery cost fields, attached later by the cost reconciler. Absent
	// until the gateway reports a price.
	DeliveryPrice      *float64
	DeliveryPriceUnit  *string `gorm:"type:text"`
	DeliveryStatus     *string `gorm:"type:text"`
	DeliverySegments   *int
	DeliveryObservedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Message) TableName() string { return "chat_messages" }

// DeliveryCost is the cost/status snapshot carried by a gateway callback.
type DeliveryCost struct {
	Price      float64
	PriceUnit  string
	Status     string
	Segments   int
	ObservedAt time.Time
}

var ErrMessageNotFound = errors.New("message_not_found")
