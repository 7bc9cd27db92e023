package iap

import (
	"context"
	"time"
)

// Event announces a successful validation.
type Event struct {
	ReceiptID   string    `json:"receipt_id"`
	Type        string    `json:"type"`
	ProductID   string    `json:"product_id,omitempty"`
	Environment string    `json:"environment"`
	SeenBefore  bool      `json:"seen_before"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

func (e *Event) Clone() *Event {
	c := *e
	return &c
}

func NewEvent(record *Record, seenBefore bool, validatedAt time.Time) *Event {
	e := &Event{
		ReceiptID:   ReceiptIDString(record.ReceiptID),
		Type:        record.Type.String(),
		ProductID:   record.ProductID,
		Environment: record.Environment.String(),
		SeenBefore:  seenBefore,
		ValidatedAt: validatedAt,
	}
	if record.ExpiresAt != nil {
		e.ExpiresAt = *record.ExpiresAt
	}
	return e
}
