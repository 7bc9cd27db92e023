package iap

import (
	"context"
	"time"

	"github.com/code-payments/receipt-validator/query"
)

// Record is a receipt that passed validation.
type Record struct {
	ReceiptID   []byte
	Type        IntentType
	ProductID   string
	BundleID    string
	Environment Environment
	Status      int

	// ExpiresAt is only set for subscriptions.
	ExpiresAt *time.Time

	CreatedAt time.Time
}

type Store interface {
	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, receiptID []byte) (*Record, error)

	// GetRecords pages through records ordered by receipt id. The paging token
	// is the receipt id of the last record of the previous page. ErrNotFound
	// is returned when the page is empty.
	GetRecords(ctx context.Context, opts ...query.Option) ([]*Record, error)
}

func (r *Record) Clone() *Record {
	c := &Record{
		ReceiptID:   cloneBytes(r.ReceiptID),
		Type:        r.Type,
		ProductID:   r.ProductID,
		BundleID:    r.BundleID,
		Environment: r.Environment,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
	}
	if r.ExpiresAt != nil {
		expiresAt := *r.ExpiresAt
		c.ExpiresAt = &expiresAt
	}
	return c
}

// NewRecord builds the Record persisted for a successful validation.
func NewRecord(result *Result, productID string, now time.Time) *Record {
	record := &Record{
		ReceiptID:   cloneBytes(result.ReceiptID),
		Type:        result.Type,
		ProductID:   productID,
		BundleID:    result.Response.BundleID(),
		Environment: result.Response.Environment,
		Status:      result.Response.Status,
		CreatedAt:   now,
	}
	if result.Subscription != nil && !result.Subscription.ExpiresAt.IsZero() {
		expiresAt := result.Subscription.ExpiresAt
		record.ExpiresAt = &expiresAt
		if record.ProductID == "" {
			record.ProductID = result.Subscription.ProductID
		}
	}
	return record
}
