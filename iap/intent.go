package iap

import (
	"encoding/base64"
	"time"
)

type IntentType uint8

const (
	IntentUnknown IntentType = iota
	IntentPurchase
	IntentSubscription
)

func (t IntentType) String() string {
	switch t {
	case IntentPurchase:
		return "purchase"
	case IntentSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Intent is what the caller wants validated. It is either a PurchaseIntent or
// a SubscriptionIntent.
type Intent interface {
	Type() IntentType
	ReceiptSource() Source

	isIntent()
}

// PurchaseIntent validates that a receipt contains a purchase of ProductID.
type PurchaseIntent struct {
	ProductID string

	// SharedSecret is the App Store shared secret. Empty means absent.
	SharedSecret string

	Source Source
}

func (i *PurchaseIntent) Type() IntentType      { return IntentPurchase }
func (i *PurchaseIntent) ReceiptSource() Source { return i.Source }
func (*PurchaseIntent) isIntent()               {}

// SubscriptionIntent validates the auto-renewable subscriptions in a receipt.
type SubscriptionIntent struct {
	// SharedSecret is the App Store shared secret. Empty means absent.
	SharedSecret string

	// ExcludeOldTransactions asks the service to only return the latest
	// renewal transaction for each subscription.
	ExcludeOldTransactions bool

	// Now is the reference time subscriptions are evaluated against. The
	// Validator uses the current time when it is zero.
	Now time.Time

	Source Source
}

func (i *SubscriptionIntent) Type() IntentType      { return IntentSubscription }
func (i *SubscriptionIntent) ReceiptSource() Source { return i.Source }
func (*SubscriptionIntent) isIntent()               {}

// Request is the payload posted to the verification service. It is built once
// per validation and is never modified afterwards; the environment fallback
// resubmits the same value.
type Request struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions *bool  `json:"exclude-old-transactions,omitempty"`

	// Now is only set for subscriptions and is not part of the wire payload.
	Now *time.Time `json:"-"`
}

// BuildRequest assembles the request for intent around the receipt bytes.
func BuildRequest(intent Intent, receipt []byte) *Request {
	req := &Request{
		ReceiptData: base64.StdEncoding.EncodeToString(receipt),
	}

	switch it := intent.(type) {
	case *PurchaseIntent:
		req.Password = it.SharedSecret
	case *SubscriptionIntent:
		exclude := it.ExcludeOldTransactions
		now := it.Now
		req.Password = it.SharedSecret
		req.ExcludeOldTransactions = &exclude
		req.Now = &now
	}

	return req
}
