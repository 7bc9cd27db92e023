package iap

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Validator acquires receipt bytes for an Intent, submits them to the
// verification service and classifies the answer.
type Validator struct {
	log      *zap.Logger
	router   *Router
	bundleID string
	now      func() time.Time
}

type Option func(*Validator)

// WithInitialEnvironment sets the environment tried first. The default is
// production.
func WithInitialEnvironment(env Environment) Option {
	return func(v *Validator) {
		v.router.initial = env
	}
}

// WithBundleID makes the validator reject receipts issued for another app.
func WithBundleID(bundleID string) Option {
	return func(v *Validator) {
		v.bundleID = bundleID
	}
}

// WithClock overrides the clock used for subscription intents without a
// reference time.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func NewValidator(log *zap.Logger, transport Transport, opts ...Option) *Validator {
	v := &Validator{
		log:    log,
		router: NewRouter(transport, EnvironmentProduction),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Result is a successful validation.
type Result struct {
	RequestID string
	Type      IntentType

	// ReceiptID identifies the validated receipt bytes.
	ReceiptID []byte

	Response *Response
	Attempts []Attempt

	// Subscription is only set for subscription intents.
	Subscription *SubscriptionStatus
}

// Environment is the environment that accepted the receipt.
func (r *Result) Environment() Environment {
	return r.Response.Environment
}

// SubscriptionStatus describes the most recent subscription transaction in a
// receipt, evaluated at a reference time.
type SubscriptionStatus struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	ExpiresAt             time.Time
	Cancelled             bool
	Active                bool
}

// Validate runs a full validation of intent. The receipt source is fetched
// first; if that fails the service is never contacted. Failures are returned
// as *Error values.
func (v *Validator) Validate(ctx context.Context, intent Intent) (*Result, error) {
	if intent == nil || intent.ReceiptSource() == nil {
		return nil, NewError(KindOther, errors.New("intent has no receipt source"))
	}

	requestID := uuid.New().String()
	log := v.log.With(
		zap.String("request_id", requestID),
		zap.String("intent", intent.Type().String()),
	)

	if sub, ok := intent.(*SubscriptionIntent); ok && sub.Now.IsZero() {
		normalized := *sub
		normalized.Now = v.now()
		intent = &normalized
	}

	receipt, err := intent.ReceiptSource().Fetch(ctx)
	if err != nil {
		return nil, asError(err)
	}

	receiptID := GetReceiptID(receipt)
	log = log.With(zap.String("receipt_id", ReceiptIDString(receiptID)))
	log.Debug("Fetched receipt", zap.Int("size", len(receipt)))

	req := BuildRequest(intent, receipt)

	resp, attempts, err := v.router.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(attempts) > 1 {
		log.Debug("Receipt validated after environment fallback", zap.Stringer("environment", resp.Environment))
	}

	if resp.Status != StatusOK {
		return nil, NewError(KindOther, statusError(resp.Status))
	}

	result := &Result{
		RequestID: requestID,
		Type:      intent.Type(),
		ReceiptID: receiptID,
		Response:  resp,
		Attempts:  attempts,
	}

	if v.bundleID != "" && resp.BundleID() != v.bundleID {
		return nil, NewError(KindProductMismatch, errors.Errorf("receipt bundle id %q does not match %q", resp.BundleID(), v.bundleID))
	}

	switch it := intent.(type) {
	case *PurchaseIntent:
		if !resp.HasProduct(it.ProductID) {
			return nil, NewError(KindProductMismatch, errors.Errorf("receipt does not contain product %q", it.ProductID))
		}
	case *SubscriptionIntent:
		status, err := subscriptionStatus(resp, it.Now)
		if err != nil {
			return nil, err
		}
		result.Subscription = status
	}

	log.Debug("Receipt validated", zap.Stringer("environment", resp.Environment))

	return result, nil
}

func asError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(KindOther, err)
}

// subscriptionStatus picks the transaction with the latest expiry from the
// latest receipt info, or the in-app records when the former is absent.
func subscriptionStatus(resp *Response, now time.Time) (*SubscriptionStatus, error) {
	if resp.Receipt == nil {
		return nil, NewError(KindMalformedResponse, errors.New("response has no receipt"))
	}

	transactions := resp.Receipt.LatestReceiptInfo
	if len(transactions) == 0 {
		transactions = resp.Receipt.Receipt.InApp
	}

	status := &SubscriptionStatus{}
	var latest int64 = -1
	for _, inApp := range transactions {
		if inApp.ExpiresDateMS == "" {
			continue
		}
		expiresMS, err := strconv.ParseInt(inApp.ExpiresDateMS, 10, 64)
		if err != nil {
			return nil, NewError(KindMalformedResponse, errors.Wrapf(err, "invalid expires_date_ms %q", inApp.ExpiresDateMS))
		}
		if expiresMS <= latest {
			continue
		}

		latest = expiresMS
		status.ProductID = inApp.ProductID
		status.TransactionID = inApp.TransactionID
		status.OriginalTransactionID = inApp.OriginalTransactionID
		status.ExpiresAt = time.UnixMilli(expiresMS)
		status.Cancelled = inApp.CancellationDateMS != ""
	}

	status.Active = latest >= 0 && !status.Cancelled && status.ExpiresAt.After(now)
	return status, nil
}
