package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/code-payments/receipt-validator/iap"
)

// Call is a request observed by the Transport.
type Call struct {
	Environment iap.Environment
	Request     *iap.Request
}

// Transport answers requests with canned response bodies, configured per
// environment, and records every call it receives.
type Transport struct {
	mu     sync.Mutex
	bodies map[iap.Environment][]byte
	errs   map[iap.Environment]error
	calls  []Call
}

func NewTransport() *Transport {
	return &Transport{
		bodies: map[iap.Environment][]byte{},
		errs:   map[iap.Environment]error{},
	}
}

// SetResponse makes the endpoint of env answer with body.
func (t *Transport) SetResponse(env iap.Environment, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bodies[env] = body
	delete(t.errs, env)
}

// SetError makes the endpoint of env fail with err.
func (t *Transport) SetError(env iap.Environment, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errs[env] = err
	delete(t.bodies, env)
}

func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := make([]Call, len(t.calls))
	copy(calls, t.calls)
	return calls
}

func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bodies = map[iap.Environment][]byte{}
	t.errs = map[iap.Environment]error{}
	t.calls = nil
}

func (t *Transport) Post(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Environment: env, Request: req})
	body, hasBody := t.bodies[env]
	err := t.errs[env]
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !hasBody {
		return nil, fmt.Errorf("no response configured for %s", env)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return iap.DecodeResponse(env, body)
}

// InApp is a transaction placed into a generated response body.
type InApp struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	ExpiresAt             time.Time
	Cancelled             bool
}

// NewResponseBody renders a verifyReceipt response body. The transactions are
// listed both as in-app records and as latest receipt info.
func NewResponseBody(status int, bundleID string, transactions ...InApp) []byte {
	inApp := make([]map[string]any, 0, len(transactions))
	for i, tx := range transactions {
		transactionID := tx.TransactionID
		if transactionID == "" {
			transactionID = strconv.Itoa(1000 + i)
		}
		originalID := tx.OriginalTransactionID
		if originalID == "" {
			originalID = transactionID
		}

		entry := map[string]any{
			"quantity":                "1",
			"product_id":              tx.ProductID,
			"transaction_id":          transactionID,
			"original_transaction_id": originalID,
		}
		if !tx.ExpiresAt.IsZero() {
			entry["expires_date_ms"] = strconv.FormatInt(tx.ExpiresAt.UnixMilli(), 10)
		}
		if tx.Cancelled {
			entry["cancellation_date_ms"] = strconv.FormatInt(tx.ExpiresAt.Add(-time.Hour).UnixMilli(), 10)
		}
		inApp = append(inApp, entry)
	}

	body := map[string]any{
		"status": status,
	}
	if status == iap.StatusOK {
		body["receipt"] = map[string]any{
			"bundle_id": bundleID,
			"in_app":    inApp,
		}
		body["latest_receipt_info"] = inApp
	}

	b, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return b
}
