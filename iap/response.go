package iap

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/awa/go-iap/appstore"
	"github.com/pkg/errors"
)

type Environment uint8

const (
	EnvironmentProduction Environment = iota
	EnvironmentSandbox
)

func (e Environment) String() string {
	if e == EnvironmentSandbox {
		return "sandbox"
	}
	return "production"
}

// Other returns the opposite environment.
func (e Environment) Other() Environment {
	if e == EnvironmentSandbox {
		return EnvironmentProduction
	}
	return EnvironmentSandbox
}

func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return EnvironmentProduction, nil
	case "sandbox", "test":
		return EnvironmentSandbox, nil
	default:
		return EnvironmentProduction, errors.Errorf("unknown environment %q", s)
	}
}

// Status codes returned by the verification service that the router acts on.
const (
	StatusOK = 0

	// StatusSandboxReceiptOnProduction is returned by the production endpoint
	// for receipts issued in the test environment.
	StatusSandboxReceiptOnProduction = 21007

	// StatusProductionReceiptOnSandbox is returned by the sandbox endpoint for
	// production receipts.
	StatusProductionReceiptOnSandbox = 21008
)

// Response is a decoded answer of the verification service.
type Response struct {
	Status int

	// Environment is the endpoint that produced the response.
	Environment Environment

	Receipt *appstore.IAPResponse

	// Raw is the undecoded response body.
	Raw []byte
}

// BundleID returns the bundle identifier declared by the receipt.
func (r *Response) BundleID() string {
	if r.Receipt == nil {
		return ""
	}
	return r.Receipt.Receipt.BundleID
}

// ProductIDs returns the distinct product identifiers found in the receipt's
// in-app records and latest receipt info.
func (r *Response) ProductIDs() []string {
	if r.Receipt == nil {
		return nil
	}

	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, inApp := range r.Receipt.Receipt.InApp {
		add(inApp.ProductID)
	}
	for _, inApp := range r.Receipt.LatestReceiptInfo {
		add(inApp.ProductID)
	}
	return ids
}

// HasProduct reports whether productID appears in the receipt.
func (r *Response) HasProduct(productID string) bool {
	for _, id := range r.ProductIDs() {
		if id == productID {
			return true
		}
	}
	return false
}

func (r *Response) Clone() *Response {
	c := &Response{
		Status:      r.Status,
		Environment: r.Environment,
		Raw:         cloneBytes(r.Raw),
	}
	if r.Receipt != nil {
		receipt := *r.Receipt
		receipt.Receipt.InApp = cloneSlice(r.Receipt.Receipt.InApp)
		receipt.LatestReceiptInfo = cloneSlice(r.Receipt.LatestReceiptInfo)
		receipt.PendingRenewalInfo = cloneSlice(r.Receipt.PendingRenewalInfo)
		c.Receipt = &receipt
	}
	return c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Transport submits requests to the verification service.
type Transport interface {

	// Post sends req to the endpoint of env. Network failures, including
	// timeouts, are returned as errors. Payloads that cannot be decoded are
	// returned as KindMalformedResponse errors.
	Post(ctx context.Context, env Environment, req *Request) (*Response, error)
}

// TransportFunc is an adapter to allow the use of ordinary functions as
// Transports.
type TransportFunc func(ctx context.Context, env Environment, req *Request) (*Response, error)

// Post calls f(ctx, env, req).
func (f TransportFunc) Post(ctx context.Context, env Environment, req *Request) (*Response, error) {
	return f(ctx, env, req)
}

func statusError(status int) *StatusError {
	return &StatusError{Status: status, Err: appstore.HandleError(status)}
}

// DecodeResponse decodes a verifyReceipt response body received from env.
// Bodies that are not JSON or carry no status are KindMalformedResponse.
func DecodeResponse(env Environment, raw []byte) (*Response, error) {
	var probe struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, NewError(KindMalformedResponse, errors.Wrap(err, "failed to unmarshal response"))
	}
	if probe.Status == nil {
		return nil, NewError(KindMalformedResponse, errors.New("response has no status"))
	}

	var decoded appstore.IAPResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, NewError(KindMalformedResponse, errors.Wrap(err, "failed to unmarshal receipt"))
	}

	return &Response{
		Status:      *probe.Status,
		Environment: env,
		Receipt:     &decoded,
		Raw:         raw,
	}, nil
}
