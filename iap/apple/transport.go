package apple

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/code-payments/receipt-validator/iap"
)

const (
	contentType    = "application/json; charset=utf-8"
	defaultTimeout = 30 * time.Second
)

// Transport posts receipts to the App Store verifyReceipt endpoints.
type Transport struct {
	client *resty.Client

	productionURL string
	sandboxURL    string
}

type Option func(*Transport)

// WithEndpoints overrides the production and sandbox endpoints, e.g. to point
// at a test server.
func WithEndpoints(productionURL, sandboxURL string) Option {
	return func(t *Transport) {
		t.productionURL = productionURL
		t.sandboxURL = sandboxURL
	}
}

// WithTimeout sets the timeout of a single request. Timeouts surface as
// transport errors.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.client.SetTimeout(timeout)
	}
}

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		client:        resty.New().SetTimeout(defaultTimeout),
		productionURL: appstore.ProductionURL,
		sandboxURL:    appstore.SandboxURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Post(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, iap.NewError(iap.KindOther, errors.Wrap(err, "failed to marshal request"))
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Post(t.endpoint(env))
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("non-200 status code: %d, response: %s", resp.StatusCode(), resp.String())
	}

	return iap.DecodeResponse(env, resp.Body())
}

func (t *Transport) endpoint(env iap.Environment) string {
	if env == iap.EnvironmentSandbox {
		return t.sandboxURL
	}
	return t.productionURL
}
