package iap_test

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/iap/memory"
)

const testBundleID = "com.flipchat.app"

func newTestRequest() *iap.Request {
	return iap.BuildRequest(&iap.PurchaseIntent{ProductID: "com.flipchat.app.account"}, []byte("receipt"))
}

func TestRouter_ProductionAccepts(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID))

	resp, attempts, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
	require.NoError(t, err)
	require.Equal(t, iap.EnvironmentProduction, resp.Environment)
	require.Equal(t, []iap.Attempt{{Environment: iap.EnvironmentProduction, Status: iap.StatusOK}}, attempts)
	require.Len(t, transport.Calls(), 1)
}

func TestRouter_FallbackToSandbox(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusSandboxReceiptOnProduction, ""))
	transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(iap.StatusOK, testBundleID))

	req := newTestRequest()
	resp, attempts, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, iap.EnvironmentSandbox, resp.Environment)
	require.Equal(t, []iap.Attempt{
		{Environment: iap.EnvironmentProduction, Status: iap.StatusSandboxReceiptOnProduction},
		{Environment: iap.EnvironmentSandbox, Status: iap.StatusOK},
	}, attempts)

	// The fallback resubmits the identical request.
	calls := transport.Calls()
	require.Len(t, calls, 2)
	require.Same(t, req, calls[0].Request)
	require.Same(t, req, calls[1].Request)
}

func TestRouter_FallbackToProduction(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(iap.StatusProductionReceiptOnSandbox, ""))
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID))

	resp, attempts, err := iap.NewRouter(transport, iap.EnvironmentSandbox).Send(context.Background(), newTestRequest())
	require.NoError(t, err)
	require.Equal(t, iap.EnvironmentProduction, resp.Environment)
	require.Len(t, attempts, 2)
}

func TestRouter_FallsBackAtMostOnce(t *testing.T) {
	for _, tc := range []struct {
		name    string
		initial iap.Environment
		prod    int
		sandbox int
	}{
		{"MismatchBothWays", iap.EnvironmentProduction, iap.StatusSandboxReceiptOnProduction, iap.StatusProductionReceiptOnSandbox},
		{"SandboxRepeatsMismatch", iap.EnvironmentProduction, iap.StatusSandboxReceiptOnProduction, iap.StatusSandboxReceiptOnProduction},
		{"FromSandbox", iap.EnvironmentSandbox, iap.StatusSandboxReceiptOnProduction, iap.StatusProductionReceiptOnSandbox},
	} {
		t.Run(tc.name, func(t *testing.T) {
			transport := memory.NewTransport()
			transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(tc.prod, ""))
			transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(tc.sandbox, ""))

			resp, attempts, err := iap.NewRouter(transport, tc.initial).Send(context.Background(), newTestRequest())
			require.Nil(t, resp)
			require.ErrorIs(t, err, iap.ErrEnvironmentMismatch)
			require.Len(t, attempts, 2)
			require.Len(t, transport.Calls(), 2)
		})
	}
}

func TestRouter_MismatchInWrongDirection(t *testing.T) {
	for _, tc := range []struct {
		name    string
		initial iap.Environment
		status  int
	}{
		{"Production", iap.EnvironmentProduction, iap.StatusProductionReceiptOnSandbox},
		{"Sandbox", iap.EnvironmentSandbox, iap.StatusSandboxReceiptOnProduction},
	} {
		t.Run(tc.name, func(t *testing.T) {
			transport := memory.NewTransport()
			transport.SetResponse(tc.initial, memory.NewResponseBody(tc.status, ""))

			resp, attempts, err := iap.NewRouter(transport, tc.initial).Send(context.Background(), newTestRequest())
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.Status)
			require.Equal(t, []iap.Attempt{{Environment: tc.initial, Status: tc.status}}, attempts)
			require.Len(t, transport.Calls(), 1)
		})
	}
}

func TestRouter_NoFallbackOnOtherStatus(t *testing.T) {
	for _, status := range []int{21002, 21003, 21004, 21005, 21010} {
		transport := memory.NewTransport()
		transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(status, ""))

		resp, attempts, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
		require.NoError(t, err)
		require.Equal(t, status, resp.Status)
		require.Len(t, attempts, 1)
		require.Len(t, transport.Calls(), 1)
	}
}

func TestRouter_TransportError(t *testing.T) {
	for _, cause := range []error{
		context.DeadlineExceeded,
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
	} {
		transport := iap.TransportFunc(func(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
			return nil, cause
		})

		_, attempts, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
		require.ErrorIs(t, err, iap.ErrTransport)
		require.ErrorIs(t, err, cause)
		require.Equal(t, []iap.Attempt{{Environment: iap.EnvironmentProduction, Status: -1}}, attempts)
	}
}

func TestRouter_TransportErrorDuringFallback(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusSandboxReceiptOnProduction, ""))
	transport.SetError(iap.EnvironmentSandbox, errors.New("i/o timeout"))

	_, attempts, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
	require.ErrorIs(t, err, iap.ErrTransport)
	require.Len(t, attempts, 2)
}

func TestRouter_MalformedResponse(t *testing.T) {
	for _, body := range [][]byte{
		[]byte("<html>bad gateway</html>"),
		[]byte(`{"environment":"Sandbox"}`),
	} {
		transport := memory.NewTransport()
		transport.SetResponse(iap.EnvironmentProduction, body)

		_, _, err := iap.NewRouter(transport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
		require.ErrorIs(t, err, iap.ErrMalformedResponse)
		require.False(t, errors.Is(err, iap.ErrTransport))
	}

	nilTransport := iap.TransportFunc(func(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
		return nil, nil
	})
	_, _, err := iap.NewRouter(nilTransport, iap.EnvironmentProduction).Send(context.Background(), newTestRequest())
	require.ErrorIs(t, err, iap.ErrMalformedResponse)
}
