package tests

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/iap/memory"
)

const (
	testBundleID     = "com.flipchat.app"
	testProductID    = "com.flipchat.app.account"
	testSubscription = "com.flipchat.app.monthly"
)

// RunServerTests runs a set of tests against the iap.Server, backed by the
// provided store.
func RunServerTests(t *testing.T, s iap.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store){
		testValidatePurchase,
		testValidatePurchase_ProductMismatch,
		testValidateSubscription,
		testValidate_InvalidRequests,
		testValidate_TransportFailure,
	} {
		tf(t, s)
		teardown()
	}
}

type serverEnv struct {
	server    *iap.Server
	transport *memory.Transport
	publisher *memory.Publisher
}

func newServerEnv(store iap.Store) *serverEnv {
	log := zap.Must(zap.NewDevelopment())
	transport := memory.NewTransport()
	publisher := memory.NewPublisher()
	validator := iap.NewValidator(log, transport, iap.WithBundleID(testBundleID))

	return &serverEnv{
		server:    iap.NewServer(log, validator, store, publisher, "shared-secret"),
		transport: transport,
		publisher: publisher,
	}
}

func newRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return req
}

func testValidatePurchase(t *testing.T, store iap.Store) {
	env := newServerEnv(store)
	env.transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusSandboxReceiptOnProduction, ""))
	env.transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

	receipt := []byte("purchase receipt")
	req := newRequest(t, map[string]any{
		iap.FieldType:      "purchase",
		iap.FieldReceipt:   base64.StdEncoding.EncodeToString(receipt),
		iap.FieldProductID: testProductID,
	})

	stream := env.publisher.Subscribe("test", 10)
	defer stream.Close()

	t.Run("FirstSubmission", func(t *testing.T) {
		resp, err := env.server.Validate(context.Background(), req)
		require.NoError(t, err)

		fields := resp.GetFields()
		require.Equal(t, iap.ReceiptIDString(iap.GetReceiptID(receipt)), fields["receipt_id"].GetStringValue())
		require.Equal(t, "sandbox", fields["environment"].GetStringValue())
		require.Equal(t, float64(iap.StatusOK), fields["status"].GetNumberValue())
		require.False(t, fields["seen_before"].GetBoolValue())
		require.Equal(t, testProductID, fields["product_id"].GetStringValue())

		// The server's shared secret is used when the request carries none.
		calls := env.transport.Calls()
		require.Len(t, calls, 2)
		require.Equal(t, "shared-secret", calls[0].Request.Password)

		record, err := store.GetRecord(context.Background(), iap.GetReceiptID(receipt))
		require.NoError(t, err)
		require.Equal(t, iap.IntentPurchase, record.Type)
		require.Equal(t, testProductID, record.ProductID)
		require.Equal(t, testBundleID, record.BundleID)
		require.Equal(t, iap.EnvironmentSandbox, record.Environment)

		select {
		case e := <-stream.Channel():
			require.Equal(t, fields["receipt_id"].GetStringValue(), e.ReceiptID)
			require.False(t, e.SeenBefore)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for validation event")
		}
	})

	t.Run("SecondSubmission", func(t *testing.T) {
		resp, err := env.server.Validate(context.Background(), req)
		require.NoError(t, err)
		require.True(t, resp.GetFields()["seen_before"].GetBoolValue())

		select {
		case e := <-stream.Channel():
			require.True(t, e.SeenBefore)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for validation event")
		}
	})
}

func testValidatePurchase_ProductMismatch(t *testing.T, store iap.Store) {
	env := newServerEnv(store)
	env.transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: "com.flipchat.app.other"}))

	receipt := []byte("mismatched receipt")
	req := newRequest(t, map[string]any{
		iap.FieldType:         "purchase",
		iap.FieldReceipt:      base64.StdEncoding.EncodeToString(receipt),
		iap.FieldProductID:    testProductID,
		iap.FieldSharedSecret: "request-secret",
	})

	_, err := env.server.Validate(context.Background(), req)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, "request-secret", env.transport.Calls()[0].Request.Password)

	_, err = store.GetRecord(context.Background(), iap.GetReceiptID(receipt))
	require.Equal(t, iap.ErrNotFound, err)
	require.Empty(t, env.publisher.Published())
}

func testValidateSubscription(t *testing.T, store iap.Store) {
	env := newServerEnv(store)
	expiresAt := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Second)
	env.transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(
		iap.StatusOK,
		testBundleID,
		memory.InApp{ProductID: testSubscription, ExpiresAt: expiresAt.Add(-30 * 24 * time.Hour)},
		memory.InApp{ProductID: testSubscription, ExpiresAt: expiresAt},
	))

	receipt := []byte("subscription receipt")
	req := newRequest(t, map[string]any{
		iap.FieldType:                   "subscription",
		iap.FieldReceipt:                base64.StdEncoding.EncodeToString(receipt),
		iap.FieldExcludeOldTransactions: true,
	})

	resp, err := env.server.Validate(context.Background(), req)
	require.NoError(t, err)

	fields := resp.GetFields()
	require.True(t, fields["subscription_active"].GetBoolValue())
	require.Equal(t, expiresAt.Format(time.RFC3339), fields["expires_at"].GetStringValue())
	require.Equal(t, testSubscription, fields["product_id"].GetStringValue())

	calls := env.transport.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Request.ExcludeOldTransactions)
	require.True(t, *calls[0].Request.ExcludeOldTransactions)

	record, err := store.GetRecord(context.Background(), iap.GetReceiptID(receipt))
	require.NoError(t, err)
	require.Equal(t, iap.IntentSubscription, record.Type)
	require.NotNil(t, record.ExpiresAt)
	require.True(t, expiresAt.Equal(*record.ExpiresAt))
}

func testValidate_InvalidRequests(t *testing.T, store iap.Store) {
	env := newServerEnv(store)

	for _, tc := range []struct {
		name   string
		fields map[string]any
		code   codes.Code
	}{
		{
			name:   "InvalidBase64",
			fields: map[string]any{iap.FieldType: "purchase", iap.FieldReceipt: "%%%", iap.FieldProductID: testProductID},
			code:   codes.InvalidArgument,
		},
		{
			name:   "MissingProduct",
			fields: map[string]any{iap.FieldType: "purchase", iap.FieldReceipt: "cmVjZWlwdA=="},
			code:   codes.InvalidArgument,
		},
		{
			name:   "UnknownType",
			fields: map[string]any{iap.FieldType: "refund", iap.FieldReceipt: "cmVjZWlwdA=="},
			code:   codes.InvalidArgument,
		},
		{
			name:   "EmptyReceipt",
			fields: map[string]any{iap.FieldType: "subscription", iap.FieldReceipt: ""},
			code:   codes.InvalidArgument,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.server.Validate(context.Background(), newRequest(t, tc.fields))
			require.Equal(t, tc.code, status.Code(err))
		})
	}

	require.Empty(t, env.transport.Calls())
}

func testValidate_TransportFailure(t *testing.T, store iap.Store) {
	env := newServerEnv(store)
	env.transport.SetError(iap.EnvironmentProduction, errors.New("connection reset by peer"))

	req := newRequest(t, map[string]any{
		iap.FieldType:    "subscription",
		iap.FieldReceipt: base64.StdEncoding.EncodeToString([]byte("receipt")),
	})

	_, err := env.server.Validate(context.Background(), req)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Len(t, env.transport.Calls(), 1)
}
