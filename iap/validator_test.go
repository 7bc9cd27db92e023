package iap_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/iap/memory"
)

const (
	testProductID    = "com.flipchat.app.account"
	testSubscription = "com.flipchat.app.monthly"
)

func newTestValidator(transport iap.Transport, opts ...iap.Option) *iap.Validator {
	return iap.NewValidator(zap.NewNop(), transport, opts...)
}

func TestValidator_PurchaseInProduction(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

	receipt := []byte("production receipt")
	result, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID:    testProductID,
		SharedSecret: "secret",
		Source:       iap.NewInMemorySource(receipt),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RequestID)
	require.Equal(t, iap.IntentPurchase, result.Type)
	require.Equal(t, iap.GetReceiptID(receipt), result.ReceiptID)
	require.Equal(t, iap.EnvironmentProduction, result.Environment())
	require.Equal(t, testBundleID, result.Response.BundleID())
	require.Len(t, result.Attempts, 1)
	require.Nil(t, result.Subscription)

	calls := transport.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "secret", calls[0].Request.Password)
}

func TestValidator_SandboxReceipt(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusSandboxReceiptOnProduction, ""))
	transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

	path := filepath.Join(t.TempDir(), "receipt")
	require.NoError(t, os.WriteFile(path, []byte("sandbox receipt"), 0o600))

	result, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewFileSource(path),
	})
	require.NoError(t, err)
	require.Equal(t, iap.EnvironmentSandbox, result.Environment())
	require.Len(t, result.Attempts, 2)
}

func TestValidator_SourceFailureSkipsTransport(t *testing.T) {
	dir := t.TempDir()

	for _, tc := range []struct {
		name   string
		source iap.Source
		kind   iap.ErrorKind
	}{
		{"NoReceiptOnDevice", iap.NewDeviceSource(iap.NewFileLocator(filepath.Join(dir, "missing")), nil), iap.KindNoReceiptFound},
		{"EmptyBytes", iap.NewInMemorySource(nil), iap.KindNoReceiptFound},
		{"MissingFile", iap.NewFileSource(filepath.Join(dir, "missing")), iap.KindIOError},
		{
			"RefreshFailed",
			iap.NewDeviceSource(
				iap.NewFileLocator(filepath.Join(dir, "missing")),
				memory.NewRefresher(filepath.Join(dir, "missing"), nil).Fail(errors.New("declined")),
			),
			iap.KindRefreshFailed,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			transport := memory.NewTransport()
			transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

			_, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
				ProductID: testProductID,
				Source:    tc.source,
			})
			require.Error(t, err)
			require.Equal(t, tc.kind, iap.KindOf(err))
			require.Empty(t, transport.Calls())
		})
	}
}

func TestValidator_DeviceRefresh(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

	path := filepath.Join(t.TempDir(), "receipt")
	refresher := memory.NewRefresher(path, []byte("refreshed receipt"))

	result, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewDeviceSource(iap.NewFileLocator(path), refresher),
	})
	require.NoError(t, err)
	require.Equal(t, iap.GetReceiptID([]byte("refreshed receipt")), result.ReceiptID)
	require.Equal(t, 1, refresher.Starts())
}

func TestValidator_ProductMismatch(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: "com.flipchat.app.other"}))

	_, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	})
	require.ErrorIs(t, err, iap.ErrProductMismatch)

	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID))
	_, err = newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	})
	require.ErrorIs(t, err, iap.ErrProductMismatch)
}

func TestValidator_BundleMismatch(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, "com.example.other", memory.InApp{ProductID: testProductID}))

	intent := &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	}

	_, err := newTestValidator(transport, iap.WithBundleID(testBundleID)).Validate(context.Background(), intent)
	require.ErrorIs(t, err, iap.ErrProductMismatch)

	// Without a configured bundle id any app's receipt is accepted.
	_, err = newTestValidator(transport).Validate(context.Background(), intent)
	require.NoError(t, err)
}

func TestValidator_RejectedStatus(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(21003, ""))

	_, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	})
	require.Equal(t, iap.KindOther, iap.KindOf(err))

	var statusErr *iap.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, 21003, statusErr.Status)
	require.ErrorIs(t, err, appstore.HandleError(21003))
}

func TestValidator_InitialEnvironment(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentSandbox, memory.NewResponseBody(iap.StatusOK, testBundleID, memory.InApp{ProductID: testProductID}))

	result, err := newTestValidator(transport, iap.WithInitialEnvironment(iap.EnvironmentSandbox)).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	})
	require.NoError(t, err)
	require.Equal(t, iap.EnvironmentSandbox, result.Environment())
	require.Equal(t, iap.EnvironmentSandbox, transport.Calls()[0].Environment)
}

func TestValidator_Subscription(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name         string
		transactions []memory.InApp
		active       bool
		expiresAt    time.Time
		cancelled    bool
	}{
		{
			name: "Active",
			transactions: []memory.InApp{
				{ProductID: testSubscription, TransactionID: "1", ExpiresAt: now.Add(-30 * 24 * time.Hour)},
				{ProductID: testSubscription, TransactionID: "2", ExpiresAt: now.Add(24 * time.Hour)},
			},
			active:    true,
			expiresAt: now.Add(24 * time.Hour),
		},
		{
			name: "Expired",
			transactions: []memory.InApp{
				{ProductID: testSubscription, TransactionID: "1", ExpiresAt: now.Add(-time.Hour)},
			},
			expiresAt: now.Add(-time.Hour),
		},
		{
			name: "Cancelled",
			transactions: []memory.InApp{
				{ProductID: testSubscription, TransactionID: "1", ExpiresAt: now.Add(time.Hour), Cancelled: true},
			},
			expiresAt: now.Add(time.Hour),
			cancelled: true,
		},
		{
			name: "NoSubscriptions",
			transactions: []memory.InApp{
				{ProductID: testProductID, TransactionID: "1"},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			transport := memory.NewTransport()
			transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID, tc.transactions...))

			result, err := newTestValidator(transport).Validate(context.Background(), &iap.SubscriptionIntent{
				SharedSecret:           "secret",
				ExcludeOldTransactions: true,
				Now:                    now,
				Source:                 iap.NewInMemorySource([]byte("receipt")),
			})
			require.NoError(t, err)
			require.NotNil(t, result.Subscription)
			require.Equal(t, tc.active, result.Subscription.Active)
			require.Equal(t, tc.cancelled, result.Subscription.Cancelled)
			if !tc.expiresAt.IsZero() {
				require.True(t, tc.expiresAt.Equal(result.Subscription.ExpiresAt))
				require.Equal(t, testSubscription, result.Subscription.ProductID)
			}

			req := transport.Calls()[0].Request
			require.True(t, *req.ExcludeOldTransactions)
			require.True(t, now.Equal(*req.Now))
		})
	}
}

func TestValidator_SubscriptionFromDecodedReceipt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(24 * time.Hour)

	for _, tc := range []struct {
		name    string
		receipt *appstore.IAPResponse
	}{
		{
			name: "LatestReceiptInfo",
			receipt: &appstore.IAPResponse{
				LatestReceiptInfo: []appstore.InApp{
					{ProductID: testSubscription, TransactionID: "2", ExpiresDate: appstore.ExpiresDate{ExpiresDateMS: strconv.FormatInt(expiresAt.UnixMilli(), 10)}},
				},
			},
		},
		{
			name: "InApp",
			receipt: &appstore.IAPResponse{
				Receipt: appstore.Receipt{
					InApp: []appstore.InApp{
						{ProductID: testSubscription, TransactionID: "2", ExpiresDate: appstore.ExpiresDate{ExpiresDateMS: strconv.FormatInt(expiresAt.UnixMilli(), 10)}},
					},
				},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			// The transport hands back a decoded receipt without the raw body.
			transport := iap.TransportFunc(func(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
				return &iap.Response{Status: iap.StatusOK, Environment: env, Receipt: tc.receipt}, nil
			})

			result, err := newTestValidator(transport).Validate(context.Background(), &iap.SubscriptionIntent{
				Now:    now,
				Source: iap.NewInMemorySource([]byte("receipt")),
			})
			require.NoError(t, err)
			require.True(t, result.Subscription.Active)
			require.Equal(t, testSubscription, result.Subscription.ProductID)
			require.Equal(t, "2", result.Subscription.TransactionID)
			require.True(t, expiresAt.Equal(result.Subscription.ExpiresAt))
		})
	}

	t.Run("NoReceipt", func(t *testing.T) {
		transport := iap.TransportFunc(func(ctx context.Context, env iap.Environment, req *iap.Request) (*iap.Response, error) {
			return &iap.Response{Status: iap.StatusOK, Environment: env}, nil
		})

		_, err := newTestValidator(transport).Validate(context.Background(), &iap.SubscriptionIntent{
			Now:    now,
			Source: iap.NewInMemorySource([]byte("receipt")),
		})
		require.ErrorIs(t, err, iap.ErrMalformedResponse)
	})
}

func TestValidator_MismatchInWrongDirection(t *testing.T) {
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusProductionReceiptOnSandbox, ""))

	_, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{
		ProductID: testProductID,
		Source:    iap.NewInMemorySource([]byte("receipt")),
	})
	require.Equal(t, iap.KindOther, iap.KindOf(err))

	var statusErr *iap.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, iap.StatusProductionReceiptOnSandbox, statusErr.Status)
	require.Len(t, transport.Calls(), 1)
}

func TestValidator_SubscriptionUsesClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	transport := memory.NewTransport()
	transport.SetResponse(iap.EnvironmentProduction, memory.NewResponseBody(iap.StatusOK, testBundleID,
		memory.InApp{ProductID: testSubscription, ExpiresAt: now.Add(time.Minute)},
	))

	intent := &iap.SubscriptionIntent{Source: iap.NewInMemorySource([]byte("receipt"))}
	result, err := newTestValidator(transport, iap.WithClock(func() time.Time { return now })).Validate(context.Background(), intent)
	require.NoError(t, err)
	require.True(t, result.Subscription.Active)
	require.True(t, now.Equal(*transport.Calls()[0].Request.Now))

	// The caller's intent is left untouched.
	require.True(t, intent.Now.IsZero())
}

func TestValidator_NoSource(t *testing.T) {
	transport := memory.NewTransport()

	_, err := newTestValidator(transport).Validate(context.Background(), &iap.PurchaseIntent{ProductID: testProductID})
	require.Equal(t, iap.KindOther, iap.KindOf(err))
	require.Empty(t, transport.Calls())
}
