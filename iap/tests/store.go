package tests

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/query"
)

func RunStoreTests(t *testing.T, s iap.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store){
		testIapStore_HappyPath,
		testIapStore_Subscription,
		testIapStore_Paging,
	} {
		tf(t, s)
		teardown()
	}
}

func testIapStore_HappyPath(t *testing.T, store iap.Store) {
	expected := &iap.Record{
		ReceiptID:   iap.GetReceiptID([]byte("receipt")),
		Type:        iap.IntentPurchase,
		ProductID:   "com.flipchat.app.account",
		BundleID:    "com.flipchat.app",
		Environment: iap.EnvironmentSandbox,
		Status:      iap.StatusOK,
		CreatedAt:   time.Now(),
	}

	_, err := store.GetRecord(context.Background(), expected.ReceiptID)
	require.Equal(t, iap.ErrNotFound, err)

	require.NoError(t, store.CreateRecord(context.Background(), expected))

	actual, err := store.GetRecord(context.Background(), expected.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, expected.ReceiptID, actual.ReceiptID)
	require.Equal(t, expected.Type, actual.Type)
	require.Equal(t, expected.ProductID, actual.ProductID)
	require.Equal(t, expected.BundleID, actual.BundleID)
	require.Equal(t, expected.Environment, actual.Environment)
	require.Equal(t, expected.Status, actual.Status)
	require.Nil(t, actual.ExpiresAt)

	require.Equal(t, iap.ErrExists, store.CreateRecord(context.Background(), expected))
}

func testIapStore_Subscription(t *testing.T, store iap.Store) {
	expiresAt := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Millisecond)
	expected := &iap.Record{
		ReceiptID:   iap.GetReceiptID([]byte("subscription receipt")),
		Type:        iap.IntentSubscription,
		ProductID:   "com.flipchat.app.monthly",
		BundleID:    "com.flipchat.app",
		Environment: iap.EnvironmentProduction,
		Status:      iap.StatusOK,
		ExpiresAt:   &expiresAt,
		CreatedAt:   time.Now(),
	}

	require.NoError(t, store.CreateRecord(context.Background(), expected))

	actual, err := store.GetRecord(context.Background(), expected.ReceiptID)
	require.NoError(t, err)
	require.Equal(t, iap.IntentSubscription, actual.Type)
	require.NotNil(t, actual.ExpiresAt)
	require.True(t, expiresAt.Equal(*actual.ExpiresAt))

	// Records handed out are copies.
	*actual.ExpiresAt = time.Time{}
	again, err := store.GetRecord(context.Background(), expected.ReceiptID)
	require.NoError(t, err)
	require.True(t, expiresAt.Equal(*again.ExpiresAt))
}

func testIapStore_Paging(t *testing.T, store iap.Store) {
	_, err := store.GetRecords(context.Background())
	require.Equal(t, iap.ErrNotFound, err)

	var ids [][]byte
	for i := 0; i < 5; i++ {
		record := &iap.Record{
			ReceiptID:   iap.GetReceiptID([]byte(fmt.Sprintf("receipt-%d", i))),
			Type:        iap.IntentPurchase,
			ProductID:   "com.flipchat.app.account",
			Environment: iap.EnvironmentProduction,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.CreateRecord(context.Background(), record))
		ids = append(ids, record.ReceiptID)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i], ids[j]) < 0 })

	var paged [][]byte
	var token []byte
	for {
		records, err := store.GetRecords(context.Background(), query.WithLimit(2), query.WithToken(token))
		if err == iap.ErrNotFound {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(records), 2)

		for _, record := range records {
			paged = append(paged, record.ReceiptID)
		}
		token = records[len(records)-1].ReceiptID
	}
	require.Equal(t, ids, paged)

	records, err := store.GetRecords(context.Background(), query.WithDescending(), query.WithLimit(3))
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, ids[4], records[0].ReceiptID)
	require.Equal(t, ids[2], records[2].ReceiptID)

	records, err = store.GetRecords(context.Background(), query.WithDescending(), query.WithToken(ids[1]))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, ids[0], records[0].ReceiptID)
}
