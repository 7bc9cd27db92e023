package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/receipt-validator/iap"
)

// Subscriber returns a channel receiving the events published after the call,
// and a function releasing the subscription.
type Subscriber func(t *testing.T) (<-chan *iap.Event, func())

func RunPublisherTests(t *testing.T, p iap.Publisher, subscribe Subscriber, teardown func()) {
	for _, tf := range []func(t *testing.T, p iap.Publisher, subscribe Subscriber){
		testPublish,
		testPublish_Many,
	} {
		tf(t, p, subscribe)
		teardown()
	}
}

func testPublish(t *testing.T, p iap.Publisher, subscribe Subscriber) {
	events, unsubscribe := subscribe(t)
	defer unsubscribe()

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	expected := &iap.Event{
		ReceiptID:   iap.ReceiptIDString(iap.GetReceiptID([]byte("receipt"))),
		Type:        iap.IntentSubscription.String(),
		ProductID:   "com.flipchat.app.monthly",
		Environment: iap.EnvironmentSandbox.String(),
		ExpiresAt:   expiresAt,
		ValidatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, p.Publish(context.Background(), expected))

	select {
	case actual := <-events:
		require.Equal(t, expected.ReceiptID, actual.ReceiptID)
		require.Equal(t, expected.Type, actual.Type)
		require.Equal(t, expected.ProductID, actual.ProductID)
		require.Equal(t, expected.Environment, actual.Environment)
		require.False(t, actual.SeenBefore)
		require.True(t, expected.ExpiresAt.Equal(actual.ExpiresAt))
		require.True(t, expected.ValidatedAt.Equal(actual.ValidatedAt))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// Delivery order is not guaranteed, so only the set of events is checked.
func testPublish_Many(t *testing.T, p iap.Publisher, subscribe Subscriber) {
	events, unsubscribe := subscribe(t)
	defer unsubscribe()

	expected := map[string]bool{}
	for _, receipt := range []string{"a", "b", "c"} {
		e := &iap.Event{
			ReceiptID:   iap.ReceiptIDString(iap.GetReceiptID([]byte(receipt))),
			Type:        iap.IntentPurchase.String(),
			Environment: iap.EnvironmentProduction.String(),
			SeenBefore:  receipt == "b",
			ValidatedAt: time.Now(),
		}
		expected[e.ReceiptID] = e.SeenBefore
		require.NoError(t, p.Publish(context.Background(), e))
	}

	for i := 0; i < 3; i++ {
		select {
		case actual := <-events:
			seenBefore, ok := expected[actual.ReceiptID]
			require.True(t, ok)
			require.Equal(t, seenBefore, actual.SeenBefore)
			delete(expected, actual.ReceiptID)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Empty(t, expected)
}
