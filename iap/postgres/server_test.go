//go:build integration

package postgres

import (
	"testing"

	"github.com/code-payments/receipt-validator/iap/tests"
)

func TestIap_PostgresServer(t *testing.T) {
	testStore := NewInPostgres(testDB)
	teardown := func() {
		testStore.(*store).reset()
	}
	tests.RunServerTests(t, testStore, teardown)
}
