package memory_test

import (
	"testing"

	"github.com/code-payments/receipt-validator/iap/memory"
	"github.com/code-payments/receipt-validator/iap/tests"
)

func TestIap_MemoryStore(t *testing.T) {
	testStore := memory.NewInMemory()
	teardown := func() {
		memory.ResetStore(testStore)
	}
	tests.RunStoreTests(t, testStore, teardown)
}
