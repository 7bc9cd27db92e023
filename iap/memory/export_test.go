package memory

import "github.com/code-payments/receipt-validator/iap"

// The shared harnesses in iap/tests depend on this package, so the tests
// using them live in memory_test and reset state through these hooks.

func ResetStore(s iap.Store) {
	s.(*InMemoryStore).reset()
}

func ResetPublisher(p *Publisher) {
	p.reset()
}
