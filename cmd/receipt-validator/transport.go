package main

import (
	"go.uber.org/zap"

	"github.com/code-payments/receipt-validator/config"
	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/iap/apple"
	"github.com/code-payments/receipt-validator/iap/cache"
)

// newValidator wires the HTTP transport, optionally behind the response
// cache, into a Validator. The returned func releases the cache.
func newValidator(log *zap.Logger, cfg *config.Config) (*iap.Validator, func()) {
	var transport iap.Transport = apple.NewTransport(
		apple.WithEndpoints(cfg.ProductionURL, cfg.SandboxURL),
		apple.WithTimeout(cfg.Timeout),
	)

	closeFn := func() {}
	if cfg.CacheTTL > 0 {
		cached := cache.NewInCache(transport, cfg.CacheTTL)
		transport = cached
		closeFn = cached.Close
	}

	opts := []iap.Option{iap.WithInitialEnvironment(cfg.InitialEnvironment())}
	if cfg.BundleID != "" {
		opts = append(opts, iap.WithBundleID(cfg.BundleID))
	}

	return iap.NewValidator(log, transport, opts...), closeFn
}
