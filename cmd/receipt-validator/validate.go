package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/receipt-validator/iap"
)

type validateOpts struct {
	file       string
	receipt    string
	devicePath string
	refreshCmd string

	productID    string
	subscription bool
	excludeOld   bool
	sharedSecret string
}

func newValidateCommand(root *rootOpts) *cobra.Command {
	opts := &validateOpts{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a single receipt and print the outcome as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			source, err := opts.source()
			if err != nil {
				return err
			}

			secret := opts.sharedSecret
			if secret == "" {
				secret = cfg.SharedSecret
			}

			var intent iap.Intent
			if opts.subscription {
				intent = &iap.SubscriptionIntent{
					SharedSecret:           secret,
					ExcludeOldTransactions: opts.excludeOld,
					Source:                 source,
				}
			} else {
				if opts.productID == "" {
					return errors.New("--product is required unless --subscription is set")
				}
				intent = &iap.PurchaseIntent{
					ProductID:    opts.productID,
					SharedSecret: secret,
					Source:       source,
				}
			}

			validator, closeFn := newValidator(log, cfg)
			defer closeFn()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			result, err := validator.Validate(ctx, intent)
			if err != nil {
				log.Debug("Validation failed", zap.Error(err))
				if printErr := printJSON(cmd, map[string]any{
					"valid": false,
					"kind":  iap.KindOf(err).String(),
					"error": err.Error(),
				}); printErr != nil {
					return printErr
				}
				return err
			}

			return printJSON(cmd, toOutput(result))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.file, "file", "", "read the receipt from a file")
	flags.StringVar(&opts.receipt, "receipt", "", "base64 encoded receipt")
	flags.StringVar(&opts.devicePath, "device-path", "", "path of the receipt stored on the device")
	flags.StringVar(&opts.refreshCmd, "refresh", "", "shell command that refreshes the device receipt when it is missing")
	flags.StringVar(&opts.productID, "product", "", "product id the receipt must contain")
	flags.BoolVar(&opts.subscription, "subscription", false, "validate subscriptions instead of a purchase")
	flags.BoolVar(&opts.excludeOld, "exclude-old", false, "only return the latest renewal of each subscription")
	flags.StringVar(&opts.sharedSecret, "secret", "", "App Store shared secret, overrides the configured one")

	cmd.MarkFlagsMutuallyExclusive("file", "receipt", "device-path")
	cmd.MarkFlagsOneRequired("file", "receipt", "device-path")

	return cmd
}

func (o *validateOpts) source() (iap.Source, error) {
	switch {
	case o.receipt != "":
		data, err := base64.StdEncoding.DecodeString(o.receipt)
		if err != nil {
			return nil, errors.Wrap(err, "receipt must be base64 encoded")
		}
		return iap.NewInMemorySource(data), nil
	case o.file != "":
		return iap.NewFileSource(o.file), nil
	default:
		var refresher iap.Refresher
		if o.refreshCmd != "" {
			refresher = commandRefresher(o.refreshCmd)
		}
		return iap.NewDeviceSource(iap.NewFileLocator(o.devicePath), refresher), nil
	}
}

// commandRefresher runs command in a shell and reports its exit status.
func commandRefresher(command string) iap.Refresher {
	return iap.RefresherFunc(func(done func(error)) {
		go func() {
			cmd := exec.Command("sh", "-c", command)
			cmd.Stderr = os.Stderr
			done(cmd.Run())
		}()
	})
}

func toOutput(result *iap.Result) map[string]any {
	out := map[string]any{
		"valid":       true,
		"request_id":  result.RequestID,
		"receipt_id":  iap.ReceiptIDString(result.ReceiptID),
		"environment": result.Environment().String(),
		"attempts":    len(result.Attempts),
		"bundle_id":   result.Response.BundleID(),
		"products":    result.Response.ProductIDs(),
	}
	if sub := result.Subscription; sub != nil {
		subscription := map[string]any{
			"active":     sub.Active,
			"product_id": sub.ProductID,
			"cancelled":  sub.Cancelled,
		}
		if !sub.ExpiresAt.IsZero() {
			subscription["expires_at"] = sub.ExpiresAt.UTC().Format(time.RFC3339)
		}
		out["subscription"] = subscription
	}
	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
