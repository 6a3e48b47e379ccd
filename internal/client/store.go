// AngelaMos | 2026
// store.go

package client

import (
	"context"
	"errors"
)

// ErrPurchaseCancelled marks a flow the user backed out of. Callers treat it
// as a quiet outcome, not a failure.
var ErrPurchaseCancelled = errors.New("purchase cancelled by user")

// ErrNativeAppRequired is returned where no billing surface exists, for
// example a web build. The UI should point the user at the native app.
var ErrNativeAppRequired = errors.New("purchase requires the native app")

// Receipt is what a platform billing flow hands back on success.
type Receipt struct {
	Platform  string
	ProductID string
	Token     string
}

// Store abstracts the platform billing client. Implementations wrap
// StoreKit or Play Billing; tests use fakes.
type Store interface {
	// Purchase runs the platform purchase flow for one product. Returns
	// ErrPurchaseCancelled when the user dismisses the sheet.
	Purchase(ctx context.Context, productID string) (*Receipt, error)

	// Restore returns every receipt the store account still holds.
	Restore(ctx context.Context) ([]Receipt, error)
}
