// AngelaMos | 2026
// service_test.go

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type fakeRevoker struct {
	known        map[string]bool
	knownOrders  map[string]bool
	byToken      []string
	byOrder      []string
	transientErr error
}

func (f *fakeRevoker) RevokeByReceiptToken(ctx context.Context, token string) error {
	if f.transientErr != nil {
		return f.transientErr
	}
	if !f.known[token] {
		return fmt.Errorf("get purchase: %w", core.ErrNotFound)
	}
	f.byToken = append(f.byToken, token)
	return nil
}

func (f *fakeRevoker) RevokeByOrderID(ctx context.Context, orderID string) error {
	if f.transientErr != nil {
		return f.transientErr
	}
	if !f.knownOrders[orderID] {
		return fmt.Errorf("get purchase: %w", core.ErrNotFound)
	}
	f.byOrder = append(f.byOrder, orderID)
	return nil
}

func newTestService(revoker Revoker) *Service {
	return NewService(revoker, nil, slog.New(slog.DiscardHandler))
}

func TestGoogleCancellationRevokesByToken(t *testing.T) {
	revoker := &fakeRevoker{known: map[string]bool{"pt-1": true}}
	svc := newTestService(revoker)

	err := svc.HandleGoogleNotification(context.Background(), "m-1", &DeveloperNotification{
		PackageName: "com.lumenlearn.app",
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-1",
			SKU:              "premium_single",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"pt-1"}, revoker.byToken)
}

func TestGooglePurchasedNotificationIgnored(t *testing.T) {
	revoker := &fakeRevoker{known: map[string]bool{"pt-1": true}}
	svc := newTestService(revoker)

	err := svc.HandleGoogleNotification(context.Background(), "m-1", &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductPurchased,
			PurchaseToken:    "pt-1",
		},
	})
	require.NoError(t, err)

	assert.Empty(t, revoker.byToken)
}

func TestGoogleVoidRevokesByOrderID(t *testing.T) {
	revoker := &fakeRevoker{knownOrders: map[string]bool{"GPA.1": true}}
	svc := newTestService(revoker)

	err := svc.HandleGoogleNotification(context.Background(), "m-2", &DeveloperNotification{
		VoidedPurchaseNotification: &VoidedPurchaseNotification{
			OrderID:       "GPA.1",
			PurchaseToken: "pt-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"GPA.1"}, revoker.byOrder)
}

func TestGoogleVoidFallsBackToToken(t *testing.T) {
	revoker := &fakeRevoker{known: map[string]bool{"pt-1": true}}
	svc := newTestService(revoker)

	err := svc.HandleGoogleNotification(context.Background(), "m-3", &DeveloperNotification{
		VoidedPurchaseNotification: &VoidedPurchaseNotification{
			OrderID:       "GPA.unknown",
			PurchaseToken: "pt-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"pt-1"}, revoker.byToken)
}

func TestGoogleUnknownPurchaseIsSwallowed(t *testing.T) {
	svc := newTestService(&fakeRevoker{})

	err := svc.HandleGoogleNotification(context.Background(), "m-4", &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-unknown",
		},
	})
	assert.NoError(t, err, "unknown purchases must not trigger store retries")
}

func TestGoogleTransientErrorBubblesForRedelivery(t *testing.T) {
	boom := errors.New("db down")
	svc := newTestService(&fakeRevoker{transientErr: boom})

	err := svc.HandleGoogleNotification(context.Background(), "m-5", &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-1",
		},
	})
	assert.ErrorIs(t, err, boom)
}

func TestGoogleSubscriptionNotificationIgnored(t *testing.T) {
	revoker := &fakeRevoker{}
	svc := newTestService(revoker)

	err := svc.HandleGoogleNotification(context.Background(), "m-6", &DeveloperNotification{
		SubscriptionNotification: map[string]any{"notificationType": 4},
	})
	require.NoError(t, err)

	assert.Empty(t, revoker.byToken)
	assert.Empty(t, revoker.byOrder)
}

func TestAppleUnverifiablePayloadRejected(t *testing.T) {
	svc := newTestService(&fakeRevoker{})

	err := svc.HandleAppleNotification(context.Background(), "not.a.jws")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
