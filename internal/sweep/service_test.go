// AngelaMos | 2026
// service_test.go

package sweep

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/ledger"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
)

type fakeLister struct {
	purchases []ledger.Purchase
}

func (f *fakeLister) ListActivePurchases(
	ctx context.Context,
	afterID string,
	limit int,
) ([]ledger.Purchase, error) {
	var page []ledger.Purchase
	for _, p := range f.purchases {
		if p.ID > afterID {
			page = append(page, p)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type fakeRevoker struct {
	revoked []string
}

func (f *fakeRevoker) Revoke(ctx context.Context, purchaseID string) error {
	f.revoked = append(f.revoked, purchaseID)
	return nil
}

type fakeVerifier struct {
	results map[string]*verifier.Result
	errs    map[string]error
}

func (f *fakeVerifier) Verify(
	ctx context.Context,
	platform verifier.Platform,
	productID, receiptToken string,
) (*verifier.Result, error) {
	if err, ok := f.errs[receiptToken]; ok {
		return nil, err
	}
	if r, ok := f.results[receiptToken]; ok {
		return r, nil
	}
	return &verifier.Result{Valid: true, CanonicalProductID: productID}, nil
}

func newTestService(
	lister *fakeLister,
	revoker *fakeRevoker,
	v verifier.Verifier,
) *Service {
	return NewService(lister, revoker, v, config.SweepConfig{
		Enabled:   true,
		BatchSize: 2,
	}, slog.New(slog.DiscardHandler))
}

func androidPurchase(id, token string) ledger.Purchase {
	return ledger.Purchase{
		ID:           id,
		UserID:       "user-" + id,
		Platform:     "android",
		ProductID:    "premium_single",
		ReceiptToken: token,
		Verified:     true,
	}
}

func TestRunRevokesRefundedPurchases(t *testing.T) {
	lister := &fakeLister{purchases: []ledger.Purchase{
		androidPurchase("a", "token-ok"),
		androidPurchase("b", "token-refunded"),
		androidPurchase("c", "token-ok-2"),
	}}
	revoker := &fakeRevoker{}
	v := &fakeVerifier{results: map[string]*verifier.Result{
		"token-refunded": {Valid: true, Revoked: true},
	}}

	summary, err := newTestService(lister, revoker, v).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 2, summary.Valid)
	assert.Equal(t, 1, summary.Revoked)
	assert.Equal(t, []string{"b"}, revoker.revoked)
}

func TestRunFailsOpenOnStoreErrors(t *testing.T) {
	lister := &fakeLister{purchases: []ledger.Purchase{
		androidPurchase("a", "token-flaky"),
		androidPurchase("b", "token-ok"),
	}}
	revoker := &fakeRevoker{}
	v := &fakeVerifier{errs: map[string]error{
		"token-flaky": core.ErrVerificationUnavailable,
	}}

	summary, err := newTestService(lister, revoker, v).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Valid)
	assert.Empty(t, revoker.revoked, "an unreachable store never revokes")
}

func TestRunSkipsApplePurchases(t *testing.T) {
	apple := androidPurchase("a", "token-ios")
	apple.Platform = "ios"

	lister := &fakeLister{purchases: []ledger.Purchase{
		apple,
		androidPurchase("b", "token-ok"),
	}}
	revoker := &fakeRevoker{}

	summary, err := newTestService(lister, revoker, &fakeVerifier{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Checked)
}

func TestRunPagesThroughBatches(t *testing.T) {
	lister := &fakeLister{purchases: []ledger.Purchase{
		androidPurchase("a", "t1"),
		androidPurchase("b", "t2"),
		androidPurchase("c", "t3"),
		androidPurchase("d", "t4"),
		androidPurchase("e", "t5"),
	}}
	revoker := &fakeRevoker{}

	summary, err := newTestService(lister, revoker, &fakeVerifier{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Checked)
	assert.Equal(t, 5, summary.Valid)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	lister := &fakeLister{purchases: []ledger.Purchase{
		androidPurchase("a", "t1"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(lister, &fakeRevoker{}, &fakeVerifier{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
