// AngelaMos | 2026
// orchestrator_test.go

package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	receipt     *Receipt
	receipts    []Receipt
	purchaseErr error
	restoreErr  error
}

func (f *fakeStore) Purchase(ctx context.Context, productID string) (*Receipt, error) {
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	return f.receipt, nil
}

func (f *fakeStore) Restore(ctx context.Context) ([]Receipt, error) {
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	return f.receipts, nil
}

type backendFixture struct {
	mux       *http.ServeMux
	server    *httptest.Server
	committed []CommitRequest
}

func newBackend(t *testing.T) *backendFixture {
	t.Helper()

	fx := &backendFixture{mux: http.NewServeMux()}

	fx.mux.HandleFunc("GET /v1/entitlement", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, EntitlementStatus{
			Premium:     true,
			PlanType:    "single",
			DeviceMatch: true,
		})
	})

	fx.server = httptest.NewServer(fx.mux)
	t.Cleanup(fx.server.Close)

	return fx
}

func (fx *backendFixture) acceptCommits(t *testing.T, outcome string) {
	t.Helper()

	handler := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))

		var req CommitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fx.committed = append(fx.committed, req)

		writeData(w, CommitResponse{
			Outcome:    outcome,
			PlanType:   "single",
			PurchaseID: "p-1",
		})
	}
	fx.mux.HandleFunc("POST /v1/purchases", handler)
	fx.mux.HandleFunc("POST /v1/purchases/restore", handler)
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // test handler
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func staticToken(ctx context.Context) (string, error) {
	return "session-token", nil
}

func newOrchestrator(t *testing.T, store Store, baseURL string) *Orchestrator {
	t.Helper()

	dir := t.TempDir()
	return NewOrchestrator(
		store,
		NewAPI(baseURL, staticToken),
		NewSnapshotCache(dir, time.Hour),
		NewDeviceIdentity(dir),
		slog.New(slog.DiscardHandler),
	)
}

func TestPurchaseCompleted(t *testing.T) {
	fx := newBackend(t)
	fx.acceptCommits(t, "purchased")

	store := &fakeStore{receipt: &Receipt{
		Platform:  "android",
		ProductID: "premium_single",
		Token:     "pt-1",
	}}
	orch := newOrchestrator(t, store, fx.server.URL)

	result, err := orch.Purchase(context.Background(), "premium_single")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "single", result.PlanType)

	require.Len(t, fx.committed, 1)
	assert.Equal(t, "pt-1", fx.committed[0].ReceiptToken)
	assert.NotEmpty(t, fx.committed[0].Nonce)
	assert.NotEmpty(t, fx.committed[0].DeviceHash)
}

func TestPurchaseCancelledIsQuiet(t *testing.T) {
	fx := newBackend(t)
	fx.acceptCommits(t, "purchased")

	store := &fakeStore{purchaseErr: ErrPurchaseCancelled}
	orch := newOrchestrator(t, store, fx.server.URL)

	result, err := orch.Purchase(context.Background(), "premium_single")
	require.NoError(t, err, "cancellation is an outcome, not an error")

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Empty(t, fx.committed, "nothing reaches the backend")
}

func TestPurchaseRequiresNativeApp(t *testing.T) {
	fx := newBackend(t)
	store := &fakeStore{purchaseErr: ErrNativeAppRequired}
	orch := newOrchestrator(t, store, fx.server.URL)

	result, err := orch.Purchase(context.Background(), "premium_single")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequiresNativeApp, result.Outcome)
}

func TestRestoreAlreadyOwned(t *testing.T) {
	fx := newBackend(t)
	fx.acceptCommits(t, "already_owned")

	store := &fakeStore{receipts: []Receipt{{
		Platform:  "android",
		ProductID: "premium_single",
		Token:     "pt-1",
	}}}
	orch := newOrchestrator(t, store, fx.server.URL)

	result, err := orch.Restore(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyOwned, result.Outcome)
}

func TestRestoreNothingToRestore(t *testing.T) {
	fx := newBackend(t)
	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	_, err := orch.Restore(context.Background())
	assert.Error(t, err)
}

func TestStatusFallsBackToSnapshotOffline(t *testing.T) {
	fx := newBackend(t)
	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	// Prime the snapshot with a live answer, then lose the backend.
	status, err := orch.Status(context.Background(), false)
	require.NoError(t, err)
	require.True(t, status.Premium)

	fx.server.Close()

	status, err = orch.Status(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, status.Premium, "snapshot carries the offline client")
}

func TestStatusFallsBackToExpiredSnapshotOffline(t *testing.T) {
	fx := newBackend(t)
	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	status, err := orch.Status(context.Background(), false)
	require.NoError(t, err)
	require.True(t, status.Premium)

	// Age the snapshot past its TTL, then lose the backend.
	orch.cache.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	fx.server.Close()

	status, err = orch.Status(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, status.Premium,
		"an expired snapshot is still the last resort when the refresh fails")
}

func TestStatusOfflineWithoutSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	orch := newOrchestrator(t, &fakeStore{}, server.URL)

	_, err := orch.Status(context.Background(), false)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestInitSharesOneFlight(t *testing.T) {
	fx := newBackend(t)
	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	status, err := orch.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Premium)
}

func TestRegisterDeviceRefreshesSnapshot(t *testing.T) {
	fx := newBackend(t)
	fx.mux.HandleFunc("POST /v1/devices", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DeviceHash string `json:"device_hash"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.DeviceHash)

		writeData(w, DeviceRegistration{
			IsNewDevice:             false,
			PreviousDeviceLoggedOut: true,
		})
	})

	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	reg, err := orch.RegisterDevice(context.Background())
	require.NoError(t, err)
	assert.True(t, reg.PreviousDeviceLoggedOut)

	// The refresh after registration must have stored a snapshot.
	cached, ok := orch.cache.Load()
	require.True(t, ok)
	assert.True(t, cached.Premium)
}

func TestAcceptInvite(t *testing.T) {
	fx := newBackend(t)
	fx.mux.HandleFunc("POST /v1/family/invites/accept", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InviteToken string `json:"invite_token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tok-1", req.InviteToken)

		writeData(w, FamilyMembership{GroupID: "g-1", OwnerID: "owner-1"})
	})

	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	membership, err := orch.AcceptInvite(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "g-1", membership.GroupID)
}

func TestLogoutDropsSnapshot(t *testing.T) {
	fx := newBackend(t)
	orch := newOrchestrator(t, &fakeStore{}, fx.server.URL)

	_, err := orch.Status(context.Background(), false)
	require.NoError(t, err)

	_, ok := orch.cache.Load()
	require.True(t, ok)

	require.NoError(t, orch.Logout())

	_, ok = orch.cache.Load()
	assert.False(t, ok)
}

func TestCommitRejectedReceipt(t *testing.T) {
	fx := newBackend(t)
	fx.mux.HandleFunc("POST /v1/purchases", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		//nolint:errcheck // test handler
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "validation_failed",
				"message": "store rejected receipt",
			},
		})
	})

	store := &fakeStore{receipt: &Receipt{
		Platform:  "android",
		ProductID: "premium_single",
		Token:     "pt-bad",
	}}
	orch := newOrchestrator(t, store, fx.server.URL)

	_, err := orch.Purchase(context.Background(), "premium_single")
	assert.ErrorIs(t, err, ErrReceiptRejected)
}
