// AngelaMos | 2026
// handler_test.go

package webhook

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(revoker Revoker) http.Handler {
	svc := NewService(revoker, nil, slog.New(slog.DiscardHandler))
	handler := NewHandler(svc, "push-secret", slog.New(slog.DiscardHandler))

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func googlePushBody(t *testing.T, notification *DeveloperNotification) []byte {
	t.Helper()

	payload, err := json.Marshal(notification)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(payload),
			"messageId": "m-1",
		},
		"subscription": "projects/test/subscriptions/rtdn",
	})
	require.NoError(t, err)

	return body
}

func TestGoogleWebhookRevokes(t *testing.T) {
	revoker := &fakeRevoker{known: map[string]bool{"pt-1": true}}
	router := newTestHandler(revoker)

	body := googlePushBody(t, &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-1",
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/google?secret=push-secret",
		bytes.NewReader(body),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"pt-1"}, revoker.byToken)
}

func TestGoogleWebhookRejectsBadSecret(t *testing.T) {
	revoker := &fakeRevoker{known: map[string]bool{"pt-1": true}}
	router := newTestHandler(revoker)

	body := googlePushBody(t, &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-1",
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/google?secret=wrong",
		bytes.NewReader(body),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, revoker.byToken)
}

func TestGoogleWebhookBadEnvelope(t *testing.T) {
	router := newTestHandler(&fakeRevoker{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/google?secret=push-secret",
		bytes.NewReader([]byte(`{"message":{"data":"%%%not-base64"}}`)),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoogleWebhookAcksTransientFailure(t *testing.T) {
	revoker := &fakeRevoker{transientErr: assert.AnError}
	router := newTestHandler(revoker)

	body := googlePushBody(t, &DeveloperNotification{
		OneTimeProductNotification: &OneTimeProductNotification{
			NotificationType: oneTimeProductCanceled,
			PurchaseToken:    "pt-1",
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/google?secret=push-secret",
		bytes.NewReader(body),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, revoker.byToken)
}

func TestAppleWebhookUnverifiablePayload(t *testing.T) {
	router := newTestHandler(&fakeRevoker{})

	body, err := json.Marshal(map[string]string{"signedPayload": "a.b.c"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/apple",
		bytes.NewReader(body),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppleWebhookMissingPayload(t *testing.T) {
	router := newTestHandler(&fakeRevoker{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/apple",
		bytes.NewReader([]byte(`{}`)),
	)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
