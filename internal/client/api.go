// AngelaMos | 2026
// api.go

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrReceiptRejected is returned when the backend refused the receipt as
// invalid, revoked, or owned by another account.
var ErrReceiptRejected = errors.New("receipt rejected")

// ErrBackendUnavailable wraps transport failures and 5xx answers, the cases
// where the snapshot cache should carry the client.
var ErrBackendUnavailable = errors.New("backend unavailable")

// TokenSource supplies the session token attached to every request.
type TokenSource func(ctx context.Context) (string, error)

type CommitRequest struct {
	Platform     string `json:"platform"`
	ProductID    string `json:"product_id"`
	ReceiptToken string `json:"receipt_token"`
	DeviceHash   string `json:"device_hash"`
	Nonce        string `json:"nonce"`
}

type CommitResponse struct {
	Outcome    string `json:"outcome"`
	PlanType   string `json:"plan_type"`
	PurchaseID string `json:"purchase_id"`
}

type EntitlementStatus struct {
	Premium                bool   `json:"premium"`
	PlanType               string `json:"plan_type"`
	DeviceMatch            bool   `json:"device_match"`
	RequiresDeviceTransfer bool   `json:"requires_device_transfer"`
	IsOwner                bool   `json:"is_owner"`
	FamilyGroupID          string `json:"family_group_id"`
}

type DeviceRegistration struct {
	IsNewDevice             bool `json:"is_new_device"`
	PreviousDeviceLoggedOut bool `json:"previous_device_logged_out"`
}

type FamilyMembership struct {
	GroupID  string `json:"group_id"`
	OwnerID  string `json:"owner_id"`
	Premium  bool   `json:"premium"`
	PlanType string `json:"plan_type"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// API is the thin HTTP client for the entitlement backend.
type API struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewAPI(baseURL string, tokens TokenSource) *API {
	return &API{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
}

func (a *API) CommitPurchase(
	ctx context.Context,
	req CommitRequest,
) (*CommitResponse, error) {
	var resp CommitResponse
	err := a.do(ctx, http.MethodPost, "/v1/purchases", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) RestorePurchase(
	ctx context.Context,
	req CommitRequest,
) (*CommitResponse, error) {
	var resp CommitResponse
	err := a.do(ctx, http.MethodPost, "/v1/purchases/restore", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) GetEntitlement(
	ctx context.Context,
	deviceHash string,
	forceRefresh bool,
) (*EntitlementStatus, error) {
	path := "/v1/entitlement?device_hash=" + url.QueryEscape(deviceHash)
	if forceRefresh {
		path += "&force_refresh=true"
	}

	var resp EntitlementStatus
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) RegisterDevice(
	ctx context.Context,
	deviceHash string,
) (*DeviceRegistration, error) {
	req := struct {
		DeviceHash string `json:"device_hash"`
	}{DeviceHash: deviceHash}

	var resp DeviceRegistration
	err := a.do(ctx, http.MethodPost, "/v1/devices", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) AcceptInvite(
	ctx context.Context,
	inviteToken string,
) (*FamilyMembership, error) {
	req := struct {
		InviteToken string `json:"invite_token"`
	}{InviteToken: inviteToken}

	var resp FamilyMembership
	err := a.do(ctx, http.MethodPost, "/v1/family/invites/accept", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) do(
	ctx context.Context,
	method, path string,
	body, out any,
) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := a.tokens(ctx)
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf(
			"%w: status %d",
			ErrBackendUnavailable,
			resp.StatusCode,
		)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil {
			return fmt.Errorf("api error: status %d", resp.StatusCode)
		}
		return fmt.Errorf(
			"%w: %s (%s)",
			ErrReceiptRejected,
			envelope.Error.Message,
			envelope.Error.Code,
		)
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}

	return nil
}
