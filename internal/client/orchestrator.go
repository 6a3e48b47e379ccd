// AngelaMos | 2026
// orchestrator.go

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	purchaseTimeout = 2 * time.Minute
	restoreTimeout  = 30 * time.Second
)

// Outcome is the app-facing result of a purchase or restore flow.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeAlreadyOwned      Outcome = "already_owned"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeRequiresNativeApp Outcome = "requires_native_app"
)

type FlowResult struct {
	Outcome  Outcome
	PlanType string
}

// Orchestrator drives the full purchase path: platform billing flow,
// backend commit, local snapshot. It holds no entitlement state of its own.
type Orchestrator struct {
	store    Store
	api      *API
	cache    *SnapshotCache
	device   *DeviceIdentity
	initCall singleflight.Group
	logger   *slog.Logger
}

func NewOrchestrator(
	store Store,
	api *API,
	cache *SnapshotCache,
	device *DeviceIdentity,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:  store,
		api:    api,
		cache:  cache,
		device: device,
		logger: logger,
	}
}

// Init fetches the current status, falling back to the snapshot when the
// backend is unreachable. Concurrent callers share one flight.
func (o *Orchestrator) Init(ctx context.Context) (*EntitlementStatus, error) {
	v, err, _ := o.initCall.Do("init", func() (any, error) {
		return o.refresh(ctx, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntitlementStatus), nil
}

// Purchase runs the billing flow for a product and commits the receipt.
// A user-dismissed sheet is a quiet OutcomeCancelled, never an error.
func (o *Orchestrator) Purchase(
	ctx context.Context,
	productID string,
) (*FlowResult, error) {
	ctx, cancel := context.WithTimeout(ctx, purchaseTimeout)
	defer cancel()

	receipt, err := o.store.Purchase(ctx, productID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPurchaseCancelled):
			o.logger.Info("purchase cancelled", "product_id", productID)
			return &FlowResult{Outcome: OutcomeCancelled}, nil
		case errors.Is(err, ErrNativeAppRequired):
			return &FlowResult{Outcome: OutcomeRequiresNativeApp}, nil
		}
		return nil, fmt.Errorf("store purchase: %w", err)
	}

	return o.commit(ctx, receipt, false)
}

// Restore replays store receipts against the backend. The first receipt the
// backend accepts wins; a store account with nothing to restore is an error
// the UI can surface.
func (o *Orchestrator) Restore(ctx context.Context) (*FlowResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	receipts, err := o.store.Restore(ctx)
	if err != nil {
		if errors.Is(err, ErrPurchaseCancelled) {
			return &FlowResult{Outcome: OutcomeCancelled}, nil
		}
		return nil, fmt.Errorf("store restore: %w", err)
	}

	if len(receipts) == 0 {
		return nil, errors.New("no purchases to restore")
	}

	var lastErr error
	for i := range receipts {
		result, err := o.commit(ctx, &receipts[i], true)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
	}

	return nil, lastErr
}

// RegisterDevice makes this device the account's active one, logging out
// whatever device held the entitlement before.
func (o *Orchestrator) RegisterDevice(
	ctx context.Context,
) (*DeviceRegistration, error) {
	deviceHash, err := o.device.Hash()
	if err != nil {
		return nil, err
	}

	reg, err := o.api.RegisterDevice(ctx, deviceHash)
	if err != nil {
		return nil, err
	}

	if _, err := o.refresh(ctx, true); err != nil {
		o.logger.Warn("post-registration status refresh failed", "error", err)
	}

	return reg, nil
}

// AcceptInvite redeems a family invite token and refreshes the snapshot so
// the granted entitlement is visible immediately.
func (o *Orchestrator) AcceptInvite(
	ctx context.Context,
	inviteToken string,
) (*FamilyMembership, error) {
	membership, err := o.api.AcceptInvite(ctx, inviteToken)
	if err != nil {
		return nil, err
	}

	if _, err := o.refresh(ctx, true); err != nil {
		o.logger.Warn("post-invite status refresh failed", "error", err)
	}

	return membership, nil
}

// Logout drops the local snapshot. The next session must prove its
// entitlement against the backend rather than inherit this one's.
func (o *Orchestrator) Logout() error {
	return o.cache.Clear()
}

// Status returns the effective entitlement, preferring a live answer and
// degrading to the snapshot offline.
func (o *Orchestrator) Status(
	ctx context.Context,
	forceRefresh bool,
) (*EntitlementStatus, error) {
	return o.refresh(ctx, forceRefresh)
}

func (o *Orchestrator) commit(
	ctx context.Context,
	receipt *Receipt,
	isRestore bool,
) (*FlowResult, error) {
	deviceHash, err := o.device.Hash()
	if err != nil {
		return nil, err
	}

	req := CommitRequest{
		Platform:     receipt.Platform,
		ProductID:    receipt.ProductID,
		ReceiptToken: receipt.Token,
		DeviceHash:   deviceHash,
		Nonce:        uuid.New().String(),
	}

	var resp *CommitResponse
	if isRestore {
		resp, err = o.api.RestorePurchase(ctx, req)
	} else {
		resp, err = o.api.CommitPurchase(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	outcome := OutcomeCompleted
	if resp.Outcome == "already_owned" {
		outcome = OutcomeAlreadyOwned
	}

	// Refresh the snapshot so the new entitlement survives a restart.
	if _, err := o.refresh(ctx, true); err != nil {
		o.logger.Warn("post-commit status refresh failed", "error", err)
	}

	o.logger.Info("purchase flow finished",
		"outcome", outcome,
		"plan_type", resp.PlanType,
		"restore", isRestore,
	)

	return &FlowResult{
		Outcome:  outcome,
		PlanType: resp.PlanType,
	}, nil
}

func (o *Orchestrator) refresh(
	ctx context.Context,
	force bool,
) (*EntitlementStatus, error) {
	deviceHash, err := o.device.Hash()
	if err != nil {
		return nil, err
	}

	status, err := o.api.GetEntitlement(ctx, deviceHash, force)
	if err != nil {
		// Even an expired snapshot beats no answer once the refresh has
		// already failed.
		if errors.Is(err, ErrBackendUnavailable) {
			if cached, ok := o.cache.LoadStale(); ok {
				o.logger.Warn("backend unreachable, using snapshot")
				return cached, nil
			}
		}
		return nil, err
	}

	if err := o.cache.Store(status); err != nil {
		o.logger.Warn("snapshot write failed", "error", err)
	}

	return status, nil
}
