// AngelaMos | 2026
// service.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
)

// FamilyDirectory is the slice of the family store the ledger needs. The
// family package satisfies it without either package importing the other's
// services.
type FamilyDirectory interface {
	AcceptedMembership(
		ctx context.Context,
		userID string,
	) (groupID, ownerID string, err error)
	OwnedGroup(ctx context.Context, ownerID string) (string, error)
	EnsureOwnedGroup(ctx context.Context, ownerID string) (string, error)
	AcceptedMemberIDs(ctx context.Context, groupID string) ([]string, error)
}

// Cache holds derived status snapshots. *StatusCache is the redis
// implementation.
type Cache interface {
	Get(
		ctx context.Context,
		userID, deviceHash string,
	) (*StatusResponse, bool)
	Set(
		ctx context.Context,
		userID, deviceHash string,
		status *StatusResponse,
	)
	Invalidate(ctx context.Context, userID string)
}

type CommitParams struct {
	UserID       string
	Platform     verifier.Platform
	ProductID    string
	ReceiptToken string
	DeviceHash   string
	Nonce        string
	IsRestore    bool
}

type CommitResult struct {
	Outcome    Outcome
	PlanType   string
	PurchaseID string
}

type DeviceResult struct {
	IsNewDevice             bool
	PreviousDeviceLoggedOut bool
}

type Service struct {
	db       *sqlx.DB
	repo     Repository
	verifier verifier.Verifier
	family   FamilyDirectory
	cache    Cache
	products config.ProductsConfig
	logger   *slog.Logger
}

func NewService(
	db *sqlx.DB,
	repo Repository,
	v verifier.Verifier,
	family FamilyDirectory,
	cache Cache,
	products config.ProductsConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		verifier: v,
		family:   family,
		cache:    cache,
		products: products,
		logger:   logger,
	}
}

// CommitPurchase turns a platform receipt into a durable entitlement. All
// receipt-token races are resolved by the storage-level unique constraint:
// a conflicting insert is re-read and treated as "already verified, check
// ownership," never surfaced to the user as an error.
func (s *Service) CommitPurchase(
	ctx context.Context,
	params CommitParams,
) (*CommitResult, error) {
	existing, err := s.repo.GetPurchaseByToken(ctx, params.ReceiptToken)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		return s.commitExisting(ctx, existing, params)
	}

	result, err := s.verifier.Verify(
		ctx,
		params.Platform,
		params.ProductID,
		params.ReceiptToken,
	)
	if err != nil {
		return nil, err
	}

	if !result.Valid || result.Revoked {
		return nil, fmt.Errorf(
			"commit purchase: store rejected receipt: %w",
			core.ErrValidationFailed,
		)
	}

	planType := s.planFromProduct(result.CanonicalProductID)
	if planType == "" {
		return nil, fmt.Errorf(
			"commit purchase: unexpected product %q: %w",
			result.CanonicalProductID,
			core.ErrValidationFailed,
		)
	}

	purchase := &Purchase{
		ID:           uuid.New().String(),
		UserID:       params.UserID,
		Platform:     string(params.Platform),
		ProductID:    result.CanonicalProductID,
		ReceiptToken: params.ReceiptToken,
		Verified:     true,
		DeviceHash:   params.DeviceHash,
		Nonce:        params.Nonce,
	}
	if result.OrderID != "" {
		purchase.OrderID = &result.OrderID
	}

	err = core.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		txRepo := NewRepository(tx)

		if err := txRepo.InsertPurchase(ctx, purchase); err != nil {
			return err
		}

		return txRepo.UpsertPremium(
			ctx,
			params.UserID,
			planType,
			params.DeviceHash,
		)
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			// Lost a race with a concurrent commit of the same token.
			raced, readErr := s.repo.GetPurchaseByToken(ctx, params.ReceiptToken)
			if readErr != nil {
				return nil, readErr
			}
			return s.commitExisting(ctx, raced, params)
		}
		return nil, err
	}

	if planType == PlanFamily {
		if _, err := s.family.EnsureOwnedGroup(ctx, params.UserID); err != nil {
			return nil, fmt.Errorf("ensure family group: %w", err)
		}
	}

	s.invalidate(ctx, params.UserID)

	s.logger.Info("purchase committed",
		"user_id", params.UserID,
		"platform", params.Platform,
		"plan_type", planType,
		"purchase_id", purchase.ID,
	)

	return &CommitResult{
		Outcome:    OutcomePurchased,
		PlanType:   planType,
		PurchaseID: purchase.ID,
	}, nil
}

// commitExisting resolves a receipt token the ledger has already seen.
func (s *Service) commitExisting(
	ctx context.Context,
	existing *Purchase,
	params CommitParams,
) (*CommitResult, error) {
	if existing.UserID != params.UserID {
		s.logger.Warn("receipt token presented by a different user",
			"purchase_id", existing.ID,
			"owner_id", existing.UserID,
			"presenter_id", params.UserID,
		)
		return nil, fmt.Errorf(
			"commit purchase: token owned by another user: %w",
			core.ErrAlreadyUsed,
		)
	}

	if !params.IsRestore {
		return nil, fmt.Errorf(
			"commit purchase: token already consumed: %w",
			core.ErrAlreadyUsed,
		)
	}

	planType := s.planFromProduct(existing.ProductID)
	if planType == "" {
		return nil, fmt.Errorf(
			"restore: unexpected product %q: %w",
			existing.ProductID,
			core.ErrValidationFailed,
		)
	}

	if existing.Refunded {
		// A sweep or webhook may have revoked between purchase and restore.
		// Re-verify with the store; a receipt that is valid again is
		// re-granted.
		result, err := s.verifier.Verify(
			ctx,
			verifier.Platform(existing.Platform),
			existing.ProductID,
			existing.ReceiptToken,
		)
		if err != nil {
			return nil, err
		}
		if !result.Valid || result.Revoked {
			return nil, fmt.Errorf(
				"restore: receipt remains revoked: %w",
				core.ErrValidationFailed,
			)
		}

		err = core.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
			txRepo := NewRepository(tx)

			if err := txRepo.ClearRefunded(ctx, existing.ID); err != nil {
				return err
			}

			return txRepo.UpsertPremium(
				ctx,
				params.UserID,
				planType,
				params.DeviceHash,
			)
		})
		if err != nil {
			return nil, err
		}
	} else if err := s.repo.UpsertPremium(
		ctx,
		params.UserID,
		planType,
		params.DeviceHash,
	); err != nil {
		return nil, err
	}

	if planType == PlanFamily {
		if _, err := s.family.EnsureOwnedGroup(ctx, params.UserID); err != nil {
			return nil, fmt.Errorf("ensure family group: %w", err)
		}
	}

	s.invalidate(ctx, params.UserID)

	return &CommitResult{
		Outcome:    OutcomeAlreadyOwned,
		PlanType:   planType,
		PurchaseID: existing.ID,
	}, nil
}

// Revoke flags a purchase refunded and strips its user's entitlement.
// Idempotent: revoking an already refunded purchase changes nothing.
func (s *Service) Revoke(ctx context.Context, purchaseID string) error {
	purchase, err := s.repo.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return err
	}

	changed, err := s.repo.MarkRefunded(ctx, purchase.ID)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	if err := s.repo.ClearPremium(ctx, purchase.UserID); err != nil {
		return err
	}

	s.invalidate(ctx, purchase.UserID)
	s.invalidateFamilyMembers(ctx, purchase.UserID)

	s.logger.Info("purchase revoked",
		"purchase_id", purchase.ID,
		"user_id", purchase.UserID,
		"platform", purchase.Platform,
	)

	return nil
}

func (s *Service) RevokeByReceiptToken(
	ctx context.Context,
	receiptToken string,
) error {
	purchase, err := s.repo.GetPurchaseByToken(ctx, receiptToken)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, purchase.ID)
}

func (s *Service) RevokeByOrderID(ctx context.Context, orderID string) error {
	purchase, err := s.repo.GetPurchaseByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, purchase.ID)
}

// RegisterDevice is the single write path for device ownership transfer.
// Transfer is self-service: the previous device silently loses premium on
// its next status check.
func (s *Service) RegisterDevice(
	ctx context.Context,
	userID, deviceHash string,
) (*DeviceResult, error) {
	ent, err := s.repo.GetEntitlement(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if ent == nil {
		if err := s.repo.EnsureEntitlementWithDevice(ctx, userID, deviceHash); err != nil {
			return nil, err
		}
		s.invalidate(ctx, userID)
		return &DeviceResult{IsNewDevice: true}, nil
	}

	if !ent.DeviceBound() {
		bound, err := s.repo.BindDeviceIfUnset(ctx, userID, deviceHash)
		if err != nil {
			return nil, err
		}
		if bound {
			s.invalidate(ctx, userID)
			return &DeviceResult{IsNewDevice: true}, nil
		}
		// Lost a bind race; fall through with a fresh read.
		ent, err = s.repo.GetEntitlement(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	if ent.DeviceMatches(deviceHash) {
		return &DeviceResult{}, nil
	}

	if err := s.repo.SetActiveDevice(ctx, userID, deviceHash); err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)

	s.logger.Info("device transferred",
		"user_id", userID,
	)

	return &DeviceResult{
		IsNewDevice:             true,
		PreviousDeviceLoggedOut: true,
	}, nil
}

// GetStatus derives effective entitlement: the user's own purchase first,
// family membership second. A direct purchaser is never downgraded by a
// family lookup, and a mismatched device is reported, never auto-transferred.
func (s *Service) GetStatus(
	ctx context.Context,
	userID, deviceHash string,
	forceRefresh bool,
) (*StatusResponse, error) {
	if !forceRefresh && s.cache != nil {
		if status, ok := s.cache.Get(ctx, userID, deviceHash); ok {
			return status, nil
		}
	}

	status, err := s.deriveStatus(ctx, userID, deviceHash)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, userID, deviceHash, status)
	}

	return status, nil
}

func (s *Service) deriveStatus(
	ctx context.Context,
	userID, deviceHash string,
) (*StatusResponse, error) {
	ent, err := s.repo.GetEntitlement(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	ownPurchase := false
	if ent != nil && ent.Premium {
		ownPurchase, err = s.repo.HasActivePurchase(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	if ent != nil && ent.Premium && ownPurchase {
		return s.directStatus(ctx, ent, deviceHash)
	}

	status, err := s.familyStatus(ctx, userID, ent, deviceHash)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	// Stale family grant: the owner no longer qualifies, so the member's
	// propagated flags are cleared lazily, here.
	if ent != nil && ent.Premium && !ownPurchase {
		if err := s.repo.ClearPremium(ctx, userID); err != nil {
			return nil, err
		}
		s.invalidate(ctx, userID)
	}

	return &StatusResponse{Premium: false}, nil
}

func (s *Service) directStatus(
	ctx context.Context,
	ent *Entitlement,
	deviceHash string,
) (*StatusResponse, error) {
	plan := ent.Plan()

	groupID := ""
	if plan == PlanFamily {
		id, err := s.family.OwnedGroup(ctx, ent.UserID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		groupID = id
	}

	switch {
	case ent.DeviceMatches(deviceHash):
		return &StatusResponse{
			Premium:       true,
			PlanType:      plan,
			DeviceMatch:   true,
			IsOwner:       plan == PlanFamily,
			FamilyGroupID: groupID,
		}, nil
	case ent.DeviceBound():
		return &StatusResponse{
			Premium:                false,
			PlanType:               plan,
			RequiresDeviceTransfer: true,
		}, nil
	default:
		if _, err := s.repo.BindDeviceIfUnset(ctx, ent.UserID, deviceHash); err != nil {
			return nil, err
		}
		return &StatusResponse{
			Premium:       true,
			PlanType:      plan,
			DeviceMatch:   true,
			IsOwner:       plan == PlanFamily,
			FamilyGroupID: groupID,
		}, nil
	}
}

// familyStatus returns nil (no error) when no qualifying membership exists.
func (s *Service) familyStatus(
	ctx context.Context,
	userID string,
	ent *Entitlement,
	deviceHash string,
) (*StatusResponse, error) {
	groupID, ownerID, err := s.family.AcceptedMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	owner, err := s.repo.GetEntitlement(ctx, ownerID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !owner.Premium || owner.Plan() != PlanFamily {
		return nil, nil
	}

	// Each member independently binds one device of their own.
	if ent == nil {
		if err := s.repo.EnsureEntitlementWithDevice(ctx, userID, deviceHash); err != nil {
			return nil, err
		}
		return &StatusResponse{
			Premium:       true,
			PlanType:      PlanFamily,
			DeviceMatch:   true,
			FamilyGroupID: groupID,
		}, nil
	}

	switch {
	case ent.DeviceMatches(deviceHash):
		return &StatusResponse{
			Premium:       true,
			PlanType:      PlanFamily,
			DeviceMatch:   true,
			FamilyGroupID: groupID,
		}, nil
	case ent.DeviceBound():
		return &StatusResponse{
			Premium:                false,
			PlanType:               PlanFamily,
			RequiresDeviceTransfer: true,
			FamilyGroupID:          groupID,
		}, nil
	default:
		if _, err := s.repo.BindDeviceIfUnset(ctx, userID, deviceHash); err != nil {
			return nil, err
		}
		return &StatusResponse{
			Premium:       true,
			PlanType:      PlanFamily,
			DeviceMatch:   true,
			FamilyGroupID: groupID,
		}, nil
	}
}

// PlanStatus and GrantFamilyPlan are the entitlement surface the family
// package depends on.

func (s *Service) PlanStatus(
	ctx context.Context,
	userID string,
) (bool, string, error) {
	ent, err := s.repo.GetEntitlement(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	return ent.Premium, ent.Plan(), nil
}

func (s *Service) GrantFamilyPlan(ctx context.Context, userID string) error {
	if err := s.repo.GrantFamilyPlan(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) planFromProduct(productID string) string {
	if slices.Contains(s.products.Single, productID) {
		return PlanSingle
	}
	if slices.Contains(s.products.Family, productID) {
		return PlanFamily
	}
	return ""
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}

// invalidateFamilyMembers drops accepted members' cached statuses when a
// group owner loses their entitlement. Their ledger rows are cleared lazily
// on the next status check; the cache must not outlive the owner's grant.
func (s *Service) invalidateFamilyMembers(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}

	groupID, err := s.family.OwnedGroup(ctx, ownerID)
	if err != nil {
		return
	}

	memberIDs, err := s.family.AcceptedMemberIDs(ctx, groupID)
	if err != nil {
		s.logger.Warn("member cache invalidation failed",
			"group_id", groupID,
			"error", err,
		)
		return
	}

	for _, memberID := range memberIDs {
		s.cache.Invalidate(ctx, memberID)
	}
}
