// AngelaMos | 2026
// repository.go

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type Repository interface {
	GetEntitlement(ctx context.Context, userID string) (*Entitlement, error)
	UpsertPremium(
		ctx context.Context,
		userID, planType, deviceHash string,
	) error
	GrantFamilyPlan(ctx context.Context, userID string) error
	ClearPremium(ctx context.Context, userID string) error
	EnsureEntitlementWithDevice(
		ctx context.Context,
		userID, deviceHash string,
	) error
	BindDeviceIfUnset(
		ctx context.Context,
		userID, deviceHash string,
	) (bool, error)
	SetActiveDevice(ctx context.Context, userID, deviceHash string) error

	InsertPurchase(ctx context.Context, purchase *Purchase) error
	GetPurchaseByID(ctx context.Context, id string) (*Purchase, error)
	GetPurchaseByToken(ctx context.Context, receiptToken string) (*Purchase, error)
	GetPurchaseByOrderID(ctx context.Context, orderID string) (*Purchase, error)
	MarkRefunded(ctx context.Context, id string) (bool, error)
	ClearRefunded(ctx context.Context, id string) error
	HasActivePurchase(ctx context.Context, userID string) (bool, error)
	ListActivePurchases(
		ctx context.Context,
		afterID string,
		limit int,
	) ([]Purchase, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) GetEntitlement(
	ctx context.Context,
	userID string,
) (*Entitlement, error) {
	query := `
		SELECT user_id, premium, plan_type, active_device_id,
		       created_at, updated_at
		FROM entitlements
		WHERE user_id = $1`

	var ent Entitlement
	err := r.db.GetContext(ctx, &ent, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entitlement: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}

	return &ent, nil
}

// UpsertPremium grants premium with first-touch device binding: an already
// bound device is never overwritten here.
func (r *repository) UpsertPremium(
	ctx context.Context,
	userID, planType, deviceHash string,
) error {
	query := `
		INSERT INTO entitlements (user_id, premium, plan_type, active_device_id)
		VALUES ($1, true, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET premium = true,
		    plan_type = EXCLUDED.plan_type,
		    active_device_id = COALESCE(entitlements.active_device_id, EXCLUDED.active_device_id),
		    updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, planType, deviceHash); err != nil {
		return fmt.Errorf("upsert premium: %w", err)
	}

	return nil
}

// GrantFamilyPlan marks a family member premium without touching device
// binding; members bind their own device on first status check.
func (r *repository) GrantFamilyPlan(ctx context.Context, userID string) error {
	query := `
		INSERT INTO entitlements (user_id, premium, plan_type)
		VALUES ($1, true, 'family')
		ON CONFLICT (user_id) DO UPDATE
		SET premium = true,
		    plan_type = 'family',
		    updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("grant family plan: %w", err)
	}

	return nil
}

func (r *repository) ClearPremium(ctx context.Context, userID string) error {
	query := `
		UPDATE entitlements
		SET premium = false, plan_type = NULL, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("clear premium: %w", err)
	}

	return nil
}

func (r *repository) EnsureEntitlementWithDevice(
	ctx context.Context,
	userID, deviceHash string,
) error {
	query := `
		INSERT INTO entitlements (user_id, premium, active_device_id)
		VALUES ($1, false, $2)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, deviceHash); err != nil {
		return fmt.Errorf("ensure entitlement: %w", err)
	}

	return nil
}

// BindDeviceIfUnset is the first-touch bind used by the status path. The
// conditional update keeps it race-safe across server instances.
func (r *repository) BindDeviceIfUnset(
	ctx context.Context,
	userID, deviceHash string,
) (bool, error) {
	query := `
		UPDATE entitlements
		SET active_device_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND active_device_id IS NULL`

	result, err := r.db.ExecContext(ctx, query, userID, deviceHash)
	if err != nil {
		return false, fmt.Errorf("bind device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bind device: %w", err)
	}

	return rows > 0, nil
}

func (r *repository) SetActiveDevice(
	ctx context.Context,
	userID, deviceHash string,
) error {
	query := `
		UPDATE entitlements
		SET active_device_id = $2, updated_at = NOW()
		WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID, deviceHash)
	if err != nil {
		return fmt.Errorf("set active device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active device: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("set active device: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) InsertPurchase(
	ctx context.Context,
	purchase *Purchase,
) error {
	query := `
		INSERT INTO purchases (
			id, user_id, platform, product_id, receipt_token,
			verified, refunded, device_hash, nonce, order_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at`

	err := r.db.GetContext(ctx, &purchase.CreatedAt, query,
		purchase.ID,
		purchase.UserID,
		purchase.Platform,
		purchase.ProductID,
		purchase.ReceiptToken,
		purchase.Verified,
		purchase.Refunded,
		purchase.DeviceHash,
		purchase.Nonce,
		purchase.OrderID,
	)
	if err != nil {
		if core.IsUniqueViolation(err) {
			return fmt.Errorf("insert purchase: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	return nil
}

func (r *repository) GetPurchaseByID(
	ctx context.Context,
	id string,
) (*Purchase, error) {
	return r.getPurchase(ctx, "id", id)
}

func (r *repository) GetPurchaseByToken(
	ctx context.Context,
	receiptToken string,
) (*Purchase, error) {
	return r.getPurchase(ctx, "receipt_token", receiptToken)
}

func (r *repository) GetPurchaseByOrderID(
	ctx context.Context,
	orderID string,
) (*Purchase, error) {
	return r.getPurchase(ctx, "order_id", orderID)
}

func (r *repository) getPurchase(
	ctx context.Context,
	column, value string,
) (*Purchase, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, platform, product_id, receipt_token,
		       verified, refunded, device_hash, nonce, order_id,
		       created_at, refunded_at
		FROM purchases
		WHERE %s = $1`, column)

	var purchase Purchase
	err := r.db.GetContext(ctx, &purchase, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get purchase: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}

	return &purchase, nil
}

// MarkRefunded reports whether the row transitioned; refunding an already
// refunded purchase is a no-op.
func (r *repository) MarkRefunded(
	ctx context.Context,
	id string,
) (bool, error) {
	query := `
		UPDATE purchases
		SET refunded = true, refunded_at = NOW()
		WHERE id = $1 AND refunded = false`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}

	return rows > 0, nil
}

func (r *repository) ClearRefunded(ctx context.Context, id string) error {
	query := `
		UPDATE purchases
		SET refunded = false, refunded_at = NULL
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear refunded: %w", err)
	}

	return nil
}

func (r *repository) HasActivePurchase(
	ctx context.Context,
	userID string,
) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM purchases
			WHERE user_id = $1 AND verified = true AND refunded = false
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID); err != nil {
		return false, fmt.Errorf("check active purchase: %w", err)
	}

	return exists, nil
}

// ListActivePurchases pages through verified, non-refunded purchases by id
// so the sweep can walk the full table without offsets.
func (r *repository) ListActivePurchases(
	ctx context.Context,
	afterID string,
	limit int,
) ([]Purchase, error) {
	query := `
		SELECT id, user_id, platform, product_id, receipt_token,
		       verified, refunded, device_hash, nonce, order_id,
		       created_at, refunded_at
		FROM purchases
		WHERE verified = true AND refunded = false AND id::text > $1
		ORDER BY id::text
		LIMIT $2`

	var purchases []Purchase
	if err := r.db.SelectContext(ctx, &purchases, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("list active purchases: %w", err)
	}

	return purchases, nil
}
