// AngelaMos | 2026
// service.go

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
)

// dedupeTTL covers the store's retry window with room to spare.
const dedupeTTL = 48 * time.Hour

// Revoker is the slice of the ledger the webhook pipeline needs.
type Revoker interface {
	RevokeByReceiptToken(ctx context.Context, receiptToken string) error
	RevokeByOrderID(ctx context.Context, orderID string) error
}

type Service struct {
	revoker Revoker
	redis   *redis.Client
	logger  *slog.Logger
}

func NewService(
	revoker Revoker,
	redisClient *redis.Client,
	logger *slog.Logger,
) *Service {
	return &Service{
		revoker: revoker,
		redis:   redisClient,
		logger:  logger,
	}
}

// HandleAppleNotification processes a verified App Store notification.
// Unknown purchases and replayed notifications are swallowed so the store
// stops retrying; only transient failures bubble up.
func (s *Service) HandleAppleNotification(
	ctx context.Context,
	signedPayload string,
) error {
	notification, err := verifier.DecodeAppleNotification(signedPayload)
	if err != nil {
		s.logger.Warn("rejected unverifiable apple notification", "error", err)
		return fmt.Errorf("apple notification: %w", core.ErrInvalidInput)
	}

	if !s.firstDelivery(ctx, "apple:"+notification.NotificationUUID) {
		s.logger.Debug("duplicate apple notification",
			"notification_uuid", notification.NotificationUUID,
		)
		return nil
	}

	switch notification.NotificationType {
	case "REFUND", "REVOKE":
	default:
		s.logger.Debug("ignored apple notification",
			"notification_type", notification.NotificationType,
			"subtype", notification.Subtype,
		)
		return nil
	}

	txn, err := verifier.DecodeAppleTransaction(
		notification.Data.SignedTransactionInfo,
	)
	if err != nil {
		s.logger.Warn("apple notification with bad transaction payload",
			"notification_uuid", notification.NotificationUUID,
			"error", err,
		)
		return fmt.Errorf("apple notification: %w", core.ErrInvalidInput)
	}

	err = s.revoker.RevokeByReceiptToken(ctx, txn.TransactionID)
	if errors.Is(err, core.ErrNotFound) && txn.OriginalTransactionID != "" {
		err = s.revoker.RevokeByReceiptToken(ctx, txn.OriginalTransactionID)
	}
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Info("apple revocation for unknown purchase",
			"transaction_id", txn.TransactionID,
		)
		return nil
	}
	if err != nil {
		s.releaseDelivery(ctx, "apple:"+notification.NotificationUUID)
		return err
	}

	s.logger.Info("apple revocation applied",
		"notification_type", notification.NotificationType,
		"transaction_id", txn.TransactionID,
	)

	return nil
}

// HandleGoogleNotification processes a Pub/Sub developer notification.
func (s *Service) HandleGoogleNotification(
	ctx context.Context,
	messageID string,
	notification *DeveloperNotification,
) error {
	if messageID != "" && !s.firstDelivery(ctx, "google:"+messageID) {
		s.logger.Debug("duplicate google notification", "message_id", messageID)
		return nil
	}

	var err error
	switch {
	case notification.VoidedPurchaseNotification != nil:
		err = s.revokeVoided(ctx, notification.VoidedPurchaseNotification)
	case notification.OneTimeProductNotification != nil:
		err = s.revokeCanceled(ctx, notification.OneTimeProductNotification)
	default:
		s.logger.Debug("ignored google notification",
			"package_name", notification.PackageName,
		)
		return nil
	}
	if err != nil && messageID != "" {
		s.releaseDelivery(ctx, "google:"+messageID)
	}

	return err
}

func (s *Service) revokeCanceled(
	ctx context.Context,
	n *OneTimeProductNotification,
) error {
	if n.NotificationType != oneTimeProductCanceled {
		s.logger.Debug("ignored one-time product notification",
			"notification_type", n.NotificationType,
			"sku", n.SKU,
		)
		return nil
	}

	err := s.revoker.RevokeByReceiptToken(ctx, n.PurchaseToken)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Info("google cancellation for unknown purchase", "sku", n.SKU)
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("google cancellation applied", "sku", n.SKU)
	return nil
}

func (s *Service) revokeVoided(
	ctx context.Context,
	n *VoidedPurchaseNotification,
) error {
	err := s.revoker.RevokeByOrderID(ctx, n.OrderID)
	if errors.Is(err, core.ErrNotFound) && n.PurchaseToken != "" {
		err = s.revoker.RevokeByReceiptToken(ctx, n.PurchaseToken)
	}
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Info("google void for unknown purchase", "order_id", n.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("google void applied", "order_id", n.OrderID)
	return nil
}

// firstDelivery claims a notification ID. Redis being down degrades to
// at-least-once processing, which is safe because revocation is idempotent.
func (s *Service) firstDelivery(ctx context.Context, id string) bool {
	if s.redis == nil {
		return true
	}

	ok, err := s.redis.SetNX(ctx, "webhook:seen:"+id, 1, dedupeTTL).Result()
	if err != nil {
		s.logger.Warn("webhook dedupe unavailable", "error", err)
		return true
	}

	return ok
}

// releaseDelivery drops a dedupe claim after a processing failure so a
// manual replay of the notification is not silently skipped.
func (s *Service) releaseDelivery(ctx context.Context, id string) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Del(ctx, "webhook:seen:"+id).Err(); err != nil {
		s.logger.Warn("webhook dedupe release failed", "id", id, "error", err)
	}
}
