// AngelaMos | 2026
// service.go

package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/ledger"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
)

// PurchaseLister pages through active purchases in stable ID order.
type PurchaseLister interface {
	ListActivePurchases(
		ctx context.Context,
		afterID string,
		limit int,
	) ([]ledger.Purchase, error)
}

// Revoker applies an idempotent revocation by purchase ID.
type Revoker interface {
	Revoke(ctx context.Context, purchaseID string) error
}

// Summary is the outcome of one full pass.
type Summary struct {
	Checked  int           `json:"checked"`
	Valid    int           `json:"valid"`
	Revoked  int           `json:"revoked"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type Service struct {
	purchases PurchaseLister
	revoker   Revoker
	verifier  verifier.Verifier
	cfg       config.SweepConfig
	logger    *slog.Logger
}

func NewService(
	purchases PurchaseLister,
	revoker Revoker,
	v verifier.Verifier,
	cfg config.SweepConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		purchases: purchases,
		revoker:   revoker,
		verifier:  v,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run re-checks every active purchase against its store. The sweep fails
// open: a purchase the store cannot be asked about right now keeps its
// entitlement and is retried on the next pass. Only an authoritative
// "refunded or gone" answer revokes.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	afterID := ""
	for {
		batch, err := s.purchases.ListActivePurchases(
			ctx,
			afterID,
			s.cfg.BatchSize,
		)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			s.check(ctx, &batch[i], summary)
		}

		afterID = batch[len(batch)-1].ID
	}

	summary.Duration = time.Since(start)

	s.logger.Info("sweep finished",
		"checked", summary.Checked,
		"valid", summary.Valid,
		"revoked", summary.Revoked,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", summary.Duration,
	)

	return summary, nil
}

func (s *Service) check(
	ctx context.Context,
	purchase *ledger.Purchase,
	summary *Summary,
) {
	// Apple one-time purchases have no reliable batch re-check endpoint for
	// refund state; refunds arrive through server notifications instead.
	if purchase.Platform != string(verifier.PlatformAndroid) {
		summary.Skipped++
		return
	}

	summary.Checked++

	result, err := s.verifier.Verify(
		ctx,
		verifier.Platform(purchase.Platform),
		purchase.ProductID,
		purchase.ReceiptToken,
	)
	if err != nil {
		summary.Errors++
		s.logger.Warn("sweep check failed, keeping entitlement",
			"purchase_id", purchase.ID,
			"error", err,
		)
		return
	}

	if result.Valid && !result.Revoked {
		summary.Valid++
		return
	}

	if err := s.revoker.Revoke(ctx, purchase.ID); err != nil {
		summary.Errors++
		s.logger.Error("sweep revoke failed",
			"purchase_id", purchase.ID,
			"error", err,
		)
		return
	}

	summary.Revoked++
	s.logger.Info("sweep revoked purchase",
		"purchase_id", purchase.ID,
		"user_id", purchase.UserID,
	)
}

// Start runs the sweep on its interval until the context ends.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweep scheduled", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("sweep aborted", "error", err)
			}
		}
	}
}
