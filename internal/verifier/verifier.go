// AngelaMos | 2026
// verifier.go

package verifier

import (
	"context"
	"fmt"

	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Result carries the canonical transaction facts returned by a store.
// Verification is a pure external query; it never touches the ledger.
type Result struct {
	Valid              bool
	CanonicalProductID string
	Revoked            bool
	OrderID            string
}

type Verifier interface {
	Verify(
		ctx context.Context,
		platform Platform,
		productID, receiptToken string,
	) (*Result, error)
}

type Service struct {
	apple  *AppStoreClient
	google *PlayStoreClient
}

func NewService(apple *AppStoreClient, google *PlayStoreClient) *Service {
	return &Service{
		apple:  apple,
		google: google,
	}
}

func (s *Service) Verify(
	ctx context.Context,
	platform Platform,
	productID, receiptToken string,
) (*Result, error) {
	switch platform {
	case PlatformIOS:
		if s.apple == nil {
			return nil, fmt.Errorf(
				"verify: app store not configured: %w",
				core.ErrVerificationUnavailable,
			)
		}
		return s.apple.Verify(ctx, productID, receiptToken)
	case PlatformAndroid:
		if s.google == nil {
			return nil, fmt.Errorf(
				"verify: play store not configured: %w",
				core.ErrVerificationUnavailable,
			)
		}
		return s.google.Verify(ctx, productID, receiptToken)
	default:
		return nil, fmt.Errorf(
			"verify: unknown platform %q: %w",
			platform,
			core.ErrInvalidInput,
		)
	}
}

var _ Verifier = (*Service)(nil)
