// AngelaMos | 2026
// service.go

package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/ledger"
)

// inviteTTL bounds how long an unclaimed invite token stays redeemable.
const inviteTTL = 7 * 24 * time.Hour

// Entitlements is the slice of the ledger the family service needs.
type Entitlements interface {
	PlanStatus(ctx context.Context, userID string) (bool, string, error)
	GrantFamilyPlan(ctx context.Context, userID string) error
}

type Service struct {
	repo         Repository
	entitlements Entitlements
	logger       *slog.Logger
}

func NewService(
	repo Repository,
	entitlements Entitlements,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		entitlements: entitlements,
		logger:       logger,
	}
}

// Invite mints a single-use invite token for the owner's group. Only the
// hash is stored; the plaintext token exists once, in the response. The
// email is optional display metadata, the token is the credential.
func (s *Service) Invite(
	ctx context.Context,
	ownerID, email string,
) (*InviteResponse, error) {
	premium, planType, err := s.entitlements.PlanStatus(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !premium || planType != ledger.PlanFamily {
		return nil, fmt.Errorf(
			"invite: user has no family plan: %w",
			core.ErrForbidden,
		)
	}

	groupID, err := s.repo.EnsureOwnedGroup(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// Live invites hold seats too, so an owner cannot mint more tokens
	// than the group could ever seat.
	count, err := s.repo.CountOccupiedSeats(
		ctx,
		groupID,
		time.Now().Add(-inviteTTL),
	)
	if err != nil {
		return nil, err
	}
	if count >= MaxMembers {
		return nil, fmt.Errorf(
			"invite: group at capacity: %w",
			core.ErrGroupFull,
		)
	}

	token, err := core.GenerateInviteToken()
	if err != nil {
		return nil, err
	}

	invite := &Member{
		ID:              uuid.New().String(),
		GroupID:         groupID,
		InviteTokenHash: core.HashToken(token),
	}
	if email != "" {
		invite.InvitedEmail = &email
	}
	if err := s.repo.CreateInvite(ctx, invite); err != nil {
		return nil, err
	}

	s.logger.Info("family invite created",
		"group_id", groupID,
		"owner_id", ownerID,
	)

	return &InviteResponse{
		InviteToken: token,
		ExpiresAt:   invite.InvitedAt.Add(inviteTTL),
	}, nil
}

// AcceptInvite claims a seat and propagates the family grant to the new
// member immediately. Later downgrades of the owner reach members lazily,
// on their next status check.
func (s *Service) AcceptInvite(
	ctx context.Context,
	userID, token string,
) (*AcceptInviteResponse, error) {
	invite, err := s.repo.GetInviteByTokenHash(ctx, core.HashToken(token))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf(
				"accept invite: unknown token: %w",
				core.ErrInvalidInput,
			)
		}
		return nil, err
	}

	if invite.Accepted() {
		return nil, fmt.Errorf(
			"accept invite: token already claimed: %w",
			core.ErrAlreadyUsed,
		)
	}

	if time.Since(invite.InvitedAt) > inviteTTL {
		return nil, fmt.Errorf(
			"accept invite: token expired: %w",
			core.ErrTokenExpired,
		)
	}

	group, err := s.repo.GetGroup(ctx, invite.GroupID)
	if err != nil {
		return nil, err
	}

	if group.OwnerID == userID {
		return nil, fmt.Errorf(
			"accept invite: owner cannot join own group: %w",
			core.ErrInvalidInput,
		)
	}

	premium, planType, err := s.entitlements.PlanStatus(ctx, group.OwnerID)
	if err != nil {
		return nil, err
	}
	if !premium || planType != ledger.PlanFamily {
		return nil, fmt.Errorf(
			"accept invite: owner no longer holds a family plan: %w",
			core.ErrForbidden,
		)
	}

	if _, _, err := s.repo.AcceptedMembership(ctx, userID); err == nil {
		return nil, fmt.Errorf(
			"accept invite: user already in a group: %w",
			core.ErrAlreadyUsed,
		)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	count, err := s.repo.CountAcceptedMembers(ctx, invite.GroupID)
	if err != nil {
		return nil, err
	}
	if count >= MaxMembers {
		return nil, fmt.Errorf(
			"accept invite: group at capacity: %w",
			core.ErrGroupFull,
		)
	}

	claimed, err := s.repo.AcceptInvite(ctx, invite.ID, userID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf(
			"accept invite: token already claimed: %w",
			core.ErrAlreadyUsed,
		)
	}

	if err := s.entitlements.GrantFamilyPlan(ctx, userID); err != nil {
		return nil, err
	}

	s.logger.Info("family invite accepted",
		"group_id", invite.GroupID,
		"user_id", userID,
	)

	return &AcceptInviteResponse{
		GroupID:  invite.GroupID,
		OwnerID:  group.OwnerID,
		Premium:  true,
		PlanType: ledger.PlanFamily,
	}, nil
}

// GetGroup returns the group the user owns or belongs to.
func (s *Service) GetGroup(
	ctx context.Context,
	userID string,
) (*GroupResponse, error) {
	groupID, err := s.repo.OwnedGroup(ctx, userID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		groupID, _, err = s.repo.AcceptedMembership(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	resp := ToGroupResponse(group, members, userID)
	return &resp, nil
}
