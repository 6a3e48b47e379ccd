// AngelaMos | 2026
// service_test.go

package family

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/ledger"
)

// -------- test fakes --------

type fakeRepo struct {
	Repository

	groupID       string
	ownerID       string
	acceptedCount int
	pendingCount  int
	invites       map[string]*Member
	memberships   map[string]string

	acceptedIDs []string
	claimFails  bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		groupID:     "group-1",
		ownerID:     "owner-1",
		invites:     map[string]*Member{},
		memberships: map[string]string{},
	}
}

func (f *fakeRepo) EnsureOwnedGroup(ctx context.Context, ownerID string) (string, error) {
	return f.groupID, nil
}

func (f *fakeRepo) OwnedGroup(ctx context.Context, ownerID string) (string, error) {
	if ownerID != f.ownerID {
		return "", fmt.Errorf("owned group: %w", core.ErrNotFound)
	}
	return f.groupID, nil
}

func (f *fakeRepo) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	if groupID != f.groupID {
		return nil, fmt.Errorf("get group: %w", core.ErrNotFound)
	}
	return &Group{ID: f.groupID, OwnerID: f.ownerID}, nil
}

func (f *fakeRepo) AcceptedMembership(ctx context.Context, userID string) (string, string, error) {
	groupID, ok := f.memberships[userID]
	if !ok {
		return "", "", fmt.Errorf("accepted membership: %w", core.ErrNotFound)
	}
	return groupID, f.ownerID, nil
}

func (f *fakeRepo) CreateInvite(ctx context.Context, invite *Member) error {
	invite.InvitedAt = time.Now()
	invite.Status = MemberStatusInvited
	f.invites[invite.InviteTokenHash] = invite
	return nil
}

func (f *fakeRepo) GetInviteByTokenHash(ctx context.Context, tokenHash string) (*Member, error) {
	invite, ok := f.invites[tokenHash]
	if !ok {
		return nil, fmt.Errorf("get invite: %w", core.ErrNotFound)
	}
	return invite, nil
}

func (f *fakeRepo) AcceptInvite(ctx context.Context, inviteID, userID string) (bool, error) {
	if f.claimFails {
		return false, nil
	}
	f.acceptedIDs = append(f.acceptedIDs, inviteID)
	f.memberships[userID] = f.groupID
	return true, nil
}

func (f *fakeRepo) CountAcceptedMembers(ctx context.Context, groupID string) (int, error) {
	return f.acceptedCount, nil
}

func (f *fakeRepo) CountOccupiedSeats(ctx context.Context, groupID string, pendingCutoff time.Time) (int, error) {
	return f.acceptedCount + f.pendingCount, nil
}

type fakeEntitlements struct {
	premium  bool
	planType string
	granted  []string
}

func (f *fakeEntitlements) PlanStatus(ctx context.Context, userID string) (bool, string, error) {
	return f.premium, f.planType, nil
}

func (f *fakeEntitlements) GrantFamilyPlan(ctx context.Context, userID string) error {
	f.granted = append(f.granted, userID)
	return nil
}

// -------- helpers --------

func newTestService(repo Repository, ents Entitlements) *Service {
	return NewService(repo, ents, slog.New(slog.DiscardHandler))
}

func familyOwner() *fakeEntitlements {
	return &fakeEntitlements{premium: true, planType: ledger.PlanFamily}
}

// -------- tests --------

func TestInvite(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, familyOwner())

	resp, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.InviteToken)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	// Only the hash is stored.
	_, plaintextStored := repo.invites[resp.InviteToken]
	assert.False(t, plaintextStored)
	_, hashStored := repo.invites[core.HashToken(resp.InviteToken)]
	assert.True(t, hashStored)
}

func TestInviteRecordsEmail(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, familyOwner())

	resp, err := svc.Invite(context.Background(), "owner-1", "kid@example.com")
	require.NoError(t, err)

	stored := repo.invites[core.HashToken(resp.InviteToken)]
	require.NotNil(t, stored.InvitedEmail)
	assert.Equal(t, "kid@example.com", *stored.InvitedEmail)
}

func TestInvitePendingSeatsHoldCapacity(t *testing.T) {
	repo := newFakeRepo()
	repo.acceptedCount = MaxMembers - 1
	repo.pendingCount = 1
	svc := newTestService(repo, familyOwner())

	_, err := svc.Invite(context.Background(), "owner-1", "")
	assert.ErrorIs(t, err, core.ErrGroupFull)
}

func TestInviteRequiresFamilyPlan(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEntitlements{
		premium:  true,
		planType: ledger.PlanSingle,
	})

	_, err := svc.Invite(context.Background(), "owner-1", "")
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestInviteGroupFull(t *testing.T) {
	repo := newFakeRepo()
	repo.acceptedCount = MaxMembers
	svc := newTestService(repo, familyOwner())

	_, err := svc.Invite(context.Background(), "owner-1", "")
	assert.ErrorIs(t, err, core.ErrGroupFull)
}

func TestAcceptInvite(t *testing.T) {
	repo := newFakeRepo()
	ents := familyOwner()
	svc := newTestService(repo, ents)

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	resp, err := svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	require.NoError(t, err)

	assert.Equal(t, "group-1", resp.GroupID)
	assert.Equal(t, "owner-1", resp.OwnerID)
	assert.True(t, resp.Premium)
	assert.Equal(t, ledger.PlanFamily, resp.PlanType)
	assert.Equal(t, []string{"member-1"}, ents.granted)
}

func TestAcceptInviteUnknownToken(t *testing.T) {
	svc := newTestService(newFakeRepo(), familyOwner())

	_, err := svc.AcceptInvite(context.Background(), "member-1", "nope")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestAcceptInviteTokenSingleUse(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	token := invite.InviteToken
	stored := repo.invites[core.HashToken(token)]

	_, err = svc.AcceptInvite(context.Background(), "member-1", token)
	require.NoError(t, err)

	stored.Status = MemberStatusAccepted

	_, err = svc.AcceptInvite(context.Background(), "member-2", token)
	assert.ErrorIs(t, err, core.ErrAlreadyUsed)
}

func TestAcceptInviteExpired(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	stored := repo.invites[core.HashToken(invite.InviteToken)]
	stored.InvitedAt = time.Now().Add(-8 * 24 * time.Hour)

	_, err = svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestAcceptInviteOwnerCannotJoin(t *testing.T) {
	svc := newTestService(newFakeRepo(), familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	_, err = svc.AcceptInvite(context.Background(), "owner-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestAcceptInviteAlreadyMember(t *testing.T) {
	repo := newFakeRepo()
	repo.memberships["member-1"] = "group-other"
	svc := newTestService(repo, familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	_, err = svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrAlreadyUsed)
}

func TestAcceptInviteGroupFull(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	repo.acceptedCount = MaxMembers

	_, err = svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrGroupFull)
}

func TestAcceptInviteLostClaimRace(t *testing.T) {
	repo := newFakeRepo()
	repo.claimFails = true
	svc := newTestService(repo, familyOwner())

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	_, err = svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrAlreadyUsed)
}

func TestAcceptInviteOwnerDowngraded(t *testing.T) {
	repo := newFakeRepo()
	ents := familyOwner()
	svc := newTestService(repo, ents)

	invite, err := svc.Invite(context.Background(), "owner-1", "")
	require.NoError(t, err)

	ents.premium = false

	_, err = svc.AcceptInvite(context.Background(), "member-1", invite.InviteToken)
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.Empty(t, ents.granted)
}
