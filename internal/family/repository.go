// AngelaMos | 2026
// repository.go

package family

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type Repository interface {
	EnsureOwnedGroup(ctx context.Context, ownerID string) (string, error)
	OwnedGroup(ctx context.Context, ownerID string) (string, error)
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	AcceptedMembership(
		ctx context.Context,
		userID string,
	) (groupID, ownerID string, err error)
	AcceptedMemberIDs(ctx context.Context, groupID string) ([]string, error)

	CreateInvite(
		ctx context.Context,
		invite *Member,
	) error
	GetInviteByTokenHash(
		ctx context.Context,
		tokenHash string,
	) (*Member, error)
	AcceptInvite(
		ctx context.Context,
		inviteID, userID string,
	) (bool, error)
	CountAcceptedMembers(ctx context.Context, groupID string) (int, error)
	CountOccupiedSeats(
		ctx context.Context,
		groupID string,
		pendingCutoff time.Time,
	) (int, error)
	ListMembers(ctx context.Context, groupID string) ([]*Member, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

// EnsureOwnedGroup creates the owner's group if it does not exist yet. The
// unique owner_id constraint makes concurrent calls converge on one row.
func (r *repository) EnsureOwnedGroup(
	ctx context.Context,
	ownerID string,
) (string, error) {
	insert := `
		INSERT INTO family_groups (id, owner_id)
		VALUES (gen_random_uuid(), $1)
		ON CONFLICT (owner_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insert, ownerID); err != nil {
		return "", fmt.Errorf("ensure family group: %w", err)
	}

	return r.OwnedGroup(ctx, ownerID)
}

func (r *repository) OwnedGroup(
	ctx context.Context,
	ownerID string,
) (string, error) {
	query := `SELECT id FROM family_groups WHERE owner_id = $1`

	var groupID string
	err := r.db.GetContext(ctx, &groupID, query, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("owned group: %w", core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("owned group: %w", err)
	}

	return groupID, nil
}

func (r *repository) GetGroup(
	ctx context.Context,
	groupID string,
) (*Group, error) {
	query := `
		SELECT id, owner_id, created_at
		FROM family_groups
		WHERE id = $1`

	var group Group
	err := r.db.GetContext(ctx, &group, query, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get group: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}

	return &group, nil
}

func (r *repository) AcceptedMembership(
	ctx context.Context,
	userID string,
) (string, string, error) {
	query := `
		SELECT g.id, g.owner_id
		FROM family_members m
		JOIN family_groups g ON g.id = m.group_id
		WHERE m.user_id = $1 AND m.status = 'accepted'
		ORDER BY m.accepted_at DESC
		LIMIT 1`

	var row struct {
		ID      string `db:"id"`
		OwnerID string `db:"owner_id"`
	}
	err := r.db.GetContext(ctx, &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("accepted membership: %w", core.ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("accepted membership: %w", err)
	}

	return row.ID, row.OwnerID, nil
}

func (r *repository) AcceptedMemberIDs(
	ctx context.Context,
	groupID string,
) ([]string, error) {
	query := `
		SELECT user_id
		FROM family_members
		WHERE group_id = $1 AND status = 'accepted' AND user_id IS NOT NULL`

	userIDs := []string{}
	if err := r.db.SelectContext(ctx, &userIDs, query, groupID); err != nil {
		return nil, fmt.Errorf("accepted member ids: %w", err)
	}

	return userIDs, nil
}

func (r *repository) CreateInvite(ctx context.Context, invite *Member) error {
	query := `
		INSERT INTO family_members
			(id, group_id, invited_email, status, invite_token_hash)
		VALUES ($1, $2, $3, 'invited', $4)
		RETURNING invited_at`

	err := r.db.GetContext(
		ctx,
		&invite.InvitedAt,
		query,
		invite.ID,
		invite.GroupID,
		invite.InvitedEmail,
		invite.InviteTokenHash,
	)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}

	invite.Status = MemberStatusInvited
	return nil
}

func (r *repository) GetInviteByTokenHash(
	ctx context.Context,
	tokenHash string,
) (*Member, error) {
	query := `
		SELECT id, group_id, user_id, invited_email, status,
		       invite_token_hash, invited_at, accepted_at
		FROM family_members
		WHERE invite_token_hash = $1`

	var member Member
	err := r.db.GetContext(ctx, &member, query, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get invite: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}

	return &member, nil
}

// AcceptInvite claims a pending seat. The status guard in the WHERE clause
// makes the token single-use even under concurrent accepts.
func (r *repository) AcceptInvite(
	ctx context.Context,
	inviteID, userID string,
) (bool, error) {
	query := `
		UPDATE family_members
		SET user_id = $2, status = 'accepted', accepted_at = NOW()
		WHERE id = $1 AND status = 'invited'`

	result, err := r.db.ExecContext(ctx, query, inviteID, userID)
	if err != nil {
		return false, fmt.Errorf("accept invite: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept invite: %w", err)
	}

	return rows > 0, nil
}

func (r *repository) CountAcceptedMembers(
	ctx context.Context,
	groupID string,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM family_members
		WHERE group_id = $1 AND status = 'accepted'`

	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID); err != nil {
		return 0, fmt.Errorf("count accepted members: %w", err)
	}

	return count, nil
}

// CountOccupiedSeats counts accepted members plus invites still inside
// their redemption window. Expired invites do not hold a seat.
func (r *repository) CountOccupiedSeats(
	ctx context.Context,
	groupID string,
	pendingCutoff time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM family_members
		WHERE group_id = $1
		  AND (status = 'accepted'
		       OR (status = 'invited' AND invited_at > $2))`

	var count int
	err := r.db.GetContext(ctx, &count, query, groupID, pendingCutoff)
	if err != nil {
		return 0, fmt.Errorf("count occupied seats: %w", err)
	}

	return count, nil
}

func (r *repository) ListMembers(
	ctx context.Context,
	groupID string,
) ([]*Member, error) {
	query := `
		SELECT id, group_id, user_id, invited_email, status,
		       invite_token_hash, invited_at, accepted_at
		FROM family_members
		WHERE group_id = $1
		ORDER BY invited_at`

	members := []*Member{}
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	return members, nil
}
