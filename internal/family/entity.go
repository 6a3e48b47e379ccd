// AngelaMos | 2026
// entity.go

package family

import "time"

const (
	MemberStatusInvited  = "invited"
	MemberStatusAccepted = "accepted"
)

// MaxMembers is the number of accepted members a group can hold, not
// counting the owner.
const MaxMembers = 5

type Group struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Member is one seat in a group. A row is created at invite time with a
// token hash and no user; accepting fills in the user and flips the status.
type Member struct {
	ID              string     `db:"id"`
	GroupID         string     `db:"group_id"`
	UserID          *string    `db:"user_id"`
	InvitedEmail    *string    `db:"invited_email"`
	Status          string     `db:"status"`
	InviteTokenHash string     `db:"invite_token_hash"`
	InvitedAt       time.Time  `db:"invited_at"`
	AcceptedAt      *time.Time `db:"accepted_at"`
}

func (m *Member) Accepted() bool {
	return m.Status == MemberStatusAccepted
}
