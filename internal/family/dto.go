// AngelaMos | 2026
// dto.go

package family

import "time"

type InviteRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=255"`
}

type InviteResponse struct {
	InviteToken string    `json:"invite_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AcceptInviteRequest struct {
	InviteToken string `json:"invite_token" validate:"required,max=255"`
}

type AcceptInviteResponse struct {
	GroupID  string `json:"group_id"`
	OwnerID  string `json:"owner_id"`
	Premium  bool   `json:"premium"`
	PlanType string `json:"plan_type"`
}

type MemberResponse struct {
	UserID       string     `json:"user_id,omitempty"`
	InvitedEmail string     `json:"invited_email,omitempty"`
	Status       string     `json:"status"`
	InvitedAt    time.Time  `json:"invited_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
}

type GroupResponse struct {
	GroupID string           `json:"group_id"`
	OwnerID string           `json:"owner_id"`
	IsOwner bool             `json:"is_owner"`
	Members []MemberResponse `json:"members"`
}

func ToMemberResponse(m *Member) MemberResponse {
	resp := MemberResponse{
		Status:     m.Status,
		InvitedAt:  m.InvitedAt,
		AcceptedAt: m.AcceptedAt,
	}
	if m.UserID != nil {
		resp.UserID = *m.UserID
	}
	if m.InvitedEmail != nil {
		resp.InvitedEmail = *m.InvitedEmail
	}
	return resp
}

func ToGroupResponse(g *Group, members []*Member, viewerID string) GroupResponse {
	resp := GroupResponse{
		GroupID: g.ID,
		OwnerID: g.OwnerID,
		IsOwner: g.OwnerID == viewerID,
		Members: make([]MemberResponse, 0, len(members)),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, ToMemberResponse(m))
	}
	return resp
}
