package models

import (
	"sort"
	"strings"
)

// Workspace is a top-level container of channels, DMs and members.
type Workspace struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	OwnerID   int64  `json:"ownerId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Channel is a named thread inside a workspace.
type Channel struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspaceId"`
	Name        string `json:"name"`
	IsPrivate   bool   `json:"isPrivate"`
	Category    string `json:"category,omitempty"`
	Position    *int   `json:"position,omitempty"`
}

// DM is a direct-message thread between workspace members.
type DM struct {
	ID           int64   `json:"id"`
	WorkspaceID  int64   `json:"workspaceId"`
	Participants []int64 `json:"participants"`
}

// Roles recognized for sort precedence and badges.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Member is a workspace member keyed by numeric id.
type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
}

// IsAdmin reports whether the member carries the admin badge.
func (m Member) IsAdmin() bool { return m.Role == RoleAdmin }

// Message is a single chat message. Exactly one of ChannelID and DMID is set.
type Message struct {
	ID             int64  `json:"id"`
	ChannelID      int64  `json:"channelId,omitempty"`
	DMID           int64  `json:"dmId,omitempty"`
	SenderID       int64  `json:"senderId,omitempty"`
	SenderUsername string `json:"senderUsername,omitempty"`
	SenderAvatar   string `json:"senderAvatar,omitempty"`
	Content        string `json:"content"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// Thread returns the thread owning the message.
func (m Message) Thread() Thread {
	switch {
	case m.ChannelID != 0:
		return ChannelThread(m.ChannelID)
	case m.DMID != 0:
		return DMThread(m.DMID)
	default:
		return Thread{}
	}
}

// Friend is an accepted friend relation.
type Friend struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// FriendRequest is a pending, accepted or declined request.
type FriendRequest struct {
	ID         int64  `json:"id"`
	FromUserID int64  `json:"fromUserId"`
	ToUserID   int64  `json:"toUserId"`
	Status     string `json:"status"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
}

// DMUser is a candidate in the "start a conversation" picker.
type DMUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	IsFriend bool   `json:"isFriend,omitempty"`
}

// SortMessages orders messages by ascending id and drops duplicate ids,
// keeping the first occurrence. The input slice is reused.
func SortMessages(msgs []Message) []Message {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	out := msgs[:0]
	for i, m := range msgs {
		if i > 0 && m.ID == out[len(out)-1].ID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SortMembers orders admins first, then by username ignoring case.
func SortMembers(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.IsAdmin() != b.IsAdmin() {
			return a.IsAdmin()
		}
		ua, ub := strings.ToLower(a.Username), strings.ToLower(b.Username)
		if ua != ub {
			return ua < ub
		}
		return a.ID < b.ID
	})
}

// SortChannels orders channels by (category, position, id). Channels without a
// category sort after every named category; channels without a position sort
// after positioned ones in the same category.
func SortChannels(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		a, b := channels[i], channels[j]
		ca, cb := strings.TrimSpace(a.Category), strings.TrimSpace(b.Category)
		if ca != cb {
			if ca == "" {
				return false
			}
			if cb == "" {
				return true
			}
			return strings.ToLower(ca) < strings.ToLower(cb)
		}
		if (a.Position == nil) != (b.Position == nil) {
			return a.Position != nil
		}
		if a.Position != nil && *a.Position != *b.Position {
			return *a.Position < *b.Position
		}
		return a.ID < b.ID
	})
}

// ChannelGroup is one sidebar category.
type ChannelGroup struct {
	Category string    `json:"category"`
	Channels []Channel `json:"channels"`
}

// GroupChannels sorts channels and groups them by category. The uncategorized
// bucket has an empty Category and comes last.
func GroupChannels(channels []Channel) []ChannelGroup {
	sorted := append([]Channel(nil), channels...)
	SortChannels(sorted)

	var groups []ChannelGroup
	for _, c := range sorted {
		cat := strings.TrimSpace(c.Category)
		if len(groups) == 0 || groups[len(groups)-1].Category != cat {
			groups = append(groups, ChannelGroup{Category: cat})
		}
		g := &groups[len(groups)-1]
		g.Channels = append(g.Channels, c)
	}
	return groups
}
