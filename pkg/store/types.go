// Package store provides the in-memory domain store shared by the scope
// loader, the realtime channel and the presentation layer.
package store

import "github.com/mercure-chat/core/pkg/models"

// State is a point-in-time copy of everything the store holds.
type State struct {
	Workspaces        []models.Workspace      `json:"workspaces"`
	ActiveWorkspaceID int64                   `json:"activeWorkspaceId"`
	Channels          []models.Channel        `json:"channels"`
	DMs               []models.DM             `json:"dms"`
	Members           map[int64]models.Member `json:"members"` // Keyed by member id
	CurrentUserID     int64                   `json:"currentUserId"`
	ActiveThread      models.Thread           `json:"activeThread"`
	Messages          []models.Message        `json:"messages"` // Ascending by id
	OnlineUserIDs     []int64                 `json:"onlineUserIds"`
	LastEvent         *models.Event           `json:"lastEvent,omitempty"`
	ScopeLoading      bool                    `json:"scopeLoading"`
}

// UpdateType defines what kind of data changed.
type UpdateType string

const (
	UpdateWorkspaces      UpdateType = "workspaces"
	UpdateChannels        UpdateType = "channels"
	UpdateDMs             UpdateType = "dms"
	UpdateMembers         UpdateType = "members"
	UpdateMessages        UpdateType = "messages"
	UpdateActiveWorkspace UpdateType = "active_workspace"
	UpdateActiveThread    UpdateType = "active_thread"
	UpdatePresence        UpdateType = "presence"
	UpdateEvent           UpdateType = "event"
	UpdateScopeLoading    UpdateType = "scope_loading"
)

// Update represents a change to the state. Payload is a copy of the new
// value of the field named by Type.
type Update struct {
	Type    UpdateType
	Payload interface{}
}

// Identity is what the session knows about the local user. It is matched
// against the member list to find the local member.
type Identity struct {
	ID    int64
	Email string
}

// Scope is the per-workspace bundle applied by ApplyScope.
type Scope struct {
	Members  []models.Member
	Self     Identity
	Channels []models.Channel
	DMs      []models.DM
}
